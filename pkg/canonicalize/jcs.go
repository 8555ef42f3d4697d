// Package canonicalize provides RFC 8785 (JSON Canonicalization Scheme)
// serialization so that signed interaction contexts hash identically no matter
// how a chat platform reorders their keys when echoing them back.
package canonicalize

import (
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// JCS returns the RFC 8785 canonical JSON representation of v.
//
// Object keys are sorted at every nesting depth, HTML escaping is disabled
// and numbers use the ECMAScript shortest form. Struct values go through
// encoding/json first so json tags are respected.
func JCS(v any) ([]byte, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("jcs: pre-marshal failed: %w", err)
	}
	return Transform(intermediate)
}

// Transform canonicalizes an already-serialized JSON document.
func Transform(raw []byte) ([]byte, error) {
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("jcs: transform failed: %w", err)
	}
	return out, nil
}
