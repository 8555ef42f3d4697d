package interactions

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"github.com/Mindburn-Labs/helm-gateway/pkg/canonicalize"
)

// Reserved keys inside a signing context.
const (
	TokenKey    = "_token"
	ActionIDKey = "action_id"
)

// TokenLength is the length of a hex-encoded HMAC-SHA256 token.
const TokenLength = sha256.Size * 2

// Codec signs and verifies opaque interaction contexts with per-account
// secrets.
type Codec struct {
	secrets *SecretManager
}

// NewCodec returns a codec backed by secrets.
func NewCodec(secrets *SecretManager) *Codec {
	return &Codec{secrets: secrets}
}

// Canonicalize returns the canonical bytes of a context with the token field
// removed from the top level.
func Canonicalize(context map[string]any) ([]byte, error) {
	stripped := make(map[string]any, len(context))
	for k, v := range context {
		if k == TokenKey {
			continue
		}
		stripped[k] = v
	}
	return canonicalize.JCS(stripped)
}

// Sign returns the lower-case hex HMAC-SHA256 of the canonical context.
func (c *Codec) Sign(accountID string, context map[string]any) (string, error) {
	secret, err := c.secrets.Secret(accountID)
	if err != nil {
		return "", err
	}
	return signWith(secret, context)
}

func signWith(secret []byte, context map[string]any) (string, error) {
	payload, err := Canonicalize(context)
	if err != nil {
		return "", fmt.Errorf("interactions: canonicalize context: %w", err)
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify reports whether token is the signature of context. It never returns
// an error: a missing secret, a context that cannot be canonicalized and a
// malformed token all simply fail verification.
func (c *Codec) Verify(accountID string, context map[string]any, token string) bool {
	if len(token) != TokenLength {
		return false
	}
	expected, err := c.Sign(accountID, context)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(token)) == 1
}

// SignContext returns a copy of context with its token field set.
func (c *Codec) SignContext(accountID string, context map[string]any) (map[string]any, error) {
	token, err := c.Sign(accountID, context)
	if err != nil {
		return nil, err
	}
	signed := make(map[string]any, len(context)+1)
	for k, v := range context {
		signed[k] = v
	}
	signed[TokenKey] = token
	return signed, nil
}
