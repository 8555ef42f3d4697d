// Package blocks models a chat message's structural layout as a tagged variant
// and mutates it after a control has been handled.
//
// Known kinds decode into concrete types. Anything else, including known kinds
// whose shape does not decode, is kept as Opaque and re-encoded byte-for-byte.
package blocks

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/Mindburn-Labs/helm-gateway/pkg/canonicalize"
)

// Kind is the "type" discriminator of a block.
type Kind string

const (
	KindSection Kind = "section"
	KindActions Kind = "actions"
	KindDivider Kind = "divider"
	KindContext Kind = "context"
)

// Block is one element of a message layout.
type Block interface {
	Kind() Kind
	ID() string
}

// Text is a text object.
type Text struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji *bool  `json:"emoji,omitempty"`
}

// PlainText returns a plain_text object.
func PlainText(s string) Text { return Text{Type: "plain_text", Text: s} }

// Markdown returns a mrkdwn object.
func Markdown(s string) Text { return Text{Type: "mrkdwn", Text: s} }

// Style is the visual style of a control.
type Style string

const (
	StyleDefault Style = "default"
	StylePrimary Style = "primary"
	StyleDanger  Style = "danger"
)

// Valid reports whether s is one of the closed set of styles. The empty style
// is treated as default.
func (s Style) Valid() bool {
	switch s {
	case "", StyleDefault, StylePrimary, StyleDanger:
		return true
	}
	return false
}

// Integration is where the platform posts the callback and the context it
// echoes back.
type Integration struct {
	URL     string         `json:"url"`
	Context map[string]any `json:"context,omitempty"`
}

// Control is an interactive element inside an actions block.
type Control struct {
	Type        string       `json:"type"`
	ActionID    string       `json:"action_id"`
	Text        Text         `json:"text"`
	Style       Style        `json:"style,omitempty"`
	Value       string       `json:"value,omitempty"`
	Integration *Integration `json:"integration,omitempty"`
}

// Label is the control's display text, falling back to its id.
func (c Control) Label() string {
	if c.Text.Text != "" {
		return c.Text.Text
	}
	return c.ActionID
}

// Section is a block of text.
type Section struct {
	BlockID string `json:"block_id,omitempty"`
	Text    *Text  `json:"text,omitempty"`
	Fields  []Text `json:"fields,omitempty"`
}

func (Section) Kind() Kind { return KindSection }
func (s Section) ID() string { return s.BlockID }

// MarshalJSON adds the type discriminator.
func (s Section) MarshalJSON() ([]byte, error) {
	type alias Section
	return json.Marshal(struct {
		Type Kind `json:"type"`
		alias
	}{KindSection, alias(s)})
}

// Actions hosts interactive controls.
type Actions struct {
	BlockID  string    `json:"block_id,omitempty"`
	Elements []Control `json:"elements"`
}

func (Actions) Kind() Kind { return KindActions }
func (a Actions) ID() string { return a.BlockID }

// MarshalJSON adds the type discriminator.
func (a Actions) MarshalJSON() ([]byte, error) {
	type alias Actions
	if a.Elements == nil {
		a.Elements = []Control{}
	}
	return json.Marshal(struct {
		Type Kind `json:"type"`
		alias
	}{KindActions, alias(a)})
}

// Control returns the control with actionID, if present.
func (a Actions) Control(actionID string) (Control, bool) {
	for _, c := range a.Elements {
		if c.ActionID == actionID {
			return c, true
		}
	}
	return Control{}, false
}

// Divider is a visual separator.
type Divider struct {
	BlockID string `json:"block_id,omitempty"`
}

func (Divider) Kind() Kind { return KindDivider }
func (d Divider) ID() string { return d.BlockID }

// MarshalJSON adds the type discriminator.
func (d Divider) MarshalJSON() ([]byte, error) {
	type alias Divider
	return json.Marshal(struct {
		Type Kind `json:"type"`
		alias
	}{KindDivider, alias(d)})
}

// Confirmation is the static block that replaces a handled control block.
type Confirmation struct {
	BlockID  string `json:"block_id,omitempty"`
	Elements []Text `json:"elements"`
}

func (Confirmation) Kind() Kind { return KindContext }
func (c Confirmation) ID() string { return c.BlockID }

// MarshalJSON adds the type discriminator.
func (c Confirmation) MarshalJSON() ([]byte, error) {
	type alias Confirmation
	if c.Elements == nil {
		c.Elements = []Text{}
	}
	return json.Marshal(struct {
		Type Kind `json:"type"`
		alias
	}{KindContext, alias(c)})
}

// Opaque preserves a block this package does not understand.
type Opaque struct {
	kind Kind
	id   string
	raw  json.RawMessage
}

// NewOpaque wraps a raw block. raw must be a JSON object.
func NewOpaque(raw []byte) (Opaque, error) {
	var head struct {
		Type    Kind   `json:"type"`
		BlockID string `json:"block_id"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return Opaque{}, fmt.Errorf("blocks: opaque block: %w", err)
	}
	return Opaque{kind: head.Type, id: head.BlockID, raw: bytes.Clone(raw)}, nil
}

func (o Opaque) Kind() Kind { return o.kind }
func (o Opaque) ID() string { return o.id }

// Raw returns the original bytes.
func (o Opaque) Raw() json.RawMessage { return bytes.Clone(o.raw) }

// Controls decodes the controls of an opaque actions block loosely, ignoring
// fields Control does not model.
func (o Opaque) Controls() ([]Control, bool) {
	if o.kind != KindActions {
		return nil, false
	}
	var body struct {
		Elements []Control `json:"elements"`
	}
	if err := json.Unmarshal(o.raw, &body); err != nil {
		return nil, false
	}
	return body.Elements, true
}

// MarshalJSON returns the original bytes unchanged.
func (o Opaque) MarshalJSON() ([]byte, error) {
	if len(o.raw) == 0 {
		return []byte("null"), nil
	}
	return o.raw, nil
}

// Layout is an ordered list of blocks.
type Layout []Block

// UnmarshalJSON decodes each block by its type field.
func (l *Layout) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return fmt.Errorf("blocks: layout: %w", err)
	}
	out := make(Layout, 0, len(raws))
	for i, raw := range raws {
		b, err := decodeBlock(raw)
		if err != nil {
			return fmt.Errorf("blocks: block %d: %w", i, err)
		}
		out = append(out, b)
	}
	*l = out
	return nil
}

// MarshalJSON encodes a nil layout as an empty array.
func (l Layout) MarshalJSON() ([]byte, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]Block(l))
}

func decodeBlock(raw json.RawMessage) (Block, error) {
	opaque, err := NewOpaque(raw)
	if err != nil {
		return nil, err
	}

	var (
		known Block
		derr  error
	)
	switch opaque.kind {
	case KindSection:
		var s Section
		derr = json.Unmarshal(raw, &s)
		known = s
	case KindActions:
		var a Actions
		derr = json.Unmarshal(raw, &a)
		known = a
	case KindDivider:
		var d Divider
		derr = json.Unmarshal(raw, &d)
		known = d
	case KindContext:
		var c Confirmation
		derr = json.Unmarshal(raw, &c)
		known = c
	default:
		return opaque, nil
	}
	if derr != nil || !lossless(raw, known) {
		return opaque, nil
	}
	return known, nil
}

// lossless reports whether re-encoding b reproduces raw up to key order and
// whitespace. Blocks carrying fields this package does not model stay opaque.
func lossless(raw json.RawMessage, b Block) bool {
	encoded, err := json.Marshal(b)
	if err != nil {
		return false
	}
	want, err := canonicalize.Transform(raw)
	if err != nil {
		return false
	}
	got, err := canonicalize.Transform(encoded)
	if err != nil {
		return false
	}
	return bytes.Equal(want, got)
}
