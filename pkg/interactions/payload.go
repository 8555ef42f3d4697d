package interactions

import (
	"bytes"
	"encoding/json"
)

// Payload is the interaction callback body posted by the platform when a user
// activates a control the gateway issued.
type Payload struct {
	UserID    string         `json:"user_id"`
	UserName  string         `json:"user_name,omitempty"`
	ChannelID string         `json:"channel_id"`
	PostID    string         `json:"post_id"`
	TeamID    string         `json:"team_id,omitempty"`
	TriggerID string         `json:"trigger_id,omitempty"`
	Context   map[string]any `json:"context"`
}

// Token returns the signature carried in the context.
func (p *Payload) Token() (string, bool) {
	raw, ok := p.Context[TokenKey]
	if !ok {
		return "", false
	}
	s, ok := raw.(string)
	return s, ok && s != ""
}

// ActionID returns the clicked control's identifier.
func (p *Payload) ActionID() (string, bool) {
	s, ok := p.Context[ActionIDKey].(string)
	return s, ok && s != ""
}

// Actor is the best human-readable name for the clicking user.
func (p *Payload) Actor() string {
	if p.UserName != "" {
		return "@" + p.UserName
	}
	return p.UserID
}

// decodePayload builds a Payload from the top-level fields of a callback body.
// Envelope fields are read leniently: a string is taken as is, a number keeps
// its literal text and any other JSON value reads as empty. Only the context
// must have the exact shape.
func decodePayload(fields map[string]json.RawMessage) (Payload, error) {
	p := Payload{
		UserID:    scalarField(fields["user_id"]),
		UserName:  scalarField(fields["user_name"]),
		ChannelID: scalarField(fields["channel_id"]),
		PostID:    scalarField(fields["post_id"]),
		TeamID:    scalarField(fields["team_id"]),
		TriggerID: scalarField(fields["trigger_id"]),
	}
	if err := json.Unmarshal(fields["context"], &p.Context); err != nil {
		return Payload{}, err
	}
	return p, nil
}

func scalarField(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return s
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return ""
		}
		return n.String()
	}
	return ""
}
