// Package controls builds signed interactive controls whose callbacks the
// interactions handler will accept.
package controls

import (
	"errors"
	"fmt"

	"github.com/Mindburn-Labs/helm-gateway/pkg/blocks"
	"github.com/Mindburn-Labs/helm-gateway/pkg/interactions"
)

var (
	ErrEmptyID    = errors.New("controls: control id must not be empty")
	ErrEmptyLabel = errors.New("controls: control label must not be empty")
	ErrBadStyle   = errors.New("controls: unknown control style")
	ErrNoControls = errors.New("controls: at least one control is required")
)

// Descriptor describes one button.
type Descriptor struct {
	ID    string
	Label string
	Style blocks.Style
	// Context is echoed back on click. action_id and _token are set by the
	// builder and override any value given here.
	Context map[string]any
}

// Signer signs a control context for an account.
type Signer interface {
	SignContext(accountID string, context map[string]any) (map[string]any, error)
}

// CallbackResolver returns the callback URL for an account.
type CallbackResolver interface {
	CallbackURL(accountID string) string
}

// Builder turns descriptors into signed actions blocks.
type Builder struct {
	signer    Signer
	callbacks CallbackResolver
}

// NewBuilder returns a builder. *interactions.Codec and *interactions.Service
// satisfy the two interfaces.
func NewBuilder(signer Signer, callbacks CallbackResolver) *Builder {
	return &Builder{signer: signer, callbacks: callbacks}
}

// NewServiceBuilder wires a builder to a running interactions service.
func NewServiceBuilder(svc *interactions.Service) *Builder {
	return NewBuilder(svc.Codec(), svc)
}

// Build returns an actions block with one button per descriptor.
func (b *Builder) Build(accountID, blockID string, descs []Descriptor) (blocks.Actions, error) {
	if len(descs) == 0 {
		return blocks.Actions{}, ErrNoControls
	}
	url := b.callbacks.CallbackURL(accountID)

	elements := make([]blocks.Control, 0, len(descs))
	for _, d := range descs {
		c, err := b.control(accountID, url, d)
		if err != nil {
			return blocks.Actions{}, err
		}
		elements = append(elements, c)
	}
	return blocks.Actions{BlockID: blockID, Elements: elements}, nil
}

func (b *Builder) control(accountID, url string, d Descriptor) (blocks.Control, error) {
	switch {
	case d.ID == "":
		return blocks.Control{}, ErrEmptyID
	case d.Label == "":
		return blocks.Control{}, fmt.Errorf("%w: %s", ErrEmptyLabel, d.ID)
	case !d.Style.Valid():
		return blocks.Control{}, fmt.Errorf("%w %q on %s", ErrBadStyle, d.Style, d.ID)
	}

	ctx := make(map[string]any, len(d.Context)+2)
	for k, v := range d.Context {
		ctx[k] = v
	}
	delete(ctx, interactions.TokenKey)
	ctx[interactions.ActionIDKey] = d.ID

	signed, err := b.signer.SignContext(accountID, ctx)
	if err != nil {
		return blocks.Control{}, fmt.Errorf("controls: sign %s: %w", d.ID, err)
	}

	return blocks.Control{
		Type:        "button",
		ActionID:    d.ID,
		Text:        blocks.PlainText(d.Label),
		Style:       d.Style,
		Integration: &blocks.Integration{URL: url, Context: signed},
	}, nil
}
