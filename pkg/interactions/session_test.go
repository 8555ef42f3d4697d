package interactions

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveSessionKey(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := &Payload{ChannelID: "chan-1", UserID: "u1"}

	tests := []struct {
		name     string
		resolver SessionResolver
		want     string
	}{
		{"no resolver", nil, "acct:chan-1"},
		{"resolver key", SessionResolverFunc(func(context.Context, string, *Payload) (string, error) {
			return "session-42", nil
		}), "session-42"},
		{"resolver error", SessionResolverFunc(func(context.Context, string, *Payload) (string, error) {
			return "", errors.New("directory unavailable")
		}), "acct:chan-1"},
		{"resolver empty", SessionResolverFunc(func(context.Context, string, *Payload) (string, error) {
			return "", nil
		}), "acct:chan-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resolveSessionKey(context.Background(), logger, tt.resolver, "acct", p))
		})
	}
}

func TestFallbackSessionKey(t *testing.T) {
	assert.Equal(t, "acct:", FallbackSessionKey("acct", ""))
}

func TestPayloadAccessors(t *testing.T) {
	p := &Payload{UserID: "u1", Context: map[string]any{TokenKey: 7, ActionIDKey: ""}}
	_, ok := p.Token()
	assert.False(t, ok, "non-string token")
	_, ok = p.ActionID()
	assert.False(t, ok, "empty action id")
	assert.Equal(t, "u1", p.Actor())

	p.UserName = "alice"
	assert.Equal(t, "@alice", p.Actor())
}
