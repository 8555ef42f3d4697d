package interactions

import (
	"context"
	"fmt"
	"log/slog"
)

// SessionResolver maps an interaction to the conversational session that
// should receive the dispatched event.
type SessionResolver interface {
	ResolveSession(ctx context.Context, accountID string, p *Payload) (string, error)
}

// SessionResolverFunc adapts a function to SessionResolver.
type SessionResolverFunc func(ctx context.Context, accountID string, p *Payload) (string, error)

// ResolveSession calls f.
func (f SessionResolverFunc) ResolveSession(ctx context.Context, accountID string, p *Payload) (string, error) {
	return f(ctx, accountID, p)
}

// FallbackSessionKey is the deterministic key used when no resolver is
// configured or the resolver fails.
func FallbackSessionKey(accountID, channelID string) string {
	return accountID + ":" + channelID
}

// resolveSessionKey never fails: resolver errors and empty results degrade to
// the fallback key.
func resolveSessionKey(ctx context.Context, logger *slog.Logger, resolver SessionResolver, accountID string, p *Payload) string {
	if resolver != nil {
		key, err := callResolver(ctx, resolver, accountID, p)
		if err == nil && key != "" {
			return key
		}
		if err != nil {
			logger.WarnContext(ctx, "session resolver failed, using fallback key",
				"account", accountID, "channel", p.ChannelID, "error", err)
		}
	}
	return FallbackSessionKey(accountID, p.ChannelID)
}

func callResolver(ctx context.Context, resolver SessionResolver, accountID string, p *Payload) (key string, err error) {
	defer func() {
		if r := recover(); r != nil {
			key, err = "", fmt.Errorf("session resolver panic: %v", r)
		}
	}()
	return resolver.ResolveSession(ctx, accountID, p)
}
