package interactions

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// DefaultPathPrefix is the route prefix interaction callbacks are served on.
const DefaultPathPrefix = "/interactions"

// Fallback describes the locally served callback URL used for accounts with
// no explicit registration.
type Fallback struct {
	Port       int
	PathPrefix string
}

// Registry maps account ids to the externally reachable callback URL that
// issued controls point at. Registrations happen at startup or account
// activation and are read on every control build.
type Registry struct {
	mu   sync.RWMutex
	urls map[string]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{urls: make(map[string]string)}
}

// Register records the callback URL for accountID.
func (r *Registry) Register(accountID, callbackURL string) error {
	if accountID == "" {
		return fmt.Errorf("interactions: account id must not be empty")
	}
	u, err := url.Parse(callbackURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("interactions: invalid callback url %q", callbackURL)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.urls[accountID] = callbackURL
	return nil
}

// Lookup returns the explicit registration, if any.
func (r *Registry) Lookup(accountID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.urls[accountID]
	return u, ok
}

// Resolve returns the registered URL or the computed localhost fallback.
func (r *Registry) Resolve(accountID string, fb Fallback) string {
	if u, ok := r.Lookup(accountID); ok {
		return u
	}
	return FallbackURL(accountID, fb)
}

// FallbackURL builds http://localhost:<port><prefix>/<account>.
func FallbackURL(accountID string, fb Fallback) string {
	prefix := fb.PathPrefix
	if prefix == "" {
		prefix = DefaultPathPrefix
	}
	prefix = "/" + strings.Trim(prefix, "/")
	return fmt.Sprintf("http://localhost:%d%s/%s", fb.Port, prefix, url.PathEscape(accountID))
}
