// Package interactions authenticates and dispatches interaction callbacks:
// button clicks and menu selections a chat platform posts back for controls
// the gateway issued.
//
// A Service owns all per-account state (signing secrets, callback URLs and
// message stores). Accounts are registered before the handler starts serving
// and only read afterwards.
package interactions

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Mindburn-Labs/helm-gateway/pkg/eventsink"
	"github.com/Mindburn-Labs/helm-gateway/pkg/messagestore"
	"github.com/Mindburn-Labs/helm-gateway/pkg/observability"
)

// DefaultStepTimeout bounds each best-effort step after the gates passed.
const DefaultStepTimeout = 5 * time.Second

// Options configures a Service.
type Options struct {
	Sink        eventsink.Sink
	Resolver    SessionResolver
	Telemetry   *observability.Provider
	Logger      *slog.Logger
	Limits      BodyLimits
	StepTimeout time.Duration
	Fallback    Fallback
	// OnOutcome, when set, observes every handled request.
	OnOutcome func(Outcome)
}

// Account is one chat-platform bot identity served by the gateway.
type Account struct {
	ID string
	// Credential is the long-lived bot token. Empty means a random,
	// process-local signing secret.
	Credential  string
	CallbackURL string
	Store       messagestore.Store
}

// Service is the interaction callback subsystem.
type Service struct {
	secrets  *SecretManager
	codec    *Codec
	registry *Registry

	mu     sync.RWMutex
	stores map[string]messagestore.Store

	sink        eventsink.Sink
	resolver    SessionResolver
	telemetry   *observability.Provider
	logger      *slog.Logger
	limits      BodyLimits
	stepTimeout time.Duration
	fallback    Fallback
	onOutcome   func(Outcome)
}

// NewService builds a Service. A nil telemetry provider gets a disabled one.
func NewService(opts Options) (*Service, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	telemetry := opts.Telemetry
	if telemetry == nil {
		var err error
		telemetry, err = observability.New(context.Background(), observability.DefaultConfig())
		if err != nil {
			return nil, fmt.Errorf("interactions: telemetry: %w", err)
		}
	}
	limits := opts.Limits
	if limits.MaxBytes <= 0 || limits.Timeout <= 0 {
		def := DefaultBodyLimits()
		if limits.MaxBytes <= 0 {
			limits.MaxBytes = def.MaxBytes
		}
		if limits.Timeout <= 0 {
			limits.Timeout = def.Timeout
		}
	}
	stepTimeout := opts.StepTimeout
	if stepTimeout <= 0 {
		stepTimeout = DefaultStepTimeout
	}

	secrets := NewSecretManager()
	return &Service{
		secrets:     secrets,
		codec:       NewCodec(secrets),
		registry:    NewRegistry(),
		stores:      make(map[string]messagestore.Store),
		sink:        opts.Sink,
		resolver:    opts.Resolver,
		telemetry:   telemetry,
		logger:      logger.With("component", "interactions"),
		limits:      limits,
		stepTimeout: stepTimeout,
		fallback:    opts.Fallback,
		onOutcome:   opts.OnOutcome,
	}, nil
}

// RegisterAccount initializes the account's secret, callback URL and store.
func (s *Service) RegisterAccount(a Account) error {
	if err := s.secrets.Initialize(a.ID, a.Credential); err != nil {
		return err
	}
	if a.CallbackURL != "" {
		if err := s.registry.Register(a.ID, a.CallbackURL); err != nil {
			return err
		}
	}
	if a.Store != nil {
		s.mu.Lock()
		s.stores[a.ID] = a.Store
		s.mu.Unlock()
	}
	s.logger.Info("account registered",
		"account", a.ID,
		"deterministic_secret", a.Credential != "",
		"callback_url", s.CallbackURL(a.ID),
	)
	return nil
}

// Codec returns the token codec for issuing controls.
func (s *Service) Codec() *Codec { return s.codec }

// Accounts reports how many accounts hold a signing secret.
func (s *Service) Accounts() int { return s.secrets.Accounts() }

// CallbackURL returns where controls for accountID should post back.
func (s *Service) CallbackURL(accountID string) string {
	return s.registry.Resolve(accountID, s.fallback)
}

func (s *Service) store(accountID string) messagestore.Store {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stores[accountID]
}
