package interactions

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/hkdf"
)

// SecretSize is the byte length of every per-account signing secret.
const SecretSize = 32

// secretDerivationLabel domain-separates interaction secrets from any other
// key material derived from the same bot credential.
const secretDerivationLabel = "helm-gateway/interaction-token/v1"

// ErrNotInitialized is returned when a secret is requested for an account
// that was never initialized. Under a correct startup order this never
// happens during request handling.
var ErrNotInitialized = errors.New("interactions: signing secret not initialized")

// SecretManager owns one signing secret per account.
//
// With a credential the secret is derived with HKDF-SHA256, so a one-shot CLI
// and a long-running daemon holding the same bot token agree on it. Without a
// credential a random secret is generated on first use and cached for the
// life of the process.
type SecretManager struct {
	mu      sync.RWMutex
	secrets map[string][]byte
	random  io.Reader
}

// NewSecretManager returns an empty manager.
func NewSecretManager() *SecretManager {
	return &SecretManager{
		secrets: make(map[string][]byte),
		random:  rand.Reader,
	}
}

// Initialize establishes the secret for accountID.
//
// A non-empty credential always (re)derives the secret, which yields the same
// bytes for the same credential. An empty credential generates a random secret
// only if none exists yet.
func (m *SecretManager) Initialize(accountID, credential string) error {
	if accountID == "" {
		return fmt.Errorf("interactions: account id must not be empty")
	}

	var secret []byte
	if credential != "" {
		derived, err := DeriveSecret(accountID, credential)
		if err != nil {
			return err
		}
		secret = derived
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if secret == nil {
		if _, ok := m.secrets[accountID]; ok {
			return nil
		}
		secret = make([]byte, SecretSize)
		if _, err := io.ReadFull(m.random, secret); err != nil {
			return fmt.Errorf("interactions: generate secret: %w", err)
		}
	}

	m.secrets[accountID] = secret
	return nil
}

// Secret returns a copy of the account's signing secret.
func (m *SecretManager) Secret(accountID string) ([]byte, error) {
	m.mu.RLock()
	secret, ok := m.secrets[accountID]
	m.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: account %q", ErrNotInitialized, accountID)
	}
	out := make([]byte, len(secret))
	copy(out, secret)
	return out, nil
}

// Accounts returns the number of initialized accounts.
func (m *SecretManager) Accounts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.secrets)
}

// DeriveSecret computes the deterministic secret for a credential.
func DeriveSecret(accountID, credential string) ([]byte, error) {
	if credential == "" {
		return nil, fmt.Errorf("interactions: credential must not be empty")
	}

	reader := hkdf.New(sha256.New, []byte(credential), []byte(secretDerivationLabel), []byte(accountID))
	secret := make([]byte, SecretSize)
	if _, err := io.ReadFull(reader, secret); err != nil {
		return nil, fmt.Errorf("HKDF derivation failed: %w", err)
	}
	return secret, nil
}
