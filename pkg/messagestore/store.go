// Package messagestore reads and rewrites messages the gateway posted, so a
// handled control can be replaced in place.
package messagestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/Mindburn-Labs/helm-gateway/pkg/blocks"
)

// ErrNotFound is returned for unknown message ids.
var ErrNotFound = errors.New("messagestore: message not found")

// Message is the mutable part of a posted message.
type Message struct {
	Text   string        `json:"text"`
	Blocks blocks.Layout `json:"blocks"`
	// Props carries the other post properties so an update does not drop
	// them. The "blocks" key is never present here.
	Props map[string]json.RawMessage `json:"props,omitempty"`
}

// Store fetches and updates messages by id.
type Store interface {
	FetchOriginal(ctx context.Context, messageID string) (Message, error)
	Update(ctx context.Context, messageID string, msg Message) error
}

// Memory is an in-process Store.
type Memory struct {
	mu       sync.RWMutex
	messages map[string]Message
	updates  int
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{messages: make(map[string]Message)}
}

// Put seeds or overwrites a message.
func (m *Memory) Put(messageID string, msg Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[messageID] = msg
}

// FetchOriginal returns the stored message.
func (m *Memory) FetchOriginal(ctx context.Context, messageID string) (Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.messages[messageID]
	if !ok {
		return Message{}, fmt.Errorf("%w: %s", ErrNotFound, messageID)
	}
	return msg, nil
}

// Update replaces an existing message.
func (m *Memory) Update(ctx context.Context, messageID string, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.messages[messageID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, messageID)
	}
	m.messages[messageID] = msg
	m.updates++
	return nil
}

// Updates returns how many times Update succeeded.
func (m *Memory) Updates() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.updates
}
