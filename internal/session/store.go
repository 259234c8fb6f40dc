package session

import (
	"context"
	"sync"
)

// TokenStore is a durable single slot holding one bearer token.
// Writers are last-writer-wins; there is no coordination across processes.
type TokenStore interface {
	// Get returns the stored token. A read failure is reported as absent.
	Get(ctx context.Context) (string, bool)
	// Set overwrites the slot.
	Set(ctx context.Context, token string) error
	// Clear empties the slot. Clearing an empty slot is not an error.
	Clear(ctx context.Context) error
}

// ChangeOp describes a write observed on a shared token slot.
type ChangeOp string

const (
	ChangeSet     ChangeOp = "set"
	ChangeCleared ChangeOp = "clear"
)

// Change is a write made to the slot, possibly by another process.
type Change struct {
	Op    ChangeOp
	Token string
}

// Notifier is implemented by stores that can report writes made elsewhere.
// Watch blocks until ctx is done, invoking fn for every observed change.
type Notifier interface {
	Watch(ctx context.Context, fn func(Change)) error
}

// MemoryStore keeps the token in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	token string
}

var _ TokenStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Get returns the stored token.
func (s *MemoryStore) Get(_ context.Context) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.token != ""
}

// Set overwrites the stored token.
func (s *MemoryStore) Set(_ context.Context, token string) error {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return nil
}

// Clear removes the stored token.
func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
	return nil
}
