// Package session stores conversation contexts between turns.
package session

import (
	"context"
	"sync"

	"github.com/example/fintrack/internal/completion"
)

// MemoryStore keeps conversation contexts in process. Suitable for the chat
// binary and tests.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*completion.Context
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*completion.Context)}
}

func (s *MemoryStore) Get(ctx context.Context, sessionID string) (*completion.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sessionID]; ok {
		clone := *sess
		return &clone, nil
	}
	return &completion.Context{SessionID: sessionID}, nil
}

func (s *MemoryStore) Put(ctx context.Context, sess *completion.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *sess
	s.sessions[sess.SessionID] = &clone
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}
