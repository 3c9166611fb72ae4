package session

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned when a session id is unknown.
var ErrNotFound = errors.New("session: not found")

// Store persists session records. Implementations return copies: mutating a
// returned record has no effect until it is passed to Put.
type Store interface {
	Get(ctx context.Context, id string) (*Record, error)
	Put(ctx context.Context, rec *Record) error
}

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Record
}

// NewMemoryStore returns an empty [MemoryStore].
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Record)}
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) Put(_ context.Context, rec *Record) error {
	if rec == nil || rec.ID == "" {
		return errors.New("session: record id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[rec.ID] = rec.Clone()
	return nil
}
