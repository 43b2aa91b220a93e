package webhook

import (
	"context"
	"sync"
)

// MemoryEventStore is an in-memory EventStore for development and tests.
type MemoryEventStore struct {
	mu     sync.Mutex
	events map[string]*Record
}

// NewMemoryEventStore creates an empty in-memory event store.
func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{events: make(map[string]*Record)}
}

func (s *MemoryEventStore) Insert(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[rec.EventID]; ok {
		return ErrDuplicateEvent
	}
	cp := *rec
	s.events[rec.EventID] = &cp
	return nil
}

func (s *MemoryEventStore) Delete(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.events, eventID)
	return nil
}

var _ EventStore = (*MemoryEventStore)(nil)
