// Package storage provides utterance history implementations.
package storage

import (
	"context"
	"sync"

	"github.com/hammamikhairi/ttsplay/internal/domain"
	"github.com/hammamikhairi/ttsplay/internal/logger"
)

// Compile-time interface check.
var _ domain.HistoryStore = (*MemoryStore)(nil)

// DefaultCapacity is how many records a MemoryStore keeps by default.
const DefaultCapacity = 100

// MemoryStore is an in-memory history bounded to a fixed number of records.
// Records are keyed by utterance id; saving an id again replaces the old
// record and moves it to the end. Safe for concurrent access.
type MemoryStore struct {
	mu       sync.RWMutex
	capacity int
	order    []string // oldest first
	records  map[string]*domain.Record
	log      *logger.Logger
}

// NewMemoryStore creates an empty history holding at most capacity
// records. A non-positive capacity uses DefaultCapacity.
func NewMemoryStore(capacity int, log *logger.Logger) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryStore{
		capacity: capacity,
		records:  make(map[string]*domain.Record),
		log:      log,
	}
}

// Save stores a copy of r, evicting the oldest record when full.
func (s *MemoryStore) Save(ctx context.Context, r *domain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[r.ID]; ok {
		s.removeLocked(r.ID)
	}
	for len(s.order) >= s.capacity {
		oldest := s.order[0]
		s.removeLocked(oldest)
		s.log.Debug("history: evicted %s", oldest)
	}
	rec := *r
	s.records[r.ID] = &rec
	s.order = append(s.order, r.ID)
	s.log.Debug("history: saved %s (outcome=%s, engine=%s)", r.ID, r.Outcome, r.Engine)
	return nil
}

// Load retrieves a record by utterance id.
func (s *MemoryStore) Load(ctx context.Context, id string) (*domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		s.log.Debug("history: %s not found", id)
		return nil, domain.ErrNotFound
	}
	out := *rec
	return &out, nil
}

// Delete removes a record by utterance id.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return domain.ErrNotFound
	}
	s.removeLocked(id)
	s.log.Debug("history: deleted %s", id)
	return nil
}

// Recent returns up to n records, oldest first. n <= 0 returns all.
func (s *MemoryStore) Recent(ctx context.Context, n int) ([]*domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.order
	if n > 0 && n < len(ids) {
		ids = ids[len(ids)-n:]
	}
	out := make([]*domain.Record, 0, len(ids))
	for _, id := range ids {
		rec := *s.records[id]
		out = append(out, &rec)
	}
	return out, nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

func (s *MemoryStore) removeLocked(id string) {
	delete(s.records, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}
