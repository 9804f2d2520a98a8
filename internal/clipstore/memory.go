package clipstore

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// MemStore is an in-memory [Store]. Records are lost on restart.
type MemStore struct {
	mu      sync.RWMutex
	records map[uuid.UUID]Record
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{records: make(map[uuid.UUID]Record)}
}

// Save implements [Store].
func (s *MemStore) Save(ctx context.Context, r *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[r.ID] = *r
	return nil
}

// Get implements [Store].
func (s *MemStore) Get(_ context.Context, id uuid.UUID) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

// List implements [Store].
func (s *MemStore) List(_ context.Context, streamID string) ([]Record, error) {
	s.mu.RLock()
	var out []Record
	for _, r := range s.records {
		if r.StreamID == streamID {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b Record) int { return a.Seq - b.Seq })
	return out, nil
}

// Delete implements [Store].
func (s *MemStore) Delete(_ context.Context, streamID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range s.records {
		if r.StreamID == streamID {
			delete(s.records, id)
		}
	}
	return nil
}

// Len returns the number of stored records.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
