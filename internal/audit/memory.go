package audit

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory implementation of Store. Used for testing and
// development. Thread-safe via RWMutex.
type MemoryStore struct {
	mu   sync.RWMutex
	recs map[string]*Record
	// Maintain insertion order for queries
	order []string
}

// NewMemoryStore creates a new in-memory record store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		recs:  make(map[string]*Record),
		order: make([]string, 0),
	}
}

// Add persists a single record.
func (s *MemoryStore) Add(ctx context.Context, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp := *rec
	s.mu.Lock()
	s.recs[cp.ID] = &cp
	s.order = append(s.order, cp.ID)
	s.mu.Unlock()
	return nil
}

// AddBatch persists a batch of records in insertion order.
func (s *MemoryStore) AddBatch(ctx context.Context, recs []*Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range recs {
		cp := *rec
		s.recs[cp.ID] = &cp
		s.order = append(s.order, cp.ID)
	}
	return nil
}

// Query returns matching records, oldest first.
func (s *MemoryStore) Query(ctx context.Context, f Filter) ([]*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*Record
	skipped := 0
	for _, id := range s.order {
		rec := s.recs[id]
		if !f.matches(rec) {
			continue
		}
		if skipped < f.Offset {
			skipped++
			continue
		}
		// Return a copy to prevent external modification
		cp := *rec
		results = append(results, &cp)
		if f.Limit > 0 && len(results) >= f.Limit {
			break
		}
	}
	return results, nil
}

// Remove deletes the given record IDs and reports how many were removed.
func (s *MemoryStore) Remove(ctx context.Context, ids []string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := s.recs[id]; ok {
			delete(s.recs, id)
			drop[id] = true
			removed++
		}
	}
	if removed > 0 {
		kept := s.order[:0]
		for _, id := range s.order {
			if !drop[id] {
				kept = append(kept, id)
			}
		}
		s.order = kept
	}
	return removed, nil
}

// Count reports how many records match the filter.
func (s *MemoryStore) Count(ctx context.Context, f Filter) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, id := range s.order {
		if f.matches(s.recs[id]) {
			n++
		}
	}
	return n, nil
}
