package sla

import (
	"context"
	"errors"
	"sync"
)

// ErrCaseNotFound is returned when updating or closing an unknown case.
var ErrCaseNotFound = errors.New("sla case not found")

// Store is the storage collaborator for the active-case working set. Case
// creation and closure are external signals from the host system; the
// reconciler only reads the set and advances levels.
type Store interface {
	// ActiveCases returns the full current working set of open cases.
	ActiveCases(ctx context.Context) ([]*Case, error)

	// Put creates or replaces a case in the working set.
	Put(ctx context.Context, c *Case) error

	// Update persists a case's level and escalation timestamp atomically.
	Update(ctx context.Context, c *Case) error

	// Close removes a case from the working set.
	Close(ctx context.Context, subjectID string) error
}

// MemoryStore is an in-memory implementation of Store. Used for testing and
// development. Thread-safe via RWMutex.
type MemoryStore struct {
	mu    sync.RWMutex
	cases map[string]*Case
	order []string
}

// NewMemoryStore creates a new in-memory case store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cases: make(map[string]*Case)}
}

// ActiveCases returns copies of all open cases in insertion order.
func (s *MemoryStore) ActiveCases(ctx context.Context) ([]*Case, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]*Case, 0, len(s.cases))
	for _, id := range s.order {
		if c, ok := s.cases[id]; ok {
			cp := *c
			results = append(results, &cp)
		}
	}
	return results, nil
}

// Put creates or replaces a case.
func (s *MemoryStore) Put(ctx context.Context, c *Case) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp := *c
	s.mu.Lock()
	if _, exists := s.cases[cp.SubjectID]; !exists {
		s.order = append(s.order, cp.SubjectID)
	}
	s.cases[cp.SubjectID] = &cp
	s.mu.Unlock()
	return nil
}

// Update persists the case's current level and escalation timestamp.
func (s *MemoryStore) Update(ctx context.Context, c *Case) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.cases[c.SubjectID]
	if !ok {
		return ErrCaseNotFound
	}
	cur.Level = c.Level
	cur.EscalatedAt = c.EscalatedAt
	return nil
}

// Close removes a case from the working set.
func (s *MemoryStore) Close(ctx context.Context, subjectID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.cases[subjectID]; !ok {
		return ErrCaseNotFound
	}
	delete(s.cases, subjectID)
	kept := s.order[:0]
	for _, id := range s.order {
		if id != subjectID {
			kept = append(kept, id)
		}
	}
	s.order = kept
	return nil
}
