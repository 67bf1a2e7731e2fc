package sla

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/auditpipe/internal/audit"
)

// captureSubmitter records audit records handed to it.
type captureSubmitter struct {
	mu      sync.Mutex
	records []*audit.Record
	err     error
}

func (s *captureSubmitter) Submit(ctx context.Context, rec *audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *captureSubmitter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// flakyStore fails Update for a chosen subject.
type flakyStore struct {
	Store
	failSubject string
}

func (s *flakyStore) Update(ctx context.Context, c *Case) error {
	if c.SubjectID == s.failSubject {
		return errors.New("update rejected")
	}
	return s.Store.Update(ctx, c)
}

func testThresholds() Thresholds {
	return Thresholds{WarnWithin: 10 * time.Second, CriticalWithin: 5 * time.Second}
}

func TestReconcilerCycleEscalatesDueCases(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	// One breached, one inside the warn window, one comfortable.
	mustPut(t, store, &Case{SubjectID: "breached", Deadline: now.Add(-1 * time.Minute)})
	mustPut(t, store, &Case{SubjectID: "warned", Deadline: now.Add(8 * time.Second)})
	mustPut(t, store, &Case{SubjectID: "calm", Deadline: now.Add(1 * time.Hour)})

	submit := &captureSubmitter{}
	r := NewReconciler(store, submit, nil, nil, ReconcilerConfig{Thresholds: testThresholds()})

	if err := r.cycle(ctx); err != nil {
		t.Fatalf("cycle() error = %v", err)
	}

	cases, _ := store.ActiveCases(ctx)
	levels := map[string]Level{}
	for _, c := range cases {
		levels[c.SubjectID] = c.Level
	}
	if levels["breached"] != LevelBreached {
		t.Errorf("breached case level = %v, want breached", levels["breached"])
	}
	if levels["warned"] != LevelWarning {
		t.Errorf("warned case level = %v, want warning", levels["warned"])
	}
	if levels["calm"] != LevelNone {
		t.Errorf("calm case level = %v, want none", levels["calm"])
	}

	// One audit record per escalation.
	if got := submit.count(); got != 2 {
		t.Errorf("escalation audit records = %d, want 2", got)
	}
	for _, rec := range submit.records {
		if rec.Action != audit.ActionEscalate {
			t.Errorf("audit record action = %s, want %s", rec.Action, audit.ActionEscalate)
		}
		if rec.Stage != audit.StageMaintenance {
			t.Errorf("audit record stage = %s, want %s", rec.Stage, audit.StageMaintenance)
		}
	}
}

func TestReconcilerCycleIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	mustPut(t, store, &Case{SubjectID: "breached", Deadline: now.Add(-1 * time.Minute)})

	submit := &captureSubmitter{}
	r := NewReconciler(store, submit, nil, nil, ReconcilerConfig{Thresholds: testThresholds()})

	if err := r.cycle(ctx); err != nil {
		t.Fatalf("first cycle() error = %v", err)
	}
	cases, _ := store.ActiveCases(ctx)
	firstStamp := cases[0].EscalatedAt
	if firstStamp == nil {
		t.Fatal("EscalatedAt not set after first escalation")
	}

	// A second pass sees the case already breached: no new escalation, no new
	// audit record, timestamp untouched.
	if err := r.cycle(ctx); err != nil {
		t.Fatalf("second cycle() error = %v", err)
	}
	cases, _ = store.ActiveCases(ctx)
	if !cases[0].EscalatedAt.Equal(*firstStamp) {
		t.Errorf("EscalatedAt changed on a no-op cycle: %v != %v", cases[0].EscalatedAt, firstStamp)
	}
	if got := submit.count(); got != 1 {
		t.Errorf("escalation audit records after two cycles = %d, want 1", got)
	}
}

func TestReconcilerCaseFailureIsIsolated(t *testing.T) {
	mem := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	mustPut(t, mem, &Case{SubjectID: "poison", Deadline: now.Add(-1 * time.Minute)})
	mustPut(t, mem, &Case{SubjectID: "healthy", Deadline: now.Add(-1 * time.Minute)})

	store := &flakyStore{Store: mem, failSubject: "poison"}
	r := NewReconciler(store, nil, nil, nil, ReconcilerConfig{Thresholds: testThresholds()})

	// The cycle must succeed even though one case fails to persist.
	if err := r.cycle(ctx); err != nil {
		t.Fatalf("cycle() error = %v, want nil (per-case failures are isolated)", err)
	}

	cases, _ := mem.ActiveCases(ctx)
	levels := map[string]Level{}
	for _, c := range cases {
		levels[c.SubjectID] = c.Level
	}
	if levels["healthy"] != LevelBreached {
		t.Errorf("healthy case level = %v, want breached", levels["healthy"])
	}
	if levels["poison"] != LevelNone {
		t.Errorf("poison case level = %v, want none (update failed)", levels["poison"])
	}
}

func TestReconcilerSubmitFailureDoesNotFailUpdate(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	mustPut(t, store, &Case{SubjectID: "breached", Deadline: now.Add(-1 * time.Minute)})

	submit := &captureSubmitter{err: errors.New("queue closed")}
	r := NewReconciler(store, submit, nil, nil, ReconcilerConfig{Thresholds: testThresholds()})

	if err := r.cycle(ctx); err != nil {
		t.Fatalf("cycle() error = %v", err)
	}

	// The level update persisted despite the audit submission failing.
	cases, _ := store.ActiveCases(ctx)
	if cases[0].Level != LevelBreached {
		t.Errorf("case level = %v, want breached", cases[0].Level)
	}
}

func TestReconcilerBatchesLargerThanWorkingSet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 7; i++ {
		mustPut(t, store, &Case{
			SubjectID: "doc-" + string(rune('a'+i)),
			Deadline:  now.Add(-1 * time.Minute),
		})
	}

	r := NewReconciler(store, nil, nil, nil, ReconcilerConfig{
		BatchSize:  3,
		Thresholds: testThresholds(),
	})
	if err := r.cycle(ctx); err != nil {
		t.Fatalf("cycle() error = %v", err)
	}

	cases, _ := store.ActiveCases(ctx)
	for _, c := range cases {
		if c.Level != LevelBreached {
			t.Errorf("case %s level = %v, want breached", c.SubjectID, c.Level)
		}
	}
}

func TestReconcilerStartStop(t *testing.T) {
	store := NewMemoryStore()
	r := NewReconciler(store, nil, nil, nil, ReconcilerConfig{
		Interval:   10 * time.Millisecond,
		Thresholds: testThresholds(),
	})

	ctx := context.Background()
	r.Start(ctx)
	time.Sleep(30 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		r.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return")
	}
}

func mustPut(t *testing.T, store Store, c *Case) {
	t.Helper()
	c.CreatedAt = time.Now().UTC()
	if err := store.Put(context.Background(), c); err != nil {
		t.Fatalf("Put(%s) error = %v", c.SubjectID, err)
	}
}
