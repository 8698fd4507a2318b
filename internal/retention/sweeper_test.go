package retention

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/djlord-it/eventtrigger/internal/scheduler"
	"github.com/djlord-it/eventtrigger/internal/testutil"
)

// mockStore holds triggered_at values and deletes them by cutoff.
type mockStore struct {
	mu     sync.Mutex
	times  []time.Time
	sweeps int
	err    error
}

func (s *mockStore) DeleteEventLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweeps++
	if s.err != nil {
		return 0, s.err
	}
	kept := s.times[:0]
	var deleted int64
	for _, t := range s.times {
		if t.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, t)
	}
	s.times = kept
	return deleted, nil
}

func (s *mockStore) sweepCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweeps
}

type mockMetrics struct {
	deleted int64
	err     error
	calls   int
}

func (m *mockMetrics) RetentionSweepCompleted(deleted int64, d time.Duration, err error) {
	m.calls++
	m.deleted += deleted
	m.err = err
}

var now = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

func TestSweep_HorizonBoundary(t *testing.T) {
	store := &mockStore{times: []time.Time{
		now.Add(-47 * time.Hour),
		now.Add(-48 * time.Hour),
		now.Add(-49 * time.Hour),
	}}
	sink := &mockMetrics{}
	s := New(store, testutil.NewFakeClock(now), DefaultConfig(), zerolog.Nop()).WithMetrics(sink)

	deleted, err := s.Sweep(testutil.TestContext(t))
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	if deleted != 1 {
		t.Errorf("expected 1 deleted, got %d", deleted)
	}
	if len(store.times) != 2 {
		t.Fatalf("expected 2 remaining logs, got %d", len(store.times))
	}
	for _, ts := range store.times {
		if ts.Equal(now.Add(-49 * time.Hour)) {
			t.Error("49h-old log survived")
		}
	}
	if sink.calls != 1 || sink.deleted != 1 {
		t.Errorf("metrics: calls=%d deleted=%d", sink.calls, sink.deleted)
	}
}

func TestSweep_Empty(t *testing.T) {
	s := New(&mockStore{}, testutil.NewFakeClock(now), Config{}, zerolog.Nop())
	deleted, err := s.Sweep(testutil.TestContext(t))
	if err != nil || deleted != 0 {
		t.Errorf("Sweep = %d, %v; want 0, nil", deleted, err)
	}
}

func TestSweep_StoreError(t *testing.T) {
	store := &mockStore{err: errors.New("locked")}
	sink := &mockMetrics{}
	s := New(store, testutil.NewFakeClock(now), DefaultConfig(), zerolog.Nop()).WithMetrics(sink)

	if _, err := s.Sweep(testutil.TestContext(t)); !errors.Is(err, store.err) {
		t.Fatalf("expected store error, got %v", err)
	}
	if sink.err == nil {
		t.Error("expected error recorded in metrics")
	}
}

func TestNew_Defaults(t *testing.T) {
	s := New(&mockStore{}, testutil.NewFakeClock(now), Config{}, zerolog.Nop())
	if s.config.Interval != time.Hour || s.config.Horizon != 48*time.Hour {
		t.Errorf("unexpected defaults: %+v", s.config)
	}
}

func TestInstall_RunsEveryInterval(t *testing.T) {
	clk := testutil.NewFakeClock(now)
	sched := scheduler.New(scheduler.Config{}, scheduler.NewCompiler(time.UTC), nil, clk, zerolog.Nop())
	store := &mockStore{times: []time.Time{now.Add(-47 * time.Hour)}}

	s := New(store, clk, DefaultConfig(), zerolog.Nop())
	if err := s.Install(sched); err != nil {
		t.Fatalf("Install failed: %v", err)
	}

	clk.Advance(59 * time.Minute)
	sched.Wait()
	if store.sweepCount() != 0 {
		t.Fatalf("expected no sweep before an hour, got %d", store.sweepCount())
	}

	clk.Advance(2 * time.Minute)
	sched.Wait()
	if store.sweepCount() != 1 {
		t.Fatalf("expected 1 sweep after an hour, got %d", store.sweepCount())
	}

	// After another hour the 47h-old log is past the horizon.
	clk.Advance(time.Hour)
	sched.Wait()
	if store.sweepCount() != 2 {
		t.Fatalf("expected 2 sweeps, got %d", store.sweepCount())
	}
	store.mu.Lock()
	remaining := len(store.times)
	store.mu.Unlock()
	if remaining != 0 {
		t.Errorf("expected aged log removed, %d remain", remaining)
	}

	if err := sched.Shutdown(testutil.TestContext(t)); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}
