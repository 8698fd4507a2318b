package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/djlord-it/eventtrigger/internal/circuitbreaker"
	"github.com/djlord-it/eventtrigger/internal/domain"
	"github.com/djlord-it/eventtrigger/internal/metrics"
)

// mockSender returns scripted results in order, repeating the last one.
type mockSender struct {
	mu       sync.Mutex
	results  []WebhookResult
	requests []WebhookRequest
}

func (s *mockSender) Send(ctx context.Context, req WebhookRequest) WebhookResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	i := len(s.requests) - 1
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	return s.results[i]
}

func (s *mockSender) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

type mockMetrics struct {
	mu       sync.Mutex
	attempts []string
	outcomes []string
	retries  int
	inFlight int
}

func (m *mockMetrics) DeliveryAttemptCompleted(attempt int, statusClass string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, statusClass)
}

func (m *mockMetrics) DeliveryOutcome(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}

func (m *mockMetrics) RetryAttempt(retryable bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retries++
}

func (m *mockMetrics) EventsInFlightIncr() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight++
}

func (m *mockMetrics) EventsInFlightDecr() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight--
}

func newTestDispatcher(sender WebhookSender) *Dispatcher {
	d := New(Config{}, sender, zerolog.Nop())
	d.backoff = []time.Duration{0, 0, 0, 0}
	return d
}

func testEvent() domain.FiredEvent {
	return domain.FiredEvent{
		Log: domain.EventLog{
			ID:          uuid.New(),
			TriggerID:   uuid.New(),
			TriggeredAt: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
			Payload:     domain.Payload{"k": "v"},
			State:       domain.EventLogStateActive,
		},
		Kind:        domain.TriggerKindAPI,
		APIEndpoint: "http://example.com/hook",
	}
}

func TestDispatcher_SuccessOnFirstAttempt(t *testing.T) {
	sender := &mockSender{results: []WebhookResult{{StatusCode: 200}}}
	m := &mockMetrics{}
	d := newTestDispatcher(sender).WithMetrics(m)
	event := testEvent()

	if err := d.Dispatch(context.Background(), event); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	if sender.calls() != 1 {
		t.Errorf("expected 1 attempt, got %d", sender.calls())
	}
	req := sender.requests[0]
	if req.URL != event.APIEndpoint {
		t.Errorf("URL = %q, want %q", req.URL, event.APIEndpoint)
	}
	if req.Payload.EventLogID != event.Log.ID.String() || req.Payload.TriggerID != event.Log.TriggerID.String() {
		t.Errorf("unexpected payload: %+v", req.Payload)
	}
	if req.Payload.TriggeredAt != "2024-01-15T10:00:00Z" {
		t.Errorf("TriggeredAt = %q", req.Payload.TriggeredAt)
	}
	if len(m.outcomes) != 1 || m.outcomes[0] != metrics.OutcomeSuccess {
		t.Errorf("outcomes = %v", m.outcomes)
	}
	if m.inFlight != 0 {
		t.Errorf("in-flight gauge not balanced: %d", m.inFlight)
	}
}

func TestDispatcher_RetryBounded(t *testing.T) {
	sender := &mockSender{results: []WebhookResult{{StatusCode: 503}}}
	m := &mockMetrics{}
	d := newTestDispatcher(sender).WithMetrics(m)

	err := d.Dispatch(context.Background(), testEvent())
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("expected ErrDeliveryFailed, got %v", err)
	}
	if sender.calls() != maxAttempts {
		t.Errorf("expected %d attempts, got %d", maxAttempts, sender.calls())
	}
	if m.retries != maxAttempts-1 {
		t.Errorf("expected %d retries, got %d", maxAttempts-1, m.retries)
	}
	if len(m.outcomes) != 1 || m.outcomes[0] != metrics.OutcomeFailed {
		t.Errorf("outcomes = %v", m.outcomes)
	}
}

func TestDispatcher_SucceedsAfterRetries(t *testing.T) {
	sender := &mockSender{results: []WebhookResult{
		{Error: errors.New("connection refused")},
		{StatusCode: 429},
		{StatusCode: 201},
	}}
	d := newTestDispatcher(sender)

	if err := d.Dispatch(context.Background(), testEvent()); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	if sender.calls() != 3 {
		t.Errorf("expected 3 attempts, got %d", sender.calls())
	}
	// The same delivery id is reused across retries.
	if sender.requests[0].DeliveryID != sender.requests[2].DeliveryID {
		t.Error("delivery id changed between attempts")
	}
}

func TestDispatcher_NonRetryableStopsImmediately(t *testing.T) {
	sender := &mockSender{results: []WebhookResult{{StatusCode: 400}}}
	d := newTestDispatcher(sender)

	if err := d.Dispatch(context.Background(), testEvent()); !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("expected ErrDeliveryFailed, got %v", err)
	}
	if sender.calls() != 1 {
		t.Errorf("expected 1 attempt, got %d", sender.calls())
	}
}

func TestDispatcher_CircuitOpenSkipsDelivery(t *testing.T) {
	sender := &mockSender{results: []WebhookResult{{StatusCode: 500}}}
	m := &mockMetrics{}
	breaker := circuitbreaker.New(2, time.Hour)
	d := newTestDispatcher(sender).WithBreaker(breaker).WithMetrics(m)

	err := d.Dispatch(context.Background(), testEvent())
	if !errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if sender.calls() != 2 {
		t.Errorf("expected breaker to open after 2 failures, got %d attempts", sender.calls())
	}

	if err := d.Dispatch(context.Background(), testEvent()); !errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen for next event, got %v", err)
	}
	if sender.calls() != 2 {
		t.Errorf("open circuit must not send, got %d attempts", sender.calls())
	}
	if last := m.outcomes[len(m.outcomes)-1]; last != metrics.OutcomeCircuitOpen {
		t.Errorf("last outcome = %q, want circuit_open", last)
	}
}

func TestDispatcher_ClientErrorDoesNotTripBreaker(t *testing.T) {
	sender := &mockSender{results: []WebhookResult{{StatusCode: 404}}}
	breaker := circuitbreaker.New(1, time.Hour)
	d := newTestDispatcher(sender).WithBreaker(breaker)

	_ = d.Dispatch(context.Background(), testEvent())
	if s := breaker.State(testEvent().APIEndpoint); s != circuitbreaker.StateClosed {
		t.Errorf("breaker state = %s, want closed", s)
	}
}

func TestDispatcher_ContextCancelledDuringBackoff(t *testing.T) {
	sender := &mockSender{results: []WebhookResult{{StatusCode: 500}}}
	d := New(Config{}, sender, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := d.Dispatch(ctx, testEvent()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
	if sender.calls() != 1 {
		t.Errorf("expected 1 attempt before backoff, got %d", sender.calls())
	}
}

func TestDispatcher_RunDeliversAndDrains(t *testing.T) {
	sender := &mockSender{results: []WebhookResult{{StatusCode: 200}}}
	d := New(Config{Workers: 2}, sender, zerolog.Nop())

	ch := make(chan domain.FiredEvent, 10)
	for i := 0; i < 5; i++ {
		ch <- testEvent()
	}
	close(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		d.Run(ctx, ch)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after channel closed")
	}
	if sender.calls() != 5 {
		t.Errorf("expected 5 deliveries, got %d", sender.calls())
	}
}

func TestDispatcher_DrainAfterCancel(t *testing.T) {
	sender := &mockSender{results: []WebhookResult{{StatusCode: 200}}}
	d := New(Config{}, sender, zerolog.Nop())

	ch := make(chan domain.FiredEvent, 10)
	for i := 0; i < 3; i++ {
		ch <- testEvent()
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Run(ctx, ch)

	if sender.calls() != 3 {
		t.Errorf("expected buffered events drained, got %d deliveries", sender.calls())
	}
}

func TestWebhookResult_Classification(t *testing.T) {
	tests := []struct {
		result    WebhookResult
		success   bool
		retryable bool
	}{
		{WebhookResult{StatusCode: 200}, true, false},
		{WebhookResult{StatusCode: 204}, true, false},
		{WebhookResult{StatusCode: 301}, false, false},
		{WebhookResult{StatusCode: 400}, false, false},
		{WebhookResult{StatusCode: 429}, false, true},
		{WebhookResult{StatusCode: 500}, false, true},
		{WebhookResult{Error: errors.New("dial tcp")}, false, true},
	}

	for _, tt := range tests {
		if got := tt.result.IsSuccess(); got != tt.success {
			t.Errorf("%+v IsSuccess = %v, want %v", tt.result, got, tt.success)
		}
		if got := tt.result.IsRetryable(); got != tt.retryable {
			t.Errorf("%+v IsRetryable = %v, want %v", tt.result, got, tt.retryable)
		}
	}
}

func TestDefaultBackoffSchedule(t *testing.T) {
	want := []time.Duration{0, 30 * time.Second, 2 * time.Minute, 10 * time.Minute}
	if len(defaultBackoff) != len(want) {
		t.Fatalf("backoff length = %d, want %d", len(defaultBackoff), len(want))
	}
	for i := range want {
		if defaultBackoff[i] != want[i] {
			t.Errorf("backoff[%d] = %s, want %s", i, defaultBackoff[i], want[i])
		}
	}
}
