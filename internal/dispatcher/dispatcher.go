// Package dispatcher delivers fired api-trigger events to their endpoints.
//
// Delivery is a side effect of a firing: the event log is already committed
// when an event reaches the dispatcher, and nothing here changes it.
package dispatcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/djlord-it/eventtrigger/internal/circuitbreaker"
	"github.com/djlord-it/eventtrigger/internal/domain"
	"github.com/djlord-it/eventtrigger/internal/metrics"
)

var defaultBackoff = []time.Duration{
	0,
	30 * time.Second,
	2 * time.Minute,
	10 * time.Minute,
}

const maxAttempts = 4

// DefaultDrainTimeout bounds delivery of buffered events during shutdown.
const DefaultDrainTimeout = 30 * time.Second

var ErrDeliveryFailed = errors.New("delivery failed")

type WebhookSender interface {
	Send(ctx context.Context, req WebhookRequest) WebhookResult
}

// Breaker gates delivery per endpoint.
type Breaker interface {
	Allow(endpoint string) error
	RecordSuccess(endpoint string)
	RecordFailure(endpoint string)
}

// MetricsSink defines the interface for recording dispatcher metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	DeliveryAttemptCompleted(attempt int, statusClass string, duration time.Duration)
	DeliveryOutcome(outcome string)
	RetryAttempt(retryable bool)
	EventsInFlightIncr()
	EventsInFlightDecr()
}

type WebhookRequest struct {
	URL        string
	Secret     string
	Timeout    time.Duration
	Payload    WebhookPayload
	DeliveryID string
}

type WebhookPayload struct {
	TriggerID   string         `json:"trigger_id"`
	EventLogID  string         `json:"event_log_id"`
	TriggeredAt string         `json:"triggered_at"`
	IsTest      bool           `json:"is_test"`
	Payload     domain.Payload `json:"payload"`
}

type WebhookResult struct {
	StatusCode int
	Error      error
	Duration   time.Duration
}

func (r WebhookResult) IsSuccess() bool {
	return r.Error == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

func (r WebhookResult) IsRetryable() bool {
	if r.Error != nil {
		return true
	}
	if r.StatusCode == 429 {
		return true
	}
	return r.StatusCode >= 500
}

type Config struct {
	Secret         string        // HMAC key; empty disables signing
	RequestTimeout time.Duration // per attempt
	Workers        int
	DrainTimeout   time.Duration
}

type Dispatcher struct {
	config  Config
	sender  WebhookSender
	log     zerolog.Logger
	breaker Breaker     // optional, nil = disabled
	metrics MetricsSink // optional, nil = disabled
	backoff []time.Duration
}

func New(config Config, sender WebhookSender, log zerolog.Logger) *Dispatcher {
	if config.Workers < 1 {
		config.Workers = 1
	}
	if config.DrainTimeout <= 0 {
		config.DrainTimeout = DefaultDrainTimeout
	}
	return &Dispatcher{
		config:  config,
		sender:  sender,
		log:     log.With().Str("component", "dispatcher").Logger(),
		backoff: defaultBackoff,
	}
}

func (d *Dispatcher) WithBreaker(b Breaker) *Dispatcher {
	d.breaker = b
	return d
}

// WithMetrics attaches a metrics sink to the dispatcher.
func (d *Dispatcher) WithMetrics(sink MetricsSink) *Dispatcher {
	d.metrics = sink
	return d
}

// Run delivers events from ch with the configured number of workers until
// ctx is cancelled, then drains what is still buffered.
func (d *Dispatcher) Run(ctx context.Context, ch <-chan domain.FiredEvent) {
	d.log.Info().Int("workers", d.config.Workers).Msg("started")

	var wg sync.WaitGroup
	for i := 0; i < d.config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.work(ctx, ch)
		}()
	}
	wg.Wait()

	d.drain(ch)
	d.log.Info().Msg("stopped")
}

func (d *Dispatcher) work(ctx context.Context, ch <-chan domain.FiredEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if err := d.Dispatch(ctx, event); err != nil {
				d.log.Warn().Err(err).Str("event_log_id", event.Log.ID.String()).Msg("delivery not completed")
			}
		}
	}
}

// drain delivers events still buffered after shutdown. It uses a fresh
// context since the run context is already cancelled.
func (d *Dispatcher) drain(ch <-chan domain.FiredEvent) {
	drainCtx, cancel := context.WithTimeout(context.Background(), d.config.DrainTimeout)
	defer cancel()

	count := 0
	for {
		select {
		case <-drainCtx.Done():
			d.log.Warn().Int("processed", count).Msg("drain timeout")
			return
		case event, ok := <-ch:
			if !ok {
				d.log.Info().Int("processed", count).Msg("drain complete")
				return
			}
			if err := d.Dispatch(drainCtx, event); err != nil {
				d.log.Warn().Err(err).Str("event_log_id", event.Log.ID.String()).Msg("drain delivery not completed")
			}
			count++
		default:
			if count > 0 {
				d.log.Info().Int("processed", count).Msg("drain complete")
			}
			return
		}
	}
}

// Dispatch delivers one event, retrying transport errors, 429 and 5xx
// responses on the backoff schedule.
func (d *Dispatcher) Dispatch(ctx context.Context, event domain.FiredEvent) error {
	if d.metrics != nil {
		d.metrics.EventsInFlightIncr()
		defer d.metrics.EventsInFlightDecr()
	}

	endpoint := event.APIEndpoint
	logger := d.log.With().
		Str("trigger_id", event.Log.TriggerID.String()).
		Str("event_log_id", event.Log.ID.String()).
		Str("endpoint", endpoint).
		Logger()

	req := WebhookRequest{
		URL:        endpoint,
		Secret:     d.config.Secret,
		Timeout:    d.config.RequestTimeout,
		DeliveryID: uuid.NewString(),
		Payload: WebhookPayload{
			TriggerID:   event.Log.TriggerID.String(),
			EventLogID:  event.Log.ID.String(),
			TriggeredAt: event.Log.TriggeredAt.UTC().Format(time.RFC3339Nano),
			IsTest:      event.Log.IsTest,
			Payload:     event.Log.Payload,
		},
	}

	var lastResult WebhookResult

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if d.metrics != nil {
				d.metrics.RetryAttempt(lastResult.IsRetryable())
			}
			backoff := d.backoffFor(attempt)
			logger.Debug().Int("attempt", attempt).Dur("backoff", backoff).Msg("retrying")
			if err := sleep(ctx, backoff); err != nil {
				return err
			}
		}

		if d.breaker != nil {
			if err := d.breaker.Allow(endpoint); err != nil {
				logger.Warn().Int("attempt", attempt).Msg("circuit open, delivery skipped")
				d.outcome(metrics.OutcomeCircuitOpen)
				return err
			}
		}

		result := d.sender.Send(ctx, req)
		lastResult = result

		if d.metrics != nil {
			d.metrics.DeliveryAttemptCompleted(attempt, metrics.ClassifyStatus(result.StatusCode, result.Error), result.Duration)
		}

		if result.IsSuccess() {
			if d.breaker != nil {
				d.breaker.RecordSuccess(endpoint)
			}
			logger.Info().Int("attempt", attempt).Int("status", result.StatusCode).Msg("delivered")
			d.outcome(metrics.OutcomeSuccess)
			return nil
		}

		if d.breaker != nil && result.IsRetryable() {
			d.breaker.RecordFailure(endpoint)
		}

		if !result.IsRetryable() {
			logger.Warn().Int("attempt", attempt).Int("status", result.StatusCode).Msg("non-retryable status")
			break
		}

		logger.Warn().Err(result.Error).Int("attempt", attempt).Int("status", result.StatusCode).Msg("attempt failed")
	}

	logger.Error().Err(lastResult.Error).Int("status", lastResult.StatusCode).Msg("delivery failed")
	d.outcome(metrics.OutcomeFailed)
	return ErrDeliveryFailed
}

func (d *Dispatcher) backoffFor(attempt int) time.Duration {
	idx := attempt - 1
	if idx >= len(d.backoff) {
		idx = len(d.backoff) - 1
	}
	return d.backoff[idx]
}

func (d *Dispatcher) outcome(outcome string) {
	if d.metrics != nil {
		d.metrics.DeliveryOutcome(outcome)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ Breaker = (*circuitbreaker.CircuitBreaker)(nil)
