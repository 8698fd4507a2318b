package metrics

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"
)

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
type Sink interface {
	// Scheduler metrics
	JobInstalled()
	JobCancelled()
	JobsActive(count int)
	FiringCompleted(outcome string, duration time.Duration)

	// Retention metrics
	RetentionSweepCompleted(deleted int64, duration time.Duration, err error)

	// Reconciler metrics
	ReconcileCompleted(restored, orphaned int)

	// Dispatcher metrics
	DeliveryAttemptCompleted(attempt int, statusClass string, duration time.Duration)
	DeliveryOutcome(outcome string)
	RetryAttempt(retryable bool)
	EventsInFlightIncr()
	EventsInFlightDecr()

	// EventBus metrics
	BufferSizeUpdate(size int)
	EmitError()
}

// Firing outcomes for FiringCompleted.
const (
	FiringOK              = "ok"
	FiringTriggerNotFound = "trigger_not_found"
	FiringError           = "error"
)

// Outcome constants for DeliveryOutcome metric.
const (
	OutcomeSuccess     = "success"
	OutcomeFailed      = "failed"
	OutcomeCircuitOpen = "circuit_open"
)

// StatusClass constants for DeliveryAttemptCompleted metric.
const (
	StatusClass2xx             = "2xx"
	StatusClass4xx             = "4xx"
	StatusClass5xx             = "5xx"
	StatusClassTimeout         = "timeout"
	StatusClassConnectionError = "connection_error"
	StatusClassOtherError      = "other_error"
)

// ClassifyStatus maps a delivery attempt's status code or error to a status class.
func ClassifyStatus(statusCode int, err error) string {
	if err != nil {
		return classifyError(err)
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		return StatusClass2xx
	case statusCode >= 400 && statusCode < 500:
		return StatusClass4xx
	case statusCode >= 500:
		return StatusClass5xx
	default:
		return StatusClassOtherError
	}
}

func classifyError(err error) string {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return StatusClassTimeout
	}

	var dnsErr *net.DNSError
	var opErr *net.OpError
	if errors.As(err, &dnsErr) || (errors.As(err, &opErr) && opErr.Op == "dial") {
		return StatusClassConnectionError
	}

	// Errors that lost their type on the way (wrapped with %v, or from a fake sender).
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return StatusClassTimeout
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "no such host"),
		strings.Contains(msg, "network is unreachable"):
		return StatusClassConnectionError
	}
	return StatusClassOtherError
}
