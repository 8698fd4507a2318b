package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) JobInstalled()                                                             {}
func (n *NoopSink) JobCancelled()                                                             {}
func (n *NoopSink) JobsActive(count int)                                                      {}
func (n *NoopSink) FiringCompleted(outcome string, duration time.Duration)                    {}
func (n *NoopSink) RetentionSweepCompleted(deleted int64, d time.Duration, err error)         {}
func (n *NoopSink) ReconcileCompleted(restored, orphaned int)                                 {}
func (n *NoopSink) DeliveryAttemptCompleted(attempt int, statusClass string, d time.Duration) {}
func (n *NoopSink) DeliveryOutcome(outcome string)                                            {}
func (n *NoopSink) RetryAttempt(retryable bool)                                               {}
func (n *NoopSink) EventsInFlightIncr()                                                       {}
func (n *NoopSink) EventsInFlightDecr()                                                       {}
func (n *NoopSink) BufferSizeUpdate(size int)                                                 {}
func (n *NoopSink) EmitError()                                                                {}
