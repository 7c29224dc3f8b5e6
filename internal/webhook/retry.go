package webhook

import (
	"time"
)

const (
	// MaxRetryAttempts bounds the attempts of a single delivery, the first
	// synchronous one included.
	MaxRetryAttempts = 5

	// SuspensionThreshold is the failure count a webhook with no successes
	// must exceed before it is suspended.
	SuspensionThreshold = 10
)

// DefaultBackoff is the delay before the next attempt, indexed by the
// number of attempts already made minus one.
var DefaultBackoff = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	1 * time.Hour,
	2 * time.Hour,
}

// Decision is the outcome of RetryScheduler.HandleFailure.
type Decision struct {
	Retry       bool
	NextRetryAt time.Time
	Suspend     bool
}

// RetryScheduler is the backoff and suspension policy. It performs no I/O;
// callers persist whatever it mutates.
type RetryScheduler struct {
	backoff             []time.Duration
	maxAttempts         int
	suspensionThreshold int64
}

func NewRetryScheduler() *RetryScheduler {
	return &RetryScheduler{
		backoff:             DefaultBackoff,
		maxAttempts:         MaxRetryAttempts,
		suspensionThreshold: SuspensionThreshold,
	}
}

func (s *RetryScheduler) MaxAttempts() int {
	return s.maxAttempts
}

func (s *RetryScheduler) SuspensionThreshold() int64 {
	return s.suspensionThreshold
}

// Backoff returns the delay after the given (1-indexed) attempt. Attempts
// past the end of the schedule reuse its last entry.
func (s *RetryScheduler) Backoff(attempts int) time.Duration {
	i := attempts - 1
	if i < 0 {
		i = 0
	}
	if i >= len(s.backoff) {
		i = len(s.backoff) - 1
	}
	return s.backoff[i]
}

// HandleFailure records a failed attempt on w and d and decides whether d
// is retried or ends FAILED.
func (s *RetryScheduler) HandleFailure(w *Webhook, d *Delivery, now time.Time) Decision {
	w.FailureCount++
	w.LastFailureAt = ptr(now)

	var decision Decision
	if d.Attempts < s.maxAttempts {
		next := now.Add(s.Backoff(d.Attempts))
		d.Status = DeliveryRetrying
		d.NextRetryAt = ptr(next)
		decision.Retry = true
		decision.NextRetryAt = next
	} else {
		d.Status = DeliveryFailed
		d.NextRetryAt = nil
	}

	if s.ShouldSuspend(w) {
		w.Status = StatusSuspended
		decision.Suspend = true
	}

	return decision
}

// ShouldSuspend applies the suspension rule. Only ACTIVE webhooks are
// suspended automatically and nothing ever reverses it.
func (s *RetryScheduler) ShouldSuspend(w *Webhook) bool {
	return w.Status == StatusActive &&
		w.FailureCount > s.suspensionThreshold &&
		w.SuccessCount == 0
}
