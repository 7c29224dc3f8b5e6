package webhook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryScheduler_Backoff(t *testing.T) {
	s := NewRetryScheduler()

	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, time.Minute},
		{1, time.Minute},
		{2, 5 * time.Minute},
		{3, 15 * time.Minute},
		{4, time.Hour},
		{5, 2 * time.Hour},
		{6, 2 * time.Hour},
		{42, 2 * time.Hour},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, s.Backoff(tt.attempts), "attempts=%d", tt.attempts)
	}
}

func TestRetryScheduler_HandleFailure(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		attempts    int
		wantStatus  DeliveryStatus
		wantRetryIn time.Duration
	}{
		{"first attempt failed", 1, DeliveryRetrying, time.Minute},
		{"second attempt failed", 2, DeliveryRetrying, 5 * time.Minute},
		{"third attempt failed", 3, DeliveryRetrying, 15 * time.Minute},
		{"fourth attempt failed", 4, DeliveryRetrying, time.Hour},
		{"fifth attempt failed", 5, DeliveryFailed, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewRetryScheduler()
			w := &Webhook{Status: StatusActive}
			d := &Delivery{Status: DeliveryRetrying, Attempts: tt.attempts}

			decision := s.HandleFailure(w, d, now)

			assert.Equal(t, tt.wantStatus, d.Status)
			assert.Equal(t, int64(1), w.FailureCount)
			require.NotNil(t, w.LastFailureAt)
			assert.Equal(t, now, *w.LastFailureAt)

			if tt.wantStatus == DeliveryFailed {
				assert.False(t, decision.Retry)
				assert.Nil(t, d.NextRetryAt)
				return
			}
			assert.True(t, decision.Retry)
			require.NotNil(t, d.NextRetryAt)
			assert.Equal(t, now.Add(tt.wantRetryIn), *d.NextRetryAt)
			assert.Equal(t, *d.NextRetryAt, decision.NextRetryAt)
		})
	}
}

func TestRetryScheduler_Suspension(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name          string
		status        Status
		failuresSoFar int64
		successes     int64
		wantSuspended bool
	}{
		{"tenth failure keeps active", StatusActive, 9, 0, false},
		{"eleventh failure suspends", StatusActive, 10, 0, true},
		{"any success prevents suspension", StatusActive, 50, 1, false},
		{"inactive webhook is not suspended", StatusInactive, 20, 0, false},
		{"already suspended stays suspended", StatusSuspended, 20, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewRetryScheduler()
			w := &Webhook{Status: tt.status, FailureCount: tt.failuresSoFar, SuccessCount: tt.successes}
			d := &Delivery{Attempts: 1}

			decision := s.HandleFailure(w, d, now)

			assert.Equal(t, tt.wantSuspended, decision.Suspend)
			if tt.wantSuspended {
				assert.Equal(t, StatusSuspended, w.Status)
			} else {
				assert.Equal(t, tt.status, w.Status)
			}
		})
	}
}

func TestRetryScheduler_ShouldSuspend(t *testing.T) {
	s := NewRetryScheduler()

	assert.False(t, s.ShouldSuspend(&Webhook{Status: StatusActive, FailureCount: 10}))
	assert.True(t, s.ShouldSuspend(&Webhook{Status: StatusActive, FailureCount: 11}))
	assert.False(t, s.ShouldSuspend(&Webhook{Status: StatusActive, FailureCount: 11, SuccessCount: 1}))
}
