package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/humanitarian-data-etl/internal/domain"
)

func TestNextBackoff(t *testing.T) {
	d := baseBackoff
	var got []time.Duration
	for range 7 {
		got = append(got, d)
		d = nextBackoff(d, maxBackoff)
	}
	assert.Equal(t, []time.Duration{
		200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond,
		1600 * time.Millisecond, 3200 * time.Millisecond, 5 * time.Second, 5 * time.Second,
	}, got)
}

func TestRetryWait(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want time.Duration
	}{
		{"no retry-after", &domain.RetrievalError{Kind: domain.RetrievalRateLimited}, time.Second},
		{"shorter retry-after", &domain.RetrievalError{Kind: domain.RetrievalRateLimited, RetryAfter: time.Millisecond}, time.Second},
		{"longer retry-after", &domain.RetrievalError{Kind: domain.RetrievalRateLimited, RetryAfter: 10 * time.Second}, 10 * time.Second},
		{"capped", &domain.RetrievalError{Kind: domain.RetrievalRateLimited, RetryAfter: time.Hour}, maxRetryAfter},
		{"other error", errors.New("boom"), time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, retryWait(tt.err, time.Second))
		})
	}
}

func TestSleep_UsesOrchestratorClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	o := New(Config{Clock: clock})
	assert.True(t, o.sleep(context.Background(), 0))

	done := make(chan bool, 1)
	go func() { done <- o.sleep(context.Background(), time.Hour) }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Hour)
	assert.True(t, <-done)
}

func TestSleep_ContextCancelled(t *testing.T) {
	o := New(Config{Clock: clockwork.NewFakeClock()})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, o.sleep(ctx, time.Hour))
}
