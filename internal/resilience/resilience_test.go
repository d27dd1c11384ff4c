package resilience

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastBackoff(attempts int) Backoff {
	return Backoff{Attempts: attempts, Initial: time.Millisecond, Max: 2 * time.Millisecond}
}

func TestRetry_SucceedsAfterTransient(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastBackoff(3), "start", func(_ context.Context) error {
		calls++
		if calls < 3 {
			return Transient(errors.New("503"), 503)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_StopsOnPermanent(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastBackoff(5), "start", func(_ context.Context) error {
		calls++
		return errors.New("profile does not exist")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_Exhausts(t *testing.T) {
	calls := 0
	_, err := RetryVal(context.Background(), fastBackoff(2), "stop", func(_ context.Context) (int, error) {
		calls++
		return 0, Transient(errors.New("502"), 502)
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, Backoff{Attempts: 5, Initial: time.Hour, Max: time.Hour}, "start", func(_ context.Context) error {
		calls++
		cancel()
		return Transient(errors.New("503"), 503)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestBackoff_DelayCapped(t *testing.T) {
	b := Backoff{Initial: time.Second, Max: 3 * time.Second}.normalize()
	assert.Equal(t, time.Second, b.delay(0))
	assert.Equal(t, 2*time.Second, b.delay(1))
	assert.Equal(t, 3*time.Second, b.delay(5))
}

func TestBackoffFrom(t *testing.T) {
	b := BackoffFrom(4, 100, 0)
	assert.Equal(t, 4, b.Attempts)
	assert.Equal(t, 100*time.Millisecond, b.Initial)
	assert.Equal(t, DefaultBackoff().Max, b.Max)
}

func TestBreaker_OpensAndRecovers(t *testing.T) {
	now := time.Unix(0, 0)
	b := NewBreaker("adspower", BreakerConfig{Threshold: 2, Cooldown: time.Minute})
	b.nowFunc = func() time.Time { return now }

	fail := func(_ context.Context) error { return errors.New("down") }
	_ = b.Do(context.Background(), fail)
	assert.Equal(t, BreakerClosed, b.State())
	_ = b.Do(context.Background(), fail)
	assert.Equal(t, BreakerOpen, b.State())

	called := false
	err := b.Do(context.Background(), func(_ context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	now = now.Add(time.Minute)
	assert.Equal(t, BreakerHalfOpen, b.State())
	require.NoError(t, b.Do(context.Background(), func(_ context.Context) error { return nil }))
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Unix(0, 0)
	b := NewBreaker("clickup", BreakerConfig{Threshold: 1, Cooldown: time.Second})
	b.nowFunc = func() time.Time { return now }

	_ = b.Do(context.Background(), func(_ context.Context) error { return errors.New("x") })
	now = now.Add(time.Second)
	_ = b.Do(context.Background(), func(_ context.Context) error { return errors.New("x") })
	assert.Equal(t, BreakerOpen, b.State())
}

func TestBreakers_Registry(t *testing.T) {
	r := NewBreakers(DefaultBreakerConfig())
	a := r.Get("adspower")
	assert.Same(t, a, r.Get("adspower"))
	assert.NotSame(t, a, r.Get("clickup"))
	assert.Equal(t, map[string]string{"adspower": "closed", "clickup": "closed"}, r.States())
}

func TestCall_BreakerStopsRetries(t *testing.T) {
	p := Policy{
		Backoff: fastBackoff(5),
		Breaker: NewBreaker("adspower", BreakerConfig{Threshold: 2, Cooldown: time.Hour}),
	}
	calls := 0
	_, err := Call(context.Background(), p, "start", func(_ context.Context) (string, error) {
		calls++
		return "", Transient(errors.New("503"), 503)
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 2, calls)
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"marked", Transient(errors.New("x"), 500), true},
		{"wrapped marked", fmt.Errorf("start: %w", Transient(errors.New("x"), 0)), true},
		{"refused", syscall.ECONNREFUSED, true},
		{"reset text", errors.New("read: connection reset by peer"), true},
		{"permanent", errors.New("profile not found"), false},
		{"circuit open", ErrCircuitOpen, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestTransientStatus(t *testing.T) {
	assert.True(t, TransientStatus(429))
	assert.True(t, TransientStatus(503))
	assert.False(t, TransientStatus(400))
	assert.False(t, TransientStatus(404))
}
