package resilience

import "context"

// Policy combines retries with a breaker. Each retry passes through the
// breaker, so a service that keeps failing stops being called mid-retry.
type Policy struct {
	Backoff Backoff
	Breaker *Breaker
}

// Call runs fn under p. A nil Breaker disables circuit breaking.
func Call[T any](ctx context.Context, p Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	return RetryVal(ctx, p.Backoff, op, func(ctx context.Context) (T, error) {
		if p.Breaker == nil {
			return fn(ctx)
		}
		return Guard(ctx, p.Breaker, fn)
	})
}
