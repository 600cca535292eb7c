package hostpool

import (
	"context"

	"golang.org/x/time/rate"
)

// reconnectAttemptCeiling is an absolute cap on reconnect attempts per
// second, independent of the configured backoff delay. It exists purely
// as a guard: a misconfigured initial_reconnect_delay of 0 (or a
// pathologically small one) must not be able to spin a reconnect loop
// hot against a dead host.
const reconnectAttemptCeiling = 50

// reconnectLimiter throttles how often Pool.Wait will release a caller,
// adapted from the teacher's middleware.RateLimitMiddleware: a
// golang.org/x/time/rate token bucket created once and shared across
// every call, rather than per-call (the same "create it in the outer
// closure" discipline the teacher's comment calls out). Here it guards
// reconnect attempts instead of RPC requests.
type reconnectLimiter struct {
	limiter *rate.Limiter
}

func newReconnectLimiter() *reconnectLimiter {
	return &reconnectLimiter{limiter: rate.NewLimiter(rate.Limit(reconnectAttemptCeiling), 1)}
}

func (l *reconnectLimiter) wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}
