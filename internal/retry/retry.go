// Package retry re-invokes operations that failed transiently, up to a
// bounded budget.
package retry

import (
	"context"
	"time"

	"taskpilot-client/internal/apierr"
	"taskpilot-client/internal/telemetry"
)

// Policy controls one Do call. Classify decides which errors are worth
// another attempt; nil means apierr.Retryable. Callers pick the policy per
// call type: reads retry by default, destructive writes can pass
// MaxRetries 0 or attach an idempotency key upstream.
type Policy struct {
	MaxRetries int
	Delay      time.Duration
	Classify   func(error) bool
}

// None disables retries entirely.
func None() Policy { return Policy{} }

// Do invokes fn and retries transient failures with a fixed delay between
// attempts. Terminal failures and budget exhaustion propagate immediately; a
// cancelled context aborts the delay.
//
// Caveat: a timeout that fires after the server already applied a write is
// locally indistinguishable from a lost request, so retrying can duplicate
// non-idempotent effects. At-most-once is not guaranteed; creates in this
// codebase mitigate with an Idempotency-Key header.
func Do(ctx context.Context, p Policy, fn func(context.Context) error) error {
	classify := p.Classify
	if classify == nil {
		classify = apierr.Retryable
	}

	var err error
	for attempt := 0; ; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if attempt >= p.MaxRetries || !classify(err) {
			return err
		}
		telemetry.RetryAttempts.Inc()
		if p.Delay > 0 {
			timer := time.NewTimer(p.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return apierr.FromTransport("retry.wait", ctx.Err())
			case <-timer.C:
			}
		} else if ctx.Err() != nil {
			return apierr.FromTransport("retry.wait", ctx.Err())
		}
	}
}
