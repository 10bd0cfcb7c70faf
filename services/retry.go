package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"stockhero/observability"
)

// RetryPolicy is the single retry configuration shared by every upstream call-site.
// Attempt n (n >= 2) waits BaseDelay * 2^(n-2) before running, capped at MaxDelay when set.
type RetryPolicy struct {
	Name        string
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration    // zero means uncapped
	Retryable   func(error) bool // defaults to IsTransient
}

// DailyPolicy governs the per-stock daily price fetch
func DailyPolicy(base time.Duration) RetryPolicy {
	return RetryPolicy{Name: "daily", MaxAttempts: 3, BaseDelay: base}
}

// HistoryPolicy governs monthly history backfills
func HistoryPolicy(base time.Duration) RetryPolicy {
	return RetryPolicy{Name: "history", MaxAttempts: 20, BaseDelay: base}
}

// RatioPolicy governs the whole-market ratio batch
func RatioPolicy(base time.Duration) RetryPolicy {
	return RetryPolicy{Name: "ratio", MaxAttempts: 8, BaseDelay: base, MaxDelay: 60 * time.Second}
}

// InstitutionalPolicy governs per-industry institutional flow batches
func InstitutionalPolicy(base time.Duration) RetryPolicy {
	return RetryPolicy{Name: "institutional", MaxAttempts: 20, BaseDelay: base}
}

// Delay returns the wait before the given retry (1 = first retry)
func (p RetryPolicy) Delay(retry int) time.Duration {
	if retry < 1 {
		return 0
	}
	delay := p.BaseDelay
	for i := 1; i < retry; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

func (p RetryPolicy) retryable(err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return IsTransient(err)
}

// Retry runs fn until it succeeds, returns a non-retryable error, or the policy
// runs out of attempts. Exhaustion yields a *RetryExhaustedError wrapping the last error.
func Retry[T any](ctx context.Context, p RetryPolicy, logger *slog.Logger, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	logger = observability.OrDefault(logger)

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := p.Delay(attempt - 1)
			logger.Warn("retrying upstream call",
				"policy", p.Name,
				"attempt", attempt,
				"max_attempts", attempts,
				"delay", delay,
				"error", lastErr)
			observability.GetMetrics().RecordFetchRetry(p.Name)

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, fmt.Errorf("%s retry cancelled after %d attempts: %w", p.Name, attempt-1, ctx.Err())
			case <-timer.C:
			}
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if !p.retryable(err) {
			return zero, err
		}
		lastErr = err
	}

	return zero, &RetryExhaustedError{Operation: p.Name, Attempts: attempts, Err: lastErr}
}
