package infra

import (
	"context"
	"log/slog"
	"time"

	"trade_go/internal/domain"
)

const (
	backoffBase = 1 * time.Second
	backoffMax  = 60 * time.Second
)

// CalculateBackoff returns the delay before reconnect attempt n: 1s, 2s, 4s ... capped at 60s.
func CalculateBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 6 {
		return backoffMax
	}
	d := backoffBase << uint(attempt)
	if d > backoffMax {
		return backoffMax
	}
	return d
}

// RetryPolicy controls Retry. Delay(i) is the wait before attempt i+1.
type RetryPolicy struct {
	Attempts int
	Delay    func(attempt int) time.Duration
}

// DefaultRetry tries three times waiting 1s then 2s.
var DefaultRetry = RetryPolicy{
	Attempts: 3,
	Delay: func(attempt int) time.Duration {
		return time.Duration(1<<uint(attempt)) * time.Second
	},
}

// Retry runs fn until it succeeds, returns a non-retriable error, or runs out
// of attempts. The last error is returned.
func Retry(ctx context.Context, p RetryPolicy, op string, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			delay := time.Duration(0)
			if p.Delay != nil {
				delay = p.Delay(i - 1)
			}
			slog.Info("Retrying", slog.String("op", op), slog.Int("attempt", i), slog.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !domain.IsRetriable(err) {
			return err
		}
		slog.Warn("Attempt failed", slog.String("op", op), slog.Int("attempt", i+1), slog.Any("error", err))
	}
	return lastErr
}
