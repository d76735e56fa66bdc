package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opendms/docsync/internal/remote"
)

// withRetry runs fn with bounded attempts and capped exponential backoff.
// Only transient remote faults are retried; protocol errors (not-found,
// permission, token conflict) surface immediately.
func withRetry(ctx context.Context, attempts int, base, max time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	delay := base
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !remote.IsTransient(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		slog.Warn("transfer retry", "attempt", attempt, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > max {
			delay = max
		}
	}
	return fmt.Errorf("after %d attempts: %w", attempts, err)
}
