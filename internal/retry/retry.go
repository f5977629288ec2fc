// internal/retry/retry.go
package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

// Config defines bounded retry for flaky DOM interactions. Click-and-wait
// sequences regularly hit elements that were re-rendered between locate and
// act; the fix is to re-locate the element and try again a few times.
type Config struct {
	MaxAttempts int
	Delay       time.Duration
}

// DefaultConfig retries three times with a short constant delay.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		Delay:       500 * time.Millisecond,
	}
}

// Do runs fn, retrying retryable failures up to cfg.MaxAttempts total
// attempts. fn must re-locate any DOM handles itself on each call.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	attempts := 0
	op := func() error {
		attempts++
		err := fn()
		if err == nil {
			if attempts > 1 {
				log.Debug().Int("attempts", attempts).Msg("Retry succeeded")
			}
			return nil
		}
		if !Retryable(err) {
			log.Debug().Err(err).Msg("Error is not retryable")
			return backoff.Permanent(err)
		}
		log.Debug().
			Err(err).
			Int("attempt", attempts).
			Int("max_attempts", cfg.MaxAttempts).
			Msg("Retrying after transient page error")
		return err
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(cfg.Delay), uint64(cfg.MaxAttempts-1)),
		ctx,
	)
	if err := backoff.Retry(op, bo); err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return perm.Err
		}
		return fmt.Errorf("operation failed after %d attempts: %w", attempts, err)
	}
	return nil
}

// Retryable reports whether an error looks like a transient DOM or timing
// failure worth re-locating for. Context cancellation is never retryable.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := err.Error()
	for _, marker := range []string{
		"could not find node", // element re-rendered between locate and act
		"node not found",
		"node not visible",
		"stale",
		"detached",
		"waiting for selector",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	if tempErr, ok := err.(interface{ Temporary() bool }); ok {
		return tempErr.Temporary()
	}
	return false
}
