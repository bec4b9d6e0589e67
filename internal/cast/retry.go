package cast

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type retryPolicy struct {
	attempts    int
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

var defaultRetry = retryPolicy{attempts: 3, baseBackoff: 120 * time.Millisecond, maxBackoff: 800 * time.Millisecond}

// withRetry retries call on transient network errors with exponential
// backoff. Any other error returns immediately.
func withRetry(ctx context.Context, p retryPolicy, logger zerolog.Logger, operation string, call func() error) error {
	attempts := max(p.attempts, 1)
	base := max(p.baseBackoff, 0)
	maxBackoff := max(p.maxBackoff, base)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := call()
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt >= attempts || !isTransientNetworkError(err) {
			break
		}

		backoff := backoffForAttempt(base, maxBackoff, attempt)
		logger.Debug().Err(err).
			Str("operation", operation).
			Int("attempt", attempt+1).
			Int("attempts", attempts).
			Dur("backoff", backoff).
			Msg("cast_retry")
		if waitErr := waitForBackoff(ctx, backoff); waitErr != nil {
			return waitErr
		}
	}
	return lastErr
}

func backoffForAttempt(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	backoff := base
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if max > 0 && backoff >= max {
			return max
		}
	}
	if max > 0 && backoff > max {
		return max
	}
	return backoff
}

func waitForBackoff(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var transientPatterns = []string{
	"timeout",
	"temporar",
	"connection reset",
	"connection refused",
	"broken pipe",
	"unexpected eof",
	"network is unreachable",
	"no route to host",
}

func isTransientNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// bounded returns once call does or ctx ends, whichever comes first. The
// go2tv clients take no context, so an abandoned call finishes in the
// background and its result is dropped.
func bounded(ctx context.Context, call func() error) error {
	_, err := boundedValue(ctx, func() (struct{}, error) { return struct{}{}, call() })
	return err
}

func boundedValue[T any](ctx context.Context, call func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := call()
		done <- result{v, err}
	}()
	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
