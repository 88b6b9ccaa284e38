package binance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/futuresbot/internal/domain"
)

// RetryPolicy bounds transient-failure retries for venue calls. Retries use
// linear backoff; a cancelled context or a non-retryable venue rejection
// stops immediately.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
}

// Do runs fn up to MaxRetries+1 times.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := p.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}
	backoff := p.Backoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("binance: %s: %w", op, ctx.Err())
			case <-time.After(time.Duration(attempt) * backoff):
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("binance: %s: retries exhausted: %w", op, lastErr)
}

// retryable reports whether an error is worth another attempt. Order
// rejections and auth failures are deterministic; network and rate-limit
// errors are not.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, domain.ErrAmbiguousRead) || errors.Is(err, domain.ErrNotFound) {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, permanent := range []string{
		"insufficient",        // margin is not coming back by retrying
		"api-key",             // -2014/-2015 auth errors
		"signature",           // auth
		"reduceonly",          // order rejected, resubmitting would not help
		"immediately trigger", // stop price already through the market
	} {
		if strings.Contains(msg, permanent) {
			return false
		}
	}
	return true
}
