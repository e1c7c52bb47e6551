package helper

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

const (
	baseRetryDelay = 500 * time.Millisecond
	maxRetryDelay  = 5 * time.Second
)

// IsTransient reports whether err looks like a failure worth one more try.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	e := strings.ToLower(err.Error())
	for _, marker := range []string{"timeout", "temporarily", "unavailable", "429", "rate limit", "connection reset", "connection refused", "eof", "502", "503", "504"} {
		if strings.Contains(e, marker) {
			return true
		}
	}
	return false
}

// newBackOff is exponential from baseRetryDelay, capped at maxRetryDelay,
// limited to retries extra attempts and stopped by ctx.
func newBackOff(ctx context.Context, retries int) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = baseRetryDelay
	b.MaxInterval = maxRetryDelay
	b.MaxElapsedTime = 0
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// Retry calls fn once plus up to retries more times while the error is
// transient. Each attempt gets its own timeout when timeout > 0.
func Retry(ctx context.Context, retries int, timeout time.Duration, fn func(ctx context.Context) error) error {
	attempt := 0
	op := func() error {
		attempt++
		err := callWithTimeout(ctx, timeout, fn)
		if err != nil && (!IsTransient(err) || ctx.Err() != nil) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", next).Msg("Retrying remote call")
	}
	return backoff.RetryNotify(op, newBackOff(ctx, retries), notify)
}

func callWithTimeout(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(callCtx)
}
