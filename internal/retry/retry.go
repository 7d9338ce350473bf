// Package retry implements the backoff policy injected into the acquisition
// clients. Callers above the clients only see success or
// domain.ErrSourceUnavailable.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/alanyoungcy/polyledger/internal/domain"
)

// Policy describes how often and how patiently an operation is retried.
type Policy struct {
	MaxAttempts    int           // total attempts including the first
	InitialBackoff time.Duration // wait before the second attempt
	MaxBackoff     time.Duration // cap for the exponential schedule
	RateLimitWait  time.Duration // fixed wait after domain.ErrRateLimited
	Jitter         bool
}

// DefaultPolicy mirrors the pacing the operators were used to: a handful of
// attempts, seconds between them, ten seconds after a 429.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    5,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     30 * time.Second,
		RateLimitWait:  10 * time.Second,
		Jitter:         true,
	}
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// isPermanent reports whether err must not be retried.
func isPermanent(err error) bool {
	var p *backoff.PermanentError
	switch {
	case errors.As(err, &p):
		return true
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrUnauthorized):
		return true
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return true
	}
	return false
}

// rateLimitBackOff waits a fixed interval after a 429 and defers to the
// exponential schedule otherwise. last points at the most recent failure.
type rateLimitBackOff struct {
	next backoff.BackOff
	wait time.Duration
	last *error
}

func (b *rateLimitBackOff) Reset() { b.next.Reset() }

func (b *rateLimitBackOff) NextBackOff() time.Duration {
	if b.wait > 0 && b.last != nil && errors.Is(*b.last, domain.ErrRateLimited) {
		return b.wait
	}
	return b.next.NextBackOff()
}

// newBackOff builds the wait schedule for one Do call.
func (p Policy) newBackOff(last *error) backoff.BackOff {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = p.InitialBackoff
	expo.Multiplier = 2
	expo.RandomizationFactor = 0
	if p.Jitter {
		expo.RandomizationFactor = 0.5
	}
	expo.MaxInterval = p.MaxBackoff
	if expo.MaxInterval <= 0 {
		expo.MaxInterval = time.Duration(1 << 62)
	}
	expo.Reset()
	return &rateLimitBackOff{next: expo, wait: p.RateLimitWait, last: last}
}

// Do runs fn until it succeeds, returns a permanent error, or the attempts
// are exhausted. Exhaustion is reported as domain.ErrSourceUnavailable
// wrapping the last error.
func (p Policy) Do(ctx context.Context, logger *slog.Logger, op string, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	var (
		lastErr error
		stopped bool
		attempt = 1
	)
	_, err := backoff.Retry(ctx,
		func() (struct{}, error) {
			err := fn(ctx)
			if err == nil {
				return struct{}{}, nil
			}
			if isPermanent(err) {
				stopped = true
				return struct{}{}, backoff.Permanent(err)
			}
			lastErr = err
			return struct{}{}, err
		},
		backoff.WithBackOff(p.newBackOff(&lastErr)),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			attempt++
			logger.WarnContext(ctx, "retrying",
				slog.String("op", op),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", wait),
				slog.String("error", err.Error()),
			)
		}),
	)
	switch {
	case err == nil:
		return nil
	case stopped:
		return err
	case ctx.Err() != nil:
		return ctx.Err()
	}
	return fmt.Errorf("%s: %w after %d attempts: %w", op, domain.ErrSourceUnavailable, attempts, err)
}
