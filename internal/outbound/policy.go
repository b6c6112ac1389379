// Package outbound applies one timeout, retry and rate policy to every call
// that leaves the process: ledger reads, gateway fetches and model endpoints.
package outbound

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/proofchain/am"
	"github.com/teranos/proofchain/errors"
)

// AttemptHook observes each finished attempt. err is nil on success.
type AttemptHook func(op string, attempt int, elapsed time.Duration, err error)

// Policy bounds an outbound operation.
type Policy struct {
	timeout         time.Duration
	maxAttempts     uint
	initialInterval time.Duration
	maxInterval     time.Duration
	limiter         *rate.Limiter
	logger          *zap.SugaredLogger
	hook            AttemptHook
}

// Option customizes a Policy.
type Option func(*Policy)

// WithHook registers an attempt observer.
func WithHook(h AttemptHook) Option {
	return func(p *Policy) { p.hook = h }
}

// New builds a Policy from configuration.
func New(cfg am.OutboundConfig, logger *zap.SugaredLogger, opts ...Option) *Policy {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	p := &Policy{
		timeout:         cfg.Timeout(),
		maxAttempts:     uint(max(cfg.MaxAttempts, 1)),
		initialInterval: cfg.InitialBackoff(),
		maxInterval:     cfg.MaxBackoff(),
		logger:          logger.Named("outbound"),
	}
	if p.timeout <= 0 {
		p.timeout = 10 * time.Second
	}
	if cfg.RatePerSecond > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), max(cfg.Burst, 1))
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// Do runs fn under the policy. Each attempt waits on the rate limiter and
// gets its own deadline. Exhausted retries are marked ErrServiceUnavailable,
// deadline failures ErrTimeout; permanent errors are returned unchanged.
func Do[T any](ctx context.Context, p *Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	attempt := 0
	permanent := false

	operation := func() (T, error) {
		attempt++
		var zero T

		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				permanent = true
				return zero, backoff.Permanent(errors.Wrapf(err, "%s: rate limit wait", op))
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()

		start := time.Now()
		result, err := fn(attemptCtx)
		if p.hook != nil {
			p.hook(op, attempt, time.Since(start), err)
		}
		if err == nil {
			return result, nil
		}

		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			permanent = true
			return zero, err
		}
		if ctx.Err() != nil {
			permanent = true
			return zero, backoff.Permanent(err)
		}
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			err = errors.Mark(errors.Wrapf(err, "%s: attempt timed out after %s", op, p.timeout), errors.ErrTimeout)
		}
		p.logger.Debugw("Outbound attempt failed",
			"operation", op,
			"attempt", attempt,
			"error", err,
		)
		return zero, err
	}

	eb := backoff.NewExponentialBackOff()
	if p.initialInterval > 0 {
		eb.InitialInterval = p.initialInterval
	}
	if p.maxInterval > 0 {
		eb.MaxInterval = p.maxInterval
	}

	result, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(p.maxAttempts),
	)
	if err == nil {
		return result, nil
	}
	if permanent {
		return result, err
	}
	if errors.Is(err, errors.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return result, errors.Mark(errors.Wrapf(err, "%s failed after %d attempts", op, attempt), errors.ErrTimeout)
	}
	return result, errors.Mark(errors.Wrapf(err, "%s failed after %d attempts", op, attempt), errors.ErrServiceUnavailable)
}
