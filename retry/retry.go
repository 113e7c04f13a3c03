// Package retry implements the Retry Executor (C2): reattempt a unit of
// work with exponential backoff, classifying errors as transient or
// permanent, honoring cancellation at every boundary.
package retry

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/heriberto777/transferengine/internal/apperrors"
	"github.com/heriberto777/transferengine/metrics"
)

// Policy configures the backoff schedule for one Executor.
type Policy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Factor       float64
	MaxAttempts  int
}

// DefaultPolicy mirrors the engine's default config.
func DefaultPolicy() Policy {
	return Policy{
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Factor:       2.0,
		MaxAttempts:  5,
	}
}

// OnRetryHook is invoked between attempts; it may reacquire a connection
// or perform other recovery before the next attempt starts.
type OnRetryHook func(ctx context.Context, attempt int, lastErr error) error

// Executor runs work under a Policy, retrying only transient errors.
type Executor struct {
	policy  Policy
	metrics *metrics.Registry
}

func New(policy Policy) *Executor {
	return &Executor{policy: policy}
}

// WithMetrics attaches a metrics.Registry that records one counter
// increment per retry attempt, labeled by the triggering error's
// apperrors.Code. Returns e so callers can chain it onto New.
func (e *Executor) WithMetrics(reg *metrics.Registry) *Executor {
	e.metrics = reg
	return e
}

// Do runs fn, retrying on transient errors up to policy.MaxAttempts times.
// onRetry, if non-nil, runs after a transient failure and before the next
// attempt — e.g. to reacquire a dropped connection.
func (e *Executor) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error, onRetry OnRetryHook) error {
	delay := e.policy.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= e.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return apperrors.Wrap(apperrors.CodeCancelled, err, "cancelled before attempt")
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}

		if !IsTransient(lastErr) {
			return lastErr
		}

		if attempt == e.policy.MaxAttempts {
			break
		}

		if e.metrics != nil {
			e.metrics.RecordRetryAttempt(string(apperrors.CodeOf(lastErr)))
		}

		if onRetry != nil {
			if err := onRetry(ctx, attempt, lastErr); err != nil {
				return err
			}
		}

		// Pace the wait through a one-shot token-bucket limiter rather than
		// a bare time.After: rate.Limiter.Wait already folds in ctx
		// cancellation, so a cancel during backoff surfaces immediately
		// instead of racing a select against ctx.Done(). The limiter is
		// built fresh per attempt (the interval changes as delay grows)
		// and its single starting token drained immediately so the one
		// Wait call actually blocks for the current backoff interval.
		limiter := rate.NewLimiter(rate.Every(delay), 1)
		limiter.Allow()
		if err := limiter.Wait(ctx); err != nil {
			return apperrors.Wrap(apperrors.CodeCancelled, err, "cancelled during backoff")
		}

		delay = time.Duration(float64(delay) * e.policy.Factor)
		if delay > e.policy.MaxDelay {
			delay = e.policy.MaxDelay
		}
	}

	return apperrors.Wrap(apperrors.CodeConnectionLost, lastErr, "retry attempts exhausted")
}

// transientErrorKeywords flags substrings that indicate a reconnect is
// likely to succeed — connection drops, network blips, timeouts.
var transientErrorKeywords = []string{
	"connection refused",
	"connection reset",
	"connection closed",
	"broken pipe",
	"timeout",
	"timed out",
	"i/o timeout",
	"no route to host",
	"network unreachable",
	"temporary failure",
	"too many connections",
	"server closed the connection unexpectedly",
	"driver: bad connection",
	"eof",
}

// IsTransient reports whether err is worth retrying: either tagged
// apperrors.Retryable, or matching one of the known transient substrings.
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
	if apperrors.Retryable(err) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, kw := range transientErrorKeywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}
