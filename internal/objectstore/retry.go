package objectstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"filesweep/internal/logging"
)

// RetryPolicy is the single retry policy applied to every store operation.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter is the randomization factor in [0,1] applied to each delay.
	Jitter float64
}

// DefaultRetryPolicy mirrors the [retry] config defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, BaseDelay: 200 * time.Millisecond, MaxDelay: 10 * time.Second, Jitter: 0.5}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.BaseDelay
	exp.MaxInterval = p.MaxDelay
	exp.RandomizationFactor = p.Jitter
	exp.Multiplier = 2
	exp.MaxElapsedTime = 0
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts-1)), ctx)
}

// RetryExhaustedError reports a retryable failure that persisted through
// every attempt the policy allowed.
type RetryExhaustedError struct {
	Op       string
	Key      string
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("%s %q failed after %d attempts: %v", e.Op, e.Key, e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Err }

// Retrying decorates a Store so every call follows one RetryPolicy. Only
// errors that Classify marks retryable are repeated.
type Retrying struct {
	next   Store
	policy RetryPolicy
	logger *slog.Logger
}

// NewRetrying wraps next with policy.
func NewRetrying(next Store, policy RetryPolicy, logger *slog.Logger) *Retrying {
	return &Retrying{next: next, policy: policy, logger: logging.NewComponentLogger(logger, "objectstore")}
}

func (r *Retrying) do(ctx context.Context, op, key string, fn func() error) error {
	attempts := 0
	err := backoff.RetryNotify(func() error {
		attempts++
		err := fn()
		if err == nil {
			return nil
		}
		if !Classify(err).Retryable() {
			return backoff.Permanent(err)
		}
		return err
	}, r.policy.backOff(ctx), func(err error, wait time.Duration) {
		r.logger.Debug("retrying object store call",
			logging.String("op", op),
			logging.Key(key),
			logging.Int("attempt", attempts),
			logging.Duration("wait", wait),
			logging.Error(err),
		)
	})
	if err != nil && Classify(err).Retryable() {
		return &RetryExhaustedError{Op: op, Key: key, Attempts: attempts, Err: err}
	}
	return err
}

func (r *Retrying) List(ctx context.Context, in ListInput) (ListPage, error) {
	var page ListPage
	err := r.do(ctx, "list", in.Prefix, func() error {
		var err error
		page, err = r.next.List(ctx, in)
		return err
	})
	return page, err
}

func (r *Retrying) Stat(ctx context.Context, key string) (ObjectRecord, error) {
	var rec ObjectRecord
	err := r.do(ctx, "stat", key, func() error {
		var err error
		rec, err = r.next.Stat(ctx, key)
		return err
	})
	return rec, err
}

func (r *Retrying) Copy(ctx context.Context, in CopyInput) error {
	return r.do(ctx, "copy", in.SourceKey, func() error {
		return r.next.Copy(ctx, in)
	})
}

func (r *Retrying) Delete(ctx context.Context, key string) error {
	return r.do(ctx, "delete", key, func() error {
		return r.next.Delete(ctx, key)
	})
}

func (r *Retrying) PutMarker(ctx context.Context, key string, metadata map[string]string, ifAbsent bool) error {
	return r.do(ctx, "put", key, func() error {
		return r.next.PutMarker(ctx, key, metadata, ifAbsent)
	})
}
