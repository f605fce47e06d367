package remotetree

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/nken-eccs/gitrefer/internal/apperr"
)

// RetryPolicy bounds the transport-retry loop. This loop only retries
// transient transport failures, where resubmitting the identical
// request is safe. Stale-revision conflicts are never retried here:
// they need a fresh read first, and that loop lives in the store.
type RetryPolicy struct {
	// MaxAttempts is the total number of tries, first included.
	MaxAttempts int

	// BaseDelay is the backoff before the second attempt; it doubles
	// each further attempt.
	BaseDelay time.Duration

	// Rand overrides the jitter source, for deterministic tests. Nil
	// uses the shared math/rand source.
	Rand *rand.Rand

	// Logger records retried failures. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultRetryPolicy covers brief rate limits and server hiccups
// without stalling an interactive command for long.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 250 * time.Millisecond}
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.BaseDelay << (attempt - 1)
	// ±50% jitter so racing invocations don't resynchronize.
	if p.Rand != nil {
		return d/2 + time.Duration(p.Rand.Int63n(int64(d)+1))
	}
	return d/2 + time.Duration(rand.Int63n(int64(d)+1))
}

// retryTree decorates a Tree with the transport-retry loop.
type retryTree struct {
	inner  Tree
	policy RetryPolicy
	logger *slog.Logger
}

// WithRetry wraps tree so transient transport failures are retried
// with bounded exponential backoff. All other errors pass through
// unchanged on the first occurrence.
func WithRetry(tree Tree, policy RetryPolicy) Tree {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	logger := policy.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &retryTree{inner: tree, policy: policy, logger: logger}
}

func (r *retryTree) List(ctx context.Context, path string) ([]Entry, error) {
	var entries []Entry
	err := r.attempt(ctx, "list", path, func() error {
		var err error
		entries, err = r.inner.List(ctx, path)
		return err
	})
	return entries, err
}

func (r *retryTree) Read(ctx context.Context, path string) ([]byte, Revision, error) {
	var (
		content []byte
		rev     Revision
	)
	err := r.attempt(ctx, "read", path, func() error {
		var err error
		content, rev, err = r.inner.Read(ctx, path)
		return err
	})
	return content, rev, err
}

func (r *retryTree) Write(ctx context.Context, path string, content []byte, expected Revision) (Revision, error) {
	var rev Revision
	err := r.attempt(ctx, "write", path, func() error {
		var err error
		rev, err = r.inner.Write(ctx, path, content, expected)
		return err
	})
	return rev, err
}

func (r *retryTree) Delete(ctx context.Context, path string, expected Revision) error {
	return r.attempt(ctx, "delete", path, func() error {
		return r.inner.Delete(ctx, path, expected)
	})
}

func (r *retryTree) attempt(ctx context.Context, op, path string, call func() error) error {
	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.policy.delay(attempt - 1)):
			}
		}
		err := call()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isTransient(err) {
			return err
		}
		r.logger.Warn("transient transport failure, retrying",
			slog.String("op", op),
			slog.String("path", path),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))
	}
	return lastErr
}

func isTransient(err error) bool {
	var transport *apperr.TransportError
	return errors.As(err, &transport) && transport.Transient()
}
