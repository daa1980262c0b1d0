package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/kardiachain/dao-ledger/types"
)

const (
	defaultStoreTimeout  = 3 * time.Second
	defaultRetryInterval = 50 * time.Millisecond
	maxRetryInterval     = time.Second
)

// RetryConfig bounds every store round trip: each attempt gets Timeout, and
// failures outside the ledger error taxonomy are retried up to MaxRetries
// times with exponential backoff.
type RetryConfig struct {
	Timeout    time.Duration
	MaxRetries int
}

func (c RetryConfig) timeout() time.Duration {
	if c.Timeout <= 0 {
		return defaultStoreTimeout
	}
	return c.Timeout
}

// Once runs fn a single time under the attempt timeout.
func (c RetryConfig) Once(ctx context.Context, fn func(ctx context.Context) error) error {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()
	return fn(attemptCtx)
}

// Do runs fn under the attempt timeout and retries transient failures. Ledger
// errors are returned as is on the first occurrence.
func (c RetryConfig) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	retries := c.MaxRetries
	if retries < 0 {
		retries = 0
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = defaultRetryInterval
	b.MaxInterval = maxRetryInterval
	b.MaxElapsedTime = 0

	op := func() error {
		err := c.Once(ctx, fn)
		if err != nil && types.IsDomain(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx))
}

// StoreError logs an infrastructure failure and hides it behind
// types.ErrStoreUnavailable. Ledger errors pass through untouched.
func StoreError(logger *zap.Logger, op string, err error) error {
	if err == nil || types.IsDomain(err) {
		return err
	}
	logger.Warn("store call failed", zap.String("op", op), zap.Error(err))
	return fmt.Errorf("%s: %w", op, types.ErrStoreUnavailable)
}
