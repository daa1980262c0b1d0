package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/kardiachain/dao-ledger/types"
)

func TestRetryConfig_Do(t *testing.T) {
	cfg := RetryConfig{Timeout: time.Second, MaxRetries: 3}
	ctx := context.Background()

	t.Run("Transient then success", func(t *testing.T) {
		calls := 0
		err := cfg.Do(ctx, func(ctx context.Context) error {
			calls++
			if calls < 3 {
				return errors.New("connection reset")
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("Ledger error is not retried", func(t *testing.T) {
		calls := 0
		err := cfg.Do(ctx, func(ctx context.Context) error {
			calls++
			return types.ErrDuplicateVote
		})
		assert.ErrorIs(t, err, types.ErrDuplicateVote)
		assert.Equal(t, 1, calls)
	})

	t.Run("Bounded attempts", func(t *testing.T) {
		calls := 0
		err := cfg.Do(ctx, func(ctx context.Context) error {
			calls++
			return errors.New("timeout")
		})
		assert.Error(t, err)
		assert.Equal(t, 4, calls)
	})
}

func TestRetryConfig_OnceAppliesTimeout(t *testing.T) {
	cfg := RetryConfig{Timeout: 10 * time.Millisecond}
	err := cfg.Once(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStoreError(t *testing.T) {
	lgr := zap.NewNop()
	assert.NoError(t, StoreError(lgr, "op", nil))
	assert.Equal(t, types.ErrDuplicateVote, StoreError(lgr, "op", types.ErrDuplicateVote))

	err := StoreError(lgr, "insertPayout", errors.New("dial tcp 10.0.0.1:27017: i/o timeout"))
	assert.ErrorIs(t, err, types.ErrStoreUnavailable)
	assert.NotContains(t, err.Error(), "10.0.0.1")
}
