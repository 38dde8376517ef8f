package kernel_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/Ahmadnoorkhan1/forgeerp/pkg/kernel"
)

func TestRetryOnConflictSucceedsAfterTransientConflicts(t *testing.T) {
	limiter := rate.NewLimiter(rate.Inf, 1)
	attempts := 0

	err := kernel.RetryOnConflict(context.Background(), limiter, 3, func() error {
		attempts++
		if attempts < 3 {
			return &kernel.ConflictError{Expected: 1, Actual: 2}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryOnConflictReturnsNonConflictImmediately(t *testing.T) {
	limiter := rate.NewLimiter(rate.Inf, 1)
	attempts := 0
	wantErr := errors.New("store unavailable")

	err := kernel.RetryOnConflict(context.Background(), limiter, 3, func() error {
		attempts++
		return wantErr
	})

	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, 1, attempts)
}

func TestRetryOnConflictExhaustsRetries(t *testing.T) {
	limiter := rate.NewLimiter(rate.Inf, 1)
	attempts := 0

	err := kernel.RetryOnConflict(context.Background(), limiter, 2, func() error {
		attempts++
		return &kernel.ConflictError{Expected: 1, Actual: 2}
	})

	require.Error(t, err)
	assert.True(t, kernel.IsConflict(err))
	assert.Equal(t, 3, attempts)
}
