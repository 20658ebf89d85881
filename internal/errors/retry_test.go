package errors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxRetries:   2,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetry_SucceedsAfterRetryableError(t *testing.T) {
	// Given: a function that reports a locked store twice then succeeds
	attempts := 0
	fn := func() error {
		attempts++
		if attempts < 3 {
			return New(ErrCodeStoreLocked, "locked", nil)
		}
		return nil
	}

	// When: retrying
	err := Retry(context.Background(), fastRetry(), fn)

	// Then: succeeds on the third attempt
	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_FailsAfterMaxRetries(t *testing.T) {
	attempts := 0
	fn := func() error {
		attempts++
		return New(ErrCodeStoreLocked, "locked", nil)
	}

	err := Retry(context.Background(), fastRetry(), fn)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 retries")
	assert.Equal(t, 3, attempts)
	assert.True(t, IsRetryable(err))
}

func TestRetry_DoesNotRetryPermanentErrors(t *testing.T) {
	// Given: a non-retryable failure
	attempts := 0
	permanent := errors.New("permission denied")
	fn := func() error {
		attempts++
		return permanent
	}

	// When: retrying
	err := Retry(context.Background(), fastRetry(), fn)

	// Then: returned immediately, unwrapped
	assert.Equal(t, permanent, err)
	assert.Equal(t, 1, attempts)
}

func TestRetry_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, fastRetry(), func() error { return nil })

	assert.ErrorIs(t, err, context.Canceled)
}
