package errors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastRetryConfig keeps retry tests quick.
func fastRetryConfig(retries int) RetryConfig {
	return RetryConfig{
		MaxRetries:   retries,
		InitialDelay: 1 * time.Millisecond,
		MaxDelay:     8 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetry_SucceedsFirstAttempt(t *testing.T) {
	calls := 0

	err := Retry(context.Background(), fastRetryConfig(3), func() error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_SucceedsAfterTransientError(t *testing.T) {
	// Given: a function that fails twice then succeeds
	calls := 0

	// When: retrying
	err := Retry(context.Background(), fastRetryConfig(3), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient error")
		}
		return nil
	})

	// Then: eventually succeeds
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	// Given: a function that always fails
	calls := 0
	permanent := errors.New("permanent failure")

	// When: retrying with 3 retries
	err := Retry(context.Background(), fastRetryConfig(3), func() error {
		calls++
		return permanent
	})

	// Then: 1 initial + 3 retries, original error preserved in chain
	require.Error(t, err)
	assert.Equal(t, 4, calls)
	assert.ErrorIs(t, err, permanent)
	assert.Contains(t, err.Error(), "failed after 3 retries")
}

func TestRetry_ContextCancellationStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	err := Retry(ctx, RetryConfig{
		MaxRetries:   5,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
	}, func() error {
		calls++
		cancel() // cancel while waiting for the first retry delay
		return errors.New("fail")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRetry_DelayGrowsAndCaps(t *testing.T) {
	// Given: delays 10ms -> 20ms -> 20ms (capped)
	cfg := RetryConfig{
		MaxRetries:   3,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		Multiplier:   2.0,
	}

	start := time.Now()
	_ = Retry(context.Background(), cfg, func() error {
		return errors.New("fail")
	})
	elapsed := time.Since(start)

	// Total wait should be at least 10+20+20 = 50ms
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
}

func TestRetryWithResult_ReturnsValue(t *testing.T) {
	calls := 0

	result, err := RetryWithResult(context.Background(), fastRetryConfig(2), func() ([]float32, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("transient")
		}
		return []float32{0.1, 0.2}, nil
	})

	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2}, result)
	assert.Equal(t, 2, calls)
}

func TestRetryWithResult_ZeroValueOnFailure(t *testing.T) {
	result, err := RetryWithResult(context.Background(), fastRetryConfig(1), func() (string, error) {
		return "partial", errors.New("fail")
	})

	require.Error(t, err)
	assert.Empty(t, result)
}

func TestDefaultRetryConfig_Values(t *testing.T) {
	cfg := DefaultRetryConfig()

	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 1*time.Second, cfg.InitialDelay)
	assert.Equal(t, 16*time.Second, cfg.MaxDelay)
	assert.InDelta(t, 2.0, cfg.Multiplier, 0.001)
}
