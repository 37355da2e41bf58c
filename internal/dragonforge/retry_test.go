package dragonforge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunWithRetrySucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := runWithRetry(context.Background(), "op", 3, time.Millisecond, func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRunWithRetryRecoversAfterFailures(t *testing.T) {
	calls := 0
	err := runWithRetry(context.Background(), "op", 3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRunWithRetryExhaustsAndWrapsLastError(t *testing.T) {
	sentinel := errors.New("network down")
	calls := 0
	err := runWithRetry(context.Background(), "clone", 3, time.Millisecond, func() error {
		calls++
		return sentinel
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, sentinel)
	assert.Contains(t, err.Error(), "clone failed after 3 attempts")
}

func TestRunWithRetryAbortsDuringDelayOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := runWithRetry(ctx, "op", 3, time.Hour, func() error {
		calls++
		return errors.New("always fails")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRunWithRetryAlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := runWithRetry(ctx, "op", 3, time.Millisecond, func() error {
		calls++
		return nil
	})
	require.Error(t, err)
	assert.Zero(t, calls)
}
