package retry

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() RetryConfig {
	return RetryConfig{MaxRetries: 3, InitialInterval: time.Millisecond, Multiplier: 1.0}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	attempts := 0
	err := Retry(testConfig(), "test op", func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	attempts := 0
	underlying := errors.New("still broken")
	err := Retry(testConfig(), "test op", func() error {
		attempts++
		return underlying
	})
	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.ErrorIs(t, err, underlying)
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	attempts := 0
	sentinel := errors.New("object not found")
	err := Retry(testConfig(), "test op", func() error {
		attempts++
		return NonRetryable(sentinel)
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.ErrorIs(t, err, sentinel)
}

func TestNonRetryableNil(t *testing.T) {
	assert.NoError(t, NonRetryable(nil))
}
