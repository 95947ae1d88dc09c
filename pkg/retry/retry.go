// pkg/retry/retry.go - functions for retrying actions with exponential backoff.

package retry

import (
	"errors"
	"fmt"
	"time"

	"github.com/windowsadmins/cmrotate/pkg/logging"
)

// nonRetryableError marks errors that should fail fast instead of burning
// retry attempts (object not found, bad input).
type nonRetryableError struct {
	err error
}

func (e *nonRetryableError) Error() string { return e.err.Error() }
func (e *nonRetryableError) Unwrap() error { return e.err }

// NonRetryable wraps err so Retry returns it without further attempts.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetryableError{err: err}
}

// RetryConfig defines the configuration for retry attempts
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	Multiplier      float64
}

// DefaultConfig returns the retry settings used for site provider calls.
func DefaultConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 2 * time.Second,
		Multiplier:      2.0,
	}
}

// Retry retries a named operation with exponential backoff
func Retry(config RetryConfig, operation string, action func() error) error {
	interval := config.InitialInterval

	for attempt := 1; attempt <= config.MaxRetries; attempt++ {
		err := action()
		if err == nil {
			return nil
		}

		// Check if this is a non-retryable error
		var nonRetryableErr *nonRetryableError
		if errors.As(err, &nonRetryableErr) {
			logging.LogStructured(logging.LevelWarn,
				fmt.Sprintf("Non-retryable error in %s: %s", operation, err.Error()),
				map[string]interface{}{
					"level":         "RETRY",
					"operation":     operation,
					"attempt":       attempt,
					"non_retryable": true,
				})
			return err
		}

		if attempt < config.MaxRetries {
			logging.LogStructured(logging.LevelWarn,
				fmt.Sprintf("%s attempt %d/%d failed: %s. Retrying in %s...",
					operation, attempt, config.MaxRetries, err.Error(), interval.String()),
				map[string]interface{}{
					"level":        "RETRY",
					"operation":    operation,
					"attempt":      attempt,
					"max_attempts": config.MaxRetries,
					"retry_delay":  interval.String(),
				})
		} else {
			logging.LogStructured(logging.LevelWarn,
				fmt.Sprintf("%s attempt %d/%d failed: %s. No more retries.",
					operation, attempt, config.MaxRetries, err.Error()),
				map[string]interface{}{
					"level":         "RETRY",
					"operation":     operation,
					"attempt":       attempt,
					"max_attempts":  config.MaxRetries,
					"final_failure": true,
				})
			return fmt.Errorf("%s failed after %d attempts: %w", operation, config.MaxRetries, err)
		}

		time.Sleep(interval)
		interval = time.Duration(float64(interval) * config.Multiplier)
	}

	return fmt.Errorf("%s failed after %d attempts", operation, config.MaxRetries)
}
