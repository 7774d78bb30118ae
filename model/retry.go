package model

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var retryBackoff = 300 * time.Millisecond

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// permanent marks err as not worth retrying.
func permanent(err error) error { return permanentError{err: err} }

// retry runs fn up to maxAttempts times with a linear backoff. Permanent errors
// and context cancellation stop it early.
func retry(ctx context.Context, maxAttempts int, fn func() error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var (
		lastErr error
		made    int
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return fmt.Errorf("%w (last error: %v)", err, lastErr)
			}
			return err
		}

		made++
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		var perm permanentError
		if errors.As(err, &perm) || attempt == maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
		case <-time.After(time.Duration(attempt) * retryBackoff):
		}
	}
	if made > 1 {
		return fmt.Errorf("failed after %d attempts: %w", made, lastErr)
	}
	return lastErr
}
