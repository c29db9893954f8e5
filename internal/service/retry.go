package service

import (
	"context"
	"time"

	"trade-settlement-engine/pkg/apperror"
)

const conflictBackoff = 15 * time.Millisecond

// withConflictRetry runs fn again when it fails with a concurrency conflict,
// up to attempts times in total. Any other error is returned immediately.
func withConflictRetry(ctx context.Context, attempts int, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil || !apperror.HasCode(err, apperror.CodeConcurrencyConflict) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(conflictBackoff * time.Duration(i+1)):
		}
	}
	return err
}
