// Package ctxutil has small helpers for cooperative cancellation.
package ctxutil

import "context"

// Check returns the context error, if any. Long loops call it every
// few hundred rows instead of on every iteration.
func Check(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
