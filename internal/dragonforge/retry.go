package dragonforge

import (
	"context"
	"fmt"
	"time"
)

// runWithRetry executes op up to attempts times with a fixed delay between
// attempts. The remotes we talk to are either transiently down or
// persistently down, not rate-sensitive, so there is no backoff curve.
// The inter-attempt wait selects on ctx so a cancelled run never sits in
// a sleep.
func runWithRetry(ctx context.Context, desc string, attempts int, delay time.Duration, op func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 1; i <= attempts; i++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s aborted: %w", desc, err)
		}
		if err := op(); err == nil {
			return nil
		} else {
			lastErr = err
			colArrow.Print("-> ")
			colWarn.Printf("%s: attempt %d/%d failed: %v\n", desc, i, attempts, err)
		}
		if i < attempts {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s aborted: %w", desc, ctx.Err())
			case <-time.After(delay):
			}
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", desc, attempts, lastErr)
}
