package engine

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy bounds the operation loop and the pauses inside it.
type RetryPolicy struct {
	// SafetyCeiling is the hard iteration limit, whatever the request says.
	SafetyCeiling int
	// MaxAttempts is the request's own cap. Zero means SafetyCeiling only.
	MaxAttempts int
	// Backoff is the pause in waiting_for_better_prices.
	Backoff time.Duration
	// LotPause separates consecutive lots.
	LotPause time.Duration
	// ZeroLiquidityLimit is how many consecutive empty books end the
	// operation. Zero waits forever.
	ZeroLiquidityLimit int
}

// Check returns an error once attempts iterations have been used up.
func (p RetryPolicy) Check(attempts int) error {
	if p.MaxAttempts > 0 && p.MaxAttempts < p.SafetyCeiling && attempts >= p.MaxAttempts {
		return fmt.Errorf("%w after %d iterations", ErrAttemptsExhausted, attempts)
	}
	if attempts >= p.SafetyCeiling {
		return fmt.Errorf("%w after %d iterations", ErrSafetyCeiling, attempts)
	}
	return nil
}

func (p RetryPolicy) LiquidityExhausted(consecutiveEmpty int) bool {
	return p.ZeroLiquidityLimit > 0 && consecutiveEmpty >= p.ZeroLiquidityLimit
}

// sleep waits for d, returning early when interrupt is closed. Only context
// cancellation is reported as an error.
func sleep(ctx context.Context, interrupt <-chan struct{}, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-interrupt:
		return nil
	case <-timer.C:
		return nil
	}
}
