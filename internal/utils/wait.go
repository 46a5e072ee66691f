package utils

import (
	"context"
	"time"
)

// Sleep pauses for d or until ctx is done, whichever comes first
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// WaitUntil polls check every interval until it reports true, the budget is
// spent, or ctx is done. It returns whether check succeeded; check errors
// count as a failed attempt and the last one is returned.
func WaitUntil(ctx context.Context, budget, interval time.Duration, check func(context.Context) (bool, error)) (bool, error) {
	deadline := time.Now().Add(budget)
	var lastErr error

	for {
		ok, err := check(ctx)
		if err == nil && ok {
			return true, nil
		}
		if err != nil {
			lastErr = err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, lastErr
		}
		if interval > remaining {
			interval = remaining
		}
		if err := Sleep(ctx, interval); err != nil {
			return false, err
		}
	}
}
