package backoff

import (
	"context"
	"time"
)

// Clock abstracts time so rate limiters and retry loops can be driven by a
// fake in tests. Sleep must return early with ctx.Err() on cancellation.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	return SleepWithContext(ctx, d)
}

// SystemClock returns a Clock backed by the real time package.
func SystemClock() Clock { return systemClock{} }

// SleepWithContext sleeps for the specified duration, respecting context
// cancellation. Returns nil if the sleep completed, or ctx.Err() otherwise.
func SleepWithContext(ctx context.Context, d time.Duration) error {
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
