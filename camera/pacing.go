package camera

import (
	"context"
	"time"
)

// pacingDelay returns how long to sleep after a tick that took elapsed so
// ticks start every interval. Late ticks get zero; lost time is not made up.
func pacingDelay(interval, elapsed time.Duration) time.Duration {
	if d := interval - elapsed; d > 0 {
		return d
	}
	return 0
}

// sleepContext sleeps for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
