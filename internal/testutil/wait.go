package testutil

import (
	"context"
	"testing"
	"time"
)

// WaitFor polls check until it returns true, failing the test after timeout.
// Used instead of time.Sleep to synchronise with the tick workers.
//
// Example:
//
//	go srv.Run(ctx)
//	testutil.WaitFor(t, func() bool { return srv.TickCount() > 3 }, 5*time.Second)
func WaitFor(t testing.TB, check func() bool, timeout time.Duration) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		if check() {
			return
		}
		select {
		case <-ctx.Done():
			t.Fatalf("condition not met within %v", timeout)
		case <-ticker.C:
		}
	}
}
