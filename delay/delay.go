// Package delay provides the timer-backed Delay capability.
package delay

import (
	"context"
	"time"

	"github.com/lanternworks/otalink/updater"
)

// Timer suspends sessions with the process clock. The zero value is ready
// to use.
type Timer struct{}

// DelayMs implements updater.Delay. It returns the context error if the
// context is canceled before the duration elapses.
func (Timer) DelayMs(ctx context.Context, ms uint32) error {
	timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ updater.Delay = Timer{}
