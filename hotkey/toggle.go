package hotkey

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

type Action int

const (
	// Tap is a press released before the hold threshold: toggle pause.
	Tap Action = iota + 1
	// HoldStart and HoldEnd bracket a long press: pause while held.
	HoldStart
	HoldEnd
)

func (a Action) String() string {
	switch a {
	case Tap:
		return "tap"
	case HoldStart:
		return "hold_start"
	case HoldEnd:
		return "hold_end"
	}
	return "none"
}

// Watch turns raw key edges into actions until ctx ends. The returned
// channel is closed when Watch stops.
func Watch(ctx context.Context, hk Hotkey, clock clockwork.Clock, hold time.Duration) <-chan Action {
	out := make(chan Action, 4)
	go func() {
		defer close(out)
		emit := func(a Action) bool {
			select {
			case out <- a:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-hk.Keydown():
			}
			timer := clock.NewTimer(hold)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-hk.Keyup():
				timer.Stop()
				if !emit(Tap) {
					return
				}
			case <-timer.Chan():
				if !emit(HoldStart) {
					return
				}
				select {
				case <-ctx.Done():
					return
				case <-hk.Keyup():
				}
				if !emit(HoldEnd) {
					return
				}
			}
		}
	}()
	return out
}
