package cli

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/JeesubKim/live-trans-sub000/hotkey"
	"github.com/JeesubKim/live-trans-sub000/log"
	"github.com/JeesubKim/live-trans-sub000/recorder"
)

const holdThreshold = 400 * time.Millisecond

// pauser is the part of the recorder the controls drive.
type pauser interface {
	State() recorder.State
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
}

func togglePause(ctx context.Context, r pauser) error {
	switch r.State() {
	case recorder.Recording:
		return r.Pause(ctx)
	case recorder.Paused:
		return r.Resume(ctx)
	}
	return nil
}

// watchHotkey applies hotkey actions to r until ctx ends: a tap toggles
// pause, a hold pauses until the key is released.
func watchHotkey(ctx context.Context, hk hotkey.Hotkey, clock clockwork.Clock, r pauser) {
	held := false
	for action := range hotkey.Watch(ctx, hk, clock, holdThreshold) {
		var err error
		switch action {
		case hotkey.Tap:
			err = togglePause(ctx, r)
		case hotkey.HoldStart:
			if r.State() == recorder.Recording {
				err = r.Pause(ctx)
				held = err == nil
			}
		case hotkey.HoldEnd:
			if held {
				held = false
				err = r.Resume(ctx)
			}
		}
		log.Debugf("hotkey %s -> %s", action, r.State())
		if err != nil {
			log.Warnf("hotkey %s: %v", action, err)
		}
	}
}
