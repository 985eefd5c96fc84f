package subtitle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/JeesubKim/live-trans-sub000/log"
)

type EventKind string

const (
	EventCreated EventKind = "created"
	EventWritten EventKind = "written"
	EventRemoved EventKind = "removed"
	EventRenamed EventKind = "renamed"
)

type Event struct {
	Kind EventKind
	Path string
}

// Watch reports changes to permanent files in the store directory until ctx
// is cancelled, at which point the channel is closed.
func (s *Store) Watch(ctx context.Context) (<-chan Event, error) {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return nil, fmt.Errorf("subtitle: watch: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("subtitle: watch: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("subtitle: watch %s: %w", s.dir, err)
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Ext(ev.Name) != Ext {
					continue
				}
				kind, ok := eventKind(ev)
				if !ok {
					continue
				}
				select {
				case out <- Event{Kind: kind, Path: ev.Name}:
				case <-ctx.Done():
					return
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warnf("subtitle watch: %v", err)
			}
		}
	}()
	return out, nil
}

func eventKind(ev fsnotify.Event) (EventKind, bool) {
	switch {
	case ev.Has(fsnotify.Create):
		return EventCreated, true
	case ev.Has(fsnotify.Remove):
		return EventRemoved, true
	case ev.Has(fsnotify.Rename):
		return EventRenamed, true
	case ev.Has(fsnotify.Write):
		return EventWritten, true
	}
	return "", false
}
