// Package hotkey watches the global pause/resume key (Ctrl+Shift+P).
package hotkey

const Combo = "Ctrl+Shift+P"

type Hotkey interface {
	Register() error
	Unregister()
	Keydown() <-chan struct{}
	Keyup() <-chan struct{}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
