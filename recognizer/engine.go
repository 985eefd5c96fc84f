// Package recognizer defines the speech recognition engine the recorder
// drives, along with a scriptable fake and a Deepgram streaming engine.
package recognizer

import (
	"context"
)

// Callbacks are invoked by an engine from its own goroutine. Any of them may
// be nil.
type Callbacks struct {
	OnPartialResult          func(text string)
	OnFinalResult            func(text string, confidence float64)
	OnSoundLevelChanged      func(level float64)
	OnError                  func(err error)
	OnListeningStatusChanged func(listening bool)
}

func (c Callbacks) partial(text string) {
	if c.OnPartialResult != nil {
		c.OnPartialResult(text)
	}
}

func (c Callbacks) final(text string, confidence float64) {
	if c.OnFinalResult != nil {
		c.OnFinalResult(text, confidence)
	}
}

func (c Callbacks) level(l float64) {
	if c.OnSoundLevelChanged != nil {
		c.OnSoundLevelChanged(l)
	}
}

func (c Callbacks) fail(err error) {
	if c.OnError != nil {
		c.OnError(err)
	}
}

func (c Callbacks) status(listening bool) {
	if c.OnListeningStatusChanged != nil {
		c.OnListeningStatusChanged(listening)
	}
}

type ListenOptions struct {
	Language   string
	Model      string
	SampleRate int
	Channels   int
}

// Engine is a continuous recognizer that may stop listening on its own
// after an utterance. Callers resubscribe with Listen.
type Engine interface {
	IsInitialized() bool
	IsListening() bool
	HasPermission(ctx context.Context) (bool, error)
	SetCallbacks(cb Callbacks)
	Listen(ctx context.Context, opts ListenOptions) error
	Stop(ctx context.Context) error
}
