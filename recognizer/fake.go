package recognizer

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Fake is an in-memory engine. Like a real single-utterance engine it stops
// listening after every final result.
type Fake struct {
	mu          sync.Mutex
	initialized bool
	permission  bool
	listening   bool
	cb          Callbacks
	listenErr   error
	listens     int
	stops       int
	lastOpts    ListenOptions
}

func NewFake() *Fake {
	return &Fake{initialized: true, permission: true}
}

func (f *Fake) SetInitialized(v bool) {
	f.mu.Lock()
	f.initialized = v
	f.mu.Unlock()
}

func (f *Fake) SetPermission(v bool) {
	f.mu.Lock()
	f.permission = v
	f.mu.Unlock()
}

// FailListen makes every following Listen return err; nil clears it.
func (f *Fake) FailListen(err error) {
	f.mu.Lock()
	f.listenErr = err
	f.mu.Unlock()
}

func (f *Fake) IsInitialized() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initialized
}

func (f *Fake) IsListening() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listening
}

func (f *Fake) HasPermission(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.permission, nil
}

func (f *Fake) SetCallbacks(cb Callbacks) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *Fake) Listen(_ context.Context, opts ListenOptions) error {
	f.mu.Lock()
	f.listens++
	f.lastOpts = opts
	if f.listenErr != nil {
		err := f.listenErr
		f.mu.Unlock()
		return err
	}
	f.listening = true
	cb := f.cb
	f.mu.Unlock()
	cb.status(true)
	return nil
}

func (f *Fake) Stop(context.Context) error {
	f.mu.Lock()
	f.stops++
	was := f.listening
	f.listening = false
	cb := f.cb
	f.mu.Unlock()
	if was {
		cb.status(false)
	}
	return nil
}

func (f *Fake) Listens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listens
}

func (f *Fake) Stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

func (f *Fake) LastOptions() ListenOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastOpts
}

func (f *Fake) callbacks() Callbacks {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cb
}

func (f *Fake) Partial(text string) { f.callbacks().partial(text) }

func (f *Fake) Level(l float64) { f.callbacks().level(l) }

// Final delivers a final result and ends the utterance.
func (f *Fake) Final(text string, confidence float64) {
	f.callbacks().final(text, confidence)
	f.end()
}

// Fail reports err and ends the utterance.
func (f *Fake) Fail(err error) {
	f.callbacks().fail(err)
	f.end()
}

func (f *Fake) end() {
	f.mu.Lock()
	was := f.listening
	f.listening = false
	cb := f.cb
	f.mu.Unlock()
	if was {
		cb.status(false)
	}
}

// Play speaks each line word by word while the engine is listening, then
// confirms it. It returns when all lines are spoken or ctx ends.
func (f *Fake) Play(ctx context.Context, lines []string, wordEvery time.Duration) error {
	for _, line := range lines {
		words := strings.Fields(line)
		for i := range words {
			if err := f.waitListening(ctx, wordEvery); err != nil {
				return err
			}
			f.Partial(strings.Join(words[:i+1], " "))
		}
		if err := f.waitListening(ctx, wordEvery); err != nil {
			return err
		}
		f.Final(line, 0.9)
	}
	return nil
}

func (f *Fake) waitListening(ctx context.Context, every time.Duration) error {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if f.IsListening() {
				return nil
			}
		}
	}
}
