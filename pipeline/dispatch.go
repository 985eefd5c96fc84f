package pipeline

import (
	"fmt"
	"sync"

	"github.com/JeesubKim/live-trans-sub000/log"
	"github.com/JeesubKim/live-trans-sub000/metrics"
)

type SignalConsumer interface {
	ConsumeSignal(SignalData) error
}

type TextConsumer interface {
	ConsumeText(TextData) error
}

type RawAudioConsumer interface {
	ConsumeRawAudio(RawAudioData) error
}

// ErrorReporter receives the errors and panics of its own Consume calls.
// Consumers that do not implement it have their failures logged.
type ErrorReporter interface {
	ReportError(kind Kind, err error)
}

type registration struct {
	id       int
	name     string
	signal   SignalConsumer
	text     TextConsumer
	raw      RawAudioConsumer
	reporter ErrorReporter
}

// Dispatcher fans each data kind out to the consumers that accept it, in
// registration order. A failing consumer never stops delivery to the rest.
type Dispatcher struct {
	mu     sync.RWMutex
	regs   []*registration
	nextID int
}

// Register adds c under every consumer interface it implements and returns
// a function that removes it again.
func (d *Dispatcher) Register(c any) func() {
	r := &registration{name: fmt.Sprintf("%T", c)}
	r.signal, _ = c.(SignalConsumer)
	r.text, _ = c.(TextConsumer)
	r.raw, _ = c.(RawAudioConsumer)
	r.reporter, _ = c.(ErrorReporter)
	if r.signal == nil && r.text == nil && r.raw == nil {
		log.Warnf("pipeline: %s consumes nothing, not registered", r.name)
		return func() {}
	}

	d.mu.Lock()
	d.nextID++
	r.id = d.nextID
	d.regs = append(d.regs, r)
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { d.remove(r.id) })
	}
}

func (d *Dispatcher) remove(id int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, r := range d.regs {
		if r.id == id {
			d.regs = append(d.regs[:i:i], d.regs[i+1:]...)
			return
		}
	}
}

// Len reports how many consumers accept the given kind.
func (d *Dispatcher) Len(kind Kind) int {
	n := 0
	for _, r := range d.snapshot() {
		if r.accepts(kind) {
			n++
		}
	}
	return n
}

func (d *Dispatcher) PublishSignal(s SignalData) {
	for _, r := range d.snapshot() {
		if r.signal != nil {
			r.deliver(KindSignal, func() error { return r.signal.ConsumeSignal(s) })
		}
	}
}

func (d *Dispatcher) PublishText(t TextData) {
	for _, r := range d.snapshot() {
		if r.text != nil {
			r.deliver(KindText, func() error { return r.text.ConsumeText(t) })
		}
	}
}

func (d *Dispatcher) PublishRawAudio(a RawAudioData) {
	for _, r := range d.snapshot() {
		if r.raw != nil {
			r.deliver(KindRawAudio, func() error { return r.raw.ConsumeRawAudio(a) })
		}
	}
}

func (d *Dispatcher) snapshot() []*registration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*registration, len(d.regs))
	copy(out, d.regs)
	return out
}

func (r *registration) accepts(kind Kind) bool {
	switch kind {
	case KindSignal:
		return r.signal != nil
	case KindText:
		return r.text != nil
	case KindRawAudio:
		return r.raw != nil
	}
	return false
}

func (r *registration) deliver(kind Kind, fn func() error) {
	err := guard(fn)
	if err == nil {
		return
	}
	metrics.ConsumerErrors.WithLabelValues(kind.String()).Inc()
	if r.reporter != nil {
		if rerr := guard(func() error { r.reporter.ReportError(kind, err); return nil }); rerr == nil {
			return
		}
	}
	log.ConsumerFailure(r.name, kind.String(), err)
}

func guard(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn()
}
