// Package notify provides the small broadcast channel used for every
// upward notification (caption history, realtime text, waveform bars,
// recorder state).
package notify

import "sync"

const defaultBuffer = 16

// Topic fans published values out to subscribers without ever blocking the
// publisher. A slow subscriber loses its oldest pending value, never the
// newest one.
type Topic[T any] struct {
	mu     sync.Mutex
	subs   map[int]chan T
	nextID int
	latest T
	has    bool
	closed bool
}

func NewTopic[T any]() *Topic[T] {
	return &Topic[T]{subs: make(map[int]chan T)}
}

// Subscribe returns a receive channel and a cancel func. The channel is
// closed by cancel or by Close. A subscriber joining late first receives
// the latest published value, if any.
func (t *Topic[T]) Subscribe(buf int) (<-chan T, func()) {
	if buf <= 0 {
		buf = defaultBuffer
	}
	ch := make(chan T, buf)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := t.nextID
	t.nextID++
	t.subs[id] = ch
	if t.has {
		ch <- t.latest
	}
	t.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			if c, ok := t.subs[id]; ok {
				delete(t.subs, id)
				close(c)
			}
			t.mu.Unlock()
		})
	}
}

func (t *Topic[T]) Publish(v T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.latest = v
	t.has = true
	for _, ch := range t.subs {
		select {
		case ch <- v:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- v:
		default:
		}
	}
}

// Latest returns the most recently published value.
func (t *Topic[T]) Latest() (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.latest, t.has
}

func (t *Topic[T]) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}
