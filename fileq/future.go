package fileq

import (
	"context"
	"sync"
)

// Future is the single-completion result of one queued request.
type Future struct {
	id   string
	op   Op
	done chan struct{}
	once sync.Once
	err  error
}

func newFuture(id string, op Op) *Future {
	return &Future{id: id, op: op, done: make(chan struct{})}
}

func (f *Future) resolve(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

func (f *Future) ID() string { return f.id }

func (f *Future) Op() Op { return f.op }

func (f *Future) Done() <-chan struct{} { return f.done }

// OK reports success. It is false until the request has run.
func (f *Future) OK() bool {
	select {
	case <-f.done:
		return f.err == nil
	default:
		return false
	}
}

// Err returns the execution error once resolved, nil before.
func (f *Future) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

// Wait blocks until the request has run or ctx ends.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
