// Package fileq serializes file mutations through a single worker so that
// callers never wait on disk I/O. Every request carries a Future that
// resolves exactly once, after the request has actually run.
package fileq

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/xid"

	"github.com/JeesubKim/live-trans-sub000/log"
	"github.com/JeesubKim/live-trans-sub000/metrics"
)

type Op string

const (
	OpAppend Op = "append"
	OpWrite  Op = "write"
	OpDelete Op = "delete"
	OpRename Op = "rename"
	OpFlush  Op = "flush"
)

var (
	ErrClosed         = errors.New("fileq: queue closed")
	ErrNotInitialized = errors.New("fileq: queue not initialized")
)

type Request struct {
	ID      string
	Op      Op
	Path    string
	NewPath string
	Payload []byte

	future *Future
}

type Queue struct {
	syncWrites bool
	fileMode   os.FileMode
	dirMode    os.FileMode

	mu      sync.Mutex
	pending []*Request
	closed  bool
	wake    chan struct{}
	done    chan struct{}
}

type Option func(*Queue)

// WithSync controls whether append and write fsync before resolving.
func WithSync(on bool) Option {
	return func(q *Queue) { q.syncWrites = on }
}

func WithFileMode(mode os.FileMode) Option {
	return func(q *Queue) { q.fileMode = mode }
}

func WithDirMode(mode os.FileMode) Option {
	return func(q *Queue) { q.dirMode = mode }
}

func New(opts ...Option) *Queue {
	q := newQueue(opts...)
	go q.run()
	return q
}

func newQueue(opts ...Option) *Queue {
	q := &Queue{
		syncWrites: true,
		fileMode:   0644,
		dirMode:    0755,
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *Queue) Append(path string, content []byte) *Future {
	return q.enqueue(&Request{Op: OpAppend, Path: path, Payload: clone(content)})
}

func (q *Queue) Write(path string, content []byte) *Future {
	return q.enqueue(&Request{Op: OpWrite, Path: path, Payload: clone(content)})
}

func (q *Queue) Delete(path string) *Future {
	return q.enqueue(&Request{Op: OpDelete, Path: path})
}

func (q *Queue) Rename(oldPath, newPath string) *Future {
	return q.enqueue(&Request{Op: OpRename, Path: oldPath, NewPath: newPath})
}

// Flush resolves once every request enqueued before it has run.
func (q *Queue) Flush() *Future {
	return q.enqueue(&Request{Op: OpFlush})
}

// Pending reports how many requests are waiting (not counting one in flight).
func (q *Queue) Pending() int {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close stops accepting requests and drains the backlog. If ctx expires
// first, requests still waiting are resolved with ErrClosed.
func (q *Queue) Close(ctx context.Context) error {
	if q == nil {
		return nil
	}
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
	}

	q.mu.Lock()
	rest := q.pending
	q.pending = nil
	q.mu.Unlock()
	metrics.QueueDepth.Sub(float64(len(rest)))
	for _, r := range rest {
		r.future.resolve(ErrClosed)
	}
	return fmt.Errorf("fileq: close: %d request(s) abandoned: %w", len(rest), ctx.Err())
}

func (q *Queue) enqueue(r *Request) *Future {
	r.ID = xid.New().String()
	r.future = newFuture(r.ID, r.Op)
	if q == nil {
		r.future.resolve(ErrNotInitialized)
		return r.future
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		r.future.resolve(ErrClosed)
		return r.future
	}
	q.pending = append(q.pending, r)
	metrics.QueueDepth.Inc()
	q.mu.Unlock()

	q.signal()
	return r.future
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			closed := q.closed
			q.mu.Unlock()
			if closed {
				return
			}
			<-q.wake
			continue
		}
		r := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		metrics.QueueDepth.Dec()
		q.mu.Unlock()

		err := q.execute(r)
		result := "ok"
		if err != nil {
			result = "error"
			log.QueueFailure(string(r.Op), r.Path, err)
		}
		metrics.QueueOps.WithLabelValues(string(r.Op), result).Inc()
		r.future.resolve(err)
	}
}

func (q *Queue) execute(r *Request) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("fileq: %s %s: panic: %v", r.Op, r.Path, p)
		}
	}()

	switch r.Op {
	case OpAppend:
		return q.appendFile(r.Path, r.Payload)
	case OpWrite:
		return q.writeFile(r.Path, r.Payload)
	case OpDelete:
		return os.Remove(r.Path)
	case OpRename:
		if err := q.ensureDir(r.NewPath); err != nil {
			return err
		}
		return os.Rename(r.Path, r.NewPath)
	case OpFlush:
		return nil
	default:
		return fmt.Errorf("fileq: unknown op %q", r.Op)
	}
}

func (q *Queue) ensureDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), q.dirMode)
}

func (q *Queue) appendFile(path string, payload []byte) error {
	if err := q.ensureDir(path); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, q.fileMode)
	if err != nil {
		return err
	}
	if _, err := f.Write(payload); err != nil {
		f.Close()
		return err
	}
	if q.syncWrites {
		if err := f.Sync(); err != nil {
			f.Close()
			return err
		}
	}
	return f.Close()
}

// writeFile replaces path atomically via a sibling temp file.
func (q *Queue) writeFile(path string, payload []byte) error {
	if err := q.ensureDir(path); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, q.fileMode)
	if err != nil {
		return err
	}
	if _, err := f.Write(payload); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if q.syncWrites {
		if err := f.Sync(); err != nil {
			f.Close()
			os.Remove(tmp)
			return err
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
