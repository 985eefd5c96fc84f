// Package display turns recognizer output into what a caption view shows:
// the in-progress text, the latest confirmed caption and a short history.
// It also drives the session log for the recording in progress.
//
// Every mutating call returns immediately and runs later on the manager's
// worker goroutine, in call order. Recognizer callbacks can therefore call
// into the manager without ever waiting on disk.
package display

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/JeesubKim/live-trans-sub000/log"
	"github.com/JeesubKim/live-trans-sub000/notify"
	"github.com/JeesubKim/live-trans-sub000/pipeline"
	"github.com/JeesubKim/live-trans-sub000/session"
	"github.com/JeesubKim/live-trans-sub000/subtitle"
)

const defaultHistorySize = 20

var ErrClosed = errors.New("display: manager closed")

// SessionLog is the part of session.Manager the display depends on.
type SessionLog interface {
	StartSession(ctx context.Context) (string, error)
	AddSubtitle(item subtitle.Item)
	FinalizeSession(ctx context.Context, req session.FinalizeRequest) (string, error)
	DiscardSession(ctx context.Context) error
}

type EndRequest struct {
	Save      bool
	Title     string
	Category  string
	Language  string
	Model     string
	Duration  *time.Duration
	AudioPath string
}

type Manager struct {
	temp        SessionLog
	clock       clockwork.Clock
	historySize int

	history  *notify.Topic[[]subtitle.Item]
	current  *notify.Topic[*subtitle.Item]
	realtime *notify.Topic[string]

	mu      sync.Mutex
	tasks   []func()
	closed  bool
	wake    chan struct{}
	stopped chan struct{}

	// owned by the worker goroutine
	hist           []subtitle.Item
	cur            *subtitle.Item
	partial        string
	keepVisible    string
	recordingStart time.Time
	sessionID      string
	active         bool
}

type Option func(*Manager)

func WithHistorySize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.historySize = n
		}
	}
}

func WithClock(c clockwork.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

func New(temp SessionLog, opts ...Option) *Manager {
	m := &Manager{
		temp:        temp,
		clock:       clockwork.NewRealClock(),
		historySize: defaultHistorySize,
		history:     notify.NewTopic[[]subtitle.Item](),
		current:     notify.NewTopic[*subtitle.Item](),
		realtime:    notify.NewTopic[string](),
		wake:        make(chan struct{}, 1),
		stopped:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.recordingStart = m.clock.Now()
	go m.run()
	return m
}

// History publishes the visible confirmed items, most recent last.
func (m *Manager) History() *notify.Topic[[]subtitle.Item] { return m.history }

// Current publishes the latest confirmed item, nil when there is none.
func (m *Manager) Current() *notify.Topic[*subtitle.Item] { return m.current }

// Realtime publishes the text shown as in progress.
func (m *Manager) Realtime() *notify.Topic[string] { return m.realtime }

// UpdateRealtimeText records partial recognizer output.
func (m *Manager) UpdateRealtimeText(text string) {
	defer m.recoverPanic("UpdateRealtimeText")
	m.later("UpdateRealtimeText", func() { m.applyPartial(text) })
}

// ConfirmRealtimeText turns the utterance into a caption. An empty
// finalText confirms the latest partial text instead.
func (m *Manager) ConfirmRealtimeText(finalText string, confidence float64) {
	defer m.recoverPanic("ConfirmRealtimeText")
	at := m.clock.Now()
	m.later("ConfirmRealtimeText", func() { m.applyFinal(finalText, confidence, at) })
}

// ConsumeText lets the manager be registered with the recorder directly.
func (m *Manager) ConsumeText(t pipeline.TextData) error {
	if t.Final {
		m.ConfirmRealtimeText(t.Text, t.Confidence)
	} else {
		m.UpdateRealtimeText(t.Text)
	}
	return nil
}

// StartSession starts a session log after all queued work has run and
// resets the view. The session clock starts now.
func (m *Manager) StartSession(ctx context.Context) (string, error) {
	var id string
	err := m.do(ctx, func() error {
		sid, err := m.temp.StartSession(ctx)
		if err != nil {
			return err
		}
		m.sessionID = sid
		m.active = true
		m.recordingStart = m.clock.Now()
		m.hist = nil
		m.cur = nil
		m.partial = ""
		m.keepVisible = ""
		m.history.Publish([]subtitle.Item{})
		m.current.Publish(nil)
		m.realtime.Publish("")
		id = sid
		return nil
	})
	return id, err
}

// EndSession finalizes (Save) or discards the session log once all queued
// work has run. Finalizing a session without captions returns "".
func (m *Manager) EndSession(ctx context.Context, req EndRequest) (string, error) {
	var path string
	err := m.do(ctx, func() error {
		defer func() {
			m.active = false
			m.sessionID = ""
		}()
		if !req.Save {
			return m.temp.DiscardSession(ctx)
		}
		p, err := m.temp.FinalizeSession(ctx, session.FinalizeRequest{
			Title:     req.Title,
			Category:  req.Category,
			Language:  req.Language,
			Model:     req.Model,
			Duration:  req.Duration,
			AudioPath: req.AudioPath,
		})
		path = p
		return err
	})
	return path, err
}

// Flush waits until everything queued before it has run.
func (m *Manager) Flush(ctx context.Context) error {
	return m.do(ctx, func() error { return nil })
}

// Close runs the queued work and stops the worker. Later calls are dropped.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()
	m.signal()
	<-m.stopped

	if m.active {
		log.Warnf("display: closed with session %s still active", m.sessionID)
	}
	m.history.Close()
	m.current.Close()
	m.realtime.Close()
}

func (m *Manager) applyPartial(text string) {
	if m.keepVisible != "" && !sharesPrefix(text, m.keepVisible) {
		m.keepVisible = ""
	}
	m.partial = text
	shown := text
	if strings.TrimSpace(shown) == "" && m.keepVisible != "" {
		shown = m.keepVisible
	}
	m.realtime.Publish(shown)
}

// applyFinal confirms text as heard at the given time, which may be well
// before the worker gets to it.
func (m *Manager) applyFinal(finalText string, confidence float64, at time.Time) {
	text := strings.TrimSpace(finalText)
	if text == "" {
		text = strings.TrimSpace(m.partial)
	}
	if text == "" {
		return
	}

	offset := at.Sub(m.recordingStart)
	if offset < 0 {
		offset = 0
	}
	item := subtitle.NewItem(text, offset, confidence)
	if m.cur != nil {
		m.hist = append(m.hist, *m.cur)
		if over := len(m.hist) - m.historySize; over > 0 {
			m.hist = append([]subtitle.Item(nil), m.hist[over:]...)
		}
		m.history.Publish(append([]subtitle.Item(nil), m.hist...))
	}
	m.cur = &item
	cur := item
	m.current.Publish(&cur)

	m.partial = ""
	m.keepVisible = text
	m.realtime.Publish(text)

	if m.active {
		m.temp.AddSubtitle(item)
		log.TranscriptText(m.sessionID, text)
	}
}

// sharesPrefix reports whether one text continues the other, ignoring case
// and surrounding space.
func sharesPrefix(a, b string) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	return strings.HasPrefix(a, b) || strings.HasPrefix(b, a)
}

func (m *Manager) later(op string, fn func()) {
	if !m.enqueue(fn) {
		log.Warnf("display: %s after close dropped", op)
	}
}

func (m *Manager) do(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	ok := m.enqueue(func() {
		var err error
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("display: panic: %v", p)
				log.Errorf("%v", err)
			}
			done <- err
		}()
		err = fn()
	})
	if !ok {
		return ErrClosed
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) enqueue(fn func()) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.tasks = append(m.tasks, fn)
	m.mu.Unlock()
	m.signal()
	return true
}

func (m *Manager) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) run() {
	defer close(m.stopped)
	for {
		m.mu.Lock()
		if len(m.tasks) == 0 {
			closed := m.closed
			m.mu.Unlock()
			if closed {
				return
			}
			<-m.wake
			continue
		}
		fn := m.tasks[0]
		m.tasks[0] = nil
		m.tasks = m.tasks[1:]
		m.mu.Unlock()
		m.runTask(fn)
	}
}

func (m *Manager) runTask(fn func()) {
	defer m.recoverPanic("deferred task")
	fn()
}

func (m *Manager) recoverPanic(where string) {
	if p := recover(); p != nil {
		log.Errorf("display: %s panicked: %v", where, p)
	}
}
