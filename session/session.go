// Package session keeps the crash-safe log of the recording in progress.
//
// Each session is a JSON-lines file: a header record first, then one record
// per confirmed subtitle. Lines are appended through the file queue so the
// recognizer path never waits on disk. On finalize the log is compacted into
// a permanent subtitle file and removed; leftovers from a crash are found on
// the next Open.
package session

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/JeesubKim/live-trans-sub000/encoder"
	"github.com/JeesubKim/live-trans-sub000/fileq"
	"github.com/JeesubKim/live-trans-sub000/log"
	"github.com/JeesubKim/live-trans-sub000/metrics"
	"github.com/JeesubKim/live-trans-sub000/subtitle"
)

const (
	LogExt     = ".temp"
	LogVersion = "1.0"
	headerType = "session_header"

	defaultMirrorSize = 256
)

var (
	ErrNotInitialized = errors.New("session: manager not initialized")
	ErrNoSession      = errors.New("session: no active session")
	ErrNotOrphan      = errors.New("session: not an orphaned session log")
)

type RecoveryPolicy int

const (
	// RecoveryDiscard deletes leftover logs on Open.
	RecoveryDiscard RecoveryPolicy = iota
	// RecoveryKeep leaves them for RecoveryInfo and Recover.
	RecoveryKeep
)

type Header struct {
	SessionID string    `json:"sessionId"`
	StartTime time.Time `json:"startTime"`
	Version   string    `json:"version"`
	Type      string    `json:"type"`
}

type Session struct {
	ID        string
	LogPath   string
	StartTime time.Time
	Count     int
}

type FinalizeRequest struct {
	Title     string
	Category  string
	Language  string
	Model     string
	Duration  *time.Duration
	AudioPath string
}

type Manager struct {
	dir        string
	q          *fileq.Queue
	store      *subtitle.Store
	policy     RecoveryPolicy
	mirrorSize int
	clock      clockwork.Clock

	mu          sync.Mutex
	initialized bool
	active      *Session
	mirror      []subtitle.Item
	lastID      int64
}

type Option func(*Manager)

func WithRecoveryPolicy(p RecoveryPolicy) Option {
	return func(m *Manager) { m.policy = p }
}

// WithMirrorSize bounds the in-memory copy of recent items. The log on disk
// is never bounded.
func WithMirrorSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.mirrorSize = n
		}
	}
}

func WithClock(c clockwork.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

func NewManager(dir string, q *fileq.Queue, store *subtitle.Store, opts ...Option) *Manager {
	m := &Manager{
		dir:        dir,
		q:          q,
		store:      store,
		mirrorSize: defaultMirrorSize,
		clock:      clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open creates the log directory and applies the recovery policy to logs
// left behind by a previous run.
func (m *Manager) Open(ctx context.Context) error {
	if err := os.MkdirAll(m.dir, 0755); err != nil {
		return fmt.Errorf("session: open %s: %w", m.dir, err)
	}
	m.mu.Lock()
	m.initialized = true
	m.mu.Unlock()

	if m.policy == RecoveryKeep {
		return nil
	}
	orphans, err := m.orphanPaths()
	if err != nil {
		return fmt.Errorf("session: scan %s: %w", m.dir, err)
	}
	for _, p := range orphans {
		if err := m.remove(ctx, p); err != nil {
			log.Warnf("session: could not remove leftover log %s: %v", p, err)
			continue
		}
		log.Infof("session: removed leftover log %s", p)
	}
	stray, err := m.strayAudio()
	if err != nil {
		return fmt.Errorf("session: scan %s: %w", m.dir, err)
	}
	for _, p := range stray {
		if err := m.remove(ctx, p); err != nil {
			log.Warnf("session: could not remove leftover audio %s: %v", p, err)
			continue
		}
		log.Infof("session: removed leftover audio %s", p)
	}
	return nil
}

// ArchivePath is where the audio of session id is recorded until the
// session ends. Recovery and discard treat it as part of the session.
func (m *Manager) ArchivePath(id string) string {
	return filepath.Join(m.dir, "session_"+id+encoder.Ext)
}

func audioFor(logPath string) string {
	return strings.TrimSuffix(logPath, LogExt) + encoder.Ext
}

// StartSession opens a new log. Any session still active is discarded
// first, so exactly one session is active afterwards.
func (m *Manager) StartSession(ctx context.Context) (string, error) {
	m.mu.Lock()
	if !m.initialized {
		m.mu.Unlock()
		return "", ErrNotInitialized
	}
	prev := m.active

	now := m.clock.Now()
	id := now.UnixMilli()
	if id <= m.lastID {
		id = m.lastID + 1
	}
	m.lastID = id
	sid := strconv.FormatInt(id, 10)
	s := &Session{
		ID:        sid,
		LogPath:   filepath.Join(m.dir, "session_"+sid+LogExt),
		StartTime: now,
	}
	line, err := encodeLine(Header{SessionID: sid, StartTime: now.UTC(), Version: LogVersion, Type: headerType})
	if err != nil {
		m.mu.Unlock()
		return "", fmt.Errorf("session: header: %w", err)
	}

	var discarded *fileq.Future
	if prev != nil {
		discarded = m.q.Delete(prev.LogPath)
	}
	m.q.Append(s.LogPath, line)
	m.active = s
	m.mirror = m.mirror[:0]
	m.mu.Unlock()

	if prev != nil {
		log.Warnf("session: %s still active, discarding before starting %s", prev.ID, sid)
		if err := discarded.Wait(ctx); ignoreMissing(err) != nil {
			log.Warnf("session: discard %s: %v", prev.ID, err)
		}
		metrics.Sessions.WithLabelValues("discarded").Inc()
		log.SessionEnd(prev.ID, "discarded", prev.Count, "")
	}
	log.SessionStart(sid, s.LogPath)
	return sid, nil
}

// AddSubtitle appends one item to the active log. It never waits on disk;
// append failures are logged by the queue and otherwise ignored.
func (m *Manager) AddSubtitle(item subtitle.Item) {
	line, err := encodeLine(item)
	if err != nil {
		log.Warnf("session: encode item %s: %v", item.ID, err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		log.Warnf("session: no active session, dropping item %q", item.Text)
		return
	}
	m.q.Append(m.active.LogPath, line)
	m.active.Count++
	if len(m.mirror) >= m.mirrorSize {
		copy(m.mirror, m.mirror[1:])
		m.mirror = m.mirror[:len(m.mirror)-1]
	}
	m.mirror = append(m.mirror, item)
	metrics.SubtitlesAppended.Inc()
}

// FinalizeSession compacts the active log into a permanent file and returns
// its path. A session without items is discarded and reports "" with a nil
// error. The session is detached before any I/O; if reading or saving fails
// its log stays on disk and shows up as an orphan.
func (m *Manager) FinalizeSession(ctx context.Context, req FinalizeRequest) (string, error) {
	m.mu.Lock()
	s := m.active
	m.active = nil
	m.mirror = m.mirror[:0]
	m.mu.Unlock()
	if s == nil {
		return "", ErrNoSession
	}

	if err := m.q.Flush().Wait(ctx); err != nil {
		return "", fmt.Errorf("session: flush %s: %w", s.ID, err)
	}
	path, n, err := m.compact(ctx, s.LogPath, req)
	switch {
	case err != nil:
		log.SessionEnd(s.ID, "failed", n, "")
		return path, err
	case path == "":
		metrics.Sessions.WithLabelValues("empty").Inc()
		log.SessionEnd(s.ID, "empty", 0, "")
	default:
		metrics.Sessions.WithLabelValues("finalized").Inc()
		log.SessionEnd(s.ID, "finalized", n, path)
	}
	return path, nil
}

// DiscardSession deletes the active log. Without an active session it does
// nothing.
func (m *Manager) DiscardSession(ctx context.Context) error {
	m.mu.Lock()
	s := m.active
	m.active = nil
	m.mirror = m.mirror[:0]
	m.mu.Unlock()
	if s == nil {
		return nil
	}

	if err := m.remove(ctx, s.LogPath); err != nil {
		return fmt.Errorf("session: discard %s: %w", s.ID, err)
	}
	metrics.Sessions.WithLabelValues("discarded").Inc()
	log.SessionEnd(s.ID, "discarded", s.Count, "")
	return nil
}

func (m *Manager) Active() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return Session{}, false
	}
	return *m.active, true
}

// Items returns the most recent items of the active session, oldest first.
func (m *Manager) Items() []subtitle.Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]subtitle.Item, len(m.mirror))
	copy(out, m.mirror)
	return out
}

func (m *Manager) Dir() string { return m.dir }

// compact turns the log at logPath into a permanent file and removes the
// log. An empty log is only removed.
func (m *Manager) compact(ctx context.Context, logPath string, req FinalizeRequest) (string, int, error) {
	items, _, err := readLog(logPath)
	if err != nil {
		return "", 0, fmt.Errorf("session: read %s: %w", logPath, err)
	}
	if len(items) == 0 {
		if err := m.remove(ctx, logPath); err != nil {
			return "", 0, fmt.Errorf("session: remove empty log: %w", err)
		}
		return "", 0, nil
	}

	path, err := m.store.Save(ctx, subtitle.SaveRequest{
		Title:     req.Title,
		Category:  req.Category,
		Language:  req.Language,
		Model:     req.Model,
		Items:     items,
		Duration:  req.Duration,
		AudioPath: req.AudioPath,
	})
	if err != nil {
		return "", len(items), fmt.Errorf("session: save: %w", err)
	}
	if err := m.remove(ctx, logPath); err != nil {
		return path, len(items), fmt.Errorf("session: saved %s but could not remove log: %w", path, err)
	}
	return path, len(items), nil
}

func (m *Manager) remove(ctx context.Context, path string) error {
	return ignoreMissing(m.q.Delete(path).Wait(ctx))
}

func (m *Manager) orphanPaths() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	activePath := ""
	if m.active != nil {
		activePath = m.active.LogPath
	}
	m.mu.Unlock()

	var paths []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != LogExt {
			continue
		}
		p := filepath.Join(m.dir, e.Name())
		if p == activePath {
			continue
		}
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}

// strayAudio lists session audio files whose log is gone, skipping the
// active session.
func (m *Manager) strayAudio() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	activeAudio := ""
	if m.active != nil {
		activeAudio = audioFor(m.active.LogPath)
	}
	m.mu.Unlock()

	var paths []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "session_") || filepath.Ext(name) != encoder.Ext {
			continue
		}
		p := filepath.Join(m.dir, name)
		if p == activeAudio {
			continue
		}
		logPath := strings.TrimSuffix(p, encoder.Ext) + LogExt
		if _, err := os.Stat(logPath); err == nil {
			continue
		}
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}

func encodeLine(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

type lineProbe struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// walkLog calls fn for each item line of a session log. Corrupt lines,
// including a truncated last line, are counted and skipped.
func walkLog(path string, fn func(raw []byte)) (*Header, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	var (
		header  *Header
		corrupt int
	)
	r := bufio.NewReader(f)
	for {
		line, err := r.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			var probe lineProbe
			switch {
			case json.Unmarshal(line, &probe) != nil:
				corrupt++
			case probe.Type == headerType:
				if header == nil {
					var h Header
					if json.Unmarshal(line, &h) == nil {
						header = &h
					}
				}
			case probe.ID == "":
				corrupt++
			default:
				fn(line)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return header, corrupt, err
		}
	}
	return header, corrupt, nil
}

func readLog(path string) ([]subtitle.Item, *Header, error) {
	var items []subtitle.Item
	seen := map[string]bool{}
	skipped := 0
	header, corrupt, err := walkLog(path, func(raw []byte) {
		var it subtitle.Item
		if json.Unmarshal(raw, &it) != nil || seen[it.ID] {
			skipped++
			return
		}
		seen[it.ID] = true
		items = append(items, it)
	})
	if err != nil {
		return nil, nil, err
	}
	if corrupt+skipped > 0 {
		log.Warnf("session: skipped %d unreadable line(s) in %s", corrupt+skipped, path)
	}
	return items, header, nil
}

func ignoreMissing(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
