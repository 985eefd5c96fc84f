package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/JeesubKim/live-trans-sub000/encoder"
	"github.com/JeesubKim/live-trans-sub000/log"
	"github.com/JeesubKim/live-trans-sub000/metrics"
)

// Orphan describes a session log that was neither finalized nor discarded.
type Orphan struct {
	Path    string
	Header  *Header // nil when the header line is missing or unreadable
	Items   int
	Corrupt int
	// Audio is the session's audio archive, "" when none was left behind.
	Audio string
}

// RecoveryInfo inspects leftover logs without decoding their items.
func (m *Manager) RecoveryInfo() ([]Orphan, error) {
	paths, err := m.orphanPaths()
	if err != nil {
		return nil, fmt.Errorf("session: scan %s: %w", m.dir, err)
	}
	out := make([]Orphan, 0, len(paths))
	for _, p := range paths {
		o := Orphan{Path: p}
		header, corrupt, err := walkLog(p, func([]byte) { o.Items++ })
		if err != nil {
			log.Warnf("session: inspect %s: %v", p, err)
			continue
		}
		o.Header = header
		o.Corrupt = corrupt
		if audio := audioFor(p); fileExists(audio) {
			o.Audio = audio
		}
		out = append(out, o)
	}
	return out, nil
}

// Recover compacts an orphaned log the same way FinalizeSession does. An
// audio archive left with the log moves next to the permanent file and is
// recorded in its metadata.
func (m *Manager) Recover(ctx context.Context, path string, req FinalizeRequest) (string, error) {
	if err := m.checkOrphan(path); err != nil {
		return "", err
	}
	audio := audioFor(path)
	moved := ""
	if fileExists(audio) {
		dst := encoder.AudioPath(m.store.PathFor(req.Title))
		if err := m.q.Rename(audio, dst).Wait(ctx); err != nil {
			return "", fmt.Errorf("session: move audio of %s: %w", path, err)
		}
		moved = dst
		req.AudioPath = dst
	}

	out, n, err := m.compact(ctx, path, req)
	switch {
	case moved == "":
	case err != nil && out == "":
		// the log is still an orphan; keep its audio with it
		if rerr := m.q.Rename(moved, audio).Wait(ctx); rerr != nil {
			log.Warnf("session: return audio %s to %s: %v", moved, audio, rerr)
		}
	case out == "":
		if rerr := m.remove(ctx, moved); rerr != nil {
			log.Warnf("session: remove audio of empty session %s: %v", moved, rerr)
		}
	}
	if err != nil {
		return out, err
	}
	outcome := "recovered"
	if out == "" {
		outcome = "empty"
	}
	metrics.Sessions.WithLabelValues(outcome).Inc()
	log.SessionEnd(filepath.Base(path), outcome, n, out)
	return out, nil
}

// DiscardOrphan deletes a leftover log and its audio archive.
func (m *Manager) DiscardOrphan(ctx context.Context, path string) error {
	if err := m.checkOrphan(path); err != nil {
		return err
	}
	if err := m.remove(ctx, path); err != nil {
		return fmt.Errorf("session: discard orphan %s: %w", path, err)
	}
	if err := m.remove(ctx, audioFor(path)); err != nil {
		return fmt.Errorf("session: discard orphan audio %s: %w", path, err)
	}
	return nil
}

// DiscardOrphans removes every leftover log and reports all failures.
func (m *Manager) DiscardOrphans(ctx context.Context) error {
	paths, err := m.orphanPaths()
	if err != nil {
		return err
	}
	var errs []error
	for _, p := range paths {
		errs = append(errs, m.DiscardOrphan(ctx, p))
	}
	return errors.Join(errs...)
}

func (m *Manager) checkOrphan(path string) error {
	if filepath.Ext(path) != LogExt {
		return fmt.Errorf("%w: %s", ErrNotOrphan, path)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil && m.active.LogPath == path {
		return fmt.Errorf("%w: %s belongs to the active session", ErrNotOrphan, path)
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
