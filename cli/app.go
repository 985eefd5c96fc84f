package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/JeesubKim/live-trans-sub000/config"
	"github.com/JeesubKim/live-trans-sub000/fileq"
	"github.com/JeesubKim/live-trans-sub000/log"
	"github.com/JeesubKim/live-trans-sub000/session"
	"github.com/JeesubKim/live-trans-sub000/subtitle"
)

const drainTimeout = 5 * time.Second

// app holds the storage side shared by every command: one file queue, the
// subtitle store and the session manager writing through it.
type app struct {
	queue    *fileq.Queue
	store    *subtitle.Store
	sessions *session.Manager
}

// newApp opens storage. Only record applies the configured recovery policy;
// the other commands pass RecoveryKeep so that browsing never deletes logs.
func newApp(ctx context.Context, cfg *config.Config, policy session.RecoveryPolicy) (*app, error) {
	q := fileq.New()
	store := subtitle.NewStore(cfg.SubtitlesDir, q)
	sessions := session.NewManager(cfg.SessionsDir, q, store,
		session.WithRecoveryPolicy(policy),
		session.WithMirrorSize(cfg.HistorySize*5),
	)
	if err := sessions.Open(ctx); err != nil {
		q.Close(context.Background())
		return nil, err
	}
	return &app{queue: q, store: store, sessions: sessions}, nil
}

// Close drains the file queue, giving pending writes a bounded grace period.
func (a *app) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := a.queue.Close(ctx); err != nil {
		log.Warnf("file queue did not drain: %v", err)
		return err
	}
	return nil
}

// resolve maps a command argument to a subtitle file. The argument may be a
// path or a title.
func (a *app) resolve(arg string) (string, error) {
	if filepath.Ext(arg) == subtitle.Ext {
		if _, err := os.Stat(arg); err == nil {
			return arg, nil
		}
		p := filepath.Join(a.store.Dir(), filepath.Base(arg))
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	p := a.store.PathFor(arg)
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("no subtitle file for %q", arg)
		}
		return "", err
	}
	return p, nil
}
