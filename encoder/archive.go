package encoder

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/JeesubKim/live-trans-sub000/log"
	"github.com/JeesubKim/live-trans-sub000/pipeline"
)

var ErrArchiveClosed = errors.New("encoder: archive closed")

// Archive records a session's raw audio to a FLAC file. It is registered
// with the recorder as a raw-audio consumer; Finish moves the file next to
// the permanent subtitle file once the session is saved.
type Archive struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	enc     *FlacEncoder
	pending []int16
	closed  bool
}

// NewArchive creates the working file at path.
func NewArchive(path string) (*Archive, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	enc, err := NewFlac(f)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}
	return &Archive{path: path, file: f, enc: enc, pending: make([]int16, 0, BlockSize)}, nil
}

// AudioPath returns where the audio of the subtitle file at subsPath is
// stored.
func AudioPath(subsPath string) string {
	return subsPath[:len(subsPath)-len(filepath.Ext(subsPath))] + Ext
}

func (a *Archive) Path() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.path
}

func (a *Archive) ConsumeRawAudio(d pipeline.RawAudioData) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrArchiveClosed
	}
	for i := 0; i+1 < len(d.PCM); i += 2 {
		a.pending = append(a.pending, int16(binary.LittleEndian.Uint16(d.PCM[i:])))
		if len(a.pending) == BlockSize {
			if err := a.enc.EncodeBlock(a.pending); err != nil {
				return err
			}
			a.pending = a.pending[:0]
		}
	}
	return nil
}

// Duration is the length of audio received so far.
func (a *Archive) Duration() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	frames := a.enc.TotalFrames() + uint64(len(a.pending))
	return time.Duration(frames) * time.Second / SampleRate
}

func (a *Archive) closeLocked() error {
	if a.closed {
		return ErrArchiveClosed
	}
	a.closed = true
	var errs []error
	if err := a.enc.EncodeBlock(a.pending); err != nil {
		errs = append(errs, err)
	}
	a.pending = nil
	if err := a.enc.Close(); err != nil {
		errs = append(errs, err)
	}
	// the encoder closes the file itself
	if err := a.file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Finish flushes the archive and moves it to dst.
func (a *Archive) Finish(dst string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.closeLocked(); err != nil {
		return "", fmt.Errorf("finish audio archive: %w", err)
	}
	if err := a.moveLocked(dst); err != nil {
		return "", fmt.Errorf("finish audio archive: %w", err)
	}
	log.Infof("audio: archived %s", dst)
	return dst, nil
}

// Move relocates a finished archive.
func (a *Archive) Move(dst string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.closed {
		return errors.New("encoder: archive is still recording")
	}
	return a.moveLocked(dst)
}

func (a *Archive) moveLocked(dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	if err := os.Rename(a.path, dst); err != nil {
		return err
	}
	a.path = dst
	return nil
}

// Discard closes the archive and removes its file.
func (a *Archive) Discard() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.closeLocked(); err != nil && !errors.Is(err, ErrArchiveClosed) {
		log.Warnf("audio: close discarded archive: %v", err)
	}
	if err := os.Remove(a.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
