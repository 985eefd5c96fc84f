// Package beep plays short tones when a recording pauses, resumes or fails,
// so the global hotkey has feedback while the terminal is hidden.
package beep

import (
	"context"
	"encoding/binary"
	"math"

	"github.com/JeesubKim/live-trans-sub000/notify"
	"github.com/JeesubKim/live-trans-sub000/recorder"
)

const sampleRate = 44100

type Cue int

const (
	Resume Cue = iota + 1
	Pause
	Fail
)

func (c Cue) String() string {
	switch c {
	case Resume:
		return "resume"
	case Pause:
		return "pause"
	case Fail:
		return "fail"
	}
	return "none"
}

type tone struct {
	freq     float64
	duration float64
	volume   float64
	decay    float64
	// repeat plays the tone twice with this gap in seconds.
	repeat float64
}

var tones = map[Cue]tone{
	// high and snappy
	Resume: {freq: 1200, duration: 0.2, volume: 0.5, decay: 60},
	// a little lower with a longer tail
	Pause: {freq: 900, duration: 0.2, volume: 0.5, decay: 40},
	Fail:  {freq: 350, duration: 0.08, volume: 0.6, decay: 30, repeat: 0.05},
}

// Player plays cues without blocking the caller.
type Player interface {
	Play(c Cue)
	Close()
}

// Samples renders a cue as mono signed 16-bit little-endian PCM.
func Samples(c Cue) []byte {
	t, ok := tones[c]
	if !ok {
		return nil
	}
	out := render(t)
	if t.repeat > 0 {
		gap := make([]byte, int(sampleRate*t.repeat)*2)
		second := render(t)
		out = append(append(out, gap...), second...)
	}
	return out
}

func render(t tone) []byte {
	n := int(sampleRate * t.duration)
	buf := make([]byte, n*2)
	for i := 0; i < n; i++ {
		at := float64(i) / sampleRate
		envelope := math.Exp(-at * t.decay)
		s := int16(math.Sin(2*math.Pi*t.freq*at) * 32767 * t.volume * envelope)
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// Follow plays a cue for every pause, resume and recorder error until ctx
// ends or both topics close.
func Follow(ctx context.Context, states *notify.Topic[recorder.StateChange], errs *notify.Topic[error], p Player) {
	sc, cancelStates := states.Subscribe(4)
	defer cancelStates()
	ec, cancelErrs := errs.Subscribe(4)
	defer cancelErrs()

	for sc != nil || ec != nil {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-sc:
			if !ok {
				sc = nil
				continue
			}
			switch {
			case c.To == recorder.Paused:
				p.Play(Pause)
			case c.From == recorder.Paused && c.To == recorder.Recording:
				p.Play(Resume)
			}
		case _, ok := <-ec:
			if !ok {
				ec = nil
				continue
			}
			p.Play(Fail)
		}
	}
}
