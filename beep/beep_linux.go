//go:build linux

package beep

import (
	"fmt"
	"sync"

	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"

	"github.com/JeesubKim/live-trans-sub000/log"
)

type pulsePlayer struct {
	client *pulse.Client
	mu     sync.Mutex
	closed bool
}

func NewPlayer() (Player, error) {
	c, err := pulse.NewClient(pulse.ClientApplicationName("livesub"))
	if err != nil {
		return nil, fmt.Errorf("pulse playback: %w", err)
	}
	return &pulsePlayer{client: c}, nil
}

func (p *pulsePlayer) Play(c Cue) {
	pcm := Samples(c)
	if len(pcm) == 0 {
		return
	}
	go p.play(c, pcm)
}

// play runs one playback stream to completion. Streams are serialized so
// cues never overlap.
func (p *pulsePlayer) play(c Cue, pcm []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	pos := 0
	reader := pulse.Int16Reader(func(buf []int16) (int, error) {
		if pos >= len(pcm) {
			return 0, pulse.EndOfData
		}
		n := 0
		for n < len(buf) && pos+1 < len(pcm) {
			buf[n] = int16(uint16(pcm[pos]) | uint16(pcm[pos+1])<<8)
			n++
			pos += 2
		}
		return n, nil
	})
	stream, err := p.client.NewPlayback(reader,
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(sampleRate),
		pulse.PlaybackLatency(0.1),
		pulse.PlaybackRawOption(func(cs *proto.CreatePlaybackStream) {
			cs.ChannelVolumes = proto.ChannelVolumes{uint32(proto.VolumeNorm)}
		}),
	)
	if err != nil {
		log.Warnf("beep: %s cue: %v", c, err)
		return
	}
	stream.Start()
	stream.Drain()
	stream.Stop()
	stream.Close()
}

func (p *pulsePlayer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.client.Close()
}
