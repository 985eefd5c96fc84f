//go:build !linux

package beep

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"github.com/JeesubKim/live-trans-sub000/log"
)

type malgoPlayer struct {
	ctx    *malgo.AllocatedContext
	mu     sync.Mutex
	device *malgo.Device

	// read by the device callback
	pcm atomic.Pointer[[]byte]
	pos atomic.Uint32
}

func NewPlayer() (Player, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("malgo playback: %w", err)
	}
	p := &malgoPlayer{ctx: ctx}
	if err := p.initDevice(); err != nil {
		ctx.Uninit()
		ctx.Free()
		return nil, err
	}
	return p, nil
}

func (p *malgoPlayer) initDevice() error {
	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = 1
	cfg.SampleRate = sampleRate
	dev, err := malgo.InitDevice(p.ctx.Context, cfg, malgo.DeviceCallbacks{Data: p.fill})
	if err != nil {
		return fmt.Errorf("malgo playback device: %w", err)
	}
	p.device = dev
	return nil
}

func (p *malgoPlayer) fill(out, _ []byte, frames uint32) {
	clear(out)
	pcm := p.pcm.Load()
	if pcm == nil {
		return
	}
	pos := p.pos.Load()
	if int(pos) >= len(*pcm) {
		p.pcm.Store(nil)
		return
	}
	n := copy(out[:frames*2], (*pcm)[pos:])
	p.pos.Store(pos + uint32(n))
}

// Play replaces whatever cue is still sounding.
func (p *malgoPlayer) Play(c Cue) {
	pcm := Samples(c)
	if len(pcm) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.device == nil {
		return
	}
	p.device.Stop()
	p.pos.Store(0)
	p.pcm.Store(&pcm)
	if err := p.device.Start(); err == nil {
		return
	}
	// the device can go stale across sleep and wake
	p.device.Uninit()
	if err := p.initDevice(); err != nil {
		p.device = nil
		p.pcm.Store(nil)
		log.Warnf("beep: %s cue: %v", c, err)
		return
	}
	if err := p.device.Start(); err != nil {
		p.pcm.Store(nil)
		log.Warnf("beep: %s cue: %v", c, err)
	}
}

func (p *malgoPlayer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.device != nil {
		p.device.Uninit()
		p.device = nil
	}
	if p.ctx != nil {
		p.ctx.Uninit()
		p.ctx.Free()
		p.ctx = nil
	}
}
