package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JeesubKim/live-trans-sub000/log"
)

var ErrNoDevice = errors.New("audio: no capture device")

// Mic drives one capture device for the recorder: it reports a level per
// audio block and hands the raw PCM on.
type Mic struct {
	ctx    Context
	device *DeviceInfo
	config CaptureConfig
	levels chan float64

	mu      sync.Mutex
	capture CaptureDevice
	handler func(pcm []byte, frames uint32)
}

// NewMic captures from device, or the system default when device is nil.
func NewMic(ctx Context, device *DeviceInfo, config CaptureConfig) *Mic {
	return &Mic{ctx: ctx, device: device, config: config, levels: make(chan float64, 1)}
}

// HasPermission reports whether the configured device (or any device) can
// be enumerated. Desktop audio stacks have no runtime consent prompt.
func (m *Mic) HasPermission(context.Context) (bool, error) {
	devices, err := m.ctx.Devices()
	if err != nil {
		return false, err
	}
	if m.device == nil {
		return len(devices) > 0, nil
	}
	for _, d := range devices {
		if d.ID == m.device.ID {
			return true, nil
		}
	}
	return false, nil
}

// RequestPermission probes by opening the device.
func (m *Mic) RequestPermission(context.Context) (bool, error) {
	c, err := m.ctx.NewCapture(m.device, m.config)
	if err != nil {
		log.Warnf("audio: open capture device: %v", err)
		return false, nil
	}
	c.Close()
	return true, nil
}

func (m *Mic) Start(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.capture == nil {
		c, err := m.ctx.NewCapture(m.device, m.config)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNoDevice, err)
		}
		c.SetCallback(m.onData)
		m.capture = c
	}
	return m.capture.Start()
}

// Pause stops delivery but keeps the device open. The device is stopped
// outside the lock since Stop waits for an in-flight callback.
func (m *Mic) Pause() error {
	m.mu.Lock()
	c := m.capture
	m.mu.Unlock()
	if c != nil {
		c.Stop()
	}
	return nil
}

func (m *Mic) Resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.capture == nil {
		return ErrNoDevice
	}
	return m.capture.Start()
}

func (m *Mic) Stop() error {
	m.mu.Lock()
	c := m.capture
	m.capture = nil
	m.mu.Unlock()
	if c != nil {
		c.ClearCallback()
		c.Stop()
		c.Close()
	}
	return nil
}

func (m *Mic) Amplitudes() <-chan float64 { return m.levels }

func (m *Mic) SetPCMHandler(fn func(pcm []byte, frames uint32)) {
	m.mu.Lock()
	m.handler = fn
	m.mu.Unlock()
}

func (m *Mic) onData(data []byte, frames uint32) {
	level := RMS(data)
	select {
	case m.levels <- level:
	default:
		// keep only the newest level
		select {
		case <-m.levels:
		default:
		}
		select {
		case m.levels <- level:
		default:
		}
	}

	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h != nil {
		h(data, frames)
	}
}
