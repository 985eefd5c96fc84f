//go:build linux

package audio

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"
)

type pulseContext struct {
	client *pulse.Client
}

func NewContext() (Context, error) {
	c, err := pulse.NewClient(pulse.ClientApplicationName("livesub"))
	if err != nil {
		return nil, fmt.Errorf("pulse: %w", err)
	}
	return &pulseContext{client: c}, nil
}

func (p *pulseContext) Devices() ([]DeviceInfo, error) {
	sources, err := p.client.ListSources()
	if err != nil {
		return nil, fmt.Errorf("pulse list sources: %w", err)
	}
	devices := make([]DeviceInfo, 0, len(sources))
	for _, s := range sources {
		devices = append(devices, DeviceInfo{ID: s.ID(), Name: s.Name()})
	}
	return devices, nil
}

func (p *pulseContext) NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error) {
	if config.SampleRate == 0 {
		config.SampleRate = SampleRate
	}
	return &pulseCapture{client: p.client, device: device, config: config}, nil
}

func (p *pulseContext) Close() {
	p.client.Close()
}

type pulseCapture struct {
	client   *pulse.Client
	device   *DeviceInfo
	config   CaptureConfig
	callback atomic.Pointer[DataCallback]

	mu     sync.Mutex
	stream *pulse.RecordStream
}

func (c *pulseCapture) deliver(buf []int16) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	cb := c.callback.Load()
	if cb == nil {
		return len(buf), nil
	}
	samples := make([]int16, len(buf))
	copy(samples, buf)
	applyGain(samples, c.config.Gain)
	(*cb)(encodeSamples(samples), uint32(len(samples)))
	return len(buf), nil
}

// Start opens the record stream on first use and (re)starts it.
func (c *pulseCapture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil {
		opts := []pulse.RecordOption{
			pulse.RecordMono,
			pulse.RecordSampleRate(int(c.config.SampleRate)),
			pulse.RecordLatency(0.05),
			pulse.RecordRawOption(func(r *proto.CreateRecordStream) {
				r.ChannelVolumes = proto.ChannelVolumes{uint32(proto.VolumeNorm)}
			}),
		}
		if c.device != nil {
			source, err := c.client.SourceByID(c.device.ID)
			if err != nil {
				return fmt.Errorf("pulse source %q: %w", c.device.Name, err)
			}
			opts = append(opts, pulse.RecordSource(source))
		}
		stream, err := c.client.NewRecord(pulse.Int16Writer(c.deliver), opts...)
		if err != nil {
			return fmt.Errorf("pulse record: %w", err)
		}
		c.stream = stream
	}
	c.stream.Start()
	return nil
}

func (c *pulseCapture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream != nil && c.stream.Running() {
		c.stream.Stop()
	}
}

func (c *pulseCapture) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream != nil {
		c.stream.Stop()
		c.stream.Close()
		c.stream = nil
	}
}

func (c *pulseCapture) SetCallback(cb DataCallback) {
	c.callback.Store(&cb)
}

func (c *pulseCapture) ClearCallback() {
	c.callback.Store(nil)
}
