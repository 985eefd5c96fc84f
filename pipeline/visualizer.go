package pipeline

import (
	"sync"

	"github.com/JeesubKim/live-trans-sub000/notify"
)

const placeholderBar = 0.01

type VisualizerConfig struct {
	MaxBars         int     `toml:"max_bars"`
	Smoothing       bool    `toml:"smoothing"`
	SmoothingFactor float64 `toml:"smoothing_factor"`
}

func DefaultVisualizerConfig() VisualizerConfig {
	return VisualizerConfig{MaxBars: 50, SmoothingFactor: 0.3}
}

// WaveformVisualizer keeps the last MaxBars amplitudes and publishes the
// whole bar list after every change.
type WaveformVisualizer struct {
	Stage
	cfg VisualizerConfig

	mu          sync.Mutex
	bars        []float64
	smoothed    float64
	hasSmoothed bool

	updates *notify.Topic[[]float64]
}

func NewWaveformVisualizer(cfg VisualizerConfig) *WaveformVisualizer {
	if cfg.MaxBars <= 0 {
		cfg.MaxBars = DefaultVisualizerConfig().MaxBars
	}
	return &WaveformVisualizer{
		cfg:     cfg,
		bars:    make([]float64, 0, cfg.MaxBars),
		updates: notify.NewTopic[[]float64](),
	}
}

func (v *WaveformVisualizer) ConsumeSignal(s SignalData) error {
	v.mu.Lock()
	amp := s.Amplitude
	if v.cfg.Smoothing {
		if v.hasSmoothed {
			amp = v.cfg.SmoothingFactor*amp + (1-v.cfg.SmoothingFactor)*v.smoothed
		}
		v.smoothed = amp
		v.hasSmoothed = true
	}
	v.push(amp)
	bars := v.copyLocked()
	v.mu.Unlock()

	v.updates.Publish(bars)
	v.Emit(s)
	return nil
}

func (v *WaveformVisualizer) push(amp float64) {
	if len(v.bars) == v.cfg.MaxBars {
		copy(v.bars, v.bars[1:])
		v.bars = v.bars[:len(v.bars)-1]
	}
	v.bars = append(v.bars, amp)
}

// Bars returns the visible bars, oldest first.
func (v *WaveformVisualizer) Bars() []float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.copyLocked()
}

func (v *WaveformVisualizer) Clear() {
	v.mu.Lock()
	v.bars = v.bars[:0]
	v.hasSmoothed = false
	v.smoothed = 0
	v.mu.Unlock()
	v.updates.Publish([]float64{})
}

// Seed replaces the bars with count near-zero placeholders so the display
// is not empty before the first sample arrives.
func (v *WaveformVisualizer) Seed(count int) {
	if count > v.cfg.MaxBars {
		count = v.cfg.MaxBars
	}
	v.mu.Lock()
	v.bars = v.bars[:0]
	v.hasSmoothed = false
	for i := 0; i < count; i++ {
		v.bars = append(v.bars, placeholderBar)
	}
	bars := v.copyLocked()
	v.mu.Unlock()
	v.updates.Publish(bars)
}

func (v *WaveformVisualizer) Updates() *notify.Topic[[]float64] {
	return v.updates
}

func (v *WaveformVisualizer) Close() {
	v.updates.Close()
}

func (v *WaveformVisualizer) copyLocked() []float64 {
	out := make([]float64, len(v.bars))
	copy(out, v.bars)
	return out
}
