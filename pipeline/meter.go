package pipeline

import (
	"math"
	"sync"
)

type Levels struct {
	Peak    float64
	Mean    float64
	RMS     float64
	Samples int
}

// LevelMeter accumulates amplitude statistics for the current recording.
type LevelMeter struct {
	Stage

	mu    sync.Mutex
	peak  float64
	sum   float64
	sumSq float64
	n     int
}

func NewLevelMeter() *LevelMeter {
	return &LevelMeter{}
}

func (m *LevelMeter) ConsumeSignal(s SignalData) error {
	a := s.Amplitude
	m.mu.Lock()
	if a > m.peak {
		m.peak = a
	}
	m.sum += a
	m.sumSq += a * a
	m.n++
	m.mu.Unlock()
	m.Emit(s)
	return nil
}

func (m *LevelMeter) Levels() Levels {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.n == 0 {
		return Levels{}
	}
	return Levels{
		Peak:    m.peak,
		Mean:    m.sum / float64(m.n),
		RMS:     math.Sqrt(m.sumSq / float64(m.n)),
		Samples: m.n,
	}
}

func (m *LevelMeter) Reset() {
	m.mu.Lock()
	m.peak, m.sum, m.sumSq, m.n = 0, 0, 0, 0
	m.mu.Unlock()
}
