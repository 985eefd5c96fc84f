package pipeline

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type signalSink struct {
	mu   sync.Mutex
	got  []float64
	errs []error
}

func (s *signalSink) ConsumeSignal(d SignalData) error {
	s.mu.Lock()
	s.got = append(s.got, d.Amplitude)
	s.mu.Unlock()
	return nil
}

func (s *signalSink) amplitudes() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float64(nil), s.got...)
}

type panicker struct{}

func (panicker) ConsumeSignal(SignalData) error { panic("boom") }

type failing struct {
	reported []error
	kinds    []Kind
}

func (f *failing) ConsumeSignal(SignalData) error { return errors.New("bad signal") }
func (f *failing) ReportError(kind Kind, err error) {
	f.kinds = append(f.kinds, kind)
	f.reported = append(f.reported, err)
}

type textSink struct{ got []string }

func (t *textSink) ConsumeText(d TextData) error {
	t.got = append(t.got, d.Text)
	return nil
}

type rawSink struct{ frames uint32 }

func (r *rawSink) ConsumeRawAudio(d RawAudioData) error {
	r.frames += d.Frames
	return nil
}

func TestDispatchIsolation(t *testing.T) {
	var d Dispatcher
	bad := &failing{}
	good := &signalSink{}
	d.Register(panicker{})
	d.Register(bad)
	d.Register(good)

	for i := 1; i <= 20; i++ {
		d.PublishSignal(NewSignal(float64(i), time.Now()))
	}

	got := good.amplitudes()
	require.Len(t, got, 20)
	for i, v := range got {
		assert.Equal(t, float64(i+1), v)
	}
	assert.Len(t, bad.reported, 20)
	assert.Equal(t, KindSignal, bad.kinds[0])
}

func TestDispatchRoutesByCapability(t *testing.T) {
	var d Dispatcher
	sig := &signalSink{}
	txt := &textSink{}
	raw := &rawSink{}
	d.Register(sig)
	d.Register(txt)
	d.Register(raw)
	unregister := d.Register(struct{}{})
	unregister()

	d.PublishText(TextData{Text: "hello"})
	d.PublishRawAudio(RawAudioData{Frames: 160})
	d.PublishSignal(NewSignal(0.5, time.Now()))

	assert.Equal(t, []string{"hello"}, txt.got)
	assert.Equal(t, uint32(160), raw.frames)
	assert.Equal(t, []float64{0.5}, sig.amplitudes())
	assert.Equal(t, 1, d.Len(KindText))
	assert.Equal(t, 1, d.Len(KindSignal))
}

func TestUnregister(t *testing.T) {
	var d Dispatcher
	a := &signalSink{}
	b := &signalSink{}
	unA := d.Register(a)
	d.Register(b)

	d.PublishSignal(NewSignal(1, time.Now()))
	unA()
	unA()
	d.PublishSignal(NewSignal(2, time.Now()))

	assert.Equal(t, []float64{1}, a.amplitudes())
	assert.Equal(t, []float64{1, 2}, b.amplitudes())
}

func TestStageForwardsOtherKinds(t *testing.T) {
	amp := NewAmplifier(DefaultAmplifierConfig())
	txt := &textSink{}
	raw := &rawSink{}
	amp.Then(txt)
	amp.Then(raw)

	var d Dispatcher
	d.Register(amp)
	d.PublishText(TextData{Text: "passes through"})
	d.PublishRawAudio(RawAudioData{Frames: 10})

	assert.Equal(t, []string{"passes through"}, txt.got)
	assert.Equal(t, uint32(10), raw.frames)
}

func TestAmplifierBounds(t *testing.T) {
	cfg := DefaultAmplifierConfig()
	a := NewAmplifier(cfg)
	for x := 0.0; x <= 2.0; x += 0.001 {
		y := a.Amplify(x)
		if x <= cfg.QuietBaseline {
			assert.Equal(t, cfg.QuietBaseline, y, "input %v", x)
			continue
		}
		assert.GreaterOrEqual(t, y, cfg.MinThreshold, "input %v", x)
		assert.LessOrEqual(t, y, cfg.MaxThreshold, "input %v", x)
	}
	assert.InDelta(t, 0.3, a.Amplify(0.1), 1e-9)
	assert.Equal(t, 0.02, a.Amplify(0.006))
}

func TestAmplifierTreatsNaNAsSilence(t *testing.T) {
	cfg := DefaultAmplifierConfig()
	a := NewAmplifier(cfg)
	assert.Equal(t, cfg.QuietBaseline, a.Amplify(math.NaN()))
	assert.Equal(t, cfg.MaxThreshold, a.Amplify(math.Inf(1)))
}

func TestAmplifierKeepsOriginalInMetadata(t *testing.T) {
	a := NewAmplifier(DefaultAmplifierConfig())
	out := &capture{}
	a.Then(out)

	in := NewSignal(0.1, time.Now())
	require.NoError(t, a.ConsumeSignal(in))
	require.Len(t, out.got, 1)

	got := out.got[0]
	assert.InDelta(t, 0.3, got.Amplitude, 1e-9)
	orig, ok := got.Meta(MetaOriginal)
	require.True(t, ok)
	assert.Equal(t, 0.1, orig)
	stage, _ := got.Meta("stage")
	assert.Equal(t, "amplifier", stage)
	assert.Nil(t, in.Metadata, "input is not modified")
}

type capture struct{ got []SignalData }

func (c *capture) ConsumeSignal(s SignalData) error {
	c.got = append(c.got, s)
	return nil
}

func TestVisualizerBound(t *testing.T) {
	v := NewWaveformVisualizer(VisualizerConfig{MaxBars: 50})
	for i := 0; i < 120; i++ {
		require.NoError(t, v.ConsumeSignal(NewSignal(float64(i), time.Now())))
		assert.LessOrEqual(t, len(v.Bars()), 50)
	}
	bars := v.Bars()
	require.Len(t, bars, 50)
	for i, b := range bars {
		assert.Equal(t, float64(70+i), b)
	}
}

func TestVisualizerSmoothing(t *testing.T) {
	v := NewWaveformVisualizer(VisualizerConfig{MaxBars: 10, Smoothing: true, SmoothingFactor: 0.3})
	v.ConsumeSignal(NewSignal(1, time.Now()))
	v.ConsumeSignal(NewSignal(0, time.Now()))
	v.ConsumeSignal(NewSignal(1, time.Now()))

	bars := v.Bars()
	require.Len(t, bars, 3)
	assert.InDelta(t, 1.0, bars[0], 1e-9)
	assert.InDelta(t, 0.7, bars[1], 1e-9)
	assert.InDelta(t, 0.79, bars[2], 1e-9)
}

func TestVisualizerSeedClearAndUpdates(t *testing.T) {
	v := NewWaveformVisualizer(VisualizerConfig{MaxBars: 5})
	defer v.Close()
	updates, cancel := v.Updates().Subscribe(16)
	defer cancel()

	v.Seed(8)
	assert.Equal(t, []float64{0.01, 0.01, 0.01, 0.01, 0.01}, v.Bars())
	assert.Len(t, <-updates, 5)

	v.ConsumeSignal(NewSignal(0.5, time.Now()))
	last := <-updates
	assert.Equal(t, 0.5, last[4])
	assert.Len(t, last, 5)

	v.Clear()
	assert.Empty(t, v.Bars())
	assert.Empty(t, <-updates)
}

func TestChainAmplifierIntoVisualizer(t *testing.T) {
	amp := NewAmplifier(DefaultAmplifierConfig())
	vis := NewWaveformVisualizer(DefaultVisualizerConfig())
	amp.Then(vis)

	var d Dispatcher
	d.Register(amp)
	d.PublishSignal(NewSignal(0.001, time.Now()))
	d.PublishSignal(NewSignal(0.2, time.Now()))

	bars := vis.Bars()
	require.Len(t, bars, 2)
	assert.Equal(t, 0.005, bars[0])
	assert.InDelta(t, 0.6, bars[1], 1e-9)
}

func TestLevelMeter(t *testing.T) {
	m := NewLevelMeter()
	next := &signalSink{}
	m.Then(next)
	for _, a := range []float64{0.1, 0.5, 0.3} {
		m.ConsumeSignal(NewSignal(a, time.Now()))
	}
	l := m.Levels()
	assert.Equal(t, 0.5, l.Peak)
	assert.InDelta(t, 0.3, l.Mean, 1e-9)
	assert.Equal(t, 3, l.Samples)
	assert.Len(t, next.amplitudes(), 3)

	m.Reset()
	assert.Equal(t, Levels{}, m.Levels())
}
