// Package recorder owns a recording: its state machine, the periodic
// sampling of the microphone level, delivery of signals, text and raw audio
// to registered consumers, and keeping the recognizer subscribed.
package recorder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/JeesubKim/live-trans-sub000/log"
	"github.com/JeesubKim/live-trans-sub000/notify"
	"github.com/JeesubKim/live-trans-sub000/pipeline"
	"github.com/JeesubKim/live-trans-sub000/recognizer"
)

const rawQueueLen = 64

// Capture is the microphone side of a recording.
type Capture interface {
	HasPermission(ctx context.Context) (bool, error)
	RequestPermission(ctx context.Context) (bool, error)
	Start(ctx context.Context) error
	Pause() error
	Resume() error
	Stop() error
	// Amplitudes delivers normalized levels in [0,1]; nil if unsupported.
	Amplitudes() <-chan float64
	SetPCMHandler(fn func(pcm []byte, frames uint32))
}

type Config struct {
	SampleInterval   time.Duration            `toml:"sample_interval"`
	DurationInterval time.Duration            `toml:"duration_interval"`
	Restart          RestartConfig            `toml:"restart"`
	Listen           recognizer.ListenOptions `toml:"-"`
}

func DefaultConfig() Config {
	return Config{
		SampleInterval:   100 * time.Millisecond,
		DurationInterval: time.Second,
		Restart:          DefaultRestartConfig(),
	}
}

type Option func(*Recorder)

func WithClock(c clockwork.Clock) Option {
	return func(r *Recorder) { r.clock = c }
}

func WithConfig(cfg Config) Option {
	return func(r *Recorder) { r.cfg = cfg }
}

type Recorder struct {
	capture Capture
	engine  recognizer.Engine
	clock   clockwork.Clock
	cfg     Config

	dispatch  pipeline.Dispatcher
	restart   *restartController
	states    *notify.Topic[StateChange]
	errs      *notify.Topic[error]
	durations *notify.Topic[time.Duration]

	// opMu serializes transitions; mu guards the fields below it.
	opMu sync.Mutex

	mu           sync.Mutex
	state        State
	level        float64
	engineLevel  float64
	elapsed      time.Duration
	segmentStart time.Time
	droppedRaw   int

	stopTicks func()
	raw       chan pipeline.RawAudioData
}

// New builds a recorder. engine may be nil when text comes from elsewhere.
func New(capture Capture, engine recognizer.Engine, opts ...Option) *Recorder {
	r := &Recorder{
		capture:   capture,
		engine:    engine,
		clock:     clockwork.NewRealClock(),
		cfg:       DefaultConfig(),
		states:    notify.NewTopic[StateChange](),
		errs:      notify.NewTopic[error](),
		durations: notify.NewTopic[time.Duration](),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cfg.SampleInterval <= 0 {
		r.cfg.SampleInterval = DefaultConfig().SampleInterval
	}
	if r.cfg.DurationInterval <= 0 {
		r.cfg.DurationInterval = DefaultConfig().DurationInterval
	}
	if r.cfg.Restart.CheckInterval <= 0 {
		r.cfg.Restart.CheckInterval = DefaultRestartConfig().CheckInterval
	}
	r.restart = newRestartController(engine, r.clock, r.cfg.Restart, r.cfg.Listen, r.attachCallbacks)
	return r
}

func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Recorder) States() *notify.Topic[StateChange] { return r.states }

// Errors publishes failures that ended or prevented a recording.
func (r *Recorder) Errors() *notify.Topic[error] { return r.errs }

// Durations publishes the recorded time once per DurationInterval.
func (r *Recorder) Durations() *notify.Topic[time.Duration] { return r.durations }

func (r *Recorder) Stats() RestartStats { return r.restart.snapshot() }

// Register adds a consumer for every data kind it implements.
func (r *Recorder) Register(consumer any) func() {
	return r.dispatch.Register(consumer)
}

// Elapsed is the recorded time, excluding pauses.
func (r *Recorder) Elapsed() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.elapsedLocked()
}

func (r *Recorder) elapsedLocked() time.Duration {
	if r.state == Recording {
		return r.elapsed + r.clock.Since(r.segmentStart)
	}
	return r.elapsed
}

// Initialize checks microphone and recognizer access.
func (r *Recorder) Initialize(ctx context.Context) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()
	if err := check("initialize", r.State()); err != nil {
		return err
	}

	if r.capture == nil {
		return fmt.Errorf("%w: no capture engine", ErrInitializationFailed)
	}
	ok, err := r.capture.HasPermission(ctx)
	if err != nil {
		return fmt.Errorf("%w: microphone: %v", ErrInitializationFailed, err)
	}
	if !ok {
		ok, err = r.capture.RequestPermission(ctx)
		if err != nil {
			return fmt.Errorf("%w: microphone: %v", ErrInitializationFailed, err)
		}
		if !ok {
			return fmt.Errorf("%w: microphone", ErrPermissionDenied)
		}
	}

	if r.engine != nil {
		if !r.engine.IsInitialized() {
			return fmt.Errorf("%w: recognizer not available", ErrInitializationFailed)
		}
		ok, err := r.engine.HasPermission(ctx)
		if err != nil {
			return fmt.Errorf("%w: recognizer: %v", ErrInitializationFailed, err)
		}
		if !ok {
			return fmt.Errorf("%w: recognizer", ErrPermissionDenied)
		}
	}

	r.capture.SetPCMHandler(r.onPCM)
	r.transition(Ready)
	return nil
}

func (r *Recorder) Start(ctx context.Context) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()
	if err := check("start", r.State()); err != nil {
		return err
	}
	if err := r.capture.Start(ctx); err != nil {
		return fmt.Errorf("recorder: start capture: %w", err)
	}
	r.mu.Lock()
	r.elapsed = 0
	r.level = 0
	r.mu.Unlock()
	r.beginSegment()
	return nil
}

func (r *Recorder) Pause(ctx context.Context) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()
	if err := check("pause", r.State()); err != nil {
		return err
	}
	r.endSegment(ctx)
	if err := r.capture.Pause(); err != nil {
		log.Warnf("recorder: pause capture: %v", err)
	}
	r.transition(Paused)
	return nil
}

func (r *Recorder) Resume(ctx context.Context) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()
	if err := check("resume", r.State()); err != nil {
		return err
	}
	if err := r.capture.Resume(); err != nil {
		return fmt.Errorf("recorder: resume capture: %w", err)
	}
	r.beginSegment()
	return nil
}

// Stop ends the recording. Every timer has stopped when it returns.
func (r *Recorder) Stop(ctx context.Context) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()
	return r.stopLocked(ctx)
}

func (r *Recorder) stopLocked(ctx context.Context) error {
	if err := check("stop", r.State()); err != nil {
		return err
	}
	if r.State() == Recording {
		r.endSegment(ctx)
	}
	if err := r.capture.Stop(); err != nil {
		log.Warnf("recorder: stop capture: %v", err)
	}
	r.transition(Stopped)
	r.durations.Publish(r.Elapsed())
	return nil
}

// Close stops an active recording and releases the notification topics.
func (r *Recorder) Close(ctx context.Context) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()
	var err error
	if s := r.State(); s == Recording || s == Paused {
		err = r.stopLocked(ctx)
	}
	r.states.Close()
	r.errs.Close()
	r.durations.Close()
	return err
}

func (r *Recorder) beginSegment() {
	r.mu.Lock()
	r.segmentStart = r.clock.Now()
	r.mu.Unlock()
	r.transition(Recording)

	r.restart.resume()
	if r.engine != nil && !r.restart.request(ReasonStart) {
		log.Warn("recorder: recognizer did not start, retrying on next check")
	}
	r.startTicks()
}

// endSegment disarms restarts before waiting on the tickers so an attempt
// in flight is cancelled rather than waited out.
func (r *Recorder) endSegment(ctx context.Context) {
	r.restart.suspend(ctx)
	r.stopTicksNow()
	r.mu.Lock()
	r.elapsed += r.clock.Since(r.segmentStart)
	r.mu.Unlock()
}

func (r *Recorder) transition(to State) {
	r.mu.Lock()
	from := r.state
	r.state = to
	r.mu.Unlock()
	if from != to {
		log.Infof("recorder: %s -> %s", from, to)
		r.states.Publish(StateChange{From: from, To: to})
	}
}

func (r *Recorder) startTicks() {
	stop := make(chan struct{})
	raw := make(chan pipeline.RawAudioData, rawQueueLen)
	var wg sync.WaitGroup

	r.mu.Lock()
	r.raw = raw
	r.mu.Unlock()

	every := func(d time.Duration, fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			t := r.clock.NewTicker(d)
			defer t.Stop()
			for {
				select {
				case <-stop:
					return
				case <-t.Chan():
					fn()
				}
			}
		}()
	}
	every(r.cfg.SampleInterval, r.sample)
	every(r.cfg.Restart.CheckInterval, r.restart.tick)
	every(r.cfg.DurationInterval, func() { r.durations.Publish(r.Elapsed()) })

	wg.Add(2)
	go func() {
		defer wg.Done()
		r.readLevels(stop)
	}()
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			case a := <-raw:
				r.dispatch.PublishRawAudio(a)
			}
		}
	}()

	r.stopTicks = func() {
		close(stop)
		wg.Wait()
		r.mu.Lock()
		r.raw = nil
		r.mu.Unlock()
	}
}

func (r *Recorder) stopTicksNow() {
	if r.stopTicks != nil {
		r.stopTicks()
		r.stopTicks = nil
	}
}

func (r *Recorder) readLevels(stop <-chan struct{}) {
	levels := r.capture.Amplitudes()
	if levels == nil {
		<-stop
		return
	}
	for {
		select {
		case <-stop:
			return
		case l, ok := <-levels:
			if !ok {
				<-stop
				return
			}
			r.mu.Lock()
			r.level = l
			r.mu.Unlock()
		}
	}
}

// sample publishes one SignalData from the latest level.
func (r *Recorder) sample() {
	r.mu.Lock()
	if r.state != Recording {
		r.mu.Unlock()
		return
	}
	level := r.level
	if r.capture.Amplitudes() == nil {
		level = r.engineLevel
	}
	r.mu.Unlock()

	r.restart.observe(level)
	r.dispatch.PublishSignal(pipeline.NewSignal(level, r.clock.Now()))
}

// onPCM runs on the capture thread; it only queues.
func (r *Recorder) onPCM(pcm []byte, frames uint32) {
	r.mu.Lock()
	raw := r.raw
	recording := r.state == Recording
	r.mu.Unlock()
	if !recording || raw == nil {
		return
	}
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	select {
	case raw <- pipeline.RawAudioData{PCM: buf, Frames: frames, Timestamp: r.clock.Now()}:
	default:
		r.mu.Lock()
		r.droppedRaw++
		n := r.droppedRaw
		r.mu.Unlock()
		if n%100 == 1 {
			log.Warnf("recorder: raw audio consumers falling behind, %d block(s) dropped", n)
		}
	}
}

func (r *Recorder) attachCallbacks() {
	r.engine.SetCallbacks(recognizer.Callbacks{
		OnPartialResult: func(text string) {
			r.publishText(pipeline.TextData{Text: text})
		},
		OnFinalResult: func(text string, confidence float64) {
			r.restart.resultReceived()
			r.publishText(pipeline.TextData{Text: text, Final: true, Confidence: confidence})
			r.restart.afterFinal()
		},
		OnSoundLevelChanged: func(level float64) {
			r.mu.Lock()
			r.engineLevel = level
			r.mu.Unlock()
		},
		OnError: r.onEngineError,
		OnListeningStatusChanged: func(listening bool) {
			log.Debugf("recorder: recognizer listening=%v", listening)
		},
	})
}

func (r *Recorder) publishText(t pipeline.TextData) {
	if r.State() != Recording {
		return
	}
	t.Timestamp = r.clock.Now()
	r.dispatch.PublishText(t)
}

// onEngineError absorbs transient errors; the next restart check picks the
// engine back up. Permanent errors end the recording.
func (r *Recorder) onEngineError(err error) {
	re := recognizer.Classify(err)
	if re.Transient() {
		log.Debugf("recorder: transient recognizer error: %v", re)
		return
	}
	log.Errorf("recorder: recognizer failed: %v", re)
	r.errs.Publish(re)
	go func() {
		if err := r.Stop(context.Background()); err != nil {
			log.Debugf("recorder: stop after failure: %v", err)
		}
	}()
}
