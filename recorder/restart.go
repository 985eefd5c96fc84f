package recorder

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/JeesubKim/live-trans-sub000/log"
	"github.com/JeesubKim/live-trans-sub000/metrics"
	"github.com/JeesubKim/live-trans-sub000/recognizer"
)

const (
	ReasonStart     = "start"
	ReasonActivity  = "activity"
	ReasonPrewarm   = "prewarm"
	ReasonPostFinal = "post_final"
)

// RestartConfig tunes when the recognizer is resubscribed. The defaults
// are empirical.
type RestartConfig struct {
	CheckInterval     time.Duration `toml:"check_interval"`
	MinInterval       time.Duration `toml:"min_interval"`
	ActivityThreshold float64       `toml:"activity_threshold"`
	ActivityWindow    int           `toml:"activity_window"`
	BufferSize        int           `toml:"buffer_size"`
	SilenceTimeout    time.Duration `toml:"silence_timeout"`
	StopSettle        time.Duration `toml:"stop_settle"`
	PostFinalDelay    time.Duration `toml:"post_final_delay"`
}

func DefaultRestartConfig() RestartConfig {
	return RestartConfig{
		CheckInterval:     800 * time.Millisecond,
		MinInterval:       250 * time.Millisecond,
		ActivityThreshold: 0.03,
		ActivityWindow:    5,
		BufferSize:        100,
		SilenceTimeout:    5 * time.Second,
		StopSettle:        150 * time.Millisecond,
		PostFinalDelay:    100 * time.Millisecond,
	}
}

type RestartStats struct {
	Attempts    int
	Failures    int
	ByReason    map[string]int
	LastAttempt time.Time
}

// restartController resubscribes an engine that stops listening after each
// utterance. Attempts are single-flight and never closer together than
// MinInterval.
type restartController struct {
	engine recognizer.Engine
	clock  clockwork.Clock
	cfg    RestartConfig
	listen recognizer.ListenOptions
	attach func()

	mu          sync.Mutex
	levels      []float64
	lastResult  time.Time
	lastAttempt time.Time
	inProgress  bool
	stopped     bool
	ctx         context.Context
	cancel      context.CancelFunc
	postFinal   clockwork.Timer
	stats       RestartStats
}

func newRestartController(engine recognizer.Engine, clock clockwork.Clock, cfg RestartConfig, listen recognizer.ListenOptions, attach func()) *restartController {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultRestartConfig().BufferSize
	}
	if cfg.ActivityWindow <= 0 {
		cfg.ActivityWindow = DefaultRestartConfig().ActivityWindow
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return &restartController{
		engine:  engine,
		clock:   clock,
		cfg:     cfg,
		listen:  listen,
		attach:  attach,
		stopped: true,
		ctx:     ctx,
		cancel:  cancel,
		stats:   RestartStats{ByReason: map[string]int{}},
	}
}

// resume arms the controller for a new recording segment.
func (c *restartController) resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = false
	c.lastResult = c.clock.Now()
	c.levels = c.levels[:0]
	c.ctx, c.cancel = context.WithCancel(context.Background())
}

// suspend disarms the controller and stops the engine. An attempt still in
// flight finishes, sees the controller stopped and stops the engine again.
func (c *restartController) suspend(ctx context.Context) {
	c.mu.Lock()
	c.stopped = true
	c.cancel()
	if c.postFinal != nil {
		c.postFinal.Stop()
		c.postFinal = nil
	}
	c.mu.Unlock()

	if c.engine == nil {
		return
	}
	if err := c.engine.Stop(ctx); err != nil {
		log.Warnf("recorder: stop recognizer: %v", err)
	}
}

func (c *restartController) observe(level float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.levels) == c.cfg.BufferSize {
		copy(c.levels, c.levels[1:])
		c.levels = c.levels[:len(c.levels)-1]
	}
	c.levels = append(c.levels, level)
}

func (c *restartController) resultReceived() {
	c.mu.Lock()
	c.lastResult = c.clock.Now()
	c.mu.Unlock()
}

// activityLocked reports whether the mean of the most recent samples is
// above the activity threshold.
func (c *restartController) activityLocked() bool {
	n := c.cfg.ActivityWindow
	if n > len(c.levels) {
		n = len(c.levels)
	}
	if n == 0 {
		return false
	}
	sum := 0.0
	for _, v := range c.levels[len(c.levels)-n:] {
		sum += v
	}
	return sum/float64(n) > c.cfg.ActivityThreshold
}

// tick decides whether an idle engine should be resubscribed.
func (c *restartController) tick() {
	if c.engine == nil || c.engine.IsListening() {
		return
	}
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	reason := ""
	switch {
	case c.activityLocked():
		reason = ReasonActivity
	case c.clock.Since(c.lastResult) > c.cfg.SilenceTimeout:
		reason = ReasonPrewarm
	}
	c.mu.Unlock()

	if reason != "" {
		c.request(reason)
	}
}

// afterFinal schedules a restart shortly after a final result so the gap
// between utterances stays small.
func (c *restartController) afterFinal() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || c.engine == nil {
		return
	}
	if c.postFinal != nil {
		c.postFinal.Stop()
	}
	c.postFinal = c.clock.AfterFunc(c.cfg.PostFinalDelay, func() {
		c.request(ReasonPostFinal)
	})
}

// request runs one restart attempt unless one is already running or the
// last attempt was too recent. It reports whether an attempt succeeded.
func (c *restartController) request(reason string) bool {
	if c.engine == nil {
		return false
	}
	c.mu.Lock()
	if c.stopped || c.inProgress {
		c.mu.Unlock()
		return false
	}
	now := c.clock.Now()
	if !c.lastAttempt.IsZero() && now.Sub(c.lastAttempt) < c.cfg.MinInterval {
		c.mu.Unlock()
		return false
	}
	c.inProgress = true
	c.lastAttempt = now
	c.stats.Attempts++
	c.stats.ByReason[reason]++
	c.stats.LastAttempt = now
	attempt := c.stats.Attempts
	ctx := c.ctx
	c.mu.Unlock()

	err := c.restart(ctx)

	c.mu.Lock()
	c.inProgress = false
	stopped := c.stopped
	if err != nil {
		c.stats.Failures++
	}
	c.mu.Unlock()

	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.Restarts.WithLabelValues(reason, result).Inc()
	log.RecognizerRestart(reason, attempt, c.clock.Since(now), err)

	if stopped && err == nil {
		// the recording ended while the engine was coming up
		c.engine.Stop(context.Background())
		return false
	}
	return err == nil
}

func (c *restartController) restart(ctx context.Context) error {
	if c.engine.IsListening() {
		if err := c.engine.Stop(ctx); err != nil {
			return err
		}
		if c.cfg.StopSettle > 0 {
			select {
			case <-c.clock.After(c.cfg.StopSettle):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	c.engine.SetCallbacks(recognizer.Callbacks{})
	if c.attach != nil {
		c.attach()
	}
	return c.engine.Listen(ctx, c.listen)
}

func (c *restartController) snapshot() RestartStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.ByReason = make(map[string]int, len(c.stats.ByReason))
	for k, v := range c.stats.ByReason {
		s.ByReason[k] = v
	}
	return s
}
