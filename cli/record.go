package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/JeesubKim/live-trans-sub000/audio"
	"github.com/JeesubKim/live-trans-sub000/beep"
	"github.com/JeesubKim/live-trans-sub000/config"
	"github.com/JeesubKim/live-trans-sub000/display"
	"github.com/JeesubKim/live-trans-sub000/encoder"
	"github.com/JeesubKim/live-trans-sub000/hotkey"
	"github.com/JeesubKim/live-trans-sub000/log"
	"github.com/JeesubKim/live-trans-sub000/metrics"
	"github.com/JeesubKim/live-trans-sub000/pipeline"
	"github.com/JeesubKim/live-trans-sub000/recognizer"
	"github.com/JeesubKim/live-trans-sub000/recorder"
	"github.com/JeesubKim/live-trans-sub000/session"
	"github.com/JeesubKim/live-trans-sub000/tui"
)

const shutdownTimeout = 10 * time.Second

var errNoRecognizer = errors.New("no speech recognizer configured: set LIVESUB_DEEPGRAM_API_KEY or pass --fake")

var demoScript = []string{
	"welcome to the live caption demo",
	"every confirmed line is saved to the session log",
	"press p to pause and q to save and quit",
}

type recordFlags struct {
	title        string
	category     string
	language     string
	model        string
	device       string
	metricsAddr  string
	fake         bool
	fakeWAV      string
	script       string
	wordInterval time.Duration
	duration     time.Duration
	noTUI        bool
	noHotkey     bool
	noCues       bool
	discard      bool
}

func NewRecordCmd(deps *Dependencies) *cobra.Command {
	var flags recordFlags
	cmd := &cobra.Command{
		Use:     "record",
		Aliases: []string{"start"},
		Short:   "Record with live captions and save the session",
		Long: "Capture the microphone, show live captions and save every confirmed caption. " +
			"Press p (or " + hotkey.Combo + " anywhere) to pause, q to save and quit.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := *deps.Config
			applyRecordFlags(&cfg, flags)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runRecording(ctx, deps, &cfg, flags, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	f := cmd.Flags()
	f.StringVarP(&flags.title, "title", "t", "", "title of the saved file (default: date and time)")
	f.StringVarP(&flags.category, "category", "c", "", "category stored with the file")
	f.StringVarP(&flags.language, "language", "l", "", "recognition language")
	f.StringVar(&flags.model, "model", "", "recognition model")
	f.StringVarP(&flags.device, "device", "d", "", "capture device name or id")
	f.StringVar(&flags.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	f.BoolVar(&flags.fake, "fake", false, "use a synthetic microphone and a scripted recognizer")
	f.StringVar(&flags.fakeWAV, "fake-wav", "", "with --fake, play this 16 kHz mono WAV file as microphone input")
	f.StringVar(&flags.script, "script", "", "with --fake, file with one caption per line")
	f.DurationVar(&flags.wordInterval, "word-interval", 150*time.Millisecond, "with --fake, delay between recognized words")
	f.DurationVar(&flags.duration, "duration", 0, "stop after this long")
	f.BoolVar(&flags.noTUI, "no-tui", false, "print captions instead of the full-screen view")
	f.BoolVar(&flags.noHotkey, "no-hotkey", false, "do not register the global hotkey")
	f.BoolVar(&flags.noCues, "no-cues", false, "do not play pause and resume tones")
	f.BoolVar(&flags.discard, "discard", false, "do not save the session")
	return cmd
}

func applyRecordFlags(cfg *config.Config, flags recordFlags) {
	if flags.category != "" {
		cfg.Category = flags.category
	}
	if flags.language != "" {
		cfg.Language = flags.language
	}
	if flags.model != "" {
		cfg.Model = flags.model
	}
	if flags.device != "" {
		cfg.Device = flags.device
	}
	if flags.metricsAddr != "" {
		cfg.MetricsAddr = flags.metricsAddr
	}
	if flags.noCues {
		cfg.Cues = false
	}
}

// sources is everything a recording captures from.
type sources struct {
	audio  audio.Context
	device *audio.DeviceInfo
	engine recognizer.Engine
	// script is set in fake mode.
	script *recognizer.Fake
	lines  []string
}

func openSources(deps *Dependencies, cfg *config.Config, flags recordFlags) (*sources, error) {
	src := &sources{}
	if flags.fake {
		pcm := audio.Tone(220, 0.25, 3*time.Second)
		if flags.fakeWAV != "" {
			var err error
			if pcm, err = audio.LoadWAV(flags.fakeWAV); err != nil {
				return nil, err
			}
		}
		src.audio = audio.NewFakeContext(pcm)
		src.lines = demoScript
		if flags.script != "" {
			lines, err := readScript(flags.script)
			if err != nil {
				return nil, err
			}
			src.lines = lines
		}
		src.script = recognizer.NewFake()
		src.engine = src.script
		return src, nil
	}

	if cfg.DeepgramAPIKey == "" {
		return nil, errNoRecognizer
	}
	actx, err := deps.OpenAudio()
	if err != nil {
		return nil, fmt.Errorf("opening audio: %w", err)
	}
	if cfg.Device != "" {
		dev, err := audio.FindDevice(actx, cfg.Device)
		if err != nil {
			actx.Close()
			return nil, err
		}
		src.device = dev
	}
	src.audio = actx
	src.engine = recognizer.NewDeepgram(cfg.DeepgramAPIKey)
	return src, nil
}

func readScript(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading script: %w", err)
	}
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, sc.Err()
}

func runRecording(ctx context.Context, deps *Dependencies, cfg *config.Config, flags recordFlags, out, errOut io.Writer) error {
	policy, err := cfg.RecoveryPolicy()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, policy)
	if err != nil {
		return err
	}
	defer a.Close()
	if policy == session.RecoveryKeep {
		if orphans, err := a.sessions.RecoveryInfo(); err == nil && len(orphans) > 0 {
			fmt.Fprintf(errOut, "%d interrupted session(s) found, see 'livesub recover'\n", len(orphans))
		}
	}

	src, err := openSources(deps, cfg, flags)
	if err != nil {
		return err
	}
	defer src.audio.Close()

	capCfg := audio.DefaultCaptureConfig()
	capCfg.Gain = cfg.Gain
	mic := audio.NewMic(src.audio, src.device, capCfg)

	recCfg := cfg.Recorder
	recCfg.Listen = recognizer.ListenOptions{
		Language:   cfg.Language,
		Model:      cfg.Model,
		SampleRate: audio.SampleRate,
		Channels:   audio.Channels,
	}
	rec := recorder.New(mic, src.engine, recorder.WithConfig(recCfg))
	defer rec.Close(context.Background())

	disp := display.New(a.sessions, display.WithHistorySize(cfg.HistorySize))
	defer disp.Close()

	amp := pipeline.NewAmplifier(cfg.Amplifier)
	vis := pipeline.NewWaveformVisualizer(cfg.Visualizer)
	defer vis.Close()
	meter := pipeline.NewLevelMeter()
	amp.Then(vis)
	rec.Register(amp)
	rec.Register(meter)
	rec.Register(disp)
	if raw, ok := src.engine.(pipeline.RawAudioConsumer); ok {
		rec.Register(raw)
	}

	if err := rec.Initialize(ctx); err != nil {
		return err
	}
	sessionID, err := disp.StartSession(ctx)
	if err != nil {
		return err
	}

	var archive *encoder.Archive
	if cfg.ArchiveAudio {
		archive, err = encoder.NewArchive(a.sessions.ArchivePath(sessionID))
		if err != nil {
			log.Warnf("audio archive disabled: %v", err)
			fmt.Fprintf(errOut, "warning: audio will not be archived: %v\n", err)
		} else {
			rec.Register(archive)
		}
	}

	vis.Seed(cfg.Visualizer.MaxBars)
	started := time.Now()
	if err := rec.Start(ctx); err != nil {
		if archive != nil {
			archive.Discard()
		}
		if _, endErr := disp.EndSession(context.Background(), display.EndRequest{}); endErr != nil {
			log.Warnf("discarding session: %v", endErr)
		}
		return err
	}

	runErr := supervise(ctx, deps, cfg, flags, src, rec, disp, vis, out, errOut)

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if s := rec.State(); s == recorder.Recording || s == recorder.Paused {
		if err := rec.Stop(sctx); err != nil {
			log.Warnf("stopping recorder: %v", err)
		}
	}
	elapsed := rec.Elapsed()

	title := flags.title
	if title == "" {
		title = "Session " + started.Format("2006-01-02 15-04")
	}
	save := !flags.discard
	audioPath := ""
	if archive != nil {
		if save && archive.Duration() > 0 {
			if audioPath, err = archive.Finish(encoder.AudioPath(a.store.PathFor(title))); err != nil {
				log.Warnf("finishing audio archive: %v", err)
				fmt.Fprintf(errOut, "warning: audio not saved: %v\n", err)
				archive.Discard()
				audioPath = ""
			}
		} else {
			archive.Discard()
		}
	}

	path, endErr := disp.EndSession(sctx, display.EndRequest{
		Save:      save,
		Title:     title,
		Category:  cfg.Category,
		Language:  cfg.Language,
		Model:     cfg.Model,
		Duration:  &elapsed,
		AudioPath: audioPath,
	})
	switch {
	case audioPath == "":
	case endErr != nil && path == "":
		// the log stays behind for recover, which picks the audio up again
		if err := archive.Move(a.sessions.ArchivePath(sessionID)); err != nil {
			log.Warnf("keeping audio archive for recovery: %v", err)
		}
	case path == "":
		// nothing was captioned, so the recording has no file to belong to
		archive.Discard()
	}

	lv := meter.Levels()
	log.Levels(lv.Peak, lv.Mean, lv.Samples)
	st := rec.Stats()
	log.Infof("recording finished: %s, %d restart attempts", elapsed.Round(time.Second), st.Attempts)

	switch {
	case endErr != nil:
	case path != "":
		fmt.Fprintf(out, "saved %s (%s)\n", path, elapsed.Round(time.Second))
	case save:
		fmt.Fprintln(out, "no captions recorded, nothing saved")
	default:
		fmt.Fprintln(out, "session discarded")
	}
	return errors.Join(runErr, endErr)
}

// supervise runs everything attached to a live recording and returns when
// the user quits, the context ends, or a fatal recorder error stops it.
func supervise(ctx context.Context, deps *Dependencies, cfg *config.Config, flags recordFlags,
	src *sources, rec *recorder.Recorder, disp *display.Manager, vis *pipeline.WaveformVisualizer,
	out, errOut io.Writer) error {

	g, gctx := errgroup.WithContext(ctx)
	runCtx, finish := context.WithCancel(gctx)
	defer finish()

	if cfg.MetricsAddr != "" {
		ln, err := net.Listen("tcp", cfg.MetricsAddr)
		if err != nil {
			return fmt.Errorf("metrics listener: %w", err)
		}
		srv := &http.Server{Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-runCtx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
		log.Infof("serving metrics on %s", ln.Addr())
	}

	if !flags.noHotkey {
		hk := deps.NewHotkey()
		if err := hk.Register(); err != nil {
			log.Warnf("hotkey unavailable: %v", err)
			fmt.Fprintf(errOut, "warning: global hotkey unavailable: %v\n", err)
		} else {
			defer hk.Unregister()
			g.Go(func() error {
				watchHotkey(runCtx, hk, clockwork.NewRealClock(), rec)
				return nil
			})
		}
	}

	if cfg.Cues {
		if player, err := beep.NewPlayer(); err != nil {
			log.Warnf("audio cues disabled: %v", err)
		} else {
			defer player.Close()
			g.Go(func() error {
				beep.Follow(runCtx, rec.States(), rec.Errors(), player)
				return nil
			})
		}
	}

	if src.script != nil {
		g.Go(func() error {
			err := src.script.Play(runCtx, src.lines, flags.wordInterval)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			if err == nil && flags.noTUI {
				finish()
			}
			return err
		})
	}

	if flags.duration > 0 {
		g.Go(func() error {
			t := time.NewTimer(flags.duration)
			defer t.Stop()
			select {
			case <-t.C:
				finish()
			case <-runCtx.Done():
			}
			return nil
		})
	}

	if flags.noTUI {
		g.Go(func() error {
			printCaptions(runCtx, rec, disp, out, errOut, finish)
			return nil
		})
	} else {
		p := tui.NewProgram(tui.Controls{
			TogglePause: func() error { return togglePause(runCtx, rec) },
		})
		g.Go(func() error {
			defer finish()
			_, err := p.Run()
			return err
		})
		g.Go(func() error {
			status := fmt.Sprintf("%s · %s", cfg.Language, sourceName(src))
			p.Send(tui.StatusLineMsg{Text: status})
			tui.Pump(runCtx, tui.Sources{
				States:    rec.States(),
				Durations: rec.Durations(),
				Errors:    rec.Errors(),
				Bars:      vis.Updates(),
				History:   disp.History(),
				Current:   disp.Current(),
				Realtime:  disp.Realtime(),
			}, p.Send)
			return nil
		})
		g.Go(func() error {
			<-runCtx.Done()
			p.Quit()
			return nil
		})
	}

	return g.Wait()
}

func sourceName(src *sources) string {
	switch {
	case src.script != nil:
		return "demo input"
	case src.device != nil:
		return src.device.Name
	}
	return "default input"
}

// printCaptions writes each confirmed caption once and reports recorder
// errors. A recorder that stops on its own ends the run.
func printCaptions(ctx context.Context, rec *recorder.Recorder, disp *display.Manager, out, errOut io.Writer, finish func()) {
	current, cancelCurrent := disp.Current().Subscribe(16)
	defer cancelCurrent()
	states, cancelStates := rec.States().Subscribe(4)
	defer cancelStates()
	errs, cancelErrs := rec.Errors().Subscribe(4)
	defer cancelErrs()

	lastID := ""
	for {
		select {
		case <-ctx.Done():
			return
		case it, ok := <-current:
			if !ok {
				return
			}
			if it != nil && it.ID != lastID {
				lastID = it.ID
				fmt.Fprintf(out, "[%s] %s\n", clock(it.Timestamp), it.Text)
			}
		case c, ok := <-states:
			if !ok {
				return
			}
			if c.To == recorder.Stopped {
				finish()
				return
			}
			if c.To == recorder.Paused || (c.From == recorder.Paused && c.To == recorder.Recording) {
				fmt.Fprintf(errOut, "-- %s --\n", c.To)
			}
		case err, ok := <-errs:
			if !ok {
				return
			}
			fmt.Fprintf(errOut, "error: %v\n", err)
		}
	}
}
