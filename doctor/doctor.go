// Package doctor runs the diagnostics behind "livesub doctor".
package doctor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/JeesubKim/live-trans-sub000/audio"
	"github.com/JeesubKim/live-trans-sub000/config"
	"github.com/JeesubKim/live-trans-sub000/hotkey"
	"github.com/JeesubKim/live-trans-sub000/recognizer"
)

// Env is what the checks inspect. Nil fields fail their check.
type Env struct {
	Config *config.Config
	Audio  audio.Context
	Engine recognizer.Engine
	Hotkey hotkey.Hotkey

	// Listen is how long the microphone is sampled.
	Listen time.Duration
	// WaitForKey asks the user to press the hotkey instead of only
	// registering it.
	WaitForKey bool
	KeyTimeout time.Duration
}

type Check struct {
	Name string
	Run  func(ctx context.Context, env Env, out io.Writer) (string, error)
}

func Checks() []Check {
	return []Check{
		{"Configuration", checkConfig},
		{"Storage", checkStorage},
		{"Microphone", checkMicrophone},
		{"Speech recognizer", checkRecognizer},
		{"Global hotkey", checkHotkey},
	}
}

// Run executes every check and reports whether all passed.
func Run(ctx context.Context, env Env, checks []Check, out io.Writer) bool {
	fmt.Fprintln(out, "livesub doctor - system diagnostics")
	fmt.Fprintln(out, "===================================")

	allPass := true
	for i, c := range checks {
		fmt.Fprintf(out, "\n[%d/%d] %s\n", i+1, len(checks), c.Name)
		detail, err := c.Run(ctx, env, out)
		if err != nil {
			fmt.Fprintf(out, "  FAIL: %v\n", err)
			allPass = false
			continue
		}
		fmt.Fprintf(out, "  PASS: %s\n", detail)
	}

	fmt.Fprintln(out)
	if allPass {
		fmt.Fprintln(out, "All checks passed!")
	} else {
		fmt.Fprintln(out, "Some checks failed. See details above.")
	}
	return allPass
}

func checkConfig(_ context.Context, env Env, _ io.Writer) (string, error) {
	if env.Config == nil {
		return "", errors.New("no configuration loaded")
	}
	if err := env.Config.Validate(); err != nil {
		return "", err
	}
	if env.Config.Path == "" {
		return "defaults (no config file at " + config.FilePath() + ")", nil
	}
	return "loaded " + env.Config.Path, nil
}

func checkStorage(_ context.Context, env Env, _ io.Writer) (string, error) {
	if env.Config == nil {
		return "", errors.New("no configuration loaded")
	}
	for _, dir := range []string{env.Config.SubtitlesDir, env.Config.SessionsDir} {
		if err := probeDir(dir); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("%s and %s are writable", env.Config.SubtitlesDir, env.Config.SessionsDir), nil
}

func probeDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("cannot create %s: %w", dir, err)
	}
	probe := filepath.Join(dir, ".livesub-doctor")
	if err := os.WriteFile(probe, []byte("ok"), 0644); err != nil {
		return fmt.Errorf("cannot write to %s: %w", dir, err)
	}
	return os.Remove(probe)
}

func checkMicrophone(_ context.Context, env Env, out io.Writer) (string, error) {
	if env.Audio == nil {
		return "", errors.New("cannot connect to audio")
	}
	devices, err := env.Audio.Devices()
	if err != nil {
		return "", fmt.Errorf("cannot list devices: %w", err)
	}
	if len(devices) == 0 {
		return "", errors.New("no capture devices found")
	}

	var device *audio.DeviceInfo
	if env.Config != nil && env.Config.Device != "" {
		if device, err = audio.FindDevice(env.Audio, env.Config.Device); err != nil {
			return "", err
		}
		fmt.Fprintf(out, "  Using device: %s\n", device.Name)
	} else {
		fmt.Fprintf(out, "  Using the default device (%d available)\n", len(devices))
	}
	if device != nil && audio.IsBluetooth(device.Name) {
		fmt.Fprintln(out, "  Warning: bluetooth microphones switch headsets to a low quality profile")
	}

	listen := env.Listen
	if listen <= 0 {
		listen = time.Second
	}
	pcm, err := capture(env.Audio, device, listen, out)
	if err != nil {
		return "", fmt.Errorf("recording error: %w", err)
	}
	if len(pcm) == 0 {
		return "", errors.New("no audio captured")
	}
	level := audio.RMS(pcm)
	detail := fmt.Sprintf("captured %.1f KB, level %.3f", float64(len(pcm))/1024, level)
	if level < 0.001 {
		detail += " (silent; check the input volume)"
	}
	return detail, nil
}

// capture records from device for d and returns the raw PCM.
func capture(actx audio.Context, device *audio.DeviceInfo, d time.Duration, out io.Writer) ([]byte, error) {
	var buf []byte
	var mu sync.Mutex
	stopped := false

	dev, err := actx.NewCapture(device, audio.DefaultCaptureConfig())
	if err != nil {
		return nil, err
	}
	defer dev.Close()
	dev.SetCallback(func(data []byte, _ uint32) {
		mu.Lock()
		if !stopped {
			buf = append(buf, data...)
		}
		mu.Unlock()
	})
	if err := dev.Start(); err != nil {
		return nil, err
	}

	fmt.Fprint(out, "  Recording")
	deadline := time.After(d)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
wait:
	for {
		select {
		case <-deadline:
			break wait
		case <-ticker.C:
			fmt.Fprint(out, ".")
		}
	}
	dev.Stop()
	fmt.Fprintln(out, " done")

	mu.Lock()
	stopped = true
	raw := buf
	mu.Unlock()
	return raw, nil
}

func checkRecognizer(ctx context.Context, env Env, _ io.Writer) (string, error) {
	if env.Engine == nil {
		return "", errors.New("no API key; set LIVESUB_DEEPGRAM_API_KEY or deepgram_api_key in the config file")
	}
	if !env.Engine.IsInitialized() {
		return "", errors.New("recognizer is not initialized")
	}
	ok, err := env.Engine.HasPermission(ctx)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errors.New("recognizer permission denied")
	}

	opts := recognizer.ListenOptions{SampleRate: audio.SampleRate, Channels: audio.Channels}
	if env.Config != nil {
		opts.Language = env.Config.Language
		opts.Model = env.Config.Model
	}
	lctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := env.Engine.Listen(lctx, opts); err != nil {
		if rerr := recognizer.Classify(err); rerr != nil {
			return "", fmt.Errorf("cannot open a stream (%s): %w", rerr.Code, err)
		}
		return "", fmt.Errorf("cannot open a stream: %w", err)
	}
	if err := env.Engine.Stop(lctx); err != nil {
		return "", fmt.Errorf("stream opened but did not close cleanly: %w", err)
	}
	return "stream opened and closed", nil
}

func checkHotkey(ctx context.Context, env Env, out io.Writer) (string, error) {
	if env.Hotkey == nil {
		return "", errors.New("hotkeys are not supported here")
	}
	if err := env.Hotkey.Register(); err != nil {
		return "", fmt.Errorf("could not register hotkey: %w", err)
	}
	defer env.Hotkey.Unregister()
	if !env.WaitForKey {
		return hotkey.Combo + " registered", nil
	}

	timeout := env.KeyTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	fmt.Fprintf(out, "  Press %s...\n", hotkey.Combo)
	select {
	case <-env.Hotkey.Keydown():
	case <-time.After(timeout):
		return "", errors.New("timeout waiting for hotkey")
	case <-ctx.Done():
		return "", ctx.Err()
	}
	select {
	case <-env.Hotkey.Keyup():
	case <-time.After(5 * time.Second):
	case <-ctx.Done():
	}
	return "hotkey detected", nil
}
