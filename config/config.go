// Package config loads livesub settings from a TOML file and LIVESUB_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/JeesubKim/live-trans-sub000/log"
	"github.com/JeesubKim/live-trans-sub000/pipeline"
	"github.com/JeesubKim/live-trans-sub000/recorder"
	"github.com/JeesubKim/live-trans-sub000/session"
)

const envPrefix = "LIVESUB_"

type Config struct {
	SubtitlesDir   string `toml:"subtitles_dir"`
	SessionsDir    string `toml:"sessions_dir"`
	Language       string `toml:"language"`
	Model          string `toml:"model"`
	Category       string `toml:"category"`
	DeepgramAPIKey string `toml:"deepgram_api_key"`
	Device         string `toml:"device"`
	Gain           int    `toml:"gain"`
	ArchiveAudio   bool   `toml:"archive_audio"`
	// Cues plays a tone on pause, resume and recorder errors.
	Cues        bool `toml:"cues"`
	HistorySize int  `toml:"history_size"`
	// Recovery is "discard" or "keep": what to do with temp logs left by a
	// crashed run.
	Recovery    string `toml:"recovery"`
	MetricsAddr string `toml:"metrics_addr"`
	LogLevel    string `toml:"log_level"`

	Recorder   recorder.Config           `toml:"recorder"`
	Amplifier  pipeline.AmplifierConfig  `toml:"amplifier"`
	Visualizer pipeline.VisualizerConfig `toml:"visualizer"`

	// Path is the file the config was read from, empty if none.
	Path string `toml:"-"`
}

func Default() *Config {
	data := dataDir()
	return &Config{
		SubtitlesDir: filepath.Join(data, "subtitles"),
		SessionsDir:  filepath.Join(data, "sessions"),
		Language:     "en",
		Category:     "general",
		Gain:         1,
		ArchiveAudio: true,
		Cues:         true,
		HistorySize:  20,
		Recovery:     "discard",
		LogLevel:     "info",
		Recorder:     recorder.DefaultConfig(),
		Amplifier:    pipeline.DefaultAmplifierConfig(),
		Visualizer:   pipeline.DefaultVisualizerConfig(),
	}
}

// Load reads path, or the default config file when path is empty, then
// applies environment overrides. A missing default file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = os.Getenv(envPrefix + "CONFIG")
		explicit = path != ""
	}
	if !explicit {
		path = FilePath()
	}

	if path != "" {
		md, err := toml.DecodeFile(path, cfg)
		switch {
		case err == nil:
			cfg.Path = path
			if undecoded := md.Undecoded(); len(undecoded) > 0 {
				log.Warnf("config: unknown keys in %s: %v", path, undecoded)
			}
		case errors.Is(err, fs.ErrNotExist) && !explicit:
		default:
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	cfg.SubtitlesDir = expandTilde(cfg.SubtitlesDir)
	cfg.SessionsDir = expandTilde(cfg.SessionsDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.SubtitlesDir == "" {
		errs = append(errs, errors.New("subtitles_dir is empty"))
	}
	if c.SessionsDir == "" {
		errs = append(errs, errors.New("sessions_dir is empty"))
	}
	if _, err := c.RecoveryPolicy(); err != nil {
		errs = append(errs, err)
	}
	if c.HistorySize < 1 {
		errs = append(errs, fmt.Errorf("history_size must be positive, got %d", c.HistorySize))
	}
	if c.Visualizer.MaxBars < 1 {
		errs = append(errs, fmt.Errorf("visualizer.max_bars must be positive, got %d", c.Visualizer.MaxBars))
	}
	if f := c.Visualizer.SmoothingFactor; f < 0 || f > 1 {
		errs = append(errs, fmt.Errorf("visualizer.smoothing_factor must be within [0,1], got %v", f))
	}
	if c.Recorder.Restart.MinInterval < 0 {
		errs = append(errs, errors.New("recorder.restart.min_interval is negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func (c *Config) RecoveryPolicy() (session.RecoveryPolicy, error) {
	switch strings.ToLower(c.Recovery) {
	case "", "discard":
		return session.RecoveryDiscard, nil
	case "keep":
		return session.RecoveryKeep, nil
	}
	return 0, fmt.Errorf("recovery must be discard or keep, got %q", c.Recovery)
}

func applyEnvOverrides(c *Config) error {
	str := map[string]*string{
		"SUBTITLES_DIR":    &c.SubtitlesDir,
		"SESSIONS_DIR":     &c.SessionsDir,
		"LANGUAGE":         &c.Language,
		"MODEL":            &c.Model,
		"CATEGORY":         &c.Category,
		"DEEPGRAM_API_KEY": &c.DeepgramAPIKey,
		"DEVICE":           &c.Device,
		"RECOVERY":         &c.Recovery,
		"METRICS_ADDR":     &c.MetricsAddr,
		"LOG_LEVEL":        &c.LogLevel,
	}
	for name, dst := range str {
		if v := os.Getenv(envPrefix + name); v != "" {
			*dst = v
		}
	}
	if c.DeepgramAPIKey == "" {
		c.DeepgramAPIKey = os.Getenv("DEEPGRAM_API_KEY")
	}

	if v := os.Getenv(envPrefix + "HISTORY_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sHISTORY_SIZE: %w", envPrefix, err)
		}
		c.HistorySize = n
	}
	bools := map[string]*bool{
		"ARCHIVE_AUDIO": &c.ArchiveAudio,
		"CUES":          &c.Cues,
	}
	for name, dst := range bools {
		if v := os.Getenv(envPrefix + name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, name, err)
			}
			*dst = b
		}
	}
	return nil
}

// FilePath is the default config file location.
func FilePath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "livesub", "config.toml")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "livesub", "config.toml")
	}
	return ""
}

func dataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "livesub")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "livesub")
	}
	return "livesub"
}

func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
