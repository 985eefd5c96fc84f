package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	diagnosticsFile = "diagnostics_log.txt"
	transcriptFile  = "transcript_log.txt"
)

var (
	diagLog       zerolog.Logger
	diagWriter    io.WriteCloser
	transcriptOut *os.File
	logMu         sync.Mutex
	logReady      bool
	pid           int
	dir           string
	level         = zerolog.InfoLevel
)

func ResolveDir(flagPath string) (string, error) {
	// Priority 1: --logpath flag
	if flagPath != "" {
		return absolute(flagPath)
	}

	// Priority 2: LIVESUB_LOG_PATH environment variable
	if envPath := os.Getenv("LIVESUB_LOG_PATH"); envPath != "" {
		return absolute(envPath)
	}

	// Priority 3: Default OS-specific location
	return getDefaultDir()
}

func absolute(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

// SetLevel accepts zerolog level names ("debug", "info", "warn", ...).
// Unknown names leave the level unchanged and return an error.
func SetLevel(name string) error {
	lvl, err := zerolog.ParseLevel(name)
	if err != nil {
		return fmt.Errorf("log level %q: %w", name, err)
	}
	logMu.Lock()
	level = lvl
	if logReady {
		diagLog = diagLog.Level(lvl)
	}
	logMu.Unlock()
	return nil
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	var err error
	transcriptOut, err = os.OpenFile(filepath.Join(dir, transcriptFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	diagWriter = &lumberjack.Logger{
		Filename:   filepath.Join(dir, diagnosticsFile),
		MaxSize:    10, // MB
		MaxBackups: 3,
		MaxAge:     14, // days
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagWriter,
		TimeFormat: "2006-01-02 15:04:05.000",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).Level(level).With().Timestamp().Int("pid", pid).Logger()

	logReady = true
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagWriter != nil {
		diagWriter.Close()
		diagWriter = nil
	}
	if transcriptOut != nil {
		transcriptOut.Close()
		transcriptOut = nil
	}
	logReady = false
}

// Logger returns the diagnostics logger, or a disabled one before Init.
func Logger() zerolog.Logger {
	logMu.Lock()
	defer logMu.Unlock()
	if !logReady {
		return zerolog.Nop()
	}
	return diagLog
}

func Debugf(format string, args ...any) {
	if logReady {
		diagLog.Debug().Msg(fmt.Sprintf(format, args...))
	}
}

func Info(msg string) {
	if logReady {
		diagLog.Info().Msg(msg)
	}
}

func Infof(format string, args ...any) {
	if logReady {
		diagLog.Info().Msg(fmt.Sprintf(format, args...))
	}
}

func Error(msg string) {
	if logReady {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

func SessionStart(sessionID, logPath string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("session", sessionID).
		Str("log", logPath).
		Msg("session_start")
}

// SessionEnd records how a session ended: outcome is "finalized",
// "discarded" or "empty".
func SessionEnd(sessionID, outcome string, items int, path string) {
	if !logReady {
		return
	}
	ev := diagLog.Info().
		Str("session", sessionID).
		Str("outcome", outcome).
		Int("items", items)
	if path != "" {
		ev = ev.Str("path", path)
	}
	ev.Msg("session_end")
}

func QueueFailure(op, path string, err error) {
	if !logReady {
		return
	}
	diagLog.Error().
		Str("op", op).
		Str("path", path).
		Err(err).
		Msg("file_queue_failure")
}

func RecognizerRestart(reason string, attempt int, took time.Duration, err error) {
	if !logReady {
		return
	}
	ev := diagLog.Info()
	if err != nil {
		ev = diagLog.Warn().Err(err)
	}
	ev.Str("reason", reason).
		Int("attempt", attempt).
		Float64("took_ms", float64(took.Microseconds())/1000).
		Msg("recognizer_restart")
}

func ConsumerFailure(consumer, kind string, err error) {
	if !logReady {
		return
	}
	diagLog.Warn().
		Str("consumer", consumer).
		Str("kind", kind).
		Err(err).
		Msg("consumer_failure")
}

func Levels(peak, mean float64, samples int) {
	if !logReady {
		return
	}
	diagLog.Info().
		Float64("peak", peak).
		Float64("mean", mean).
		Int("samples", samples).
		Msg("signal_levels")
}

func TranscriptText(sessionID, text string) {
	if !logReady {
		return
	}
	logMu.Lock()
	defer logMu.Unlock()
	if transcriptOut == nil {
		return
	}
	line := fmt.Sprintf("%s\t[%s]\t%s\n", time.Now().Format("2006-01-02 15:04:05"), sessionID, text)
	transcriptOut.WriteString(line)
}
