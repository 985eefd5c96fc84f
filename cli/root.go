// Package cli wires the livesub commands together.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/JeesubKim/live-trans-sub000/audio"
	"github.com/JeesubKim/live-trans-sub000/config"
	"github.com/JeesubKim/live-trans-sub000/hotkey"
	"github.com/JeesubKim/live-trans-sub000/log"
)

var Version = "dev"

type Dependencies struct {
	// Config is filled in before any subcommand runs.
	Config *config.Config
	Stdout io.Writer
	Stderr io.Writer
	// Stdin is used by interactive device selection.
	Stdin *os.File

	// OpenAudio and NewHotkey default to the platform implementations.
	OpenAudio func() (audio.Context, error)
	NewHotkey func() hotkey.Hotkey
}

type rootFlags struct {
	configPath string
	logPath    string
	logLevel   string
}

func NewRootCmd(deps *Dependencies) *cobra.Command {
	if deps.Stdout == nil {
		deps.Stdout = os.Stdout
	}
	if deps.Stderr == nil {
		deps.Stderr = os.Stderr
	}
	if deps.Stdin == nil {
		deps.Stdin = os.Stdin
	}
	if deps.OpenAudio == nil {
		deps.OpenAudio = audio.NewContext
	}
	if deps.NewHotkey == nil {
		deps.NewHotkey = hotkey.New
	}

	var flags rootFlags
	rootCmd := &cobra.Command{
		Use:           "livesub",
		Short:         "Live speech captions with saved subtitle sessions",
		Long:          "livesub captures microphone audio, streams it to a speech recognizer, shows live captions and saves each session as a subtitle file.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setup(deps, flags)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			log.Close()
		},
	}
	rootCmd.Version = Version
	rootCmd.SetOut(deps.Stdout)
	rootCmd.SetErr(deps.Stderr)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "config file (default $XDG_CONFIG_HOME/livesub/config.toml)")
	pf.StringVar(&flags.logPath, "log-path", "", "directory for diagnostics and transcript logs")
	pf.StringVar(&flags.logLevel, "log-level", "", "diagnostics log level (debug, info, warn, error)")

	rootCmd.AddCommand(NewRecordCmd(deps))
	rootCmd.AddCommand(NewListCmd(deps))
	rootCmd.AddCommand(NewShowCmd(deps))
	rootCmd.AddCommand(NewRmCmd(deps))
	rootCmd.AddCommand(NewRecoverCmd(deps))
	rootCmd.AddCommand(NewDevicesCmd(deps))
	rootCmd.AddCommand(NewDoctorCmd(deps))

	return rootCmd
}

func setup(deps *Dependencies, flags rootFlags) error {
	if deps.Config == nil || flags.configPath != "" {
		cfg, err := config.Load(flags.configPath)
		if err != nil {
			return err
		}
		deps.Config = cfg
	}

	dir, err := log.ResolveDir(flags.logPath)
	if err != nil {
		return fmt.Errorf("resolving log directory: %w", err)
	}
	log.SetDir(dir)
	level := deps.Config.LogLevel
	if flags.logLevel != "" {
		level = flags.logLevel
	}
	if level != "" {
		if err := log.SetLevel(level); err != nil {
			return err
		}
	}
	if err := log.Init(); err != nil {
		// Logging is best effort; commands still work without it.
		fmt.Fprintf(deps.Stderr, "warning: logging disabled: %v\n", err)
	}
	return nil
}
