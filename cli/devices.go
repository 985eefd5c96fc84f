package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JeesubKim/live-trans-sub000/audio"
	"github.com/JeesubKim/live-trans-sub000/hotkey"
)

func NewDevicesCmd(deps *Dependencies) *cobra.Command {
	var pick, checkHotkey bool
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List audio capture devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			if checkHotkey {
				msg, err := hotkey.Diagnose()
				if err != nil {
					return fmt.Errorf("hotkey: %w", err)
				}
				fmt.Fprintln(out, msg)
				return nil
			}

			actx, err := deps.OpenAudio()
			if err != nil {
				return fmt.Errorf("opening audio: %w", err)
			}
			defer actx.Close()

			if pick {
				dev, err := audio.SelectDevice(actx, deps.Stdin, out)
				if errors.Is(err, audio.ErrCancelled) {
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "selected %s\nadd to %s:\n  device = %q\n", dev.Name, configHint(deps), dev.Name)
				return nil
			}

			devices, err := actx.Devices()
			if err != nil {
				return fmt.Errorf("enumerating devices: %w", err)
			}
			if len(devices) == 0 {
				fmt.Fprintln(out, "No capture devices found")
				return nil
			}
			configured := ""
			if deps.Config != nil {
				configured = deps.Config.Device
			}
			for _, d := range devices {
				mark := " "
				if configured != "" && (d.Name == configured || d.ID == configured) {
					mark = "*"
				}
				note := ""
				if audio.IsBluetooth(d.Name) {
					note = "  (bluetooth, may lower playback quality)"
				}
				fmt.Fprintf(out, "%s %s%s\n", mark, d.Name, note)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&pick, "pick", "p", false, "choose a device interactively")
	cmd.Flags().BoolVar(&checkHotkey, "hotkey", false, "check that the global "+hotkey.Combo+" hotkey can be registered")
	return cmd
}

func configHint(deps *Dependencies) string {
	if deps.Config != nil && deps.Config.Path != "" {
		return deps.Config.Path
	}
	return "your config file"
}
