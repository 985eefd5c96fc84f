package cli

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/JeesubKim/live-trans-sub000/doctor"
	"github.com/JeesubKim/live-trans-sub000/log"
	"github.com/JeesubKim/live-trans-sub000/recognizer"
)

var errChecksFailed = errors.New("some checks failed")

func NewDoctorCmd(deps *Dependencies) *cobra.Command {
	var env doctor.Env
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, microphone, recognizer and hotkey",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env.Config = deps.Config
			if actx, err := deps.OpenAudio(); err != nil {
				log.Warnf("doctor: opening audio: %v", err)
			} else {
				defer actx.Close()
				env.Audio = actx
			}
			if deps.Config.DeepgramAPIKey != "" {
				env.Engine = recognizer.NewDeepgram(deps.Config.DeepgramAPIKey)
			}
			env.Hotkey = deps.NewHotkey()

			if !doctor.Run(cmd.Context(), env, doctor.Checks(), cmd.OutOrStdout()) {
				return errChecksFailed
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&env.Listen, "listen", time.Second, "how long to sample the microphone")
	cmd.Flags().BoolVar(&env.WaitForKey, "press", false, "wait for the hotkey to be pressed")
	return cmd
}
