package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JeesubKim/live-trans-sub000/session"
)

func NewRmCmd(deps *Dependencies) *cobra.Command {
	var withAudio bool
	cmd := &cobra.Command{
		Use:     "rm <title|file>...",
		Aliases: []string{"delete"},
		Short:   "Delete saved subtitle files",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), deps.Config, session.RecoveryKeep)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			var errs []error
			for _, arg := range args {
				path, err := a.resolve(arg)
				if err != nil {
					errs = append(errs, err)
					continue
				}
				audio := ""
				if withAudio {
					if md, err := a.store.Metadata(path); err == nil && md != nil {
						audio = md.AudioFilePath
					}
				}
				deleted, err := a.store.Delete(cmd.Context(), path)
				if err != nil {
					errs = append(errs, err)
					continue
				}
				if !deleted {
					continue
				}
				fmt.Fprintf(out, "deleted %s\n", path)
				if audio != "" {
					if err := a.queue.Delete(audio).Wait(cmd.Context()); err != nil && !errors.Is(err, os.ErrNotExist) {
						errs = append(errs, fmt.Errorf("delete audio %s: %w", audio, err))
						continue
					}
					fmt.Fprintf(out, "deleted %s\n", audio)
				}
			}
			return errors.Join(errs...)
		},
	}
	cmd.Flags().BoolVar(&withAudio, "audio", false, "also delete the archived audio recording")
	return cmd
}
