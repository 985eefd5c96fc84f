package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/JeesubKim/live-trans-sub000/session"
	"github.com/JeesubKim/live-trans-sub000/subtitle"
)

func NewShowCmd(deps *Dependencies) *cobra.Command {
	var srt bool
	cmd := &cobra.Command{
		Use:   "show <title|file>",
		Short: "Print a saved subtitle file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), deps.Config, session.RecoveryKeep)
			if err != nil {
				return err
			}
			defer a.Close()

			path, err := a.resolve(args[0])
			if err != nil {
				return err
			}
			f, err := a.store.Load(path)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if srt {
				return subtitle.WriteSRT(out, f.Subtitles)
			}

			md := f.Metadata
			fmt.Fprintf(out, "%s\n", md.Title)
			fmt.Fprintf(out, "category: %s  language: %s  created: %s\n",
				md.Category, md.Language, md.Created.Local().Format("2006-01-02 15:04:05"))
			if d, ok := md.DurationValue(); ok {
				fmt.Fprintf(out, "duration: %s\n", d.Round(time.Second))
			}
			if md.AudioFilePath != "" {
				fmt.Fprintf(out, "audio: %s\n", md.AudioFilePath)
			}
			fmt.Fprintln(out)
			for _, it := range f.Subtitles {
				fmt.Fprintf(out, "[%s] %s\n", clock(it.Timestamp), it.Text)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&srt, "srt", false, "print as SubRip cues")
	return cmd
}

// clock formats an offset as mm:ss, or h:mm:ss past an hour.
func clock(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d / time.Hour)
	m := int(d/time.Minute) % 60
	s := int(d/time.Second) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
