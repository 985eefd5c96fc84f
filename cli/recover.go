package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JeesubKim/live-trans-sub000/session"
)

type recoverFlags struct {
	all      bool
	discard  bool
	title    string
	category string
}

func NewRecoverCmd(deps *Dependencies) *cobra.Command {
	var flags recoverFlags
	cmd := &cobra.Command{
		Use:   "recover [session-log]...",
		Short: "Inspect, recover or discard session logs left by an interrupted recording",
		Long: "Without arguments recover lists leftover session logs. Name logs (or pass --all) to turn them " +
			"into subtitle files, or add --discard to delete them instead. A session's audio archive follows its log.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), deps.Config, session.RecoveryKeep)
			if err != nil {
				return err
			}
			defer a.Close()

			orphans, err := a.sessions.RecoveryInfo()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if len(args) == 0 && !flags.all {
				if len(orphans) == 0 {
					fmt.Fprintln(out, "No interrupted sessions")
					return nil
				}
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "STARTED\tITEMS\tCORRUPT\tAUDIO\tLOG")
				for _, o := range orphans {
					started := "unknown"
					if o.Header != nil {
						started = o.Header.StartTime.Local().Format("2006-01-02 15:04:05")
					}
					audio := "-"
					if o.Audio != "" {
						audio = filepath.Base(o.Audio)
					}
					fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n", started, o.Items, o.Corrupt, audio, filepath.Base(o.Path))
				}
				return tw.Flush()
			}

			targets := orphans
			if len(args) > 0 {
				targets, err = pickOrphans(orphans, args, deps.Config.SessionsDir)
				if err != nil {
					return err
				}
			}
			if flags.title != "" && len(targets) > 1 {
				return errors.New("--title needs exactly one session log")
			}

			var errs []error
			for _, o := range targets {
				if flags.discard {
					if err := a.sessions.DiscardOrphan(cmd.Context(), o.Path); err != nil {
						errs = append(errs, err)
						continue
					}
					fmt.Fprintf(out, "discarded %s\n", filepath.Base(o.Path))
					continue
				}
				req := session.FinalizeRequest{
					Title:    flags.title,
					Category: flags.category,
					Language: deps.Config.Language,
					Model:    deps.Config.Model,
				}
				if req.Title == "" {
					req.Title = recoveredTitle(o)
				}
				if req.Category == "" {
					req.Category = deps.Config.Category
				}
				path, err := a.sessions.Recover(cmd.Context(), o.Path, req)
				if err != nil {
					errs = append(errs, err)
					continue
				}
				if path == "" {
					fmt.Fprintf(out, "%s had no subtitles, removed\n", filepath.Base(o.Path))
					continue
				}
				fmt.Fprintf(out, "recovered %s -> %s\n", filepath.Base(o.Path), path)
			}
			return errors.Join(errs...)
		},
	}
	cmd.Flags().BoolVarP(&flags.all, "all", "a", false, "act on every leftover session log")
	cmd.Flags().BoolVar(&flags.discard, "discard", false, "delete the logs instead of recovering them")
	cmd.Flags().StringVarP(&flags.title, "title", "t", "", "title for the recovered file")
	cmd.Flags().StringVarP(&flags.category, "category", "c", "", "category for the recovered file")
	return cmd
}

func pickOrphans(orphans []session.Orphan, args []string, dir string) ([]session.Orphan, error) {
	byName := make(map[string]session.Orphan, len(orphans))
	for _, o := range orphans {
		byName[filepath.Base(o.Path)] = o
	}
	var picked []session.Orphan
	for _, arg := range args {
		o, ok := byName[filepath.Base(arg)]
		if !ok {
			return nil, fmt.Errorf("%s is not a leftover session log in %s", arg, dir)
		}
		picked = append(picked, o)
	}
	return picked, nil
}

func recoveredTitle(o session.Orphan) string {
	if o.Header != nil {
		return "Recovered " + o.Header.StartTime.Local().Format("2006-01-02 15-04-05")
	}
	return "Recovered " + filepath.Base(o.Path)
}
