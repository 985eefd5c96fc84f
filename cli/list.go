package cli

import (
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/JeesubKim/live-trans-sub000/log"
	"github.com/JeesubKim/live-trans-sub000/session"
	"github.com/JeesubKim/live-trans-sub000/subtitle"
)

func NewListCmd(deps *Dependencies) *cobra.Command {
	var (
		category string
		watch    bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved subtitle files, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, deps.Config, session.RecoveryKeep)
			if err != nil {
				return err
			}
			defer a.Close()

			paths, err := a.store.List()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			rows := 0
			for _, p := range paths {
				md, err := a.store.Metadata(p)
				if err != nil {
					log.Warnf("list: skipping %s: %v", p, err)
					continue
				}
				if md == nil || (category != "" && md.Category != category) {
					continue
				}
				if rows == 0 {
					fmt.Fprintln(tw, "CREATED\tDURATION\tCATEGORY\tTITLE\tFILE")
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					md.Created.Local().Format("2006-01-02 15:04"), listDuration(*md), md.Category, md.Title, filepath.Base(p))
				rows++
			}
			if rows == 0 {
				fmt.Fprintln(out, "No subtitle files found")
			} else if err := tw.Flush(); err != nil {
				return err
			}
			if !watch {
				return nil
			}

			events, err := a.store.Watch(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, "Watching for changes, press Ctrl+C to stop")
			for ev := range events {
				printEvent(out, a.store, ev, category)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&category, "category", "c", "", "only list files in this category")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep running and report files as they are saved or removed")
	return cmd
}

func listDuration(md subtitle.Metadata) string {
	if d, ok := md.DurationValue(); ok {
		return d.Round(time.Second).String()
	}
	return "-"
}

func printEvent(out io.Writer, store *subtitle.Store, ev subtitle.Event, category string) {
	name := filepath.Base(ev.Path)
	switch ev.Kind {
	case subtitle.EventRemoved, subtitle.EventRenamed:
		fmt.Fprintf(out, "%s %s\n", ev.Kind, name)
		return
	}
	md, err := store.Metadata(ev.Path)
	if err != nil {
		// writes land in several steps; the final one parses
		log.Debugf("list: %s not readable yet: %v", ev.Path, err)
		return
	}
	if md == nil || (category != "" && md.Category != category) {
		return
	}
	fmt.Fprintf(out, "%s %s (%s, %s)\n", ev.Kind, name, md.Title, listDuration(*md))
}
