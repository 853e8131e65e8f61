package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomyedwab/devhost/config"
	"github.com/tomyedwab/devhost/history"
)

func newHistoryCmd(c *cli) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent dev server reloads and restarts",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !c.env.HistoryEnabled() {
				return fmt.Errorf("history is disabled (DEVHOST_HISTORY=%s)", config.HistoryOff)
			}
			journal, err := history.Open(c.env.HistoryPath)
			if err != nil {
				return err
			}
			defer journal.Close()
			events, err := journal.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printHistory(cmd.OutOrStdout(), events)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of entries to show")
	return cmd
}

func printHistory(w io.Writer, events []history.Event) error {
	if len(events) == 0 {
		_, err := fmt.Fprintln(w, "No history yet.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tEVENT\tINSTANCE\tPRESET\tPORT\tDURATION\tDETAIL")
	for _, e := range events {
		detail := e.Error
		if detail == "" {
			detail = e.Path
		}
		port := ""
		if e.Port != 0 {
			port = fmt.Sprint(e.Port)
		}
		duration := ""
		if e.DurationMS != 0 {
			duration = (time.Duration(e.DurationMS) * time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Time().Format(time.DateTime), e.EventType, e.InstanceID, e.Preset, port, duration, detail)
	}
	return tw.Flush()
}
