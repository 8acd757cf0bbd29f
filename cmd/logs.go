package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/jtwolab/rankops/internal/config"
	"github.com/jtwolab/rankops/internal/execlog"
	"github.com/jtwolab/rankops/internal/model"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show the crawl execution log",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, config.ModeSheets)
		if err != nil {
			return err
		}
		defer env.Close()

		entries, err := env.Log.List(ctx)
		if err != nil {
			return eris.Wrap(err, "logs")
		}

		failed, _ := cmd.Flags().GetBool("failed")
		days, _ := cmd.Flags().GetInt("days")
		limit, _ := cmd.Flags().GetInt("limit")

		entries = selectEntries(entries, failed, days, limit, time.Now().In(env.Location))
		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "No log entries found.")
			return nil
		}
		formatEntries(os.Stdout, entries, env.Location)
		return nil
	},
}

// selectEntries returns entries newest first. failed keeps failures from
// the last days (counted from the start of today); limit caps the result.
func selectEntries(entries []model.ExecutionLogEntry, failed bool, days, limit int, now time.Time) []model.ExecutionLogEntry {
	var out []model.ExecutionLogEntry
	if failed {
		start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		out = execlog.Failures(entries, start.AddDate(0, 0, -days))
	} else {
		out = make([]model.ExecutionLogEntry, 0, len(entries))
		for i := len(entries) - 1; i >= 0; i-- {
			out = append(out, entries[i])
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func formatEntries(w io.Writer, entries []model.ExecutionLogEntry, loc *time.Location) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "EXECUTED AT\tSLOT\tOK\tFAILED\tELAPSED\tMESSAGE")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%.1fs\t%s\n",
			e.ExecutedAt.In(loc).Format("2006-01-02 15:04:05"), orDash(e.TimeSlot),
			e.SuccessCount, e.FailedCount, e.ElapsedSeconds, e.Message)
		for _, d := range e.FailedDetails {
			fmt.Fprintf(tw, "\t\t\t\t\t  - %s / %s: %s\n", d.ClientName, d.Keyword, d.Reason)
		}
	}
	tw.Flush() //nolint:errcheck
}

func init() {
	logsCmd.Flags().Bool("failed", false, "only failed runs")
	logsCmd.Flags().Int("days", 7, "with --failed, how many days back to look")
	logsCmd.Flags().Int("limit", 50, "max entries to display")
	rootCmd.AddCommand(logsCmd)
}
