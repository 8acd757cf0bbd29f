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
	"github.com/jtwolab/rankops/internal/model"
	"github.com/jtwolab/rankops/internal/pipeline"
	"github.com/jtwolab/rankops/internal/reconcile"
)

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Crawl current ranks, store snapshots and update guarantee ledgers",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, config.ModeCrawl)
		if err != nil {
			return err
		}
		defer env.Close()

		company, _ := cmd.Flags().GetString("company")
		skip, _ := cmd.Flags().GetBool("skip-reconcile")
		asJSON, _ := cmd.Flags().GetBool("json")

		res, runErr := env.Runner.Run(ctx, pipeline.Options{Company: company, SkipReconcile: skip})
		if res != nil {
			if asJSON {
				if err := printJSON(os.Stdout, res); err != nil {
					return err
				}
			} else {
				formatRunResult(os.Stdout, res)
			}
		}
		if runErr != nil {
			return runErr
		}
		if !res.Success {
			return eris.New(res.Message)
		}
		return nil
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Write stored snapshots of a day into the guarantee ledgers",
	Long:  "Without --date today's snapshots are written. With --date only rows missing that date are filled.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, config.ModeSheets)
		if err != nil {
			return err
		}
		defer env.Close()

		date, _ := cmd.Flags().GetString("date")
		var res *reconcile.Result
		if date == "" {
			res, err = env.Runner.ReconcileToday(ctx)
		} else {
			day, perr := time.ParseInLocation(model.DateLayout, date, env.Location)
			if perr != nil {
				return eris.Wrapf(perr, "invalid --date %q", date)
			}
			res, err = env.Runner.ReconcileDate(ctx, day)
		}
		if err != nil {
			return err
		}
		formatReconcile(os.Stdout, res)
		if !res.Success {
			return eris.New("one or more sheets failed to reconcile")
		}
		return nil
	},
}

func formatRunResult(w io.Writer, res *pipeline.RunResult) {
	fmt.Fprintf(w, "%s %s  targets=%d\n", res.Date, res.TimeSlot, res.Targets)
	fmt.Fprintln(w, res.Message)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PHASE\tSTATUS\tDURATION\tERROR")
	for _, p := range res.Phases {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Name, p.Status, time.Duration(p.Duration)*time.Millisecond, orDash(p.Error))
	}
	tw.Flush() //nolint:errcheck

	if res.Reconcile != nil {
		formatReconcile(w, res.Reconcile)
	}
}

func formatReconcile(w io.Writer, res *reconcile.Result) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "SHEET (%s)\tMATCHED\tUPDATED\tUNMATCHED\tBELOW RANK\tEXISTING\tFULL\tERROR\n", res.Date)
	for _, s := range res.Sheets {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%s\n",
			s.Sheet, s.Matched, s.Updated, s.Unmatched, s.SkippedRank, s.SkippedExisting, s.SkippedFull, orDash(s.Error))
	}
	t := res.Totals
	fmt.Fprintf(tw, "TOTAL\t%d\t%d\t%d\t%d\t%d\t%d\t\n", t.Matched, t.Updated, t.Unmatched, t.SkippedRank, t.SkippedExisting, t.SkippedFull)
	tw.Flush() //nolint:errcheck
}

func init() {
	crawlCmd.Flags().String("company", "", "only crawl targets of this company")
	crawlCmd.Flags().Bool("skip-reconcile", false, "store snapshots without touching the ledgers")
	crawlCmd.Flags().Bool("json", false, "print the run result as JSON")
	reconcileCmd.Flags().String("date", "", "replay a past day (YYYY-MM-DD), filling only missing cells")

	rootCmd.AddCommand(crawlCmd)
	rootCmd.AddCommand(reconcileCmd)
}
