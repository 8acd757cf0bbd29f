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
	"github.com/jtwolab/rankops/internal/recovery"
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Re-crawl dates whose crawl failed and fill the missing ledger cells",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, config.ModeCrawl)
		if err != nil {
			return err
		}
		defer env.Close()

		date, _ := cmd.Flags().GetString("date")
		if date != "" {
			if _, err := time.Parse(model.DateLayout, date); err != nil {
				return eris.Errorf("invalid --date %q, want YYYY-MM-DD", date)
			}
			res, err := env.Recovery.RecoverDate(ctx, date)
			if err != nil {
				return err
			}
			formatDateResults(os.Stdout, []recovery.DateResult{*res})
			if res.Status == recovery.StatusCrawlFailed {
				return eris.New(res.Message)
			}
			return nil
		}

		days, _ := cmd.Flags().GetInt("days-back")
		sum, err := env.Recovery.RecoverFailedCrawls(ctx, days)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "%s: %s\n", sum.Status, sum.Message)
		if len(sum.Results) > 0 {
			formatDateResults(os.Stdout, sum.Results)
		}
		return nil
	},
}

func formatDateResults(w io.Writer, results []recovery.DateResult) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tSTATUS\tCRAWLED\tKEPT\tADDED\tUPDATED\tLEDGER\tMESSAGE")
	for _, r := range results {
		ledger := 0
		if r.Reconcile != nil {
			ledger = r.Reconcile.Totals.Updated
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
			r.Date, r.Status, r.Crawled, r.Kept, r.Upsert.Added, r.Upsert.Updated, ledger, r.Message)
	}
	tw.Flush() //nolint:errcheck
}

func init() {
	recoverCmd.Flags().Int("days-back", recovery.DefaultDaysBack, "how many days of the execution log to scan")
	recoverCmd.Flags().String("date", "", "recover one date (YYYY-MM-DD) regardless of the log")
	rootCmd.AddCommand(recoverCmd)
}
