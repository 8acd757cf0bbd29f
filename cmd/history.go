package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/jtwolab/rankops/internal/config"
	"github.com/jtwolab/rankops/internal/export"
	"github.com/jtwolab/rankops/internal/model"
	"github.com/jtwolab/rankops/internal/snapshot"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Query stored rank snapshots",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, config.ModeSheets)
		if err != nil {
			return err
		}
		defer env.Close()

		q := snapshot.HistoryQuery{}
		q.DateFrom, _ = cmd.Flags().GetString("from")
		q.DateTo, _ = cmd.Flags().GetString("to")
		q.Keyword, _ = cmd.Flags().GetString("keyword")
		q.PlaceID, _ = cmd.Flags().GetString("place-id")
		q.Days, _ = cmd.Flags().GetInt("days")
		xlsxPath, _ := cmd.Flags().GetString("xlsx")
		asJSON, _ := cmd.Flags().GetBool("json")

		rows, err := env.Snapshots.History(ctx, q)
		if err != nil {
			return eris.Wrap(err, "history")
		}

		switch {
		case xlsxPath != "":
			return writeHistoryXLSX(xlsxPath, rows)
		case asJSON:
			return printJSON(os.Stdout, rows)
		case len(rows) == 0:
			fmt.Fprintln(os.Stderr, "No snapshots found.")
			return nil
		}
		formatSnapshots(os.Stdout, rows)
		return nil
	},
}

func writeHistoryXLSX(path string, rows []model.RankSnapshot) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "create xlsx file")
	}
	if err := export.WriteSnapshotsXLSX(f, rows); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	if err := f.Close(); err != nil {
		return eris.Wrap(err, "close xlsx file")
	}
	fmt.Fprintf(os.Stderr, "wrote %d snapshots to %s\n", len(rows), path)
	return nil
}

func formatSnapshots(w io.Writer, rows []model.RankSnapshot) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tSLOT\tCLIENT\tKEYWORD\tRANK\tSAVES\tBLOG\tVISITOR\tPLACE ID")
	for _, s := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			s.Date, s.TimeSlot, orDash(s.ClientName), s.Keyword,
			intOrDash(s.Rank), intOrDash(s.Saves), intOrDash(s.BlogReviews), intOrDash(s.VisitorReviews),
			orDash(s.PlaceID))
	}
	tw.Flush() //nolint:errcheck
}

func init() {
	historyCmd.Flags().String("from", "", "first date (YYYY-MM-DD)")
	historyCmd.Flags().String("to", "", "last date (YYYY-MM-DD)")
	historyCmd.Flags().String("keyword", "", "keyword substring")
	historyCmd.Flags().String("place-id", "", "exact place id")
	historyCmd.Flags().Int("days", 0, "relative window when --from is empty (default 7, negative for all)")
	historyCmd.Flags().String("xlsx", "", "write the result to this .xlsx file")
	historyCmd.Flags().Bool("json", false, "print snapshots as JSON")
	rootCmd.AddCommand(historyCmd)
}
