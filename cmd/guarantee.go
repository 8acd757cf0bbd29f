package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/jtwolab/rankops/internal/config"
	"github.com/jtwolab/rankops/internal/guarantee"
	"github.com/jtwolab/rankops/internal/model"
)

var guaranteeCmd = &cobra.Command{
	Use:   "guarantee",
	Short: "Inspect and sync the guarantee roster",
}

var guaranteeSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reload every roster sheet into the local cache",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, config.ModeSheets)
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Roster.Sync(ctx)
		if err != nil {
			return eris.Wrap(err, "guarantee sync")
		}

		companies := make([]string, 0, len(res.ByCompany))
		for c := range res.ByCompany {
			companies = append(companies, c)
		}
		sort.Strings(companies)

		fmt.Fprintf(os.Stdout, "synced %d items at %s\n", res.Total, res.SyncedAt.In(env.Location).Format("2006-01-02 15:04:05"))
		for _, c := range companies {
			fmt.Fprintf(os.Stdout, "  %s: %d\n", c, res.ByCompany[c])
		}
		return nil
	},
}

var guaranteeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached roster items",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, config.ModeSheets)
		if err != nil {
			return err
		}
		defer env.Close()

		company, _ := cmd.Flags().GetString("company")
		status, _ := cmd.Flags().GetString("status")
		product, _ := cmd.Flags().GetString("product")
		eligible, _ := cmd.Flags().GetBool("eligible")
		query, _ := cmd.Flags().GetString("query")
		asJSON, _ := cmd.Flags().GetBool("json")

		items, err := env.Roster.Items(ctx, guarantee.Filter{
			Company:      company,
			Status:       model.ParseGuaranteeStatus(status),
			Product:      product,
			EligibleOnly: eligible,
			Query:        query,
		})
		if err != nil {
			return eris.Wrap(err, "guarantee list")
		}

		if asJSON {
			return printJSON(os.Stdout, items)
		}
		if len(items) == 0 {
			fmt.Fprintln(os.Stderr, "No items found.")
			return nil
		}
		formatItems(os.Stdout, items)
		return nil
	},
}

func formatItems(w io.Writer, items []model.GuaranteeItem) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SHEET\tROW\tSTATUS\tBUSINESS\tKEYWORD\tPRODUCT\tGUARANTEE\tDAYS")
	for _, it := range items {
		filled := 0
		for _, e := range it.Ledger {
			if e.Raw != "" {
				filled++
			}
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\t%d\t%d\n",
			it.Sheet, it.Row, orDash(string(it.Status)), orDash(it.BusinessName), orDash(it.MainKeyword), orDash(it.Product), it.GuaranteedRank, filled)
	}
	tw.Flush() //nolint:errcheck
}

func init() {
	guaranteeListCmd.Flags().String("company", "", "filter by company")
	guaranteeListCmd.Flags().String("status", "", "filter by status (진행중, 후불, 세팅대기, 완료, 반불)")
	guaranteeListCmd.Flags().String("product", "", "filter by product substring")
	guaranteeListCmd.Flags().Bool("eligible", false, "only statuses that receive ledger updates")
	guaranteeListCmd.Flags().String("query", "", "substring of business name, keyword, agency or memo")
	guaranteeListCmd.Flags().Bool("json", false, "print items as JSON")

	guaranteeCmd.AddCommand(guaranteeSyncCmd)
	guaranteeCmd.AddCommand(guaranteeListCmd)
	rootCmd.AddCommand(guaranteeCmd)
}
