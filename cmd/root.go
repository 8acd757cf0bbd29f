package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jtwolab/rankops/internal/config"
)

var (
	cfg      *config.Config
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:          "rankops",
	Short:        "Place rank snapshots and guarantee ledger automation",
	Long:         "Crawls the rank-tracking site for guaranteed keywords, stores rank snapshots, and writes daily ranks back into the guarantee roster sheets.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "rankops: load config")
		}
		if logLevel != "" {
			c.Log.Level = logLevel
		}
		cfg = c
		return eris.Wrap(config.InitLogger(cfg.Log), "rankops: init logger")
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		zap.L().Error("rankops: command failed", zap.Error(err))
		os.Exit(1)
	}
}
