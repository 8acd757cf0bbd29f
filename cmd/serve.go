package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jtwolab/rankops/internal/config"
	"github.com/jtwolab/rankops/internal/monitoring"
	"github.com/jtwolab/rankops/internal/scheduler"
	"github.com/jtwolab/rankops/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP trigger server and the background scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, config.ModeServe)
		if err != nil {
			return err
		}
		defer env.Close()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		gate := scheduler.NewGate(jobRankCrawl)
		sched := scheduler.New(env.Location, st)
		deps := jobDeps{Roster: env.Roster, Runner: env.Runner, Recovery: env.Recovery}
		if err := registerJobs(sched, deps, gate, cfg.Schedule); err != nil {
			return err
		}
		if cfg.Schedule.Enabled {
			sched.Start()
			defer func() {
				stopCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
				defer cancel()
				sched.Stop(stopCtx)
			}()
		}

		if cfg.Monitoring.Enabled {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(env.Log, st),
				monitoring.NewAlerter(cfg.Monitoring),
				cfg.Monitoring,
			)
			go checker.Run(ctx)
		}

		srvCfg := cfg.Server
		if servePort != 0 {
			srvCfg.Port = servePort
		}
		if srvCfg.CronToken == "" {
			zap.L().Warn("server.cron_token is empty, /cron endpoints are disabled")
		}

		srv := server.New(srvCfg, server.Deps{
			Roster:    env.Roster,
			Runner:    env.Runner,
			Recovery:  env.Recovery,
			Snapshots: env.Snapshots,
			Log:       env.Log,
			Jobs:      sched,
			Store:     st,
			CrawlGate: gate,
			Location:  env.Location,
		})
		return srv.ListenAndServe(ctx)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
