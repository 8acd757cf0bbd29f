package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/jtwolab/rankops/internal/config"
	"github.com/jtwolab/rankops/internal/guarantee"
	"github.com/jtwolab/rankops/internal/model"
	"github.com/jtwolab/rankops/internal/pipeline"
	"github.com/jtwolab/rankops/internal/recovery"
	"github.com/jtwolab/rankops/internal/scheduler"
	"github.com/jtwolab/rankops/internal/server"
	"github.com/jtwolab/rankops/internal/store"
)

// Job ids, also used as /cron/{job} path segments.
const (
	jobGuaranteeSync = "guarantee_sync"
	jobRankCrawl     = "rank_crawl"
	jobRecovery      = "recovery"
	jobCacheRefresh  = "cache_refresh"
)

// jobDeps are the services the background jobs drive.
type jobDeps struct {
	Roster   server.Roster
	Runner   server.Runner
	Recovery server.Recoverer
}

// registerJobs adds every background job to s. Crawl and recovery share
// gate so they never drive the browser at the same time. With schedules
// disabled the jobs stay trigger-only.
func registerJobs(s *scheduler.Scheduler, deps jobDeps, gate *scheduler.Gate, sc config.ScheduleConfig) error {
	spec := func(expr string) string {
		if !sc.Enabled {
			return ""
		}
		return expr
	}
	days := sc.RecoveryDays
	if days <= 0 {
		days = recovery.DefaultDaysBack
	}

	jobs := []scheduler.Job{
		{
			ID:   jobGuaranteeSync,
			Name: "보장건 동기화",
			Spec: spec(sc.GuaranteeSync),
			Run: func(ctx context.Context) (scheduler.Outcome, error) {
				res, err := deps.Roster.Sync(ctx)
				if err != nil {
					return scheduler.Outcome{}, err
				}
				return scheduler.Outcome{
					Message: fmt.Sprintf("보장건 %d건 동기화", res.Total),
					Details: map[string]any{"total": res.Total, "by_company": res.ByCompany},
				}, nil
			},
		},
		{
			ID:   jobRankCrawl,
			Name: "순위 크롤링",
			Spec: spec(sc.RankCrawl),
			Gate: gate,
			Run: func(ctx context.Context) (scheduler.Outcome, error) {
				res, err := deps.Runner.Run(ctx, pipeline.Options{})
				if err != nil {
					return scheduler.Outcome{}, err
				}
				out := scheduler.Outcome{
					Message: res.Message,
					Details: map[string]any{
						"date":      res.Date,
						"time_slot": res.TimeSlot,
						"targets":   res.Targets,
						"collected": res.Crawl.Collected,
						"added":     res.Upsert.Added,
						"updated":   res.Upsert.Updated,
					},
				}
				if res.Reconcile != nil {
					out.Details["ledger_updated"] = res.Reconcile.Totals.Updated
				}
				if !res.Success {
					return out, eris.New(res.Message)
				}
				return out, nil
			},
		},
		{
			ID:   jobRecovery,
			Name: "실패 크롤링 복구",
			Spec: spec(sc.Recovery),
			Gate: gate,
			Run: func(ctx context.Context) (scheduler.Outcome, error) {
				sum, err := deps.Recovery.RecoverFailedCrawls(ctx, days)
				if err != nil {
					return scheduler.Outcome{}, err
				}
				return scheduler.Outcome{
					Message: sum.Message,
					Details: map[string]any{
						"status":        sum.Status,
						"failed":        len(sum.Failed),
						"missing_dates": sum.MissingDates,
					},
				}, nil
			},
		},
		{
			ID:   jobCacheRefresh,
			Name: "보장건 캐시 갱신",
			Spec: spec(sc.CacheRefresh),
			Run: func(ctx context.Context) (scheduler.Outcome, error) {
				if st := deps.Roster.Status(); st.Valid {
					return scheduler.Outcome{
						Message: "캐시 유효, 갱신 생략",
						Details: map[string]any{"expires_at": st.ExpiresAt},
					}, nil
				}
				items, err := deps.Roster.Items(ctx, guarantee.Filter{})
				if err != nil {
					return scheduler.Outcome{}, err
				}
				return scheduler.Outcome{
					Message: fmt.Sprintf("보장건 캐시 갱신 (%d건)", len(items)),
					Details: map[string]any{"total": len(items)},
				}, nil
			},
		},
	}

	for _, j := range jobs {
		if err := s.Add(j); err != nil {
			return err
		}
	}
	return nil
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List background jobs and their recent runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		s := scheduler.New(cfg.Location(), st)
		if err := registerJobs(s, jobDeps{}, scheduler.NewGate(jobRankCrawl), cfg.Schedule); err != nil {
			return err
		}

		since, _ := cmd.Flags().GetDuration("since")
		sums, err := st.Summary(ctx, time.Now().Add(-since))
		if err != nil {
			return eris.Wrap(err, "jobs summary")
		}
		formatJobs(os.Stdout, s.Jobs(), sums, cfg.Location())
		return nil
	},
}

var jobsRunCmd = &cobra.Command{
	Use:   "run <job-id>",
	Short: "Run one background job now and record the result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

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

		s := scheduler.New(env.Location, st)
		deps := jobDeps{Roster: env.Roster, Runner: env.Runner, Recovery: env.Recovery}
		if err := registerJobs(s, deps, scheduler.NewGate(jobRankCrawl), cfg.Schedule); err != nil {
			return err
		}

		run, err := s.Trigger(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "%s: %s  %s\n", run.JobID, run.Status, run.Message)
		if run.Status != model.JobSuccess {
			return eris.Errorf("job %s finished with status %s", run.JobID, run.Status)
		}
		return nil
	},
}

func formatJobs(w io.Writer, jobs []scheduler.JobInfo, sums []store.JobSummary, loc *time.Location) {
	byID := make(map[string]store.JobSummary, len(sums))
	for _, s := range sums {
		byID[s.JobID] = s
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tSCHEDULE\tNEXT RUN\tRUNS\tOK\tFAILED\tSKIPPED\tLAST")
	for _, j := range jobs {
		schedule, next := "-", "-"
		if j.Spec != "" {
			schedule = j.Spec
		}
		if !j.Next.IsZero() {
			next = j.Next.In(loc).Format("2006-01-02 15:04")
		}
		last := "-"
		s, ok := byID[j.ID]
		if ok {
			last = fmt.Sprintf("%s @ %s", s.LastStatus, s.LastRunAt.In(loc).Format("01-02 15:04"))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n", j.ID, schedule, next, s.Total, s.Success, s.Failed, s.Skipped, last)
	}
	tw.Flush() //nolint:errcheck
}

func init() {
	jobsCmd.Flags().Duration("since", 7*24*time.Hour, "time window for run counts")
	jobsCmd.AddCommand(jobsRunCmd)
	rootCmd.AddCommand(jobsCmd)
}
