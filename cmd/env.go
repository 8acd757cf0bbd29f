package main

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/jtwolab/rankops/internal/cache"
	"github.com/jtwolab/rankops/internal/config"
	"github.com/jtwolab/rankops/internal/crawler"
	"github.com/jtwolab/rankops/internal/execlog"
	"github.com/jtwolab/rankops/internal/guarantee"
	"github.com/jtwolab/rankops/internal/model"
	"github.com/jtwolab/rankops/internal/pipeline"
	"github.com/jtwolab/rankops/internal/reconcile"
	"github.com/jtwolab/rankops/internal/recovery"
	"github.com/jtwolab/rankops/internal/resilience"
	"github.com/jtwolab/rankops/internal/snapshot"
	"github.com/jtwolab/rankops/internal/store"
	"github.com/jtwolab/rankops/pkg/sheets"
)

// appEnv holds the wired services shared by the commands. Callers should
// defer env.Close().
type appEnv struct {
	Location   *time.Location
	Sheets     sheets.Client
	Snapshots  snapshot.Repository
	Log        execlog.Log
	Roster     *guarantee.Roster
	Reconciler *reconcile.Reconciler
	Crawler    *crawler.Crawler
	Runner     *pipeline.Runner
	Recovery   *recovery.Service

	closers []func()
}

// Close releases database handles opened by initEnv.
func (e *appEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
}

// initEnv validates config for mode and wires every service. The browser
// is only launched when a crawl actually runs.
func initEnv(ctx context.Context, mode config.Mode) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}
	loc := cfg.Location()

	client, err := initSheets(ctx)
	if err != nil {
		return nil, err
	}

	env := &appEnv{Location: loc, Sheets: client}
	snapshots, err := initSnapshots(ctx, client, env)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Snapshots = snapshots
	env.Log = execlog.NewSheetLog(client, cfg.Snapshot.SpreadsheetID, cfg.Snapshot.LogTab, loc)

	source := guarantee.NewSource(client, cfg.Guarantee)
	ttl := time.Duration(cfg.Guarantee.CacheTTLHours) * time.Hour
	env.Roster = guarantee.NewRoster(source, cache.NewFile[[]model.GuaranteeItem](cfg.Guarantee.CachePath, ttl))
	env.Reconciler = reconcile.New(source, client, cfg.Guarantee, loc)
	env.Crawler = crawler.New(crawler.NewBrowserSource(cfg.Crawl), cfg.Crawl.RowSelector)
	env.Runner = pipeline.New(env.Roster, env.Crawler, env.Snapshots, env.Log, env.Reconciler, loc)
	env.Recovery = recovery.New(env.Log, env.Snapshots, env.Roster, env.Crawler, env.Reconciler, loc)

	zap.L().Debug("environment ready",
		zap.String("snapshot_driver", cfg.Snapshot.Driver),
		zap.Int("guarantee_sheets", len(cfg.Guarantee.Sheets)),
		zap.String("timezone", loc.String()),
	)
	return env, nil
}

func initSheets(ctx context.Context) (sheets.Client, error) {
	opts := []sheets.Option{
		sheets.WithRateLimit(cfg.Sheets.RequestsPerSecond, cfg.Sheets.Burst),
		sheets.WithRetry(resilience.DefaultPolicy().WithAttempts(cfg.Sheets.RetryAttempts)),
		sheets.WithTimeout(time.Duration(cfg.Sheets.TimeoutSecs) * time.Second),
	}
	if cfg.Google.CredentialsJSON != "" {
		opts = append(opts, sheets.WithCredentialsJSON([]byte(cfg.Google.CredentialsJSON)))
	} else {
		opts = append(opts, sheets.WithCredentialsFile(cfg.Google.CredentialsFile))
	}
	client, err := sheets.New(ctx, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "init sheets client")
	}
	return client, nil
}

func snapshotOptions(loc *time.Location) snapshot.Options {
	return snapshot.Options{
		Source:    cfg.Snapshot.Source,
		BatchSize: cfg.Snapshot.BatchSize,
		Location:  loc,
	}
}

// initSnapshots opens the configured snapshot backend and registers its
// closer on env.
func initSnapshots(ctx context.Context, client sheets.Client, env *appEnv) (snapshot.Repository, error) {
	opts := snapshotOptions(env.Location)
	switch cfg.Snapshot.Driver {
	case "sheets":
		return snapshot.NewSheetRepository(client, cfg.Snapshot.SpreadsheetID, cfg.Snapshot.Tab, opts), nil
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Snapshot.DatabaseURL)
		if err != nil {
			return nil, eris.Wrap(err, "connect postgres")
		}
		env.closers = append(env.closers, pool.Close)
		repo := snapshot.NewPostgresRepository(pool, opts)
		if err := repo.Migrate(ctx); err != nil {
			return nil, eris.Wrap(err, "migrate snapshots")
		}
		return repo, nil
	case "sqlite":
		repo, err := snapshot.NewSQLiteRepository(ctx, cfg.Snapshot.SQLitePath, opts)
		if err != nil {
			return nil, err
		}
		env.closers = append(env.closers, func() { _ = repo.Close() })
		return repo, nil
	default:
		return nil, eris.Errorf("unsupported snapshot driver: %s", cfg.Snapshot.Driver)
	}
}

// initStore opens the job-run store and applies its schema.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.NewSQLite(cfg.Store.Path, cfg.Store.MaxEntries)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}
