// Package server exposes the rank jobs over HTTP: manual triggers for the
// dashboard and token-guarded endpoints for external cron callers.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/jtwolab/rankops/internal/cache"
	"github.com/jtwolab/rankops/internal/config"
	"github.com/jtwolab/rankops/internal/execlog"
	"github.com/jtwolab/rankops/internal/guarantee"
	"github.com/jtwolab/rankops/internal/model"
	"github.com/jtwolab/rankops/internal/pipeline"
	"github.com/jtwolab/rankops/internal/reconcile"
	"github.com/jtwolab/rankops/internal/recovery"
	"github.com/jtwolab/rankops/internal/scheduler"
	"github.com/jtwolab/rankops/internal/snapshot"
	"github.com/jtwolab/rankops/internal/store"
)

// Roster is the guarantee roster. *guarantee.Roster satisfies it.
type Roster interface {
	Sync(ctx context.Context) (guarantee.SyncResult, error)
	Items(ctx context.Context, f guarantee.Filter) ([]model.GuaranteeItem, error)
	Status() cache.Status
}

// Runner runs crawl cycles. *pipeline.Runner satisfies it.
type Runner interface {
	Run(ctx context.Context, opts pipeline.Options) (*pipeline.RunResult, error)
	ReconcileToday(ctx context.Context) (*reconcile.Result, error)
	ReconcileDate(ctx context.Context, date time.Time) (*reconcile.Result, error)
}

// Recoverer replays failed crawls. *recovery.Service satisfies it.
type Recoverer interface {
	RecoverFailedCrawls(ctx context.Context, daysBack int) (*recovery.Summary, error)
	RecoverDate(ctx context.Context, date string) (*recovery.DateResult, error)
}

// Jobs is the scheduler registry. *scheduler.Scheduler satisfies it.
type Jobs interface {
	Jobs() []scheduler.JobInfo
	Trigger(ctx context.Context, id string) (model.JobRun, error)
}

// Deps are the services behind the routes. CrawlGate must be the gate the
// scheduled crawl job uses so manual and cron crawls never overlap.
type Deps struct {
	Roster    Roster
	Runner    Runner
	Recovery  Recoverer
	Snapshots snapshot.Repository
	Log       execlog.Log
	Jobs      Jobs
	Store     store.Store
	CrawlGate *scheduler.Gate
	Location  *time.Location
}

// Server is the HTTP trigger surface.
type Server struct {
	cfg  config.ServerConfig
	deps Deps
	now  func() time.Time
}

// New returns a Server.
func New(cfg config.ServerConfig, deps Deps) *Server {
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	if deps.CrawlGate == nil {
		deps.CrawlGate = scheduler.NewGate("rank_crawl")
	}
	return &Server{cfg: cfg, deps: deps, now: time.Now}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(recoverer)
	if len(s.cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Cron-Token"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", s.health)

	r.Route("/api", func(r chi.Router) {
		r.Post("/guarantee/sync", s.guaranteeSync)
		r.Get("/guarantee/items", s.guaranteeItems)

		r.Post("/rank/crawl", s.rankCrawl)
		r.Post("/rank/reconcile", s.rankReconcile)
		r.Get("/rank/history", s.rankHistory)
		r.Get("/rank/failures", s.rankFailures)
		r.Post("/rank/recover", s.rankRecover)
		r.Post("/rank/recover/{date}", s.rankRecoverDate)

		r.Get("/scheduler/logs", s.schedulerLogs)
	})

	r.With(s.cronAuth).Post("/cron/{job}", s.cronTrigger)

	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("server: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zap.L().Warn("server: shutdown", zap.Error(err))
		}
	}()

	zap.L().Info("server: listening", zap.Int("port", s.cfg.Port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "server: listen")
	}
	return nil
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{
		"status":        "ok",
		"crawl_running": s.deps.CrawlGate.Running(),
	}
	if s.deps.Roster != nil {
		body["roster_cache"] = s.deps.Roster.Status()
	}
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("server: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}
