package server

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/jtwolab/rankops/internal/execlog"
	"github.com/jtwolab/rankops/internal/export"
	"github.com/jtwolab/rankops/internal/guarantee"
	"github.com/jtwolab/rankops/internal/model"
	"github.com/jtwolab/rankops/internal/pipeline"
	"github.com/jtwolab/rankops/internal/recovery"
	"github.com/jtwolab/rankops/internal/scheduler"
	"github.com/jtwolab/rankops/internal/snapshot"
	"github.com/jtwolab/rankops/internal/store"
)

const busyMessage = "순위 크롤링이 이미 실행 중입니다"

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, eris.Errorf("%s must be an integer", name)
	}
	return n, nil
}

func boolParam(r *http.Request, name string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return b
}

func (s *Server) parseDate(v string) (time.Time, error) {
	t, err := time.ParseInLocation(model.DateLayout, v, s.deps.Location)
	if err != nil {
		return time.Time{}, eris.Errorf("invalid date %q, want YYYY-MM-DD", v)
	}
	return t, nil
}

func (s *Server) guaranteeSync(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Roster.Sync(r.Context())
	if err != nil {
		zap.L().Error("server: guarantee sync", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": res})
}

func (s *Server) guaranteeItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, err := s.deps.Roster.Items(r.Context(), guarantee.Filter{
		Company:      q.Get("company"),
		Status:       model.GuaranteeStatus(q.Get("status")),
		Product:      q.Get("product"),
		EligibleOnly: boolParam(r, "eligible"),
		Query:        q.Get("q"),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if boolParam(r, "targets") {
		items = guarantee.Targets(items)
	}
	if items == nil {
		items = []model.GuaranteeItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(items),
		"items": items,
		"stats": guarantee.Stats(items),
	})
}

// gated runs fn under the crawl gate and answers 409 when a crawl or a
// recovery is already in flight.
func (s *Server) gated(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context) (any, error)) {
	var (
		out any
		err error
	)
	st, _ := s.deps.CrawlGate.TryRun(r.Context(), func(ctx context.Context) error {
		out, err = fn(ctx)
		return err
	})
	if st == scheduler.Busy {
		writeError(w, http.StatusConflict, busyMessage)
		return
	}
	if err != nil {
		zap.L().Error("server: gated job failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error(), "result": out})
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) rankCrawl(w http.ResponseWriter, r *http.Request) {
	opts := pipeline.Options{
		Company:       r.URL.Query().Get("company"),
		SkipReconcile: boolParam(r, "skip_reconcile"),
	}
	s.gated(w, r, func(ctx context.Context) (any, error) {
		return s.deps.Runner.Run(ctx, opts)
	})
}

func (s *Server) rankReconcile(w http.ResponseWriter, r *http.Request) {
	if v := r.URL.Query().Get("date"); v != "" {
		day, err := s.parseDate(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		res, err := s.deps.Runner.ReconcileDate(r.Context(), day)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}
	res, err := s.deps.Runner.ReconcileToday(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) rankHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	days, err := intParam(r, "days", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	for _, name := range []string{"from", "to"} {
		if v := q.Get(name); v != "" {
			if _, err := s.parseDate(v); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
		}
	}

	rows, err := s.deps.Snapshots.History(r.Context(), snapshot.HistoryQuery{
		DateFrom: q.Get("from"),
		DateTo:   q.Get("to"),
		Keyword:  q.Get("keyword"),
		PlaceID:  q.Get("place_id"),
		Days:     days,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if q.Get("format") == "xlsx" {
		var buf bytes.Buffer
		if err := export.WriteSnapshotsXLSX(&buf, rows); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		name := fmt.Sprintf("rank_history_%s.xlsx", s.now().In(s.deps.Location).Format("20060102"))
		w.Header().Set("Content-Type", export.ContentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(buf.Bytes())
		return
	}

	if rows == nil {
		rows = []model.RankSnapshot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(rows), "snapshots": rows})
}

func (s *Server) rankFailures(w http.ResponseWriter, r *http.Request) {
	days, err := intParam(r, "days", recovery.DefaultDaysBack)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := s.deps.Log.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	now := s.now().In(s.deps.Location)
	since := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.deps.Location).AddDate(0, 0, -days)
	failed := execlog.Failures(entries, since)
	if failed == nil {
		failed = []model.ExecutionLogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(failed), "failures": failed})
}

func (s *Server) rankRecover(w http.ResponseWriter, r *http.Request) {
	days, err := intParam(r, "days_back", recovery.DefaultDaysBack)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.gated(w, r, func(ctx context.Context) (any, error) {
		return s.deps.Recovery.RecoverFailedCrawls(ctx, days)
	})
}

func (s *Server) rankRecoverDate(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	if _, err := s.parseDate(date); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.gated(w, r, func(ctx context.Context) (any, error) {
		return s.deps.Recovery.RecoverDate(ctx, date)
	})
}

func (s *Server) schedulerLogs(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	body := map[string]any{}
	if s.deps.Jobs != nil {
		body["jobs"] = s.deps.Jobs.Jobs()
	}
	runs := []model.JobRun{}
	if s.deps.Store != nil {
		runs, err = s.deps.Store.ListJobRuns(r.Context(), store.JobRunFilter{
			JobID:  r.URL.Query().Get("job_id"),
			Status: model.JobStatus(r.URL.Query().Get("status")),
			Limit:  limit,
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	body["runs"] = runs
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) cronTrigger(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler is not running")
		return
	}
	id := chi.URLParam(r, "job")
	run, err := s.deps.Jobs.Trigger(r.Context(), id)
	if err != nil {
		if eris.Is(err, scheduler.ErrUnknownJob) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("unknown job %q", id))
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := http.StatusOK
	switch run.Status {
	case model.JobSkipped:
		status = http.StatusConflict
	case model.JobFailed:
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, map[string]any{"success": run.Status == model.JobSuccess, "run": run})
}
