// Package scheduler runs background jobs on cron schedules and on demand.
// Every job body is isolated: panics and errors are logged and recorded as
// failed runs, never propagated.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/jtwolab/rankops/internal/model"
	"github.com/jtwolab/rankops/internal/store"
)

// ErrUnknownJob is returned by Trigger for an unregistered job id.
var ErrUnknownJob = eris.New("scheduler: unknown job")

// Outcome is what a job body reports back.
type Outcome struct {
	Message string
	Details map[string]any
}

// JobFunc is a job body.
type JobFunc func(ctx context.Context) (Outcome, error)

// Job is a registered background job. Spec may be empty for trigger-only
// jobs. Jobs sharing a Gate never overlap.
type Job struct {
	ID   string
	Name string
	Spec string
	Gate *Gate
	Run  JobFunc
}

// JobInfo describes a registered job.
type JobInfo struct {
	ID   string    `json:"id"`
	Name string    `json:"name"`
	Spec string    `json:"spec,omitempty"`
	Next time.Time `json:"next_run,omitempty"`
}

// Scheduler owns the cron runner and the job registry.
type Scheduler struct {
	cron    *cron.Cron
	store   store.Store
	timeout time.Duration

	mu      sync.RWMutex
	jobs    map[string]Job
	entries map[string]cron.EntryID
}

// New returns a scheduler evaluating cron specs in loc. Runs are recorded
// in st when it is non-nil.
func New(loc *time.Location, st store.Store) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		cron:    cron.New(cron.WithLocation(loc), cron.WithLogger(cronLogger{})),
		store:   st,
		timeout: 2 * time.Hour,
		jobs:    make(map[string]Job),
		entries: make(map[string]cron.EntryID),
	}
}

// Add registers a job and schedules it when Spec is set.
func (s *Scheduler) Add(job Job) error {
	if job.ID == "" || job.Run == nil {
		return eris.New("scheduler: job needs an id and a body")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return eris.Errorf("scheduler: job %q already registered", job.ID)
	}
	if job.Spec != "" {
		id, err := s.cron.AddFunc(job.Spec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
			defer cancel()
			s.execute(ctx, job, "cron")
		})
		if err != nil {
			return eris.Wrapf(err, "scheduler: schedule %s (%q)", job.ID, job.Spec)
		}
		s.entries[job.ID] = id
	}
	s.jobs[job.ID] = job
	return nil
}

// Start begins firing cron entries in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	zap.L().Info("scheduler: started", zap.Int("jobs", len(s.Jobs())))
}

// Stop prevents new runs and waits for running ones until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		zap.L().Warn("scheduler: stop timed out with jobs still running")
	}
}

// Jobs lists registered jobs sorted by id.
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]JobInfo, 0, len(s.jobs))
	for id, j := range s.jobs {
		info := JobInfo{ID: id, Name: j.Name, Spec: j.Spec}
		if eid, ok := s.entries[id]; ok {
			info.Next = s.cron.Entry(eid).Next
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out
}

// Trigger runs a job synchronously and returns the recorded run.
func (s *Scheduler) Trigger(ctx context.Context, id string) (model.JobRun, error) {
	s.mu.RLock()
	job, ok := s.jobs[id]
	s.mu.RUnlock()
	if !ok {
		return model.JobRun{}, eris.Wrapf(ErrUnknownJob, "scheduler: %s", id)
	}
	return s.execute(ctx, job, "manual"), nil
}

func (s *Scheduler) execute(ctx context.Context, job Job, trigger string) (run model.JobRun) {
	log := zap.L().With(zap.String("job", job.ID), zap.String("trigger", trigger))
	start := time.Now()
	run = model.JobRun{JobID: job.ID, JobName: job.Name, CreatedAt: start}

	defer func() {
		if p := recover(); p != nil {
			run.Status = model.JobFailed
			run.Message = fmt.Sprintf("panic: %v", p)
			log.Error("scheduler: job panicked", zap.Any("panic", p), zap.Stack("stack"))
		}
		if run.Details == nil {
			run.Details = map[string]any{}
		}
		run.Details["trigger"] = trigger
		run.Details["duration_ms"] = time.Since(start).Milliseconds()
		s.record(&run)
	}()

	log.Info("scheduler: job starting")
	var (
		out Outcome
		err error
	)
	body := func(ctx context.Context) error {
		out, err = job.Run(ctx)
		return err
	}
	if job.Gate != nil {
		st, _ := job.Gate.TryRun(ctx, body)
		if st == Busy {
			run.Status = model.JobSkipped
			run.Message = "이미 실행 중이라 건너뜀"
			return run
		}
	} else {
		_ = body(ctx)
	}

	run.Message = out.Message
	run.Details = out.Details
	if err != nil {
		run.Status = model.JobFailed
		if run.Message == "" {
			run.Message = err.Error()
		}
		log.Error("scheduler: job failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return run
	}
	run.Status = model.JobSuccess
	log.Info("scheduler: job finished", zap.String("message", run.Message), zap.Duration("elapsed", time.Since(start)))
	return run
}

func (s *Scheduler) record(run *model.JobRun) {
	if s.store == nil {
		return
	}
	// The job's own context may already be cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	saved, err := s.store.RecordJobRun(ctx, *run)
	if err != nil {
		zap.L().Warn("scheduler: failed to record job run", zap.String("job", run.JobID), zap.Error(err))
		return
	}
	*run = *saved
}

// cronLogger routes cron's own messages to zap.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	zap.S().Debugw("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	zap.S().Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
