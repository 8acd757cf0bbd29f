package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtwolab/rankops/internal/model"
	"github.com/jtwolab/rankops/internal/store"
)

func newStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "jobs.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestGate_DropsConcurrentCalls(t *testing.T) {
	t.Parallel()

	g := NewGate("rank_crawl")
	entered := make(chan struct{})
	release := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		st, err := g.TryRun(context.Background(), func(context.Context) error {
			close(entered)
			<-release
			return nil
		})
		assert.Equal(t, Started, st)
		assert.NoError(t, err)
	}()

	<-entered
	assert.True(t, g.Running())

	ran := false
	st, err := g.TryRun(context.Background(), func(context.Context) error {
		ran = true
		return nil
	})
	assert.Equal(t, Busy, st)
	assert.NoError(t, err)
	assert.False(t, ran)

	close(release)
	wg.Wait()
	assert.False(t, g.Running())

	st, _ = g.TryRun(context.Background(), func(context.Context) error { return nil })
	assert.Equal(t, Started, st)
}

func TestGate_PropagatesError(t *testing.T) {
	t.Parallel()

	st, err := NewGate("x").TryRun(context.Background(), func(context.Context) error { return errors.New("boom") })
	assert.Equal(t, Started, st)
	assert.EqualError(t, err, "boom")
	assert.Equal(t, "started", st.String())
	assert.Equal(t, "busy", Busy.String())
}

func TestTrigger_RecordsSuccess(t *testing.T) {
	t.Parallel()

	st := newStore(t)
	s := New(time.UTC, st)
	require.NoError(t, s.Add(Job{ID: "guarantee_sync", Name: "보장건 동기화", Run: func(context.Context) (Outcome, error) {
		return Outcome{Message: "synced 12", Details: map[string]any{"total": 12}}, nil
	}}))

	run, err := s.Trigger(context.Background(), "guarantee_sync")
	require.NoError(t, err)
	assert.Equal(t, model.JobSuccess, run.Status)
	assert.Equal(t, "synced 12", run.Message)
	assert.NotEmpty(t, run.ID)

	runs, err := st.ListJobRuns(context.Background(), store.JobRunFilter{JobID: "guarantee_sync"})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "manual", runs[0].Details["trigger"])
	assert.Equal(t, float64(12), runs[0].Details["total"])
}

func TestTrigger_RecoversPanicAndError(t *testing.T) {
	t.Parallel()

	st := newStore(t)
	s := New(time.UTC, st)
	require.NoError(t, s.Add(Job{ID: "panics", Run: func(context.Context) (Outcome, error) {
		panic("nil map")
	}}))
	require.NoError(t, s.Add(Job{ID: "fails", Run: func(context.Context) (Outcome, error) {
		return Outcome{}, errors.New("sheet quota")
	}}))

	run, err := s.Trigger(context.Background(), "panics")
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, run.Status)
	assert.Equal(t, "panic: nil map", run.Message)

	run, err = s.Trigger(context.Background(), "fails")
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, run.Status)
	assert.Equal(t, "sheet quota", run.Message)

	sum, err := st.Summary(context.Background(), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Len(t, sum, 2)
}

func TestTrigger_SkipsWhenGateBusy(t *testing.T) {
	t.Parallel()

	gate := NewGate("rank")
	s := New(time.UTC, nil)
	require.NoError(t, s.Add(Job{ID: "rank_crawl", Gate: gate, Run: func(context.Context) (Outcome, error) {
		return Outcome{Message: "ran"}, nil
	}}))

	var run model.JobRun
	st, err := gate.TryRun(context.Background(), func(ctx context.Context) error {
		var terr error
		run, terr = s.Trigger(ctx, "rank_crawl")
		return terr
	})
	require.NoError(t, err)
	assert.Equal(t, Started, st)
	assert.Equal(t, model.JobSkipped, run.Status)
}

func TestTrigger_UnknownJob(t *testing.T) {
	t.Parallel()

	_, err := New(nil, nil).Trigger(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownJob)
}

func TestAdd_ValidatesJobs(t *testing.T) {
	t.Parallel()

	s := New(time.UTC, nil)
	noop := func(context.Context) (Outcome, error) { return Outcome{}, nil }

	assert.Error(t, s.Add(Job{ID: "bad", Spec: "not a cron", Run: noop}))
	assert.Error(t, s.Add(Job{ID: "", Run: noop}))
	require.NoError(t, s.Add(Job{ID: "daily", Name: "daily", Spec: "0 15 * * *", Run: noop}))
	assert.Error(t, s.Add(Job{ID: "daily", Run: noop}))

	s.Start()
	defer s.Stop(context.Background())

	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "daily", jobs[0].ID)
	assert.Equal(t, 15, jobs[0].Next.Hour())
}
