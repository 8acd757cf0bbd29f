package scheduler

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Status reports whether a gated call ran.
type Status int

const (
	// Started means fn ran to completion.
	Started Status = iota
	// Busy means another call held the gate; fn did not run.
	Busy
)

func (s Status) String() string {
	if s == Busy {
		return "busy"
	}
	return "started"
}

// Gate is a single-slot lock. Calls arriving while it is held are dropped,
// never queued.
type Gate struct {
	name string
	sem  *semaphore.Weighted
}

// NewGate returns an open gate.
func NewGate(name string) *Gate {
	return &Gate{name: name, sem: semaphore.NewWeighted(1)}
}

// TryRun runs fn if the gate is free.
func (g *Gate) TryRun(ctx context.Context, fn func(ctx context.Context) error) (Status, error) {
	if !g.sem.TryAcquire(1) {
		zap.L().Warn("scheduler: already running, request dropped", zap.String("gate", g.name))
		return Busy, nil
	}
	defer g.sem.Release(1)
	return Started, fn(ctx)
}

// Running reports whether the gate is currently held.
func (g *Gate) Running() bool {
	if g.sem.TryAcquire(1) {
		g.sem.Release(1)
		return false
	}
	return true
}
