package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewBreaker(2, time.Minute, nil)
	fail := func(context.Context) error { return errors.New("boom") }

	_ = b.Execute(context.Background(), fail)
	if b.State() != Closed {
		t.Fatalf("expected closed after one failure, got %v", b.State())
	}
	_ = b.Execute(context.Background(), fail)
	if b.State() != Open {
		t.Fatalf("expected open, got %v", b.State())
	}

	called := false
	err := b.Execute(context.Background(), func(context.Context) error { called = true; return nil })
	if !errors.Is(err, ErrOpen) || called {
		t.Fatalf("expected ErrOpen without call, got %v (called=%v)", err, called)
	}
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	now := time.Now()
	b := NewBreaker(1, time.Second, nil)
	b.now = func() time.Time { return now }

	_ = b.Execute(context.Background(), func(context.Context) error { return errors.New("boom") })
	if b.State() != Open {
		t.Fatal("expected open")
	}

	now = now.Add(2 * time.Second)
	if b.State() != HalfOpen {
		t.Fatalf("expected half-open, got %v", b.State())
	}

	// A failed probe reopens.
	_ = b.Execute(context.Background(), func(context.Context) error { return errors.New("still down") })
	if b.State() != Open {
		t.Fatalf("expected reopened, got %v", b.State())
	}

	now = now.Add(2 * time.Second)
	v, err := Call(context.Background(), b, func(context.Context) (int, error) { return 42, nil })
	if err != nil || v != 42 {
		t.Fatalf("probe: %v %v", v, err)
	}
	if b.State() != Closed {
		t.Fatalf("expected closed, got %v", b.State())
	}
}

func TestBreaker_IgnoresNonTrippingErrors(t *testing.T) {
	b := NewBreaker(1, time.Minute, IsTransient)
	_ = b.Execute(context.Background(), func(context.Context) error { return errors.New("404") })
	if b.State() != Closed {
		t.Fatalf("permanent error should not trip, got %v", b.State())
	}
}

func TestState_String(t *testing.T) {
	if Closed.String() != "closed" || Open.String() != "open" || HalfOpen.String() != "half-open" {
		t.Error("unexpected state names")
	}
}
