package orchestrator

import (
	"context"
	"errors"
	"testing"
)

func TestStartAtomicitySuccess(t *testing.T) {
	o := New(nil)
	var started []string
	for _, name := range []string{"a", "b", "c"} {
		n := name
		o.Register(Component{
			Name:  n,
			Start: func(ctx context.Context) error { started = append(started, n); return nil },
			Stop:  func(ctx context.Context) error { return nil },
		})
	}
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	if len(started) != 3 {
		t.Fatalf("expected all 3 components started, got %v", started)
	}
}

func TestStartAtomicityRollsBackOnFailure(t *testing.T) {
	o := New(nil)
	var stopped []string

	o.Register(Component{
		Name:  "db",
		Start: func(ctx context.Context) error { return nil },
		Stop:  func(ctx context.Context) error { stopped = append(stopped, "db"); return nil },
	})
	o.Register(Component{
		Name:  "certs",
		Start: func(ctx context.Context) error { return nil },
		Stop:  func(ctx context.Context) error { stopped = append(stopped, "certs"); return nil },
	})
	o.Register(Component{
		Name:  "routing",
		Start: func(ctx context.Context) error { return errors.New("boom") },
		Stop:  func(ctx context.Context) error { stopped = append(stopped, "routing"); return nil },
	})

	err := o.Start(context.Background())
	if err == nil {
		t.Fatalf("expected start to fail")
	}
	// Only the already-started prefix (db, certs) should be rolled back,
	// in reverse order.
	if len(stopped) != 2 || stopped[0] != "certs" || stopped[1] != "db" {
		t.Fatalf("expected rollback order [certs, db], got %v", stopped)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	o := New(nil)
	stopCount := 0
	o.Register(Component{
		Name:  "x",
		Start: func(ctx context.Context) error { return nil },
		Stop:  func(ctx context.Context) error { stopCount++; return nil },
	})
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	o.Stop(context.Background())
	o.Stop(context.Background())
	if stopCount != 1 {
		t.Fatalf("expected exactly one stop invocation, got %d", stopCount)
	}
}

func TestStopSurvivesIndividualFailures(t *testing.T) {
	o := New(nil)
	var order []string
	o.Register(Component{
		Name:  "first",
		Start: func(ctx context.Context) error { return nil },
		Stop:  func(ctx context.Context) error { order = append(order, "first"); return errors.New("fail") },
	})
	o.Register(Component{
		Name:  "second",
		Start: func(ctx context.Context) error { return nil },
		Stop:  func(ctx context.Context) error { order = append(order, "second"); return nil },
	})
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	o.Stop(context.Background())
	if len(order) != 2 || order[0] != "second" || order[1] != "first" {
		t.Fatalf("expected both stops invoked in reverse order despite failure, got %v", order)
	}
}
