// Package orchestrator provides atomic, ordered bring-up and guaranteed
// teardown of the core's fixed dependency graph of subsystems (C5). It owns
// the single OS signal handler for the whole process — components register
// start/stop only and must never call signal.Notify themselves, matching
// how the teacher's main.go installs exactly one signal handler for
// graceful shutdown.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// Kind categorizes a start-time failure for the process exit code.
type Kind int

const (
	KindUnknown Kind = iota
	KindPlatform
	KindResource
	KindConfiguration
	KindNetwork
	KindSecurity
)

// StartError wraps the error returned by a component's Start with the
// component name and an error Kind, so the composition root can choose a
// category-specific exit code.
type StartError struct {
	Component string
	Kind      Kind
	Err       error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("%s: %v", e.Component, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// Component is one entry in the dependency graph: a name plus start/stop
// functions. Start must be fully effective or leave no externally visible
// state. Stop is best-effort and must never panic or block indefinitely.
type Component struct {
	Name  string
	Start func(ctx context.Context) error
	Stop  func(ctx context.Context) error
	Kind  Kind
}

// Orchestrator walks a registered set of Components in order on Start, and
// in reverse order on Stop or on rollback after a failed Start.
type Orchestrator struct {
	mu        sync.Mutex
	logger    *slog.Logger
	registry  []Component
	started   []Component
	stopOnce  sync.Once
	sigCh     chan os.Signal
	onShutdown func()
}

// New constructs an Orchestrator. logger may be nil, in which case the
// default slog logger is used.
func New(logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{logger: logger}
}

// Register appends a component to the registry. Must only be called during
// construction, before Start.
func (o *Orchestrator) Register(c Component) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.registry = append(o.registry, c)
}

// Start walks the registry in order, invoking each component's Start. On
// the first failure it rolls back the already-started prefix in reverse
// order and returns a *StartError describing the original failure; the
// registry is left in the empty-started state. On success every
// registered component is in the started set.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	registry := append([]Component(nil), o.registry...)
	o.mu.Unlock()

	started := make([]Component, 0, len(registry))
	for _, c := range registry {
		o.logger.Info("starting component", "component", c.Name)
		if err := c.Start(ctx); err != nil {
			o.logger.Error("component start failed, rolling back", "component", c.Name, "error", err)
			o.rollback(ctx, started)
			return &StartError{Component: c.Name, Kind: c.Kind, Err: err}
		}
		started = append(started, c)
	}

	o.mu.Lock()
	o.started = started
	o.mu.Unlock()
	return nil
}

// rollback stops components in started, in reverse order, swallowing
// individual stop failures (logged, not propagated).
func (o *Orchestrator) rollback(ctx context.Context, started []Component) {
	for i := len(started) - 1; i >= 0; i-- {
		c := started[i]
		if err := safeStop(c.Stop, ctx); err != nil {
			o.logger.Error("rollback stop failed", "component", c.Name, "error", err)
		}
	}
}

// Stop idempotently tears down every started component in reverse order.
// Individual stop failures are logged but never abort the sweep. Calling
// Stop more than once has the same effect as calling it once.
func (o *Orchestrator) Stop(ctx context.Context) {
	o.stopOnce.Do(func() {
		o.mu.Lock()
		started := o.started
		o.started = nil
		o.mu.Unlock()

		for i := len(started) - 1; i >= 0; i-- {
			c := started[i]
			o.logger.Info("stopping component", "component", c.Name)
			if err := safeStop(c.Stop, ctx); err != nil {
				o.logger.Error("component stop failed", "component", c.Name, "error", err)
			}
		}
	})
}

func safeStop(stop func(ctx context.Context) error, ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during stop: %v", r)
		}
	}()
	return stop(ctx)
}

// InstallSignalHandler registers the sole SIGINT/SIGTERM handler for the
// process. A background goroutine waits for the first termination signal,
// then calls Stop and then onShutdown (if non-nil); ending the process is
// left to onShutdown. Components must never register their own signal
// handlers.
func (o *Orchestrator) InstallSignalHandler(onShutdown func()) {
	o.sigCh = make(chan os.Signal, 1)
	o.onShutdown = onShutdown
	signal.Notify(o.sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-o.sigCh
		o.logger.Info("received termination signal, shutting down", "signal", sig.String())
		o.Stop(context.Background())
		if o.onShutdown != nil {
			o.onShutdown()
		}
	}()
}
