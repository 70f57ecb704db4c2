package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// hook pairs a start step with the step that undoes it. Either may be nil.
type hook struct {
	name  string
	start func(context.Context) error
	stop  func(context.Context) error
}

// Lifecycle starts platform components in registration order and stops them
// in reverse.
type Lifecycle struct {
	mu      sync.Mutex
	hooks   []hook
	started bool
}

// NewLifecycle creates a new lifecycle manager.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{}
}

// Append registers a component's start and stop steps.
func (l *Lifecycle) Append(name string, start, stop func(context.Context) error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hooks = append(l.hooks, hook{name: name, start: start, stop: stop})
}

// OnStop registers a step that only runs on shutdown.
func (l *Lifecycle) OnStop(name string, stop func(context.Context) error) {
	l.Append(name, nil, stop)
}

// Closer is something that can be closed.
type Closer interface {
	Close() error
}

// RegisterCloser registers a closer to be closed on shutdown.
func (l *Lifecycle) RegisterCloser(name string, c Closer) {
	l.OnStop(name, func(context.Context) error { return c.Close() })
}

// Start runs all start steps. If one fails, the components started before it
// are stopped again.
func (l *Lifecycle) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.started {
		return errors.New("lifecycle already started")
	}

	for i, h := range l.hooks {
		if h.start == nil {
			continue
		}
		if err := h.start(ctx); err != nil {
			l.stopFrom(ctx, i-1)
			return fmt.Errorf("starting %s: %w", h.name, err)
		}
	}

	l.started = true
	return nil
}

// Stop runs all stop steps in reverse order and joins their errors.
func (l *Lifecycle) Stop(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.started {
		return nil
	}
	l.started = false
	return l.stopFrom(ctx, len(l.hooks)-1)
}

// IsStarted returns whether the lifecycle has been started.
func (l *Lifecycle) IsStarted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.started
}

func (l *Lifecycle) stopFrom(ctx context.Context, last int) error {
	var errs []error
	for i := last; i >= 0; i-- {
		h := l.hooks[i]
		if h.stop == nil {
			continue
		}
		if err := h.stop(ctx); err != nil {
			slog.Warn("lifecycle: stop failed", "component", h.name, slogKeyError, err)
			errs = append(errs, fmt.Errorf("stopping %s: %w", h.name, err))
		}
	}
	return errors.Join(errs...)
}
