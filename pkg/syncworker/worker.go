// Package syncworker runs sync cycles for a connector on a fixed interval.
// Each worker owns one goroutine, so cycles for a connector never overlap.
package syncworker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/discordwell/cliaas/pkg/clock"
	"github.com/discordwell/cliaas/pkg/errors"
	"github.com/discordwell/cliaas/pkg/logger"
	"github.com/discordwell/cliaas/pkg/metrics"
	"github.com/discordwell/cliaas/pkg/syncengine"
)

// DefaultInterval separates the end of one cycle from the start of the next
const DefaultInterval = 5 * time.Minute

// Runner is the part of the sync engine a worker drives
type Runner interface {
	Validate(connector string) (string, error)
	RunSyncCycle(ctx context.Context, connector string, opts syncengine.Options) (*syncengine.SyncStats, error)
}

// Options configure a worker
type Options struct {
	// Interval between the end of a cycle and the start of the next.
	// Zero means DefaultInterval.
	Interval time.Duration

	// OutDir and MaxPages are passed to every cycle
	OutDir   string
	MaxPages int

	// CycleTimeout bounds each cycle when positive
	CycleTimeout time.Duration

	// OnCycle receives stats of cycles that completed cleanly
	OnCycle func(*syncengine.SyncStats)

	// OnError receives every failed cycle
	OnError func(*CycleError)
}

// CycleError describes a failed cycle. Stats is nil when the cycle returned
// an error or panicked before producing stats.
type CycleError struct {
	Connector string
	Stats     *syncengine.SyncStats
	Err       error
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("sync cycle for %s failed: %v", e.Connector, e.Err)
}

func (e *CycleError) Unwrap() error { return e.Err }

// Supervisor starts workers and keeps track of them
type Supervisor struct {
	runner Runner
	clock  clock.Clock
	logger *zap.Logger

	mu      sync.Mutex
	handles []*Handle
}

// Option customizes a Supervisor
type Option func(*Supervisor)

// WithClock sets the clock used for scheduling
func WithClock(c clock.Clock) Option { return func(s *Supervisor) { s.clock = c } }

// WithLogger sets the supervisor logger
func WithLogger(l *zap.Logger) Option { return func(s *Supervisor) { s.logger = l } }

// NewSupervisor creates a Supervisor driving runner
func NewSupervisor(runner Runner, opts ...Option) *Supervisor {
	s := &Supervisor{runner: runner, clock: clock.Real()}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}
	return s
}

// Start validates connector and its credentials, then runs the first cycle
// immediately in a new goroutine. Configuration errors reject the start.
// Cancelling ctx stops the worker.
func (s *Supervisor) Start(ctx context.Context, connector string, opts Options) (*Handle, error) {
	name, err := s.runner.Validate(connector)
	if err != nil {
		return nil, err
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}

	log := s.logger.With(zap.String("component", "sync_worker"), zap.String("connector", name))
	h := &Handle{
		connector: name,
		opts:      opts,
		runner:    s.runner,
		clock:     s.clock,
		logger:    log,
		prefix:    "[sync-worker:" + name + "] ",
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		running:   true,
	}

	s.mu.Lock()
	s.handles = append(s.handles, h)
	s.mu.Unlock()

	metrics.WorkersRunning.WithLabelValues(name).Inc()
	h.logger.Info(h.prefix+"started", zap.Duration("interval", opts.Interval))
	go h.loop(ctx)
	return h, nil
}

// StartSyncWorker starts a single worker for connector with its own
// supervisor
func StartSyncWorker(ctx context.Context, runner Runner, connector string, opts Options) (*Handle, error) {
	return NewSupervisor(runner).Start(ctx, connector, opts)
}

// Handles returns every worker started so far
func (s *Supervisor) Handles() []*Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Handle, len(s.handles))
	copy(out, s.handles)
	return out
}

// StopAll stops every worker and waits for in-flight cycles to finish
func (s *Supervisor) StopAll() {
	handles := s.Handles()
	for _, h := range handles {
		h.Stop()
	}
	for _, h := range handles {
		h.Wait()
	}
}

// Handle controls a running worker
type Handle struct {
	connector string
	opts      Options
	runner    Runner
	clock     clock.Clock
	logger    *zap.Logger
	prefix    string

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}

	mu      sync.Mutex
	running bool
}

// Connector returns the canonical connector name
func (h *Handle) Connector() string { return h.connector }

// Stop marks the worker stopped and cancels the pending timer. A cycle in
// flight runs to completion but is not rescheduled. Stop is idempotent.
func (h *Handle) Stop() {
	h.stopOnce.Do(func() {
		h.mu.Lock()
		h.running = false
		h.mu.Unlock()
		close(h.stop)
		metrics.WorkersRunning.WithLabelValues(h.connector).Dec()
		h.logger.Info(h.prefix + "stopped")
	})
}

// IsRunning reports whether Stop has not been called
func (h *Handle) IsRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

// Done is closed once the worker goroutine exits
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the worker goroutine exits
func (h *Handle) Wait() { <-h.done }

func (h *Handle) loop(ctx context.Context) {
	defer close(h.done)

	// Parent cancellation is a Stop
	go func() {
		select {
		case <-ctx.Done():
			h.Stop()
		case <-h.stop:
		}
	}()

	// The cycle context is not tied to Stop so in-flight work completes
	cycleParent := context.WithoutCancel(ctx)
	for {
		h.runOnce(cycleParent)

		if !h.IsRunning() {
			return
		}
		h.logger.Debug(h.prefix+"next cycle scheduled", zap.Duration("in", h.opts.Interval))
		select {
		case <-h.stop:
			return
		case <-h.clock.After(h.opts.Interval):
		}
		if !h.IsRunning() {
			return
		}
	}
}

func (h *Handle) runOnce(parent context.Context) {
	ctx := parent
	if h.opts.CycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, h.opts.CycleTimeout)
		defer cancel()
	}

	stats, err := h.cycle(ctx)
	switch {
	case err != nil:
		h.logger.Error(h.prefix+"sync cycle error", zap.Error(err))
		h.report(&CycleError{Connector: h.connector, Err: err})
	case stats == nil:
		h.report(&CycleError{Connector: h.connector, Err: errors.New(errors.ErrorTypeInternal, "sync cycle returned no stats")})
	case stats.Failed():
		h.logger.Warn(h.prefix+"sync cycle failed",
			zap.String("cycle_id", stats.CycleID),
			zap.String("error", stats.Error))
		cause := stats.Err
		if cause == nil {
			cause = errors.New(errors.ErrorTypeInternal, stats.Error)
		}
		h.report(&CycleError{Connector: h.connector, Stats: stats, Err: cause})
	default:
		h.logger.Info(h.prefix+"sync cycle completed",
			zap.String("cycle_id", stats.CycleID),
			zap.Int("tickets", stats.Counts.Tickets),
			zap.Int("messages", stats.Counts.Messages),
			zap.Int64("duration_ms", stats.DurationMs))
		if h.opts.OnCycle != nil {
			h.callback(func() { h.opts.OnCycle(stats) })
		}
	}
}

// cycle runs one sync cycle, turning a panic into an error
func (h *Handle) cycle(ctx context.Context) (stats *syncengine.SyncStats, err error) {
	defer func() {
		if p := recover(); p != nil {
			h.logger.Error(h.prefix+"sync cycle panicked", zap.Any("panic", p), zap.ByteString("stack", debug.Stack()))
			stats, err = nil, errors.Newf(errors.ErrorTypeInternal, "sync cycle panicked: %v", p)
		}
	}()
	return h.runner.RunSyncCycle(ctx, h.connector, syncengine.Options{
		OutDir:   h.opts.OutDir,
		MaxPages: h.opts.MaxPages,
	})
}

func (h *Handle) report(ce *CycleError) {
	if h.opts.OnError != nil {
		h.callback(func() { h.opts.OnError(ce) })
	}
}

// callback shields the loop from panicking callbacks
func (h *Handle) callback(fn func()) {
	defer func() {
		if p := recover(); p != nil {
			h.logger.Error(h.prefix+"callback panicked", zap.Any("panic", p))
		}
	}()
	fn()
}
