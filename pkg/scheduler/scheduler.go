// Package scheduler triggers a scan cycle on a fixed tick whenever the
// device has moved far enough since the last cycle.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/censys/radio-survey/internal/logging"
	"github.com/censys/radio-survey/pkg/geo"
)

const (
	DefaultInterval  = 10 * time.Second
	DefaultThreshold = 20.0 // meters
)

// ErrCycle wraps a cycle that ended with an error other than cancellation.
var ErrCycle = errors.New("scan cycle failed")

// PositionProvider returns the most recent known position, or an error
// wrapping geo.ErrNoPosition when none is available.
type PositionProvider interface {
	LastPosition(ctx context.Context) (geo.Position, error)
}

// CycleRunner runs one full scan cycle at a position.
type CycleRunner interface {
	RunCycle(ctx context.Context, pos geo.Position) error
}

// Metrics records scheduler decisions.
type Metrics interface {
	ObserveTick(outcome string)
	ObserveCycle(d time.Duration, err error)
}

// Tick outcomes.
const (
	TickNoPosition = "no_position"
	TickBusy       = "busy"
	TickNotMoved   = "not_moved"
	TickStarted    = "started"
)

type noopMetrics struct{}

func (noopMetrics) ObserveTick(string)                {}
func (noopMetrics) ObserveCycle(time.Duration, error) {}

// Config holds the trigger policy.
type Config struct {
	Interval  time.Duration
	Threshold float64 // meters
}

// Scheduler starts at most one cycle at a time. A tick that arrives while a
// cycle is running is skipped, not queued.
type Scheduler struct {
	cfg      Config
	position PositionProvider
	runner   CycleRunner
	metrics  Metrics
	log      logging.Logger

	scanning atomic.Bool

	mu      sync.Mutex
	last    geo.Position
	hasLast bool

	wg sync.WaitGroup
}

// Option customises a Scheduler.
type Option func(*Scheduler)

func WithMetrics(m Metrics) Option {
	return func(s *Scheduler) {
		if m != nil {
			s.metrics = m
		}
	}
}

// New builds a Scheduler. A non-positive interval or a negative threshold
// falls back to the default; a zero threshold scans on every tick.
func New(cfg Config, position PositionProvider, runner CycleRunner, log logging.Logger, opts ...Option) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Threshold < 0 {
		cfg.Threshold = DefaultThreshold
	}
	if log == nil {
		log = logging.Noop()
	}
	s := &Scheduler{
		cfg:      cfg,
		position: position,
		runner:   runner,
		metrics:  noopMetrics{},
		log:      log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run ticks until ctx is done, then waits for an in-flight cycle to return.
// The first tick fires immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info(ctx, "scheduler started",
		logging.Duration("interval", s.cfg.Interval),
		logging.Float64("threshold_m", s.cfg.Threshold),
	)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.log.Info(context.Background(), "scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick evaluates the trigger once and, if it fires, starts a cycle in the
// background. It reports whether a cycle was started.
func (s *Scheduler) Tick(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	if !s.scanning.CompareAndSwap(false, true) {
		s.metrics.ObserveTick(TickBusy)
		s.log.Debug(ctx, "tick skipped: cycle in progress")
		return false
	}
	pos, err := s.position.LastPosition(ctx)
	if err != nil {
		s.scanning.Store(false)
		s.metrics.ObserveTick(TickNoPosition)
		s.log.Debug(ctx, "tick skipped: no position", logging.Error(err))
		return false
	}

	s.mu.Lock()
	moved := !s.hasLast || geo.Distance(s.last, pos) >= s.cfg.Threshold
	if moved {
		s.last, s.hasLast = pos, true
	}
	s.mu.Unlock()

	if !moved {
		s.scanning.Store(false)
		s.metrics.ObserveTick(TickNotMoved)
		s.log.Debug(ctx, "tick skipped: not moved", logging.String("position", pos.String()))
		return false
	}

	s.metrics.ObserveTick(TickStarted)
	s.wg.Add(1)
	go s.cycle(ctx, pos)
	return true
}

func (s *Scheduler) cycle(ctx context.Context, pos geo.Position) {
	defer s.wg.Done()
	defer s.scanning.Store(false)

	start := time.Now()
	err := s.runSafe(ctx, pos)
	s.metrics.ObserveCycle(time.Since(start), err)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		s.log.Info(ctx, "cycle cancelled", logging.String("position", pos.String()))
	default:
		s.log.Error(ctx, "cycle failed", logging.Error(err))
	}
}

func (s *Scheduler) runSafe(ctx context.Context, pos geo.Position) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrCycle, r)
		}
	}()
	if err := s.runner.RunCycle(ctx, pos); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrCycle, err)
	}
	return nil
}

// Scanning reports whether a cycle is in progress.
func (s *Scheduler) Scanning() bool { return s.scanning.Load() }

// LastScanPosition returns the position of the most recently started cycle.
func (s *Scheduler) LastScanPosition() (geo.Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.hasLast
}
