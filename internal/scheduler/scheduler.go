package scheduler

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/i474232898/weather-indicator/internal/trigger"
	"github.com/i474232898/weather-indicator/internal/weather"
)

// State of the reporting loop.
type State int32

const (
	StateIdle State = iota
	StateFetching
)

func (s State) String() string {
	if s == StateFetching {
		return "fetching"
	}
	return "idle"
}

// Runner runs one reporting cycle. *weather.Service satisfies it.
type Runner interface {
	RunCycle(ctx context.Context, trigger string) weather.CycleResult
}

// Scheduler polls the trigger source and runs a reporting cycle when it fires.
type Scheduler struct {
	scheduler   *gocron.Scheduler
	runner      Runner
	source      *trigger.Source
	poll        time.Duration
	autoRefresh time.Duration
	state       atomic.Int32
	logger      *slog.Logger
}

// New creates a new Scheduler. autoRefresh <= 0 disables the periodic refresh job.
func New(runner Runner, source *trigger.Source, poll, autoRefresh time.Duration, logger *slog.Logger) *Scheduler {
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Scheduler{
		scheduler:   s,
		runner:      runner,
		source:      source,
		poll:        poll,
		autoRefresh: autoRefresh,
		logger:      logger.With("component", "scheduler"),
	}
}

// Start schedules the poll job (and the auto-refresh job, if enabled) and
// starts the underlying scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.scheduler.Every(s.poll).Do(func() { s.Tick(ctx) }); err != nil {
		return err
	}

	if s.autoRefresh > 0 {
		_, err := s.scheduler.Every(s.autoRefresh).WaitForSchedule().Do(func() {
			s.logger.Info("auto refresh requested")
			s.source.Flag.Set()
		})
		if err != nil {
			return err
		}
	}

	s.logger.Info("scheduler started", "poll", s.poll, "auto_refresh", s.autoRefresh)
	s.scheduler.StartAsync()
	return nil
}

// Tick performs one poll: if a trigger is observed it runs a cycle and clears
// the flag. It reports whether a cycle ran.
func (s *Scheduler) Tick(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	source, ok := s.source.Observed()
	if !ok {
		return false
	}

	s.state.Store(int32(StateFetching))
	defer s.state.Store(int32(StateIdle))

	res := s.runner.RunCycle(ctx, source)
	s.source.Flag.Clear()
	if res.Err != nil {
		s.logger.Debug("continuing after failed cycle", "step", res.Step)
	}
	return true
}

// State returns the current loop state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
