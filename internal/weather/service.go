package weather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
)

// CycleObserver receives every finished reporting cycle.
type CycleObserver interface {
	ObserveCycle(res CycleResult)
}

// Service runs the reporting cycle: allocate, fetch, report, select LED mode, release.
type Service struct {
	records  *RecordPool
	provider Provider
	reporter Reporter
	led      ModeSetter
	store    Store
	observer CycleObserver
	timeout  time.Duration
	logger   *slog.Logger
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithCycleTimeout bounds each cycle's fetch and report.
func WithCycleTimeout(d time.Duration) ServiceOption {
	return func(s *Service) { s.timeout = d }
}

// WithObserver registers a CycleObserver.
func WithObserver(o CycleObserver) ServiceOption {
	return func(s *Service) { s.observer = o }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// NewService creates a new Service.
func NewService(records *RecordPool, provider Provider, reporter Reporter, led ModeSetter, store Store, opts ...ServiceOption) *Service {
	s := &Service{
		records:  records,
		provider: provider,
		reporter: reporter,
		led:      led,
		store:    store,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "reporting")
	return s
}

// RunCycle performs one reporting cycle. Failures are returned in the result,
// never panicked; the record is released on every path.
func (s *Service) RunCycle(ctx context.Context, trigger string) CycleResult {
	res := CycleResult{
		ID:      uuid.NewString(),
		Trigger: trigger,
		Started: time.Now().UTC(),
	}

	if s.provider == nil {
		res.Step, res.Err = StepFetch, errors.New("no weather provider configured")
		return s.finish(res)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	rec := s.records.Acquire()
	defer s.records.Release(rec)

	if err := s.provider.Fetch(ctx, rec); err != nil {
		res.Step, res.Err = stepOf(err), fmt.Errorf("%s: %w", s.provider.Name(), err)
		return s.finish(res)
	}

	report := rec.Snapshot()
	report.ID = res.ID
	report.Timestamp = res.Started
	report.Missing = slices.Clone(rec.Missing())
	res.Report = &report
	if s.store != nil {
		s.store.SaveReport(report)
	}

	if s.reporter != nil {
		if err := s.reporter.Report(ctx, rec); err != nil {
			res.Step, res.Err = StepReport, err
			return s.finish(res)
		}
	}

	if s.led != nil {
		if err := s.led.SetMode(rec.ConditionText.String()); err != nil {
			res.Step, res.Err = StepLED, err
			return s.finish(res)
		}
	}

	return s.finish(res)
}

func (s *Service) finish(res CycleResult) CycleResult {
	res.Duration = time.Since(res.Started)
	if res.Err != nil {
		s.logger.Error("reporting cycle failed",
			"cycle", res.ID, "trigger", res.Trigger, "step", res.Step, "duration", res.Duration, "error", res.Err)
	} else {
		s.logger.Info("reporting cycle finished",
			"cycle", res.ID, "trigger", res.Trigger, "duration", res.Duration)
	}
	if s.observer != nil {
		s.observer.ObserveCycle(res)
	}
	return res
}

func stepOf(err error) Step {
	if errors.Is(err, ErrMalformedJSON) || errors.Is(err, ErrMissingField) || errors.Is(err, ErrAPIStatus) {
		return StepExtract
	}
	return StepFetch
}

// GetLatest delegates to the underlying store.
func (s *Service) GetLatest(location string) (Report, error) {
	return s.store.GetLatest(location)
}

// GetRange delegates to the underlying store.
func (s *Service) GetRange(location string, from, to time.Time) ([]Report, error) {
	return s.store.GetRange(location, from, to)
}
