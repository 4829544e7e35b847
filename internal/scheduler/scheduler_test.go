package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/weather-indicator/internal/trigger"
	"github.com/i474232898/weather-indicator/internal/weather"
)

type fakeRunner struct {
	mu       sync.Mutex
	triggers []string
	during   State
	sched    *Scheduler
	err      error
}

func (f *fakeRunner) RunCycle(_ context.Context, trig string) weather.CycleResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers = append(f.triggers, trig)
	if f.sched != nil {
		f.during = f.sched.State()
	}
	return weather.CycleResult{Trigger: trig, Err: f.err}
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.triggers)
}

type level int

func (l level) Level() (int, error) { return int(l), nil }

func TestTickClearsFlag(t *testing.T) {
	flag := &trigger.Flag{}
	runner := &fakeRunner{err: errors.New("fetch failed")}
	s := New(runner, trigger.NewSource(flag, nil, nil), time.Second, 0, nil)
	runner.sched = s

	assert.False(t, s.Tick(context.Background()), "no trigger, no cycle")

	flag.Set()
	assert.True(t, s.Tick(context.Background()))
	assert.False(t, flag.IsSet())
	assert.Equal(t, StateFetching, runner.during)
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, []string{trigger.SourceFlag}, runner.triggers)

	assert.False(t, s.Tick(context.Background()))
}

func TestTickInputActiveLow(t *testing.T) {
	runner := &fakeRunner{}
	s := New(runner, trigger.NewSource(&trigger.Flag{}, level(0), nil), time.Second, 0, nil)

	assert.True(t, s.Tick(context.Background()))
	assert.Equal(t, []string{trigger.SourceInput}, runner.triggers)
}

func TestTickCancelled(t *testing.T) {
	flag := &trigger.Flag{}
	flag.Set()
	runner := &fakeRunner{}
	s := New(runner, trigger.NewSource(flag, nil, nil), time.Second, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, s.Tick(ctx))
	assert.True(t, flag.IsSet())
}

func TestStartPollsFlag(t *testing.T) {
	flag := &trigger.Flag{}
	runner := &fakeRunner{}
	s := New(runner, trigger.NewSource(flag, nil, nil), 10*time.Millisecond, 0, nil)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	flag.Set()
	require.Eventually(t, func() bool { return runner.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return !flag.IsSet() }, time.Second, 10*time.Millisecond)
}

func TestAutoRefreshSetsFlag(t *testing.T) {
	runner := &fakeRunner{}
	s := New(runner, trigger.NewSource(&trigger.Flag{}, nil, nil), 10*time.Millisecond, 30*time.Millisecond, nil)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.Eventually(t, func() bool { return runner.count() >= 1 }, 2*time.Second, 10*time.Millisecond)
}
