// Package trigger holds the inputs that start a reporting cycle: the shared
// trigger flag written by cloud and API callbacks, and an active-low digital input.
package trigger

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
)

// Source names for an observed trigger.
const (
	SourceInput = "gpio"
	SourceFlag  = "flag"
)

// Flag is a single shared word set by callbacks and cleared by the reporting loop.
type Flag struct {
	v atomic.Bool
}

func (f *Flag) Set()        { f.v.Store(true) }
func (f *Flag) Clear()      { f.v.Store(false) }
func (f *Flag) IsSet() bool { return f.v.Load() }

// Input is a digital input. Level returns 0 or 1.
type Input interface {
	Level() (int, error)
}

// NoInput is an input that is never active.
type NoInput struct{}

func (NoInput) Level() (int, error) { return 1, nil }

// SysfsPin reads a GPIO value file such as /sys/class/gpio/gpio0/value.
type SysfsPin struct {
	path string
}

// NewSysfsPin returns the input for gpio pin under root.
func NewSysfsPin(root string, pin int) *SysfsPin {
	return &SysfsPin{path: filepath.Join(root, fmt.Sprintf("gpio%d", pin), "value")}
}

func (p *SysfsPin) Level() (int, error) {
	b, err := os.ReadFile(p.path)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", p.path, err)
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || (v != 0 && v != 1) {
		return 0, fmt.Errorf("gpio %s: unexpected value %q", p.path, strings.TrimSpace(string(b)))
	}
	return v, nil
}

// Counter counts observed triggers by source.
type Counter interface {
	ObserveTrigger(source string)
}

// Source combines the digital input (active low) and the flag.
type Source struct {
	Flag    *Flag
	Input   Input
	Counter Counter
	Logger  *slog.Logger

	// failing is set while the input keeps failing, so the error is logged once.
	failing atomic.Bool
}

// NewSource creates a Source. A nil input is treated as never active.
func NewSource(flag *Flag, input Input, logger *slog.Logger) *Source {
	if input == nil {
		input = NoInput{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{Flag: flag, Input: input, Logger: logger.With("component", "trigger")}
}

// Observed reports whether a cycle should start and which source asked for it.
// A failing input read is treated as inactive and logged once until a read succeeds.
func (s *Source) Observed() (string, bool) {
	source := ""
	level, err := s.Input.Level()
	switch {
	case err != nil:
		if !s.failing.Swap(true) {
			s.Logger.Warn("reading trigger input", "error", err)
		}
	case s.failing.Swap(false):
		s.Logger.Info("trigger input readable again")
	}
	if err == nil && level == 0 {
		source = SourceInput
	}
	if source == "" && s.Flag.IsSet() {
		source = SourceFlag
	}
	if source == "" {
		return "", false
	}
	if s.Counter != nil {
		s.Counter.ObserveTrigger(source)
	}
	return source, true
}
