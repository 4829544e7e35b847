package led

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
)

// RGB is an 8-bit color.
type RGB struct {
	R, G, B uint8
}

// HSV converts hue (degrees), saturation and value (0..1) to RGB.
func HSV(h, s, v float64) RGB {
	h = math.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	s = clamp01(s)
	v = clamp01(v)

	c := v * s
	x := c * (1 - math.Abs(math.Mod(h/60, 2)-1))
	m := v - c

	var r, g, b float64
	switch {
	case h < 60:
		r, g, b = c, x, 0
	case h < 120:
		r, g, b = x, c, 0
	case h < 180:
		r, g, b = 0, c, x
	case h < 240:
		r, g, b = 0, x, c
	case h < 300:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}
	return RGB{to8(r + m), to8(g + m), to8(b + m)}
}

func clamp01(f float64) float64 {
	return math.Max(0, math.Min(1, f))
}

func to8(f float64) uint8 {
	return uint8(math.Round(clamp01(f) * 255))
}

// Strip is an addressable LED strip.
type Strip interface {
	Len() int
	SetPixel(i int, c RGB) error
	Refresh() error
	Clear() error
}

// MemoryStrip keeps pixels in memory.
type MemoryStrip struct {
	mu        sync.Mutex
	pixels    []RGB
	shown     []RGB
	refreshes int
}

func NewMemoryStrip(n int) *MemoryStrip {
	return &MemoryStrip{pixels: make([]RGB, n), shown: make([]RGB, n)}
}

func (s *MemoryStrip) Len() int { return len(s.pixels) }

func (s *MemoryStrip) SetPixel(i int, c RGB) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.pixels) {
		return fmt.Errorf("pixel %d out of range [0,%d)", i, len(s.pixels))
	}
	s.pixels[i] = c
	return nil
}

func (s *MemoryStrip) Refresh() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copy(s.shown, s.pixels)
	s.refreshes++
	return nil
}

func (s *MemoryStrip) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.pixels)
	clear(s.shown)
	s.refreshes++
	return nil
}

// Shown returns the pixels of the last refresh.
func (s *MemoryStrip) Shown() []RGB {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RGB, len(s.shown))
	copy(out, s.shown)
	return out
}

// LogStrip is a MemoryStrip that logs every refreshed frame at debug level.
type LogStrip struct {
	*MemoryStrip
	logger *slog.Logger
}

func NewLogStrip(n int, logger *slog.Logger) *LogStrip {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogStrip{MemoryStrip: NewMemoryStrip(n), logger: logger.With("component", "strip")}
}

func (s *LogStrip) Refresh() error {
	if err := s.MemoryStrip.Refresh(); err != nil {
		return err
	}
	s.logger.Debug("strip refreshed", "pixels", s.Shown())
	return nil
}
