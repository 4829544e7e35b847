// Package led selects an animation mode from the weather condition text and
// renders it onto an addressable LED strip.
package led

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/i474232898/weather-indicator/internal/common"
)

var ErrInvalidHue = errors.New("hue must be within 0-359")

// Mode is a rendering mode for the strip.
type Mode string

const (
	ModeUnknown  Mode = "unknown"
	ModeSunny    Mode = "sunny"
	ModeCloudy   Mode = "cloudy"
	ModeOvercast Mode = "overcast"
	ModeRain     Mode = "rain"
	ModeSnow     Mode = "snow"
	ModeFog      Mode = "fog"
	ModeStorm    Mode = "storm"
)

// Ordered so that compound conditions resolve to the more severe mode,
// e.g. 雷阵雨 is a storm and 雨夹雪 is snow.
var modeKeywords = []struct {
	mode     Mode
	keywords []string
}{
	{ModeStorm, []string{"雷", "thunder", "storm"}},
	{ModeSnow, []string{"雪", "snow", "sleet", "blizzard"}},
	{ModeRain, []string{"雨", "rain", "drizzle", "shower"}},
	{ModeFog, []string{"雾", "霾", "fog", "haze", "mist"}},
	{ModeOvercast, []string{"阴", "overcast"}},
	{ModeCloudy, []string{"云", "cloud"}},
	{ModeSunny, []string{"晴", "sunny", "clear"}},
}

// SelectMode maps condition text to a Mode.
func SelectMode(text string) Mode {
	for _, mk := range modeKeywords {
		if common.HasAny(text, mk.keywords...) {
			return mk.mode
		}
	}
	return ModeUnknown
}

// State is the controller's externally visible state.
type State struct {
	Mode      Mode   `json:"mode"`
	Condition string `json:"condition"`
	On        bool   `json:"on"`
	Hue       int    `json:"hue"`
}

// Controller holds the current mode and drives the render loop. Its methods are
// safe to call from the reporting loop and API handlers while Run is active.
type Controller struct {
	mu    sync.Mutex
	state State

	strip    Strip
	interval time.Duration
	logger   *slog.Logger
}

// NewController returns a controller that is on, in unknown mode.
func NewController(strip Strip, frameInterval time.Duration, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if frameInterval <= 0 {
		frameInterval = 50 * time.Millisecond
	}
	return &Controller{
		state:    State{Mode: ModeUnknown, On: true},
		strip:    strip,
		interval: frameInterval,
		logger:   logger.With("component", "led"),
	}
}

// SetMode selects the animation for the condition text.
func (c *Controller) SetMode(text string) error {
	mode := SelectMode(text)
	c.mu.Lock()
	c.state.Mode = mode
	c.state.Condition = text
	c.mu.Unlock()
	c.logger.Info("led mode selected", "condition", text, "mode", mode)
	return nil
}

// SetSwitch turns the strip on or off.
func (c *Controller) SetSwitch(on bool) {
	c.mu.Lock()
	c.state.On = on
	c.mu.Unlock()
}

// SetHue sets the hue used by the unknown mode.
func (c *Controller) SetHue(hue int) error {
	if hue < 0 || hue > 359 {
		return fmt.Errorf("%w: %d", ErrInvalidHue, hue)
	}
	c.mu.Lock()
	c.state.Hue = hue
	c.mu.Unlock()
	return nil
}

func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Mode
}

// State returns a copy of the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Run renders frames until ctx is done, then clears the strip.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for frame := 0; ; frame++ {
		if err := c.RenderFrame(frame); err != nil {
			c.logger.Warn("rendering frame", "frame", frame, "error", err)
		}
		select {
		case <-ctx.Done():
			if err := c.strip.Clear(); err != nil {
				c.logger.Warn("clearing strip", "error", err)
			}
			return
		case <-ticker.C:
		}
	}
}

// RenderFrame draws one animation frame for the current state.
func (c *Controller) RenderFrame(frame int) error {
	st := c.State()
	if !st.On {
		return c.strip.Clear()
	}

	n := c.strip.Len()
	for i := 0; i < n; i++ {
		if err := c.strip.SetPixel(i, pixel(st, frame, i, n)); err != nil {
			return err
		}
	}
	return c.strip.Refresh()
}

// pixel computes the color of LED i of n at the given frame.
func pixel(st State, frame, i, n int) RGB {
	// breathing factor in [0.2, 1] with a 64-frame period
	breath := 0.6 + 0.4*math.Sin(2*math.Pi*float64(frame%64)/64)

	switch st.Mode {
	case ModeSunny:
		return HSV(40, 1, 1)
	case ModeCloudy:
		return HSV(200, 0.2, breath)
	case ModeOvercast:
		return HSV(0, 0, 0.3)
	case ModeRain:
		// a single drop running along the strip
		if frame%n == i {
			return HSV(220, 1, 1)
		}
		return HSV(220, 1, 0.15)
	case ModeSnow:
		if (frame+i*7)%11 == 0 {
			return HSV(0, 0, 1)
		}
		return HSV(190, 0.1, 0.4)
	case ModeFog:
		return HSV(0, 0, 0.2*breath)
	case ModeStorm:
		if frame%40 < 2 {
			return HSV(0, 0, 1)
		}
		return HSV(270, 1, 0.3)
	default:
		return HSV(float64(st.Hue), 1, breath)
	}
}
