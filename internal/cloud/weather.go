package cloud

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/i474232898/weather-indicator/internal/common"
	"github.com/i474232898/weather-indicator/internal/weather"
)

// Device and parameter names exposed by the node.
const (
	WeatherDevice = "Today's Weather"
	LightDevice   = "Light"

	ParamTemperature = "Temperature"
	ParamWeather     = "Weather"
	ParamLocation    = "Location"
	ParamWind        = "Wind"
	ParamHumidity    = "Humidity"
	ParamRefresh     = "Refresh"

	ParamPower = "power"
	ParamColor = "color"
)

// Light is the LED control surface the light device writes to.
type Light interface {
	SetSwitch(on bool)
	SetHue(hue int) error
}

// Trigger is set when a refresh is requested.
type Trigger interface {
	Set()
}

// NewWeatherNode builds the node with the weather and light devices wired to
// the given trigger and light.
func NewWeatherNode(sink Sink, trig Trigger, light Light, logger *slog.Logger) *Node {
	n := NewNode("weather-indicator", sink, logger)

	wd := NewDevice(WeatherDevice, "esp.device.temperature-sensor")
	wd.AddParam(ParamTemperature, TypeFloat, 0.0)
	wd.AddParam(ParamLocation, TypeString, "")
	wd.AddParam(ParamWeather, TypeString, "")
	wd.AddParam(ParamWind, TypeString, "")
	wd.AddParam(ParamHumidity, TypeInt, 0)
	wd.AddParam(ParamRefresh, TypeBool, false).UI = "esp.ui.push-btn-big"
	wd.AssignPrimary(ParamWeather)
	wd.OnWrite(func(_ context.Context, p Param, _ any) error {
		if p.Name != ParamRefresh {
			return ErrIgnored
		}
		trig.Set()
		return nil
	})
	n.AddDevice(wd)

	ld := NewDevice(LightDevice, "esp.device.lightbulb")
	ld.AddParam(ParamPower, TypeBool, true)
	ld.AddParam(ParamColor, TypeInt, 0).UI = "esp.ui.hue-slider"
	ld.AssignPrimary(ParamPower)
	ld.OnWrite(func(_ context.Context, p Param, v any) error {
		switch p.Name {
		case ParamPower:
			light.SetSwitch(v.(bool))
			return nil
		case ParamColor:
			return light.SetHue(v.(int))
		}
		return ErrIgnored
	})
	n.AddDevice(ld)

	return n
}

// AlertRules decide which alerts a report raises.
type AlertRules struct {
	RainKeywords  []string
	HeatThreshold float64
	RainMessage   string
	HeatMessage   string
}

// Alert kinds passed to AlertCounter.
const (
	AlertRain = "rain"
	AlertHeat = "heat"
)

// AlertCounter counts raised alerts by kind.
type AlertCounter interface {
	ObserveAlert(kind string)
}

// Reporter pushes weather records to the node's weather device.
type Reporter struct {
	node  *Node
	rules AlertRules

	Counter AlertCounter
}

func NewReporter(node *Node, rules AlertRules) *Reporter {
	return &Reporter{node: node, rules: rules}
}

// Report updates the five weather parameters, then raises at most one rain
// alert and one heat alert. The first failing update aborts the report.
func (r *Reporter) Report(ctx context.Context, rec *weather.Record) error {
	if rec == nil {
		return fmt.Errorf("report: nil record")
	}

	updates := []struct {
		param string
		value any
	}{
		{ParamTemperature, rec.Temperature},
		{ParamWeather, rec.ConditionText.String()},
		{ParamLocation, rec.LocationName.String()},
		{ParamWind, rec.WindDescription.String()},
		{ParamHumidity, rec.Humidity},
	}
	for _, u := range updates {
		if err := r.node.UpdateAndReport(ctx, WeatherDevice, u.param, u.value); err != nil {
			return err
		}
	}

	if common.HasAny(rec.ConditionText.String(), r.rules.RainKeywords...) {
		if err := r.alert(ctx, AlertRain, r.rules.RainMessage); err != nil {
			return err
		}
	}
	if rec.Temperature >= r.rules.HeatThreshold {
		if err := r.alert(ctx, AlertHeat, r.rules.HeatMessage); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reporter) alert(ctx context.Context, kind, message string) error {
	if err := r.node.RaiseAlert(ctx, message); err != nil {
		return err
	}
	if r.Counter != nil {
		r.Counter.ObserveAlert(kind)
	}
	return nil
}
