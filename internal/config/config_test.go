package config

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, DefaultWeatherURL, cfg.Weather.URL)
	assert.Equal(t, 15*time.Second, cfg.Weather.HTTPTimeout)
	assert.Equal(t, "error", cfg.Weather.OverflowPolicy)
	assert.Equal(t, "abort", cfg.Weather.MissingFieldPolicy)
	assert.Equal(t, 0, cfg.Weather.Retries)
	assert.Equal(t, []string{"雨", "rain"}, cfg.Report.RainKeywords)
	assert.Equal(t, 20.0, cfg.Report.HeatThreshold)
	assert.Equal(t, 100*time.Millisecond, cfg.Trigger.PollInterval)
	assert.Equal(t, -1, cfg.Trigger.GPIOPin)
	assert.Equal(t, 96, cfg.StoreMaxHistory)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("WEATHER_URL", "http://localhost:9000/weather")
	t.Setenv("WEATHER_OVERFLOW_POLICY", "truncate")
	t.Setenv("RAIN_KEYWORDS", "rain, shower")
	t.Setenv("HEAT_THRESHOLD", "30.5")
	t.Setenv("POLL_INTERVAL", "250ms")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000/weather", cfg.Weather.URL)
	assert.Equal(t, "truncate", cfg.Weather.OverflowPolicy)
	assert.Equal(t, []string{"rain", "shower"}, cfg.Report.RainKeywords)
	assert.Equal(t, 30.5, cfg.Report.HeatThreshold)
	assert.Equal(t, 250*time.Millisecond, cfg.Trigger.PollInterval)
}

func TestFromEnvInvalid(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"bad overflow policy", "WEATHER_OVERFLOW_POLICY", "drop"},
		{"bad missing policy", "WEATHER_MISSING_FIELD_POLICY", "ignore"},
		{"bad url", "WEATHER_URL", "not a url"},
		{"string size too small", "WEATHER_STRING_SIZE", "1"},
		{"unparsable duration", "POLL_INTERVAL", "soon"},
		{"bad log level", "LOG_LEVEL", "verbose"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}

func TestNewLogger(t *testing.T) {
	cfg := &AppConfig{LogLevel: "warn", LogFormat: "json"}
	l := cfg.NewLogger()
	assert.False(t, l.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, l.Enabled(context.Background(), slog.LevelWarn))
}
