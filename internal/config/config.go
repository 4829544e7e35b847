package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// DefaultWeatherURL is the district query the device ships with.
const DefaultWeatherURL = "https://api.map.baidu.com/weather/v1/?district_id=440300&data_type=now&ak=YOUR_AK"

type AppConfig struct {
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text" validate:"oneof=text json"`
	Port      string `envconfig:"PORT" default:"8080" validate:"required,numeric"`

	Weather WeatherConfig
	Report  ReportConfig
	Trigger TriggerConfig
	LED     LEDConfig

	// In-memory report history retention.
	StoreMaxHistory int           `envconfig:"STORE_MAX_HISTORY" default:"96" validate:"gte=0"` // 0 = unlimited
	StoreMaxAge     time.Duration `envconfig:"STORE_MAX_AGE" default:"24h" validate:"gte=0"`    // 0 = unlimited

	// DatabasePath is where the device layer persists parameter updates and alerts.
	DatabasePath string `envconfig:"DATABASE_PATH" default:"weather-indicator.db" validate:"required"`
}

// WeatherConfig controls the HTTP fetch and JSON extraction.
type WeatherConfig struct {
	URL              string        `envconfig:"WEATHER_URL" validate:"required,url"`
	HTTPTimeout      time.Duration `envconfig:"WEATHER_HTTP_TIMEOUT" default:"15s" validate:"gt=0"`
	MaxResponseBytes int           `envconfig:"WEATHER_MAX_RESPONSE_BYTES" default:"2048" validate:"gt=0"`
	OverflowPolicy   string        `envconfig:"WEATHER_OVERFLOW_POLICY" default:"error" validate:"oneof=error truncate"`
	// AcceptChunked decides whether chunked (unknown length) bodies are accumulated.
	// The weather API has not been observed to send them.
	AcceptChunked  bool   `envconfig:"WEATHER_ACCEPT_CHUNKED" default:"true"`
	MaxRedirects   int    `envconfig:"WEATHER_MAX_REDIRECTS" default:"3" validate:"gte=0"`
	RedirectFrom   string `envconfig:"WEATHER_REDIRECT_FROM" default:"user@example.com"`
	RedirectAccept string `envconfig:"WEATHER_REDIRECT_ACCEPT" default:"text/html"`
	Retries        int    `envconfig:"WEATHER_FETCH_RETRIES" default:"0" validate:"gte=0,lte=10"`

	StringSize         int    `envconfig:"WEATHER_STRING_SIZE" default:"64" validate:"gte=2"`
	MissingFieldPolicy string `envconfig:"WEATHER_MISSING_FIELD_POLICY" default:"abort" validate:"oneof=abort skip default"`
	DefaultText        string `envconfig:"WEATHER_DEFAULT_TEXT" default:"unknown"`
}

// ReportConfig controls alert rules for the device layer.
type ReportConfig struct {
	RainKeywords  []string `envconfig:"RAIN_KEYWORDS" default:"雨,rain" validate:"min=1,dive,required"`
	HeatThreshold float64  `envconfig:"HEAT_THRESHOLD" default:"20"`
	RainAlert     string   `envconfig:"RAIN_ALERT_MESSAGE" default:"It is raining, take an umbrella!"`
	HeatAlert     string   `envconfig:"HEAT_ALERT_MESSAGE" default:"High temperature! Beware of heatstroke!"`
}

// TriggerConfig controls the reporting loop.
type TriggerConfig struct {
	PollInterval        time.Duration `envconfig:"POLL_INTERVAL" default:"100ms" validate:"gt=0"`
	AutoRefreshInterval time.Duration `envconfig:"AUTO_REFRESH_INTERVAL" default:"0s" validate:"gte=0"` // 0 = off
	// GPIOPin is the sysfs gpio number of the boot button; negative disables it.
	GPIOPin  int    `envconfig:"GPIO_PIN" default:"-1"`
	GPIORoot string `envconfig:"GPIO_ROOT" default:"/sys/class/gpio"`
}

// LEDConfig controls the LED render loop.
type LEDConfig struct {
	Pixels        int           `envconfig:"LED_PIXELS" default:"12" validate:"gt=0"`
	FrameInterval time.Duration `envconfig:"LED_FRAME_INTERVAL" default:"50ms" validate:"gt=0"`
}

var validate = validator.New()

// Load reads configuration from the environment (and an optional .env file).
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found or error loading it", "error", err)
	}
	return FromEnv()
}

// FromEnv populates and validates an AppConfig from the current environment.
func FromEnv() (*AppConfig, error) {
	cfg := &AppConfig{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}
	if cfg.Weather.URL == "" {
		cfg.Weather.URL = DefaultWeatherURL
	}
	for i, kw := range cfg.Report.RainKeywords {
		cfg.Report.RainKeywords[i] = strings.TrimSpace(kw)
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// NewLogger builds the process logger from LogLevel and LogFormat.
func (c *AppConfig) NewLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if c.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(h)
}
