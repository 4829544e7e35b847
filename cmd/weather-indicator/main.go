package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/valyala/bytebufferpool"

	httpapi "github.com/i474232898/weather-indicator/internal/api/http"
	"github.com/i474232898/weather-indicator/internal/cloud"
	"github.com/i474232898/weather-indicator/internal/config"
	"github.com/i474232898/weather-indicator/internal/led"
	"github.com/i474232898/weather-indicator/internal/metrics"
	"github.com/i474232898/weather-indicator/internal/scheduler"
	"github.com/i474232898/weather-indicator/internal/storage"
	"github.com/i474232898/weather-indicator/internal/store"
	"github.com/i474232898/weather-indicator/internal/trigger"
	"github.com/i474232898/weather-indicator/internal/weather"
	"github.com/i474232898/weather-indicator/internal/weather/providers"
)

func main() {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	log := cfg.NewLogger()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	db, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("failed to open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// LED render loop.
	light := led.NewController(led.NewLogStrip(cfg.LED.Pixels, log), cfg.LED.FrameInterval, log)
	go light.Run(ctx)

	// Trigger sources: the shared flag and the optional boot button.
	flag := &trigger.Flag{}
	var input trigger.Input = trigger.NoInput{}
	if cfg.Trigger.GPIOPin >= 0 {
		input = trigger.NewSysfsPin(cfg.Trigger.GPIORoot, cfg.Trigger.GPIOPin)
	}
	source := trigger.NewSource(flag, input, log)
	source.Counter = m

	// Device layer.
	node := cloud.NewWeatherNode(db, flag, light, log)
	reporter := cloud.NewReporter(node, cloud.AlertRules{
		RainKeywords:  cfg.Report.RainKeywords,
		HeatThreshold: cfg.Report.HeatThreshold,
		RainMessage:   cfg.Report.RainAlert,
		HeatMessage:   cfg.Report.HeatAlert,
	})
	reporter.Counter = m

	// Fetcher with a bounded pooled buffer, manual redirects and a circuit breaker.
	fetcher := providers.NewFetcher("weather", providers.FetcherConfig{
		Client:           &http.Client{Timeout: cfg.Weather.HTTPTimeout},
		MaxResponseBytes: cfg.Weather.MaxResponseBytes,
		Overflow:         providers.OverflowPolicy(cfg.Weather.OverflowPolicy),
		AcceptChunked:    cfg.Weather.AcceptChunked,
		MaxRedirects:     cfg.Weather.MaxRedirects,
		RedirectHeaders: http.Header{
			"From":   []string{cfg.Weather.RedirectFrom},
			"Accept": []string{cfg.Weather.RedirectAccept},
		},
		Backoff:  providers.BackoffConfig{MaxRetries: cfg.Weather.Retries, MaxInterval: 5 * time.Second},
		Pool:     &bytebufferpool.Pool{},
		Observer: m,
		Logger:   log,
	})
	extractor := weather.NewExtractor(weather.MissingFieldPolicy(cfg.Weather.MissingFieldPolicy), cfg.Weather.DefaultText, log)
	provider := providers.NewBaiduProvider(fetcher, cfg.Weather.URL, extractor)

	history := store.NewMemoryStore(cfg.StoreMaxHistory, cfg.StoreMaxAge)

	// Core service orchestrating one reporting cycle.
	service := weather.NewService(
		weather.NewRecordPool(cfg.Weather.StringSize),
		provider, reporter, light, history,
		weather.WithCycleTimeout(cfg.Weather.HTTPTimeout),
		weather.WithObserver(m),
		weather.WithLogger(log),
	)

	sched := scheduler.New(service, source, cfg.Trigger.PollInterval, cfg.Trigger.AutoRefreshInterval, log)
	if err := sched.Start(ctx); err != nil {
		log.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}
	defer sched.Stop()

	app := fiber.New(fiber.Config{
		AppName:               "weather-indicator",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	app.Use(logger.New())
	app.Use(recover.New())

	httpapi.RegisterRoutes(app, httpapi.Deps{
		History: service,
		Devices: node,
		Updates: db,
		Trigger: flag,
		LED:     light,
		Metrics: m.Handler(),
	})

	go func() {
		log.Info("listening", "port", cfg.Port)
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Error("fiber server stopped", "error", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error("error during shutdown", "error", err)
	}
}
