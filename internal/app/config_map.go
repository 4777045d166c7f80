package app

import (
	"fmt"
	"strings"
	"time"

	"sleepd/internal/config"
	"sleepd/internal/delivery"
	"sleepd/internal/insight"
	"sleepd/internal/server"
	"sleepd/internal/storage"
	"sleepd/internal/sweep"
	"sleepd/internal/trigger"
	logx "sleepd/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled:    cfg.Logging.File.Enabled,
			Path:       cfg.Logging.File.Path,
			RatePerSec: cfg.Logging.File.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" {
		driver = "sqlite"
	}
	path := strings.TrimSpace(sc.Path)
	if path == "" {
		path = "./data/sleepd.db"
	}
	busy, err := config.DurationOr("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
}

func mapLocation(cfg *config.Config) (*time.Location, error) {
	tz := strings.TrimSpace(cfg.Scheduler.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone: %w", err)
	}
	return loc, nil
}

func mapServerConfig(cfg *config.Config) (server.Config, error) {
	sc := cfg.Server
	read, err := config.DurationOr("server.read_timeout", sc.ReadTimeout, server.DefaultReadTimeout)
	if err != nil {
		return server.Config{}, err
	}
	write, err := config.DurationOr("server.write_timeout", sc.WriteTimeout, server.DefaultWriteTimeout)
	if err != nil {
		return server.Config{}, err
	}
	shutdown, err := config.DurationOr("server.shutdown_timeout", sc.ShutdownTimeout, server.DefaultShutdownTimeout)
	if err != nil {
		return server.Config{}, err
	}
	out := server.Config{
		Addr:            strings.TrimSpace(sc.Addr),
		ReadTimeout:     read,
		WriteTimeout:    write,
		ShutdownTimeout: shutdown,
	}
	if p := sc.Pprof; p != nil && p.Enabled {
		out.Pprof = true
		out.PprofPrefix = p.Prefix
		out.PprofToken = p.Token
	}
	return out, nil
}

func mapDeliveryOptions(cfg *config.Config) (delivery.Options, error) {
	d := cfg.Delivery
	if d == nil {
		return delivery.Options{}, nil
	}
	write, err := config.Duration("delivery.write_timeout", d.WriteTimeout)
	if err != nil {
		return delivery.Options{}, err
	}
	ping, err := config.Duration("delivery.ping_interval", d.PingInterval)
	if err != nil {
		return delivery.Options{}, err
	}
	return delivery.Options{
		SendBuffer:     d.SendBuffer,
		WriteTimeout:   write,
		PingInterval:   ping,
		AllowedOrigins: d.AllowedOrigins,
	}, nil
}

// mapInsightConfig returns the cache options and, when an api key is
// configured, the provider settings.
func mapInsightConfig(cfg *config.Config) (insight.Options, *insight.OpenAIConfig, error) {
	in := cfg.Insight
	if in == nil {
		return insight.Options{}, nil, nil
	}
	grace, err := config.Duration("insight.grace", in.Grace)
	if err != nil {
		return insight.Options{}, nil, err
	}
	opts := insight.Options{
		Grace:        grace,
		WindowSize:   in.WindowSize,
		FallbackGoal: in.FallbackGoal,
	}
	if strings.TrimSpace(in.APIKey) == "" {
		return opts, nil, nil
	}
	timeout, err := config.Duration("insight.timeout", in.Timeout)
	if err != nil {
		return insight.Options{}, nil, err
	}
	return opts, &insight.OpenAIConfig{
		BaseURL:    in.BaseURL,
		APIKey:     in.APIKey,
		Model:      in.Model,
		MaxRetries: in.MaxRetries,
		Timeout:    timeout,
	}, nil
}

func mapSweepConfig(cfg *config.Config) sweep.Config {
	sc := cfg.Scheduler
	def := sweep.DefaultConfig()
	return sweep.Config{
		MissingLogHour: config.IntOr(sc.MissingLogHour, def.MissingLogHour),
		WeeklyWeekday:  time.Weekday(config.IntOr(sc.WeeklySummaryDay, int(def.WeeklyWeekday))),
		WeeklyHour:     config.IntOr(sc.WeeklySummaryHour, def.WeeklyHour),
		RatePerSec:     float64(sc.SweepRatePerSec),
		CatchUp:        !sc.DisableCatchUp,
	}
}

func mapFiringTimeout(cfg *config.Config) (time.Duration, error) {
	return config.DurationOr("scheduler.firing_timeout", cfg.Scheduler.FiringTimeout, trigger.DefaultFiringTimeout)
}

func metricsPath(cfg *config.Config) (string, bool) {
	m := cfg.Metrics
	if m == nil || !m.Enabled {
		return "", false
	}
	p := strings.TrimSpace(m.Path)
	if p == "" {
		p = "/metrics"
	}
	return p, true
}
