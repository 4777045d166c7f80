package config

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Validate rejects configs that would fail at apply time. It is used both
// at startup and as the hot-reload validator.
func Validate(_ context.Context, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if d := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)); d != "" && d != "sqlite" && d != "sqlite3" {
		return fmt.Errorf("storage.driver: unsupported %q", cfg.Storage.Driver)
	}
	if _, err := Duration("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		return err
	}
	for _, f := range []struct{ path, raw string }{
		{"server.read_timeout", cfg.Server.ReadTimeout},
		{"server.write_timeout", cfg.Server.WriteTimeout},
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeout},
		{"scheduler.firing_timeout", cfg.Scheduler.FiringTimeout},
	} {
		if _, err := Duration(f.path, f.raw); err != nil {
			return err
		}
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	if err := checkRange("scheduler.missing_log_hour", cfg.Scheduler.MissingLogHour, 0, 23); err != nil {
		return err
	}
	if err := checkRange("scheduler.weekly_summary_hour", cfg.Scheduler.WeeklySummaryHour, 0, 23); err != nil {
		return err
	}
	if err := checkRange("scheduler.weekly_summary_weekday", cfg.Scheduler.WeeklySummaryDay, 0, 6); err != nil {
		return err
	}
	if cfg.Scheduler.SweepRatePerSec < 0 {
		return fmt.Errorf("scheduler.sweep_rate_per_sec must be >= 0")
	}
	if d := cfg.Delivery; d != nil {
		if d.SendBuffer < 0 {
			return fmt.Errorf("delivery.send_buffer must be >= 0")
		}
		if _, err := Duration("delivery.write_timeout", d.WriteTimeout); err != nil {
			return err
		}
		if _, err := Duration("delivery.ping_interval", d.PingInterval); err != nil {
			return err
		}
	}
	if in := cfg.Insight; in != nil {
		if _, err := Duration("insight.grace", in.Grace); err != nil {
			return err
		}
		if _, err := Duration("insight.timeout", in.Timeout); err != nil {
			return err
		}
		if in.WindowSize < 0 || in.FallbackGoal < 0 || in.MaxRetries < 0 {
			return fmt.Errorf("insight: window_size, fallback_goal and max_retries must be >= 0")
		}
	}
	return nil
}

func checkRange(path string, v *int, lo, hi int) error {
	if v == nil {
		return nil
	}
	if *v < lo || *v > hi {
		return fmt.Errorf("%s: %d out of range [%d,%d]", path, *v, lo, hi)
	}
	return nil
}

// IntOr dereferences p or returns def when p is nil.
func IntOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

// Duration parses the optional duration at key. Empty means zero; negative
// values are rejected.
func Duration(key, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %w", key, err)
	case d < 0:
		return 0, fmt.Errorf("%s: negative duration %s", key, raw)
	}
	return d, nil
}

// DurationOr is Duration with def standing in for an unset or zero value.
func DurationOr(key, raw string, def time.Duration) (time.Duration, error) {
	d, err := Duration(key, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}
