package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "sleepd.yaml", `
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./data/sleepd.db
scheduler:
  timezone: UTC
  missing_log_hour: 9
insight:
  grace: 3s
`)
	m := NewManager(p)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if got := IntOr(cfg.Scheduler.MissingLogHour, 8); got != 9 {
		t.Fatalf("missing_log_hour = %d, want 9", got)
	}
	if got := IntOr(cfg.Scheduler.WeeklySummaryHour, 8); got != 8 {
		t.Fatalf("weekly_summary_hour default = %d, want 8", got)
	}
	if cfg.Insight == nil || cfg.Insight.Grace != "3s" {
		t.Fatalf("insight = %+v", cfg.Insight)
	}
	if m.Get() != cfg {
		t.Fatal("Get() should return the committed config")
	}
	if err := Validate(context.Background(), cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "sleepd.json", `{"logging":{"level":"info"},"telegram":{"token":"x"}}`)
	if _, err := NewManager(p).Parse(); err == nil || !strings.Contains(err.Error(), "telegram") {
		t.Fatalf("expected unknown field error, got %v", err)
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "sleepd.json", `{"logging":{}} {"logging":{}}`)
	if _, err := NewManager(p).Parse(); err == nil {
		t.Fatal("expected trailing data error")
	}
}

func TestReloadPublishesOnlyAcceptedChanges(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "sleepd.json", `{"logging":{"level":"info"}}`)
	m := NewManager(p)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	m.SetValidator(Validate)
	sub, unsub := m.Subscribe(1)
	defer unsub()
	ctx := context.Background()

	// Same content, different formatting.
	if err := os.WriteFile(p, []byte("{ \"logging\": { \"level\": \"info\" } }\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if m.reload(ctx) {
		t.Fatal("unchanged config was published")
	}

	if err := os.WriteFile(p, []byte(`{"storage":{"driver":"postgres"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if m.reload(ctx) {
		t.Fatal("invalid config was published")
	}
	if m.Get().Logging.Level != "info" {
		t.Fatalf("active config replaced by rejected one: %+v", m.Get())
	}

	for _, level := range []string{"debug", "warn"} {
		if err := os.WriteFile(p, []byte(`{"logging":{"level":"`+level+`"}}`), 0o600); err != nil {
			t.Fatal(err)
		}
		if !m.reload(ctx) {
			t.Fatalf("reload to %s not published", level)
		}
	}
	// Buffer of one keeps only the newest config.
	select {
	case got := <-sub:
		if got.Logging.Level != "warn" {
			t.Fatalf("subscriber got %q, want warn", got.Logging.Level)
		}
	default:
		t.Fatal("no config delivered")
	}
	if m.Get().Logging.Level != "warn" {
		t.Fatalf("Get() level = %q", m.Get().Logging.Level)
	}

	unsub()
	unsub()
	if _, ok := <-sub; ok {
		t.Fatal("channel open after unsubscribe")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	hour := func(v int) *int { return &v }
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "empty", cfg: Config{}},
		{name: "bad driver", cfg: Config{Storage: StorageConfig{Driver: "postgres"}}, wantErr: true},
		{name: "bad tz", cfg: Config{Scheduler: SchedulerConfig{Timezone: "Mars/Base"}}, wantErr: true},
		{name: "hour out of range", cfg: Config{Scheduler: SchedulerConfig{MissingLogHour: hour(24)}}, wantErr: true},
		{name: "weekday out of range", cfg: Config{Scheduler: SchedulerConfig{WeeklySummaryDay: hour(7)}}, wantErr: true},
		{name: "zero hour ok", cfg: Config{Scheduler: SchedulerConfig{MissingLogHour: hour(0)}}},
		{name: "bad grace", cfg: Config{Insight: &InsightConfig{Grace: "soon"}}, wantErr: true},
		{name: "negative send buffer", cfg: Config{Delivery: &DeliveryConfig{SendBuffer: -1}}, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(context.Background(), &tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDurationOr(t *testing.T) {
	t.Parallel()
	d, err := DurationOr("x", "", 2*time.Second)
	if err != nil || d != 2*time.Second {
		t.Fatalf("got %v, %v", d, err)
	}
	if _, err := Duration("x", "-1s"); err == nil {
		t.Fatal("negative duration accepted")
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()
	a := &Config{Logging: LoggingConfig{Level: "info"}}
	b := &Config{Logging: LoggingConfig{Level: "debug"}, Auth: AuthConfig{JWTSecret: "s3cret"}}
	sections, attrs := SummarizeChange(a, b)
	if strings.Join(sections, ",") != "logging,auth" {
		t.Fatalf("sections = %v", sections)
	}
	if len(attrs) == 0 {
		t.Fatal("expected logging attrs")
	}
	if !RequiresRestart(sections) {
		t.Fatal("auth change should require restart")
	}
	if RequiresRestart([]string{"logging", "scheduler"}) {
		t.Fatal("logging/scheduler apply live")
	}
}
