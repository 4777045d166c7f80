// Package metrics exposes sleepd's prometheus collectors.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sleepd/internal/eventbus"
)

var (
	TriggerFirings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sleepd_trigger_firings_total",
			Help: "Trigger firings by result",
		},
		[]string{"result"}, // ok, failed
	)

	ActiveTriggers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sleepd_active_triggers",
			Help: "Triggers currently registered with the scheduler",
		},
	)

	SweepNotifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sleepd_sweep_notifications_total",
			Help: "Notifications created by the global sweeps",
		},
		[]string{"sweep"}, // missing_log, weekly_summary
	)

	SweepFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sleepd_sweep_failures_total",
			Help: "Per-user failures during the global sweeps",
		},
		[]string{"sweep"},
	)

	DeliveryPushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sleepd_delivery_pushes_total",
			Help: "Realtime frames pushed by event name",
		},
		[]string{"event"},
	)

	OpenConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sleepd_open_connections",
			Help: "Open realtime connections",
		},
	)

	InsightRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sleepd_insight_requests_total",
			Help: "Insight requests by source",
		},
		[]string{"source"}, // cache, regenerated
	)

	GeneratorLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sleepd_insight_generator_latency_seconds",
			Help:    "Insight generator call latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~50s
		},
		[]string{"status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sleepd_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "path", "status"},
	)
)

func RecordGeneratorLatency(status string, d time.Duration) {
	GeneratorLatency.WithLabelValues(status).Observe(d.Seconds())
}

func RecordHTTPRequestDuration(method, path, status string, d time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(d.Seconds())
}

// Handler serves the default registry.
func Handler() http.Handler { return promhttp.Handler() }

// Collect folds engine events from bus into the collectors until ctx is
// done.
func Collect(ctx context.Context, bus eventbus.Bus) {
	ch, unsub := bus.Subscribe(256, "trigger.", "sweep.", "delivery.", "insight.")
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			Observe(ev)
		}
	}
}

// Observe applies a single event.
func Observe(ev eventbus.Event) {
	switch ev.Type {
	case eventbus.TriggerRegistered:
		ActiveTriggers.Inc()
	case eventbus.TriggerUnregistered:
		ActiveTriggers.Dec()
	case eventbus.TriggerFired:
		TriggerFirings.WithLabelValues("ok").Inc()
	case eventbus.TriggerFailed:
		TriggerFirings.WithLabelValues("failed").Inc()
	case eventbus.SweepFinished:
		if d, ok := ev.Data.(eventbus.SweepEvent); ok {
			SweepNotifications.WithLabelValues(d.Name).Add(float64(d.Notified))
			SweepFailures.WithLabelValues(d.Name).Add(float64(d.Failed))
		}
	case eventbus.DeliveryPushed:
		if d, ok := ev.Data.(eventbus.DeliveryEvent); ok {
			DeliveryPushes.WithLabelValues(d.Event).Inc()
		}
	case eventbus.DeliveryConnected:
		OpenConnections.Inc()
	case eventbus.DeliveryClosed:
		OpenConnections.Dec()
	case eventbus.InsightCached:
		InsightRequests.WithLabelValues("cache").Inc()
	case eventbus.InsightRegenerated:
		InsightRequests.WithLabelValues("regenerated").Inc()
	}
}
