package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"sleepd/internal/eventbus"
)

func TestObserveSweepFinished(t *testing.T) {
	before := testutil.ToFloat64(SweepNotifications.WithLabelValues("missing_log"))
	Observe(eventbus.Event{Type: eventbus.SweepFinished, Data: eventbus.SweepEvent{Name: "missing_log", Notified: 3}})
	after := testutil.ToFloat64(SweepNotifications.WithLabelValues("missing_log"))
	if after-before != 3 {
		t.Fatalf("delta = %v, want 3", after-before)
	}
}

func TestCollectFromBus(t *testing.T) {
	bus := eventbus.New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	before := testutil.ToFloat64(TriggerFirings.WithLabelValues("failed"))

	go func() {
		Collect(ctx, bus)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for testutil.ToFloat64(TriggerFirings.WithLabelValues("failed")) == before {
		if time.Now().After(deadline) {
			t.Fatal("event not collected")
		}
		// Publish repeatedly: the subscription may not exist on the first try.
		bus.Publish(eventbus.Event{Type: eventbus.TriggerFailed, Data: eventbus.TriggerEvent{ID: "t"}})
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done
}

func TestHandlerExposesCollectors(t *testing.T) {
	RecordHTTPRequestDuration("GET", "/healthz", "200", time.Millisecond)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "sleepd_http_request_duration_seconds") {
		t.Fatal("missing http histogram")
	}
}
