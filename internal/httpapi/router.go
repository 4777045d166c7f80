// Package httpapi is the JSON surface of the engine: goal queries,
// insights, messages, schedule lifecycle and the push socket.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"sleepd/internal/auth"
	"sleepd/internal/delivery"
	"sleepd/internal/goals"
	"sleepd/internal/insight"
	"sleepd/internal/messages"
	"sleepd/internal/storage"
	"sleepd/pkg/clock"
	logx "sleepd/pkg/logx"
)

// Store is the CRUD the handlers need beyond the services.
type Store interface {
	Ping(ctx context.Context) error
	UpsertUser(ctx context.Context, u storage.User) error
	GetUser(ctx context.Context, id string) (storage.User, error)

	SaveTrigger(ctx context.Context, tr storage.Trigger) error
	GetTrigger(ctx context.Context, id string) (storage.Trigger, error)
	DeleteTrigger(ctx context.Context, id string) error
	ListTriggers(ctx context.Context, userID string) ([]storage.Trigger, error)

	UpsertRecord(ctx context.Context, r storage.SleepRecord) error
	ListRecords(ctx context.Context, userID, from, to string) ([]storage.SleepRecord, error)
}

// ScheduleHooks keeps the runner table in step with schedule writes.
type ScheduleHooks interface {
	OnScheduleCreated(ctx context.Context, tr storage.Trigger) error
	OnScheduleUpdated(ctx context.Context, tr storage.Trigger) error
	OnScheduleToggled(ctx context.Context, tr storage.Trigger) error
	OnScheduleDeleted(ctx context.Context, id string)
}

type nopHooks struct{}

func (nopHooks) OnScheduleCreated(context.Context, storage.Trigger) error { return nil }
func (nopHooks) OnScheduleUpdated(context.Context, storage.Trigger) error { return nil }
func (nopHooks) OnScheduleToggled(context.Context, storage.Trigger) error { return nil }
func (nopHooks) OnScheduleDeleted(context.Context, string)                {}

// Broadcaster pushes to every connection. Diagnostic only.
type Broadcaster interface {
	Broadcast(p delivery.Payload, event string) int
}

type Deps struct {
	// Auth guards /api. Pass the same value to the push hub so both
	// surfaces resolve users identically (see auth.WithUserSync).
	Auth     auth.Authenticator
	Store    Store
	Goals    *goals.Aggregator
	Insights *insight.Cache
	Messages *messages.Service
	Hooks    ScheduleHooks

	// Socket serves the push channel at /ws when set.
	Socket http.Handler
	// Metrics serves /metrics when set.
	Metrics     http.Handler
	MetricsPath string
	Broadcast   Broadcaster

	Clock    clock.Clock
	Location *time.Location
	Log      logx.Logger
}

type Router struct {
	Engine *gin.Engine
}

type handler struct {
	d   Deps
	log logx.Logger
}

func NewRouter(d Deps) *Router {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if d.Location == nil {
		d.Location = time.Local
	}
	if d.Hooks == nil {
		d.Hooks = nopHooks{}
	}
	if d.MetricsPath == "" {
		d.MetricsPath = "/metrics"
	}
	h := &handler{d: d, log: d.Log}

	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(d.Log), RequestMetrics())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	r.GET("/readyz", h.ready)
	if d.Metrics != nil {
		r.GET(d.MetricsPath, gin.WrapH(d.Metrics))
	}
	if d.Socket != nil {
		r.GET("/ws", gin.WrapH(d.Socket))
	}

	api := r.Group("/api")
	api.Use(AuthMiddleware(d.Auth))
	{
		api.GET("/me", h.getMe)
		api.PUT("/me", h.putMe)

		api.GET("/goals/effective", h.effectiveGoal)
		api.GET("/goals/range", h.rangeReport)
		api.GET("/goals/month", h.monthSummary)
		api.POST("/goals", h.setGoal)

		api.PUT("/records/:date", h.putRecord)
		api.GET("/records", h.listRecords)

		api.GET("/insights/:period", h.getInsight)

		api.GET("/messages", h.listMessages)
		api.GET("/messages/unread", h.unreadCount)
		api.GET("/messages/chat", h.chatLog)
		api.POST("/messages/chat", h.postChat)
		api.POST("/messages/:id/read", h.markRead)
		api.DELETE("/messages/:id", h.deleteMessage)
		api.POST("/messages/bulk/count", h.bulkCount)
		api.POST("/messages/bulk/delete", h.bulkDelete)

		api.GET("/schedules", h.listSchedules)
		api.POST("/schedules", h.createSchedule)
		api.PUT("/schedules/:id", h.updateSchedule)
		api.POST("/schedules/:id/toggle", h.toggleSchedule)
		api.DELETE("/schedules/:id", h.deleteSchedule)

		if d.Broadcast != nil {
			api.POST("/broadcast", h.broadcast)
		}
	}
	return &Router{Engine: r}
}

func (h *handler) ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
	defer cancel()
	if err := h.d.Store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_not_ready", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
