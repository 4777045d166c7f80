package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"sleepd/internal/storage"
	"sleepd/internal/trigger"
	logx "sleepd/pkg/logx"
)

type scheduleRequest struct {
	Name       string `json:"name" binding:"required,max=100"`
	Kind       string `json:"kind"`
	Hour       *int   `json:"hour"`
	Minute     *int   `json:"minute"`
	DaysOfWeek []int  `json:"daysOfWeek"`
	Expr       string `json:"expr"`
	Enabled    *bool  `json:"enabled"`
}

// apply copies the request onto tr and normalizes the rule. Hour and
// minute are clamped; an unusable custom expression is rejected.
func (h *handler) apply(req scheduleRequest, tr *storage.Trigger) error {
	tr.Name = strings.TrimSpace(req.Name)
	switch strings.ToLower(strings.TrimSpace(req.Kind)) {
	case storage.TriggerCustom:
		tr.Kind = storage.TriggerCustom
	default:
		tr.Kind = storage.TriggerFixed
	}
	if req.Hour != nil {
		tr.Hour = *req.Hour
	}
	if req.Minute != nil {
		tr.Minute = *req.Minute
	}
	if req.DaysOfWeek != nil {
		tr.Days = req.DaysOfWeek
	}
	tr.Expr = strings.TrimSpace(req.Expr)
	if req.Enabled != nil {
		tr.Enabled = *req.Enabled
	}
	if tr.Kind == storage.TriggerFixed {
		rule := trigger.RuleFromTrigger(*tr).Normalize()
		tr.Hour, tr.Minute, tr.Days, tr.Expr = rule.Hour, rule.Minute, rule.Days, ""
	}
	_, err := trigger.RuleFromTrigger(*tr).Schedule(h.d.Location)
	return err
}

func (h *handler) listSchedules(c *gin.Context) {
	list, err := h.d.Store.ListTriggers(c.Request.Context(), userID(c))
	if err != nil {
		h.fail(c, "failed to fetch schedules", err)
		return
	}
	if list == nil {
		list = []storage.Trigger{}
	}
	c.JSON(http.StatusOK, gin.H{"schedules": list})
}

func (h *handler) createSchedule(c *gin.Context) {
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "name is required")
		return
	}
	tr := storage.Trigger{ID: uuid.NewString(), UserID: userID(c), Action: storage.ActionBedtime, Enabled: true}
	if err := h.apply(req, &tr); err != nil {
		badRequest(c, err.Error())
		return
	}
	now := h.d.Clock.Now()
	tr.CreatedAt, tr.UpdatedAt = now, now
	h.save(c, http.StatusCreated, tr, h.d.Hooks.OnScheduleCreated)
}

func (h *handler) updateSchedule(c *gin.Context) {
	tr, ok := h.ownSchedule(c)
	if !ok {
		return
	}
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "name is required")
		return
	}
	if err := h.apply(req, &tr); err != nil {
		badRequest(c, err.Error())
		return
	}
	tr.UpdatedAt = h.d.Clock.Now()
	h.save(c, http.StatusOK, tr, h.d.Hooks.OnScheduleUpdated)
}

func (h *handler) toggleSchedule(c *gin.Context) {
	tr, ok := h.ownSchedule(c)
	if !ok {
		return
	}
	tr.Enabled = !tr.Enabled
	tr.UpdatedAt = h.d.Clock.Now()
	h.save(c, http.StatusOK, tr, h.d.Hooks.OnScheduleToggled)
}

func (h *handler) deleteSchedule(c *gin.Context) {
	tr, ok := h.ownSchedule(c)
	if !ok {
		return
	}
	if err := h.d.Store.DeleteTrigger(c.Request.Context(), tr.ID); err != nil {
		h.fail(c, "failed to delete schedule", err)
		return
	}
	h.d.Hooks.OnScheduleDeleted(c.Request.Context(), tr.ID)
	h.log.Info("schedule deleted", logx.UserID(tr.UserID), logx.TriggerID(tr.ID))
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ownSchedule loads :id and hides other users' schedules as not found.
func (h *handler) ownSchedule(c *gin.Context) (storage.Trigger, bool) {
	tr, err := h.d.Store.GetTrigger(c.Request.Context(), c.Param("id"))
	if err == nil && tr.UserID != userID(c) {
		err = storage.ErrNotFound
	}
	if err != nil {
		h.fail(c, "failed to load schedule", err)
		return storage.Trigger{}, false
	}
	return tr, true
}

// save persists tr and then syncs the registry. A registry failure is
// reported but the row stays; Recover picks it up on restart.
func (h *handler) save(c *gin.Context, status int, tr storage.Trigger, hook func(context.Context, storage.Trigger) error) {
	ctx := c.Request.Context()
	if err := h.d.Store.SaveTrigger(ctx, tr); err != nil {
		h.fail(c, "failed to save schedule", err)
		return
	}
	if err := hook(ctx, tr); err != nil {
		h.log.Warn("schedule saved but not scheduled", logx.UserID(tr.UserID), logx.TriggerID(tr.ID), logx.Err(err))
		h.fail(c, "failed to schedule", err)
		return
	}
	saved, err := h.d.Store.GetTrigger(ctx, tr.ID)
	if err != nil {
		saved = tr
	}
	c.JSON(status, gin.H{"schedule": saved})
}
