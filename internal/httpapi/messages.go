package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"sleepd/internal/delivery"
	"sleepd/internal/messages"
	"sleepd/internal/storage"
)

func listOptions(c *gin.Context) (messages.ListOptions, bool) {
	var opts messages.ListOptions
	if v := c.Query("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			badRequest(c, "page must be a number")
			return opts, false
		}
		opts.Page = n
	}
	if v := c.Query("pageSize"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			badRequest(c, "pageSize must be a number")
			return opts, false
		}
		opts.PageSize = n
	}
	if v := c.Query("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			badRequest(c, "since must be RFC3339")
			return opts, false
		}
		opts.Since = t
	}
	return opts, true
}

func (h *handler) listMessages(c *gin.Context) {
	opts, ok := listOptions(c)
	if !ok {
		return
	}
	res, err := h.d.Messages.List(c.Request.Context(), userID(c), opts)
	if err != nil {
		h.fail(c, "failed to fetch messages", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handler) chatLog(c *gin.Context) {
	opts, ok := listOptions(c)
	if !ok {
		return
	}
	res, err := h.d.Messages.ChatLog(c.Request.Context(), userID(c), opts)
	if err != nil {
		h.fail(c, "failed to fetch chat", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type chatRequest struct {
	Content string `json:"content" binding:"required,max=4000"`
}

func (h *handler) postChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Content) == "" {
		badRequest(c, "content is required")
		return
	}
	m, err := h.d.Messages.SaveUserMessage(c.Request.Context(), userID(c), req.Content)
	if err != nil {
		h.fail(c, "failed to save message", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": m})
}

func (h *handler) unreadCount(c *gin.Context) {
	n, err := h.d.Messages.UnreadCount(c.Request.Context(), userID(c))
	if err != nil {
		h.fail(c, "failed to count messages", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": n})
}

func (h *handler) markRead(c *gin.Context) {
	m, err := h.d.Messages.MarkAsRead(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		h.fail(c, "failed to mark message", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": m})
}

func (h *handler) deleteMessage(c *gin.Context) {
	if err := h.d.Messages.Delete(c.Request.Context(), userID(c), c.Param("id")); err != nil {
		h.fail(c, "failed to delete message", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type bulkRequest struct {
	IDs  []string  `json:"ids"`
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func bindBulk(c *gin.Context) (storage.BulkFilter, bool) {
	var req bulkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid bulk filter")
		return storage.BulkFilter{}, false
	}
	if len(req.IDs) == 0 && (req.From.IsZero() || req.To.IsZero() || !req.From.Before(req.To)) {
		badRequest(c, "ids or a from/to range is required")
		return storage.BulkFilter{}, false
	}
	return storage.BulkFilter{IDs: req.IDs, From: req.From, To: req.To}, true
}

func (h *handler) bulkCount(c *gin.Context) {
	f, ok := bindBulk(c)
	if !ok {
		return
	}
	n, err := h.d.Messages.BulkCount(c.Request.Context(), userID(c), f)
	if err != nil {
		h.fail(c, "failed to count messages", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}

func (h *handler) bulkDelete(c *gin.Context) {
	f, ok := bindBulk(c)
	if !ok {
		return
	}
	n, err := h.d.Messages.BulkDelete(c.Request.Context(), userID(c), f)
	if err != nil {
		h.fail(c, "failed to delete messages", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

type broadcastRequest struct {
	Title   string `json:"title"`
	Message string `json:"message" binding:"required"`
	Event   string `json:"event"`
}

func (h *handler) broadcast(c *gin.Context) {
	var req broadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "message is required")
		return
	}
	n := h.d.Broadcast.Broadcast(delivery.Payload{
		Kind:      storage.KindText,
		Title:     req.Title,
		Message:   req.Message,
		Timestamp: h.d.Clock.Now(),
	}, req.Event)
	c.JSON(http.StatusOK, gin.H{"connections": n})
}
