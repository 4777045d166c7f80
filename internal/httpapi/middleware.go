package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"sleepd/internal/auth"
	"sleepd/internal/goals"
	"sleepd/internal/insight"
	"sleepd/internal/metrics"
	"sleepd/internal/storage"
	"sleepd/internal/trigger"
	logx "sleepd/pkg/logx"
)

const ctxUserID = "user_id"

// AuthMiddleware resolves the caller with the same authenticator the push
// socket uses and stores the user id in the context.
func AuthMiddleware(a auth.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if a == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication not configured"})
			return
		}
		uid, err := a.Authenticate(c.Request)
		if err != nil {
			if status := auth.Status(err); status != http.StatusUnauthorized {
				c.AbortWithStatusJSON(status, gin.H{"error": "failed to load user"})
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(ctxUserID, uid)
		c.Next()
	}
}

func userID(c *gin.Context) string { return c.GetString(ctxUserID) }

// RequestLogger logs one line per request; 5xx at Error, 4xx at Warn.
func RequestLogger(log logx.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		fields := []logx.Field{
			logx.String("method", c.Request.Method),
			logx.String("path", c.Request.URL.Path),
			logx.Int("status", status),
			logx.Duration("took", time.Since(start)),
			logx.String("client_ip", c.ClientIP()),
		}
		if uid := userID(c); uid != "" {
			fields = append(fields, logx.UserID(uid))
		}
		switch {
		case status >= 500:
			log.Error("http request", fields...)
		case status >= 400:
			log.Warn("http request", fields...)
		default:
			log.Debug("http request", fields...)
		}
	}
}

// RequestMetrics records request latency by route template.
func RequestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordHTTPRequestDuration(c.Request.Method, path, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

// statusOf maps domain errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, insight.ErrNoData):
		return http.StatusNotFound
	case errors.Is(err, goals.ErrInvalidGoal),
		errors.Is(err, goals.ErrInvalidRange),
		errors.Is(err, trigger.ErrInvalidRule),
		errors.Is(err, insight.ErrInvalidPeriod):
		return http.StatusBadRequest
	case errors.Is(err, insight.ErrAssistantUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as {"error": ...}. Internal errors are logged and
// replaced by msg.
func (h *handler) fail(c *gin.Context, msg string, err error) {
	status := statusOf(err)
	if status >= 500 && status != http.StatusServiceUnavailable {
		h.log.Error(msg, logx.UserID(userID(c)), logx.String("path", c.FullPath()), logx.Err(err))
		c.JSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(status, gin.H{"error": rootMessage(err)})
}

// rootMessage strips wrapping down to the sentinel text users see.
func rootMessage(err error) string {
	for _, s := range []error{
		storage.ErrNotFound, insight.ErrNoData, insight.ErrAssistantUnavailable,
		insight.ErrInvalidPeriod, goals.ErrInvalidGoal, goals.ErrInvalidRange,
	} {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return err.Error()
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
