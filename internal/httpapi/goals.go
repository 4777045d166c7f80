package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"sleepd/internal/calendar"
	"sleepd/internal/storage"
	logx "sleepd/pkg/logx"
)

const maxRangeDays = 366

func (h *handler) today() time.Time {
	return calendar.StartOfDay(h.d.Clock.Now().In(h.d.Location))
}

// dayParam parses a YYYY-MM-DD query value, defaulting to today.
func (h *handler) dayParam(c *gin.Context, key string) (time.Time, bool) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return h.today(), true
	}
	d, err := calendar.ParseDay(raw, h.d.Location)
	if err != nil {
		badRequest(c, key+" must be YYYY-MM-DD")
		return time.Time{}, false
	}
	return d, true
}

func (h *handler) effectiveGoal(c *gin.Context) {
	day, ok := h.dayParam(c, "date")
	if !ok {
		return
	}
	g, err := h.d.Goals.EffectiveGoal(c.Request.Context(), userID(c), day)
	if err != nil {
		h.fail(c, "failed to load goal", err)
		return
	}
	if g.Value == 0 {
		c.JSON(http.StatusOK, gin.H{"goal": nil, "date": calendar.DayKey(day)})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"goal": gin.H{"value": g.Value, "effectiveDate": g.Day},
		"date": calendar.DayKey(day),
	})
}

func (h *handler) rangeReport(c *gin.Context) {
	if c.Query("start") == "" || c.Query("end") == "" {
		badRequest(c, "start and end are required")
		return
	}
	start, ok := h.dayParam(c, "start")
	if !ok {
		return
	}
	end, ok := h.dayParam(c, "end")
	if !ok {
		return
	}
	if end.Sub(start) > maxRangeDays*24*time.Hour {
		badRequest(c, "range is limited to one year")
		return
	}
	days, err := h.d.Goals.RangeReport(c.Request.Context(), userID(c), start, end)
	if err != nil {
		h.fail(c, "failed to build report", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"days": days})
}

// monthSummary serves ?month=YYYY-MM, or the progress month when absent.
func (h *handler) monthSummary(c *gin.Context) {
	ctx := c.Request.Context()
	raw := strings.TrimSpace(c.Query("month"))
	if raw == "" {
		sum, err := h.d.Goals.ProgressMonth(ctx, userID(c))
		if err != nil {
			h.fail(c, "failed to build summary", err)
			return
		}
		c.JSON(http.StatusOK, sum)
		return
	}
	month, err := time.ParseInLocation("2006-01", raw, h.d.Location)
	if err != nil {
		badRequest(c, "month must be YYYY-MM")
		return
	}
	sum, err := h.d.Goals.MonthSummary(ctx, userID(c), month)
	if err != nil {
		h.fail(c, "failed to build summary", err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

type goalRequest struct {
	Value int `json:"value" binding:"required"`
}

func (h *handler) setGoal(c *gin.Context) {
	var req goalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "value is required")
		return
	}
	g, err := h.d.Goals.SetGoal(c.Request.Context(), userID(c), req.Value)
	if err != nil {
		h.fail(c, "failed to set goal", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"goal": gin.H{"value": g.Value, "effectiveDate": g.Day}})
}

type recordRequest struct {
	DurationMinutes int  `json:"durationMinutes" binding:"required,min=1,max=1440"`
	Rating          *int `json:"rating" binding:"omitempty,min=1,max=5"`
}

// putRecord stores one night. Its updatedAt drives insight staleness.
func (h *handler) putRecord(c *gin.Context) {
	day, err := calendar.ParseDay(c.Param("date"), h.d.Location)
	if err != nil {
		badRequest(c, "date must be YYYY-MM-DD")
		return
	}
	var req recordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "durationMinutes must be between 1 and 1440")
		return
	}
	rec := storage.SleepRecord{
		UserID:    userID(c),
		Day:       calendar.DayKey(day),
		Duration:  req.DurationMinutes,
		Rating:    req.Rating,
		UpdatedAt: h.d.Clock.Now(),
	}
	if err := h.d.Store.UpsertRecord(c.Request.Context(), rec); err != nil {
		h.fail(c, "failed to save record", err)
		return
	}
	h.log.Debug("record saved", logx.UserID(rec.UserID), logx.String("day", rec.Day))
	c.JSON(http.StatusOK, gin.H{"record": rec})
}

func (h *handler) listRecords(c *gin.Context) {
	end, ok := h.dayParam(c, "end")
	if !ok {
		return
	}
	start := calendar.AddDays(end, -6)
	if c.Query("start") != "" {
		if start, ok = h.dayParam(c, "start"); !ok {
			return
		}
	}
	recs, err := h.d.Store.ListRecords(c.Request.Context(), userID(c), calendar.DayKey(start), calendar.DayKey(end))
	if err != nil {
		h.fail(c, "failed to load records", err)
		return
	}
	if recs == nil {
		recs = []storage.SleepRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"records": recs})
}

func (h *handler) getMe(c *gin.Context) {
	u, err := h.d.Store.GetUser(c.Request.Context(), userID(c))
	if err != nil {
		h.fail(c, "failed to load user", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u})
}

type meRequest struct {
	Name string `json:"name" binding:"required,max=100"`
}

func (h *handler) putMe(c *gin.Context) {
	var req meRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "name is required")
		return
	}
	u := storage.User{ID: userID(c), Name: strings.TrimSpace(req.Name)}
	if err := h.d.Store.UpsertUser(c.Request.Context(), u); err != nil {
		h.fail(c, "failed to save user", err)
		return
	}
	h.getMe(c)
}

func (h *handler) getInsight(c *gin.Context) {
	ans, err := h.d.Insights.GetOrGenerate(c.Request.Context(), userID(c), c.Param("period"))
	if err != nil {
		h.fail(c, "failed to load insight", err)
		return
	}
	c.JSON(http.StatusOK, ans)
}
