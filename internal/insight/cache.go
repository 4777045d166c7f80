// Package insight serves per-day cached sleep insights and regenerates
// them only when the underlying records or the goal changed.
package insight

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"sleepd/internal/calendar"
	"sleepd/internal/eventbus"
	"sleepd/internal/metrics"
	"sleepd/internal/storage"
	"sleepd/pkg/clock"
	logx "sleepd/pkg/logx"
)

const (
	PeriodWeekly  = "weekly"
	PeriodMonthly = "monthly"

	SourceCache       = "cache"
	SourceRegenerated = "regenerated"

	DefaultGrace        = 2 * time.Second
	DefaultWindowSize   = 7
	DefaultFallbackGoal = 480
	monthlyWindowSize   = 30

	NotificationText = "Check out your new Sleep Health Insight in your dashboard."
)

var (
	ErrNoData               = errors.New("no sleep data available for analysis")
	ErrAssistantUnavailable = errors.New("sleep health assistant is busy, please try again later")
	ErrInvalidPeriod        = errors.New("period must be weekly or monthly")
)

type Store interface {
	LatestRecords(ctx context.Context, userID string, n int) ([]storage.SleepRecord, error)
	GetInsight(ctx context.Context, userID, period, dayKey string) (storage.InsightEntry, error)
	UpsertInsight(ctx context.Context, e storage.InsightEntry) error
}

// GoalSource reports the user's current positive goal.
type GoalSource interface {
	CurrentGoal(ctx context.Context, userID string) (int, bool, error)
}

// Notifier announces a regenerated insight.
type Notifier interface {
	SendText(ctx context.Context, userID, content string) (storage.Message, error)
}

type Options struct {
	Grace        time.Duration // tolerance on generatedAt, default 2s
	WindowSize   int           // weekly window, default 7 records
	FallbackGoal int           // minutes, default 480
	Location     *time.Location
	Clock        clock.Clock
	Bus          eventbus.Bus
}

type Cache struct {
	store  Store
	goals  GoalSource
	gen    Generator
	notify Notifier
	log    logx.Logger
	opts   Options

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// Answer is what GetOrGenerate returns.
type Answer struct {
	Source string               `json:"source"`
	Entry  storage.InsightEntry `json:"insight"`
}

func New(store Store, goals GoalSource, gen Generator, notify Notifier, log logx.Logger, opts Options) *Cache {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}
	if opts.WindowSize <= 0 {
		opts.WindowSize = DefaultWindowSize
	}
	if opts.FallbackGoal <= 0 {
		opts.FallbackGoal = DefaultFallbackGoal
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Bus == nil {
		opts.Bus = eventbus.Nop()
	}
	return &Cache{
		store:  store,
		goals:  goals,
		gen:    gen,
		notify: notify,
		log:    log,
		opts:   opts,
		locks:  map[string]*sync.Mutex{},
	}
}

// IsValid reports whether entry may be served: no record changed after
// generation (within the grace tolerance) and the goal is the same.
func (c *Cache) IsValid(entry storage.InsightEntry, latestMutation time.Time, goal int) bool {
	if entry.GoalValue != goal {
		return false
	}
	return !entry.GeneratedAt.Add(c.opts.Grace).Before(latestMutation)
}

// Lookup returns today's cached entry for the period, if any.
func (c *Cache) Lookup(ctx context.Context, userID, period string) (storage.InsightEntry, bool, error) {
	e, err := c.store.GetInsight(ctx, userID, period, c.dayKey())
	if errors.Is(err, storage.ErrNotFound) {
		return storage.InsightEntry{}, false, nil
	}
	if err != nil {
		return storage.InsightEntry{}, false, err
	}
	return e, true, nil
}

func (c *Cache) dayKey() string {
	return calendar.DayKey(c.opts.Clock.Now().In(c.opts.Location))
}

func (c *Cache) windowSize(period string) int {
	if period == PeriodMonthly {
		return monthlyWindowSize
	}
	return c.opts.WindowSize
}

func (c *Cache) lock(key string) func() {
	c.locksMu.Lock()
	mu, ok := c.locks[key]
	if !ok {
		mu = &sync.Mutex{}
		c.locks[key] = mu
	}
	c.locksMu.Unlock()
	mu.Lock()
	return mu.Unlock
}

// GetOrGenerate serves today's insight from the cache when valid and
// otherwise regenerates it, stores it and sends one notification. A
// generation failure leaves the cache untouched.
func (c *Cache) GetOrGenerate(ctx context.Context, userID, period string) (Answer, error) {
	if period == "" {
		period = PeriodWeekly
	}
	if period != PeriodWeekly && period != PeriodMonthly {
		return Answer{}, ErrInvalidPeriod
	}
	// Concurrent requests for the same user and period share one
	// regeneration.
	unlock := c.lock(userID + "|" + period)
	defer unlock()

	records, err := c.store.LatestRecords(ctx, userID, c.windowSize(period))
	if err != nil {
		return Answer{}, fmt.Errorf("load records: %w", err)
	}
	if len(records) == 0 {
		return Answer{}, ErrNoData
	}
	var latest time.Time
	for _, r := range records {
		if r.UpdatedAt.After(latest) {
			latest = r.UpdatedAt
		}
	}

	target := c.opts.FallbackGoal
	if c.goals != nil {
		g, ok, err := c.goals.CurrentGoal(ctx, userID)
		if err != nil {
			return Answer{}, fmt.Errorf("load goal: %w", err)
		}
		if ok {
			target = g
		}
	}

	dayKey := c.dayKey()
	existing, err := c.store.GetInsight(ctx, userID, period, dayKey)
	switch {
	case err == nil:
		if c.IsValid(existing, latest, target) {
			c.publish(eventbus.InsightCached, userID, period, dayKey)
			return Answer{Source: SourceCache, Entry: existing}, nil
		}
	case errors.Is(err, storage.ErrNotFound):
	default:
		return Answer{}, fmt.Errorf("load insight: %w", err)
	}

	log := c.log.With(logx.UserID(userID), logx.String("period", period))
	log.Info("regenerating insight", logx.Int("goal", target), logx.Int("records", len(records)))

	start := time.Now()
	res, err := c.gen.Generate(ctx, target, records, period)
	if err != nil {
		metrics.RecordGeneratorLatency("error", time.Since(start))
		log.Warn("insight generation failed", logx.Err(err))
		return Answer{}, fmt.Errorf("%w: %v", ErrAssistantUnavailable, err)
	}
	metrics.RecordGeneratorLatency("ok", time.Since(start))

	entry := storage.InsightEntry{
		UserID:         userID,
		PeriodType:     period,
		DayKey:         dayKey,
		GeneratedAt:    c.opts.Clock.Now(),
		GoalValue:      target,
		Score:          res.Score,
		Insight:        res.Insight,
		Analysis:       res.Analysis,
		Recommendation: res.Recommendation,
		StartDay:       records[len(records)-1].Day,
		EndDay:         records[0].Day,
	}
	if err := c.store.UpsertInsight(ctx, entry); err != nil {
		return Answer{}, fmt.Errorf("store insight: %w", err)
	}

	if c.notify != nil {
		if _, err := c.notify.SendText(ctx, userID, NotificationText); err != nil {
			log.Warn("insight notification failed", logx.Err(err))
		}
	}
	c.publish(eventbus.InsightRegenerated, userID, period, dayKey)
	return Answer{Source: SourceRegenerated, Entry: entry}, nil
}

func (c *Cache) publish(typ, userID, period, dayKey string) {
	c.opts.Bus.Publish(eventbus.Event{
		Type: typ,
		Data: eventbus.InsightEvent{UserID: userID, Period: period, DayKey: dayKey},
	})
}
