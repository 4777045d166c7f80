// Package sweep runs the two all-user jobs: the daily missing-log alert
// and the weekly summary.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"sleepd/internal/calendar"
	"sleepd/internal/eventbus"
	"sleepd/internal/storage"
	"sleepd/internal/trigger"
	"sleepd/pkg/clock"
	logx "sleepd/pkg/logx"
)

const (
	MissingLogJob = "sweep.missing_log"
	WeeklyJob     = "sweep.weekly_summary"

	MissingLogTitle = "Missing Log"
	MissingLogText  = "You haven't logged your sleep today. Don't forget to add it."
	WeeklyTitle     = "Weekly Summary"
)

type Store interface {
	ListUsers(ctx context.Context) ([]storage.User, error)
	HasRecordOn(ctx context.Context, userID, day string) (bool, error)
	ListRecords(ctx context.Context, userID, from, to string) ([]storage.SleepRecord, error)
}

// Notifier persists through the dedup guard and delivers. A second call
// for the same user and day returns storage.ErrDuplicate.
type Notifier interface {
	SendSystemAlert(ctx context.Context, userID, title, content string) (storage.Message, error)
	SendWeeklySummary(ctx context.Context, userID, title, content string) (storage.Message, error)
}

// Scheduler is the part of the trigger registry the sweeps run on.
type Scheduler interface {
	RegisterJob(id string, rule trigger.Rule, fn func(ctx context.Context) error) error
}

type Config struct {
	MissingLogHour int
	WeeklyWeekday  time.Weekday
	WeeklyHour     int
	// RatePerSec paces users within one sweep; <= 0 means unlimited.
	RatePerSec float64
	CatchUp    bool
}

func DefaultConfig() Config {
	return Config{MissingLogHour: 8, WeeklyWeekday: time.Monday, WeeklyHour: 8, CatchUp: true}
}

type Options struct {
	Clock    clock.Clock
	Location *time.Location
	Bus      eventbus.Bus
}

// Result counts one sweep pass.
type Result struct {
	Users    int
	Notified int
	Skipped  int
	Failed   int
}

type Jobs struct {
	store  Store
	notify Notifier
	log    logx.Logger
	cfg    Config
	clk    clock.Clock
	loc    *time.Location
	bus    eventbus.Bus

	mu      sync.Mutex
	limiter *rate.Limiter
}

func New(store Store, notify Notifier, log logx.Logger, cfg Config, opts Options) *Jobs {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Bus == nil {
		opts.Bus = eventbus.Nop()
	}
	j := &Jobs{
		store:  store,
		notify: notify,
		log:    log,
		cfg:    cfg,
		clk:    opts.Clock,
		loc:    opts.Location,
		bus:    opts.Bus,
	}
	j.limiter = rate.NewLimiter(limitOf(cfg.RatePerSec), 1)
	return j
}

func limitOf(perSec float64) rate.Limit {
	if perSec <= 0 {
		return rate.Inf
	}
	return rate.Limit(perSec)
}

// SetRate changes the per-user pacing of later sweeps.
func (j *Jobs) SetRate(perSec float64) {
	j.mu.Lock()
	j.cfg.RatePerSec = perSec
	j.limiter.SetLimit(limitOf(perSec))
	j.mu.Unlock()
	j.log.Info("sweep rate updated", logx.Float64("per_sec", perSec))
}

// Start registers both jobs and, when enabled, runs the missing-log
// catch-up for a process started after the daily hour.
func (j *Jobs) Start(ctx context.Context, sched Scheduler) error {
	if err := sched.RegisterJob(MissingLogJob, trigger.Daily(j.cfg.MissingLogHour, 0), func(ctx context.Context) error {
		_, err := j.MissingLog(ctx)
		return err
	}); err != nil {
		return fmt.Errorf("register %s: %w", MissingLogJob, err)
	}
	if err := sched.RegisterJob(WeeklyJob, trigger.Weekly(j.cfg.WeeklyWeekday, j.cfg.WeeklyHour, 0), func(ctx context.Context) error {
		_, err := j.Weekly(ctx)
		return err
	}); err != nil {
		return fmt.Errorf("register %s: %w", WeeklyJob, err)
	}
	if j.cfg.CatchUp {
		if _, ran, err := j.CatchUp(ctx); err != nil {
			j.log.Warn("missing-log catch-up failed", logx.Err(err))
		} else if ran {
			j.log.Info("missing-log catch-up done")
		}
	}
	return nil
}

// CatchUp runs the missing-log sweep if the local hour is at or past the
// daily hour. The dedup guard collapses it with the scheduled run.
func (j *Jobs) CatchUp(ctx context.Context) (Result, bool, error) {
	now := j.clk.Now().In(j.loc)
	if now.Hour() < j.cfg.MissingLogHour {
		return Result{}, false, nil
	}
	res, err := j.MissingLog(ctx)
	return res, true, err
}

// MissingLog alerts every user without a sleep record today.
func (j *Jobs) MissingLog(ctx context.Context) (Result, error) {
	return j.run(ctx, MissingLogJob, j.CheckMissingLog)
}

// CheckMissingLog alerts one user if today has no record. It reports
// whether a new alert was persisted.
func (j *Jobs) CheckMissingLog(ctx context.Context, userID string) (bool, error) {
	day := calendar.DayKey(j.clk.Now().In(j.loc))
	logged, err := j.store.HasRecordOn(ctx, userID, day)
	if err != nil {
		return false, fmt.Errorf("check record: %w", err)
	}
	if logged {
		return false, nil
	}
	return j.deliver(j.notify.SendSystemAlert(ctx, userID, MissingLogTitle, MissingLogText))
}

// Weekly sends every user with tracked days a recap of the previous week.
func (j *Jobs) Weekly(ctx context.Context) (Result, error) {
	return j.run(ctx, WeeklyJob, j.SendWeeklySummary)
}

// WeekStats is the previous Monday..reference-day window of one user.
type WeekStats struct {
	From         string
	To           string
	DaysTracked  int
	TotalMinutes int
}

// AvgHours is the mean nightly duration in hours, one decimal.
func (s WeekStats) AvgHours() float64 {
	if s.DaysTracked == 0 {
		return 0
	}
	return math.Round(float64(s.TotalMinutes)/float64(s.DaysTracked)/60*10) / 10
}

func (s WeekStats) Text() string {
	return fmt.Sprintf("Weekly Recap: You tracked %d/7 days last week with an average of %.1f hrs/night.", s.DaysTracked, s.AvgHours())
}

func (j *Jobs) WeeklyStats(ctx context.Context, userID string) (WeekStats, error) {
	mon, ref := calendar.PreviousWeek(j.clk.Now().In(j.loc))
	st := WeekStats{From: calendar.DayKey(mon), To: calendar.DayKey(ref)}
	recs, err := j.store.ListRecords(ctx, userID, st.From, st.To)
	if err != nil {
		return st, err
	}
	for _, r := range recs {
		st.DaysTracked++
		st.TotalMinutes += r.Duration
	}
	return st, nil
}

// SendWeeklySummary sends one user's recap. Users with no tracked days
// are skipped.
func (j *Jobs) SendWeeklySummary(ctx context.Context, userID string) (bool, error) {
	st, err := j.WeeklyStats(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("weekly stats: %w", err)
	}
	if st.DaysTracked == 0 {
		return false, nil
	}
	return j.deliver(j.notify.SendWeeklySummary(ctx, userID, WeeklyTitle, st.Text()))
}

func (j *Jobs) deliver(_ storage.Message, err error) (bool, error) {
	if errors.Is(err, storage.ErrDuplicate) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (j *Jobs) run(ctx context.Context, name string, each func(ctx context.Context, userID string) (bool, error)) (Result, error) {
	log := j.log.With(logx.String("sweep", name))
	users, err := j.store.ListUsers(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("%s: list users: %w", name, err)
	}
	res := Result{Users: len(users)}
	j.bus.Publish(eventbus.Event{Type: eventbus.SweepStarted, Time: j.clk.Now(), Data: eventbus.SweepEvent{Name: name, Users: res.Users}})
	start := time.Now()

	j.mu.Lock()
	lim := j.limiter
	j.mu.Unlock()

	for _, u := range users {
		if err := lim.Wait(ctx); err != nil {
			log.Warn("sweep interrupted", logx.Err(err), logx.Int("done", res.Notified+res.Skipped+res.Failed))
			break
		}
		sent, err := each(ctx, u.ID)
		switch {
		case err != nil:
			res.Failed++
			log.Warn("sweep user failed", logx.UserID(u.ID), logx.Err(err))
		case sent:
			res.Notified++
			log.Debug("sweep notified", logx.UserID(u.ID))
		default:
			res.Skipped++
		}
	}

	log.Info("sweep finished",
		logx.Int("users", res.Users),
		logx.Int("notified", res.Notified),
		logx.Int("skipped", res.Skipped),
		logx.Int("failed", res.Failed),
		logx.Duration("took", time.Since(start)),
	)
	j.bus.Publish(eventbus.Event{Type: eventbus.SweepFinished, Time: j.clk.Now(), Data: eventbus.SweepEvent{
		Name: name, Users: res.Users, Notified: res.Notified, Failed: res.Failed,
	}})
	return res, ctx.Err()
}
