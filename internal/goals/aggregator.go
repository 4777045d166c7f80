// Package goals answers goal questions over the versioned goal history
// and the user's sleep records.
package goals

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"sleepd/internal/calendar"
	"sleepd/internal/storage"
	"sleepd/pkg/clock"
	logx "sleepd/pkg/logx"
)

const (
	MinGoalMinutes = 360 // 6h
	MaxGoalMinutes = 775 // 12h55m
)

var (
	ErrInvalidGoal  = errors.New("goal value must be between 360 and 775 minutes")
	ErrInvalidRange = errors.New("start date must be before or equal to end date")
)

// NoGoal is returned when a user had no goal in force.
var NoGoal = storage.Goal{}

type Store interface {
	GoalOnOrBefore(ctx context.Context, userID, day string) (storage.Goal, error)
	ListGoalsUpTo(ctx context.Context, userID, day string) ([]storage.Goal, error)
	UpsertGoal(ctx context.Context, g storage.Goal) error
	ListRecords(ctx context.Context, userID, from, to string) ([]storage.SleepRecord, error)
}

type Aggregator struct {
	store Store
	clk   clock.Clock
	loc   *time.Location
	log   logx.Logger
}

type Option func(*Aggregator)

func WithClock(c clock.Clock) Option {
	return func(a *Aggregator) {
		if c != nil {
			a.clk = c
		}
	}
}

func WithLocation(loc *time.Location) Option {
	return func(a *Aggregator) {
		if loc != nil {
			a.loc = loc
		}
	}
}

func New(store Store, log logx.Logger, opts ...Option) *Aggregator {
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Aggregator{store: store, clk: clock.Real(), loc: time.Local, log: log}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Today returns the current calendar day in the aggregator's zone.
func (a *Aggregator) Today() time.Time {
	return calendar.StartOfDay(a.clk.Now().In(a.loc))
}

// Location is the zone day keys are computed in.
func (a *Aggregator) Location() *time.Location { return a.loc }

// EffectiveGoal returns the goal in force on day: the latest version
// effective on or before it. It returns NoGoal, not an error, when the
// user had none.
func (a *Aggregator) EffectiveGoal(ctx context.Context, userID string, day time.Time) (storage.Goal, error) {
	g, err := a.store.GoalOnOrBefore(ctx, userID, calendar.DayKey(day.In(a.loc)))
	if errors.Is(err, storage.ErrNotFound) {
		return NoGoal, nil
	}
	if err != nil {
		return NoGoal, fmt.Errorf("effective goal: %w", err)
	}
	return g, nil
}

// CurrentGoal is the effective goal today when it is positive.
func (a *Aggregator) CurrentGoal(ctx context.Context, userID string) (int, bool, error) {
	g, err := a.EffectiveGoal(ctx, userID, a.Today())
	if err != nil {
		return 0, false, err
	}
	return g.Value, g.Value > 0, nil
}

// SetGoal sets today's goal. When minutes equals the goal already in
// force, the existing version is returned and nothing is written.
func (a *Aggregator) SetGoal(ctx context.Context, userID string, minutes int) (storage.Goal, error) {
	if strings.TrimSpace(userID) == "" {
		return storage.Goal{}, errors.New("user id required")
	}
	if minutes < MinGoalMinutes || minutes > MaxGoalMinutes {
		return storage.Goal{}, ErrInvalidGoal
	}
	today := a.Today()
	cur, err := a.EffectiveGoal(ctx, userID, today)
	if err != nil {
		return storage.Goal{}, err
	}
	if cur.Value == minutes {
		return cur, nil
	}
	g := storage.Goal{UserID: userID, Day: calendar.DayKey(today), Value: minutes, UpdatedAt: a.clk.Now()}
	if err := a.store.UpsertGoal(ctx, g); err != nil {
		return storage.Goal{}, fmt.Errorf("set goal: %w", err)
	}
	a.log.Info("goal set", logx.UserID(userID), logx.Int("minutes", minutes))
	return g, nil
}

// DayReport is one day of a range report. Nil fields mean no data.
type DayReport struct {
	Date     string `json:"date"`
	Goal     *int   `json:"goal"`
	Duration *int   `json:"duration"`
	GoalMet  *bool  `json:"goalMet"`
}

// RangeReport returns one entry per day from start to end inclusive.
func (a *Aggregator) RangeReport(ctx context.Context, userID string, start, end time.Time) ([]DayReport, error) {
	start = calendar.StartOfDay(start.In(a.loc))
	end = calendar.StartOfDay(end.In(a.loc))
	if start.After(end) {
		return nil, ErrInvalidRange
	}
	startKey, endKey := calendar.DayKey(start), calendar.DayKey(end)

	goals, err := a.store.ListGoalsUpTo(ctx, userID, endKey)
	if err != nil {
		return nil, fmt.Errorf("range goals: %w", err)
	}
	records, err := a.store.ListRecords(ctx, userID, startKey, endKey)
	if err != nil {
		return nil, fmt.Errorf("range records: %w", err)
	}
	byDay := make(map[string]int, len(records))
	for _, r := range records {
		byDay[r.Day] = r.Duration
	}

	days := calendar.Days(start, end)
	out := make([]DayReport, 0, len(days))
	for _, day := range days {
		rep := DayReport{Date: day}
		// goals is newest first; the first version on or before day wins.
		for _, g := range goals {
			if g.Day <= day {
				v := g.Value
				rep.Goal = &v
				break
			}
		}
		if d, ok := byDay[day]; ok {
			v := d
			rep.Duration = &v
		}
		if rep.Goal != nil && rep.Duration != nil {
			met := *rep.Duration >= *rep.Goal
			rep.GoalMet = &met
		}
		out = append(out, rep)
	}
	return out, nil
}

type MonthInfo struct {
	Year      int    `json:"year"`
	Month     int    `json:"month"`
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
	TotalDays int    `json:"totalDays"`
}

type MonthStats struct {
	NightsMetGoal           int     `json:"nightsMetGoal"`
	NightsTotalWithGoal     int     `json:"nightsTotalWithGoal"`
	NightsWithData          int     `json:"nightsWithData"`
	AverageDurationMinutes  *int    `json:"averageDurationMinutes"`
	ProjectedSuccessPercent *int    `json:"projectedSuccessPercent"`
	AverageLabel            *string `json:"averageLabel"`
	SummaryMessage          string  `json:"summaryMessage"`
}

type MonthSummary struct {
	Month       MonthInfo   `json:"month"`
	Stats       MonthStats  `json:"stats"`
	CurrentGoal *int        `json:"currentGoal"`
	Daily       []DayReport `json:"daily"`
}

// Summary messages, in priority order.
const (
	MsgNoData   = "Please record at least one night to see your progress."
	MsgNoGoal   = "You are logging your sleep. Set a nightly goal to track your progress."
	MsgAllMet   = "Congratulations on meeting your sleep goal this month!"
	MsgOnTrack  = "You are on track to meet this month's goal. Great job!"
	LabelGreat  = "Great job!"
	LabelImprov = "Needs Improvement"
)

// ProgressMonth summarizes the month a progress view should show today.
func (a *Aggregator) ProgressMonth(ctx context.Context, userID string) (MonthSummary, error) {
	return a.MonthSummary(ctx, userID, calendar.ReportMonth(a.clk.Now().In(a.loc)))
}

// MonthSummary aggregates the month containing month. The current goal
// used for the label and message is today's effective goal.
func (a *Aggregator) MonthSummary(ctx context.Context, userID string, month time.Time) (MonthSummary, error) {
	first, last := calendar.MonthBounds(month.In(a.loc))
	daily, err := a.RangeReport(ctx, userID, first, last)
	if err != nil {
		return MonthSummary{}, err
	}
	goalValue, hasGoal, err := a.CurrentGoal(ctx, userID)
	if err != nil {
		return MonthSummary{}, err
	}

	out := MonthSummary{
		Month: MonthInfo{
			Year:      first.Year(),
			Month:     int(first.Month()),
			StartDate: calendar.DayKey(first),
			EndDate:   calendar.DayKey(last),
			TotalDays: len(daily),
		},
		Daily: daily,
	}
	if hasGoal {
		v := goalValue
		out.CurrentGoal = &v
	}
	out.Stats = summarize(daily, out.CurrentGoal)
	return out, nil
}

func summarize(daily []DayReport, currentGoal *int) MonthStats {
	var st MonthStats
	total := 0
	for _, d := range daily {
		if d.Duration == nil {
			continue
		}
		st.NightsWithData++
		total += *d.Duration
		if d.Goal != nil {
			st.NightsTotalWithGoal++
			if d.GoalMet != nil && *d.GoalMet {
				st.NightsMetGoal++
			}
		}
	}
	if st.NightsWithData > 0 {
		avg := int(math.Round(float64(total) / float64(st.NightsWithData)))
		st.AverageDurationMinutes = &avg
	}
	if st.NightsTotalWithGoal > 0 {
		pct := int(math.Round(float64(st.NightsMetGoal) / float64(st.NightsTotalWithGoal) * 100))
		st.ProjectedSuccessPercent = &pct
	}
	if st.AverageDurationMinutes != nil && currentGoal != nil {
		label := LabelImprov
		if *st.AverageDurationMinutes >= *currentGoal {
			label = LabelGreat
		}
		st.AverageLabel = &label
	}
	st.SummaryMessage = summaryMessage(st, currentGoal)
	return st
}

func summaryMessage(st MonthStats, currentGoal *int) string {
	if st.NightsWithData == 0 {
		return MsgNoData
	}
	if currentGoal == nil {
		return MsgNoGoal
	}
	if st.NightsTotalWithGoal > 0 && st.NightsMetGoal == st.NightsTotalWithGoal {
		return MsgAllMet
	}
	rate := 0
	if st.ProjectedSuccessPercent != nil {
		rate = *st.ProjectedSuccessPercent
	}
	if rate >= 70 && st.AverageDurationMinutes != nil && *st.AverageDurationMinutes >= *currentGoal {
		return MsgOnTrack
	}
	return fmt.Sprintf("Keep pushing to meet your goal of %s of sleep per night!", HoursText(*currentGoal))
}

// HoursText renders minutes as "8 hours" or "7 hours 30 minutes".
func HoursText(minutes int) string {
	h, m := minutes/60, minutes%60
	if m == 0 {
		return fmt.Sprintf("%d hours", h)
	}
	return fmt.Sprintf("%d hours %d minutes", h, m)
}
