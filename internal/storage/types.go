package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("not found")
	// ErrDuplicate means a dedup-guarded row already exists for the
	// (user, kind, day).
	ErrDuplicate = errors.New("duplicate")
)

// Config configures storage.
//
// Driver "sqlite" (or "sqlite3") is the only backend. An empty Path is
// rejected.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means default
}

type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Trigger kinds.
const (
	TriggerFixed  = "fixed"
	TriggerCustom = "custom"
)

// Trigger actions.
const ActionBedtime = "bedtime"

// Trigger is the persisted schedule row. Fixed triggers use Hour, Minute
// and Days (0=Sunday); custom triggers use Expr.
type Trigger struct {
	ID        string     `json:"id"`
	UserID    string     `json:"userId"`
	Name      string     `json:"name"`
	Kind      string     `json:"kind"`
	Action    string     `json:"action"`
	Hour      int        `json:"hour"`
	Minute    int        `json:"minute"`
	Days      []int      `json:"daysOfWeek"`
	Expr      string     `json:"expr,omitempty"`
	Enabled   bool       `json:"enabled"`
	LastRunAt *time.Time `json:"lastRunAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Message kinds.
const (
	KindText    = "text"    // announcement
	KindSystem  = "system"  // system alert, one per user per day
	KindSummary = "summary" // weekly summary, one per user per day
	KindMessage = "message" // chat, user to assistant
	KindReply   = "reply"   // chat, assistant to user
)

// Message is a persisted notification. DedupKey, when set, is unique per
// user.
type Message struct {
	ID        string     `json:"id"`
	UserID    string     `json:"userId"`
	Kind      string     `json:"kind"`
	Title     string     `json:"title,omitempty"`
	Content   string     `json:"content"`
	DayKey    string     `json:"dayKey"`
	DedupKey  string     `json:"-"`
	CreatedAt time.Time  `json:"createdAt"`
	IsRead    bool       `json:"isRead"`
	ReadAt    *time.Time `json:"readAt,omitempty"`
}

// MessageQuery selects messages for listing.
type MessageQuery struct {
	UserID      string
	Kinds       []string
	Since       time.Time // exclusive; zero means no bound
	Offset      int
	Limit       int
	NewestFirst bool
}

// Goal is one version of a user's nightly goal, effective from Day.
type Goal struct {
	UserID    string    `json:"userId"`
	Day       string    `json:"effectiveDate"`
	Value     int       `json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type SleepRecord struct {
	UserID    string    `json:"userId"`
	Day       string    `json:"date"`
	Duration  int       `json:"durationMinutes"`
	Rating    *int      `json:"rating,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type InsightEntry struct {
	UserID         string    `json:"userId"`
	PeriodType     string    `json:"periodType"`
	DayKey         string    `json:"dayKey"`
	GeneratedAt    time.Time `json:"generatedAt"`
	GoalValue      int       `json:"goalValue"`
	Score          int       `json:"score"`
	Insight        string    `json:"insight"`
	Analysis       string    `json:"analysis"`
	Recommendation string    `json:"recommendation"`
	StartDay       string    `json:"startDate"`
	EndDay         string    `json:"endDate"`
}
