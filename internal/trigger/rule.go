package trigger

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"sleepd/internal/storage"
)

var ErrInvalidRule = errors.New("invalid trigger rule")

// MinInterval is the shortest accepted interval rule.
const MinInterval = time.Minute

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Rule is a structured trigger rule. With Expr empty it fires at
// Hour:Minute on Days (0=Sunday; empty means every day). Otherwise Expr
// is a cron expression or an interval (see ParseExpr).
type Rule struct {
	Hour   int
	Minute int
	Days   []int
	Expr   string
}

// RuleFromTrigger builds the rule of a persisted trigger.
func RuleFromTrigger(tr storage.Trigger) Rule {
	if tr.Kind == storage.TriggerCustom {
		return Rule{Expr: tr.Expr}
	}
	return Rule{Hour: tr.Hour, Minute: tr.Minute, Days: tr.Days}
}

// Daily fires every day at hour:minute.
func Daily(hour, minute int) Rule { return Rule{Hour: hour, Minute: minute} }

// Weekly fires on weekday at hour:minute.
func Weekly(weekday time.Weekday, hour, minute int) Rule {
	return Rule{Hour: hour, Minute: minute, Days: []int{int(weekday)}}
}

// Normalize clamps hour and minute and dedupes days, dropping values
// outside 0..6.
func (r Rule) Normalize() Rule {
	r.Expr = strings.TrimSpace(r.Expr)
	r.Hour = clamp(r.Hour, 0, 23)
	r.Minute = clamp(r.Minute, 0, 59)
	if len(r.Days) == 0 {
		r.Days = nil
		return r
	}
	seen := map[int]bool{}
	days := make([]int, 0, len(r.Days))
	for _, d := range r.Days {
		if d < 0 || d > 6 || seen[d] {
			continue
		}
		seen[d] = true
		days = append(days, d)
	}
	sort.Ints(days)
	if len(days) == 0 || len(days) == 7 {
		days = nil
	}
	r.Days = days
	return r
}

// Spec renders the normalized rule as a schedule expression.
func (r Rule) Spec() string {
	r = r.Normalize()
	if r.Expr != "" {
		return r.Expr
	}
	dow := "*"
	if len(r.Days) > 0 {
		parts := make([]string, 0, len(r.Days))
		for _, d := range r.Days {
			parts = append(parts, strconv.Itoa(d))
		}
		dow = strings.Join(parts, ",")
	}
	return fmt.Sprintf("%d %d * * %s", r.Minute, r.Hour, dow)
}

// Schedule compiles the rule. Cron rules without an explicit CRON_TZ are
// evaluated in loc.
func (r Rule) Schedule(loc *time.Location) (cron.Schedule, error) {
	r = r.Normalize()
	if r.Expr == "" {
		s, err := parser.Parse(r.Spec())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
		}
		return inLocation(s, loc), nil
	}
	ps, err := ParseExpr(r.Expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	if ps.Kind == ExprInterval {
		return cron.Every(ps.Every), nil
	}
	s, err := parser.Parse(ps.Cron)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	if hasTZ(ps.Cron) {
		return s, nil
	}
	return inLocation(s, loc), nil
}

func inLocation(s cron.Schedule, loc *time.Location) cron.Schedule {
	if loc == nil {
		return s
	}
	if ss, ok := s.(*cron.SpecSchedule); ok {
		ss.Location = loc
	}
	return s
}

func hasTZ(expr string) bool {
	return strings.HasPrefix(expr, "CRON_TZ=") || strings.HasPrefix(expr, "TZ=")
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

type ExprKind int

const (
	ExprCron ExprKind = iota
	ExprInterval
)

// ParsedExpr is a classified custom expression.
type ParsedExpr struct {
	Kind   ExprKind
	Cron   string
	Every  time.Duration
	Source string // "cron" | "duration" | "hhmm"
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// ParseExpr classifies a custom rule expression.
//
// Accepted forms:
//   - cron: "30 22 * * 1-5", "@daily", "CRON_TZ=Europe/Berlin 0 22 * * *"
//   - interval: "@every 90m", "90m", "01:30" (1h30m)
//   - prefixes "cron:", "every:" and "interval:" force a form
func ParseExpr(raw string) (ParsedExpr, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ParsedExpr{}, errors.New("expression required")
	}
	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		expr := strings.TrimSpace(s[len("cron:"):])
		if expr == "" {
			return ParsedExpr{}, errors.New("cron expression required after 'cron:'")
		}
		return ParsedExpr{Kind: ExprCron, Cron: expr, Source: "cron"}, nil
	case strings.HasPrefix(low, "interval:"):
		return intervalExpr(s[len("interval:"):])
	case strings.HasPrefix(low, "every:"):
		return intervalExpr(s[len("every:"):])
	case strings.HasPrefix(low, "@every "):
		return intervalExpr(s[len("@every "):])
	}

	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return ParsedExpr{Kind: ExprCron, Cron: s, Source: "cron"}, nil
	}
	if reHHMM.MatchString(s) || isDuration(s) {
		return intervalExpr(s)
	}
	return ParsedExpr{}, fmt.Errorf("invalid expression %q (use cron like '30 22 * * *', HH:MM like '01:30', or a duration like '90m')", raw)
}

func isDuration(s string) bool {
	_, err := time.ParseDuration(s)
	return err == nil
}

func intervalExpr(v string) (ParsedExpr, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return ParsedExpr{}, errors.New("interval required")
	}
	var (
		d   time.Duration
		src = "duration"
	)
	if m := reHHMM.FindStringSubmatch(v); len(m) == 3 {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return ParsedExpr{}, fmt.Errorf("invalid minutes in %q", v)
		}
		d = time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
		src = "hhmm"
	} else {
		var err error
		d, err = time.ParseDuration(v)
		if err != nil {
			return ParsedExpr{}, fmt.Errorf("invalid interval %q", v)
		}
	}
	if d < MinInterval {
		return ParsedExpr{}, fmt.Errorf("interval must be at least %s", MinInterval)
	}
	return ParsedExpr{Kind: ExprInterval, Every: d, Source: src}, nil
}
