// Package schedule decides whether a reminder is due at a given instant.
// Everything here is a pure function of the reminder's persisted fields and
// the supplied clock reading; nothing is cached between calls.
package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"habitly/internal/types"
)

const (
	// CronLookBack and CronLookAhead bound the cron tolerance window around now.
	CronLookBack  = 2 * time.Minute
	CronLookAhead = 2 * time.Minute

	// FixedTolerance is the maximum distance from a fixed daily time that
	// still counts as due.
	FixedTolerance = 70 * time.Second
)

// everyMinute lists the expressions that are always due, even when the
// parser or window check disagrees.
var everyMinute = map[string]bool{
	"* * * * *":   true,
	"*/1 * * * *": true,
}

// ErrUnsupportedSchedule is returned for cron descriptors that have no
// wall-clock anchor (such as @every) and therefore cannot be evaluated
// statelessly.
var ErrUnsupportedSchedule = errors.New("schedule: interval descriptors are not supported")

// DueResult is the outcome of a single evaluation.
type DueResult struct {
	Due        bool
	Occurrence time.Time
	Mode       types.ScheduleMode
	Fallback   bool
}

// Evaluator evaluates cron and fixed-time schedules in the reminder's zone.
type Evaluator struct {
	parser cron.Parser
	logger types.Logger
}

// NewEvaluator creates an Evaluator using the standard five-field dialect
// plus @-descriptors.
func NewEvaluator(logger types.Logger) *Evaluator {
	return &Evaluator{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		logger: logger,
	}
}

// IsDue reports whether the schedule fires within the tolerance window around now.
// Parse failures are logged and yield a non-due result unless the every-minute
// fallback applies.
func (e *Evaluator) IsDue(s types.Schedule, now time.Time) DueResult {
	now = now.UTC()
	switch {
	case strings.TrimSpace(s.Cron) != "":
		return e.evaluateCron(s, now)
	case strings.TrimSpace(s.Time) != "":
		return e.evaluateFixed(s, now)
	default:
		return DueResult{Mode: types.ScheduleModeNone}
	}
}

func (e *Evaluator) evaluateCron(s types.Schedule, now time.Time) DueResult {
	expr := strings.TrimSpace(s.Cron)
	res := DueResult{Mode: types.ScheduleModeCron}

	sched, err := e.Parse(expr, s.Location())
	if err == nil {
		windowStart := now.Add(-CronLookBack)
		windowEnd := now.Add(CronLookAhead)
		// Next is strictly after its argument; step back so an occurrence
		// exactly at windowStart is included.
		next := sched.Next(windowStart.Add(-time.Nanosecond))
		if !next.IsZero() && !next.After(windowEnd) {
			res.Due = true
			res.Occurrence = occurrence(sched, next, now).UTC()
			return res
		}
	} else if e.logger != nil {
		e.logger.Warn("cron parse failed", "cron", expr, "timezone", s.Location(), "error", err)
	}

	if IsEveryMinute(expr) {
		res.Due = true
		res.Fallback = true
		res.Occurrence = now.Truncate(time.Minute)
	}
	return res
}

func (e *Evaluator) evaluateFixed(s types.Schedule, now time.Time) DueResult {
	res := DueResult{Mode: types.ScheduleModeFixed}

	target, err := FixedTarget(s.Time, s.Location(), now)
	if err != nil {
		if e.logger != nil {
			e.logger.Warn("fixed time parse failed", "time", s.Time, "timezone", s.Location(), "error", err)
		}
		return res
	}

	diff := now.Sub(target)
	if diff < 0 {
		diff = -diff
	}
	if diff <= FixedTolerance {
		res.Due = true
		res.Occurrence = target
	}
	return res
}

// occurrence picks the instant that keys this firing: the latest occurrence
// at or before now, else the first one ahead. Every tick inside the window
// therefore agrees on the key.
func occurrence(sched cron.Schedule, first, now time.Time) time.Time {
	if first.After(now) {
		return first
	}
	last := first
	for t := sched.Next(first); !t.IsZero() && !t.After(now); t = sched.Next(t) {
		last = t
	}
	return last
}

// Parse parses a cron expression anchored in the named zone.
func (e *Evaluator) Parse(expr, tz string) (cron.Schedule, error) {
	if tz == "" {
		tz = "UTC"
	}
	spec := expr
	if !strings.HasPrefix(expr, "CRON_TZ=") && !strings.HasPrefix(expr, "TZ=") {
		spec = "CRON_TZ=" + tz + " " + expr
	}
	sched, err := e.parser.Parse(spec)
	if err != nil {
		return nil, err
	}
	if _, ok := sched.(cron.ConstantDelaySchedule); ok {
		return nil, ErrUnsupportedSchedule
	}
	return sched, nil
}

// FixedTarget builds "today at HH:MM" in the named zone, where today is
// the calendar date of now in that zone. The result is in UTC.
// Days are never wrapped: a target just past midnight is compared against
// the current local date only.
func FixedTarget(hhmm, tz string, now time.Time) (time.Time, error) {
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Time{}, fmt.Errorf("load location %q: %w", tz, err)
	}
	hour, minute, err := ParseClock(hhmm)
	if err != nil {
		return time.Time{}, err
	}
	local := now.In(loc)
	target := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	return target.UTC(), nil
}

// ParseClock parses HH:MM or HH:MM:SS. Seconds are accepted and ignored.
func ParseClock(s string) (hour, minute int, err error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, 0, fmt.Errorf("invalid time %q: want HH:MM", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	if len(parts) == 3 {
		if sec, serr := strconv.Atoi(parts[2]); serr != nil || sec < 0 || sec > 59 {
			return 0, 0, fmt.Errorf("invalid second in %q", s)
		}
	}
	return hour, minute, nil
}

// IsEveryMinute reports whether expr textually denotes an every-minute schedule.
func IsEveryMinute(expr string) bool {
	return everyMinute[strings.Join(strings.Fields(expr), " ")]
}
