package schedule

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"habitly/internal/types"
)

// testLogger records warnings so parse failures can be asserted.
type testLogger struct {
	mu    sync.Mutex
	warns []string
}

func (l *testLogger) Info(msg string, args ...any) {}
func (l *testLogger) Error(msg string, args ...any) {}
func (l *testLogger) Warn(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}
func (l *testLogger) With(args ...any) types.Logger { return l }

func at(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestIsDue_Cron(t *testing.T) {
	tests := []struct {
		name     string
		sched    types.Schedule
		now      string
		wantDue  bool
		wantOcc  string
		fallback bool
	}{
		{
			name:    "every minute keys the current minute",
			sched:   types.Schedule{Cron: "* * * * *"},
			now:     "2026-10-19T12:00:30Z",
			wantDue: true,
			wantOcc: "2026-10-19T12:00:00Z",
		},
		{
			name:    "upcoming occurrence keys the firing",
			sched:   types.Schedule{Cron: "0 9 * * *"},
			now:     "2026-10-19T08:59:10Z",
			wantDue: true,
			wantOcc: "2026-10-19T09:00:00Z",
		},
		{
			name:    "daily shortly after occurrence",
			sched:   types.Schedule{Cron: "0 9 * * *"},
			now:     "2026-10-19T09:01:30Z",
			wantDue: true,
			wantOcc: "2026-10-19T09:00:00Z",
		},
		{
			name:    "daily past look-back",
			sched:   types.Schedule{Cron: "0 9 * * *"},
			now:     "2026-10-19T09:02:30Z",
			wantDue: false,
		},
		{
			name:    "occurrence exactly at window end",
			sched:   types.Schedule{Cron: "0 9 * * *"},
			now:     "2026-10-19T08:58:00Z",
			wantDue: true,
			wantOcc: "2026-10-19T09:00:00Z",
		},
		{
			name:    "occurrence just beyond look-ahead",
			sched:   types.Schedule{Cron: "0 9 * * *"},
			now:     "2026-10-19T08:57:59Z",
			wantDue: false,
		},
		{
			name:    "occurrence exactly at window start",
			sched:   types.Schedule{Cron: "0 9 * * *"},
			now:     "2026-10-19T09:02:00Z",
			wantDue: true,
			wantOcc: "2026-10-19T09:00:00Z",
		},
		{
			name:    "evaluated in reminder timezone",
			sched:   types.Schedule{Cron: "0 9 * * *", Timezone: "America/New_York"},
			now:     "2026-01-15T14:00:20Z",
			wantDue: true,
			wantOcc: "2026-01-15T14:00:00Z",
		},
		{
			name:    "same expression in UTC is not due",
			sched:   types.Schedule{Cron: "0 9 * * *"},
			now:     "2026-01-15T14:00:20Z",
			wantDue: false,
		},
		{
			name:    "descriptor",
			sched:   types.Schedule{Cron: "@hourly"},
			now:     "2026-10-19T13:00:05Z",
			wantDue: true,
			wantOcc: "2026-10-19T13:00:00Z",
		},
		{
			name:     "every minute survives unknown timezone",
			sched:    types.Schedule{Cron: "*/1 * * * *", Timezone: "Mars/Olympus"},
			now:      "2026-10-19T12:00:30Z",
			wantDue:  true,
			wantOcc:  "2026-10-19T12:00:00Z",
			fallback: true,
		},
		{
			name:    "cron wins over time",
			sched:   types.Schedule{Cron: "0 3 * * *", Time: "12:00"},
			now:     "2026-10-19T12:00:00Z",
			wantDue: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEvaluator(&testLogger{})
			got := e.IsDue(tt.sched, at(tt.now))
			if got.Due != tt.wantDue {
				t.Fatalf("Due = %v, want %v (occurrence %v)", got.Due, tt.wantDue, got.Occurrence)
			}
			if got.Mode != types.ScheduleModeCron {
				t.Errorf("Mode = %s, want cron", got.Mode)
			}
			if got.Fallback != tt.fallback {
				t.Errorf("Fallback = %v, want %v", got.Fallback, tt.fallback)
			}
			if tt.wantDue && !got.Occurrence.Equal(at(tt.wantOcc)) {
				t.Errorf("Occurrence = %v, want %s", got.Occurrence, tt.wantOcc)
			}
		})
	}
}

func TestIsDue_InvalidCronIsNotDue(t *testing.T) {
	logger := &testLogger{}
	e := NewEvaluator(logger)

	got := e.IsDue(types.Schedule{Cron: "not-a-cron"}, at("2026-10-19T12:00:00Z"))
	if got.Due {
		t.Fatal("invalid cron must not be due")
	}
	if len(logger.warns) != 1 {
		t.Errorf("expected one parse warning, got %v", logger.warns)
	}
}

func TestIsDue_IntervalDescriptorRejected(t *testing.T) {
	logger := &testLogger{}
	e := NewEvaluator(logger)

	got := e.IsDue(types.Schedule{Cron: "@every 5m"}, at("2026-10-19T12:00:00Z"))
	if got.Due {
		t.Fatal("@every must not be due")
	}
	if len(logger.warns) != 1 {
		t.Errorf("expected one warning, got %v", logger.warns)
	}
}

func TestIsDue_FixedTime(t *testing.T) {
	e := NewEvaluator(&testLogger{})
	sched := types.Schedule{Time: "09:00", Timezone: "UTC"}

	for _, offset := range []int{-70, -1, 0, 1, 70} {
		now := at("2026-10-19T09:00:00Z").Add(time.Duration(offset) * time.Second)
		got := e.IsDue(sched, now)
		if !got.Due {
			t.Errorf("offset %ds: expected due", offset)
		}
		if !got.Occurrence.Equal(at("2026-10-19T09:00:00Z")) {
			t.Errorf("offset %ds: Occurrence = %v", offset, got.Occurrence)
		}
		if got.Mode != types.ScheduleModeFixed {
			t.Errorf("Mode = %s, want fixed", got.Mode)
		}
	}
	for _, offset := range []int{-71, 71, 3600} {
		now := at("2026-10-19T09:00:00Z").Add(time.Duration(offset) * time.Second)
		if e.IsDue(sched, now).Due {
			t.Errorf("offset %ds: expected not due", offset)
		}
	}
}

func TestIsDue_FixedTimeInZone(t *testing.T) {
	e := NewEvaluator(&testLogger{})
	got := e.IsDue(types.Schedule{Time: "09:00", Timezone: "Asia/Tokyo"}, at("2026-10-19T00:00:30Z"))
	if !got.Due {
		t.Fatal("09:00 JST is 00:00 UTC; expected due")
	}
	if !got.Occurrence.Equal(at("2026-10-19T00:00:00Z")) {
		t.Errorf("Occurrence = %v", got.Occurrence)
	}
}

// Targets are always built on the zone's current calendar date, so a send
// scheduled just before midnight is not matched right after midnight.
func TestIsDue_FixedTimeDoesNotWrapMidnight(t *testing.T) {
	e := NewEvaluator(&testLogger{})
	got := e.IsDue(types.Schedule{Time: "23:59"}, at("2026-10-20T00:00:10Z"))
	if got.Due {
		t.Error("expected not due across midnight")
	}
}

// On a spring-forward day a wall time inside the gap is resolved by
// time.Date, and the evaluator matches whatever instant that yields.
func TestIsDue_FixedTimeDSTGap(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	e := NewEvaluator(&testLogger{})
	// 2026-03-08 02:30 does not exist in New York.
	now := time.Date(2026, 3, 8, 2, 30, 0, 0, ny).UTC()
	got := e.IsDue(types.Schedule{Time: "02:30", Timezone: "America/New_York"}, now)
	if !got.Due {
		t.Fatal("expected due at the normalized wall time")
	}
	if !got.Occurrence.Equal(now) {
		t.Errorf("Occurrence = %v, want %v", got.Occurrence, now)
	}
}

func TestIsDue_FixedTimeInvalid(t *testing.T) {
	for _, s := range []types.Schedule{
		{Time: "25:00"},
		{Time: "9"},
		{Time: "09:61"},
		{Time: "09:00", Timezone: "Nowhere/City"},
	} {
		logger := &testLogger{}
		e := NewEvaluator(logger)
		if e.IsDue(s, at("2026-10-19T09:00:00Z")).Due {
			t.Errorf("%+v: expected not due", s)
		}
		if len(logger.warns) == 0 {
			t.Errorf("%+v: expected a warning", s)
		}
	}
}

func TestIsDue_NoSchedule(t *testing.T) {
	e := NewEvaluator(nil)
	got := e.IsDue(types.Schedule{}, at("2026-10-19T09:00:00Z"))
	if got.Due || got.Mode != types.ScheduleModeNone {
		t.Errorf("got %+v, want not due with mode none", got)
	}
}

func TestIsEveryMinute(t *testing.T) {
	tests := map[string]bool{
		"* * * * *":     true,
		" */1 * * * * ": true,
		"*  * * * *":    true,
		"*/2 * * * *":   false,
		"0 * * * *":     false,
	}
	for expr, want := range tests {
		if got := IsEveryMinute(expr); got != want {
			t.Errorf("IsEveryMinute(%q) = %v, want %v", expr, got, want)
		}
	}
}

func TestParseClock(t *testing.T) {
	h, m, err := ParseClock("07:05:59")
	if err != nil || h != 7 || m != 5 {
		t.Errorf("ParseClock = %d, %d, %v", h, m, err)
	}
	if _, _, err := ParseClock("07:05:60"); err == nil {
		t.Error("expected error for second 60")
	}
}

func ExampleJobKey() {
	occ := time.Date(2026, 10, 19, 9, 0, 42, 0, time.UTC)
	fmt.Println(JobKey("rem-1", occ))
	// Output: rem-1:20261019T0900Z
}
