package types

import "time"

// Reminder is the schedulable unit read in bulk by the due-check scheduler.
// Cron takes precedence over Time when both are set.
type Reminder struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	HabitID    string     `json:"habit_id"`
	Channel    Channel    `json:"channel" validate:"required,is_channel"`
	Cron       string     `json:"cron,omitempty"`
	Time       string     `json:"time,omitempty"`
	Timezone   string     `json:"timezone,omitempty" validate:"omitempty,is_timezone"`
	Enabled    bool       `json:"enabled"`
	Note       string     `json:"note,omitempty"`
	LastSentAt *time.Time `json:"last_sent_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Schedule extracts the evaluator input from the reminder.
func (r *Reminder) Schedule() Schedule {
	return Schedule{Cron: r.Cron, Time: r.Time, Timezone: r.Timezone}
}

// Schedule is the pure scheduling portion of a reminder.
type Schedule struct {
	Cron     string
	Time     string
	Timezone string
}

// Location returns the IANA zone name, defaulting to UTC.
func (s Schedule) Location() string {
	if s.Timezone == "" {
		return "UTC"
	}
	return s.Timezone
}

// Habit is the tracked activity a reminder points at.
type Habit struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Title  string `json:"title"`
}

// User is the owner and addressee of a reminder.
type User struct {
	ID         string   `json:"id"`
	Email      string   `json:"email"`
	Phone      string   `json:"phone,omitempty"`
	PushTokens []string `json:"push_tokens,omitempty"`
}
