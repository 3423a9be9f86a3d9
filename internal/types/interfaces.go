package types

import (
	"context"
	"time"
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system time (always UTC).
type RealClock struct{}

// Now returns the current time in UTC.
func (RealClock) Now() time.Time { return time.Now().UTC() }

// Logger defines the structured logging interface used throughout the service.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	With(args ...any) Logger
}

// ReminderStore is the reminder collaborator consumed by the engine.
type ReminderStore interface {
	FindEnabled(ctx context.Context, limit int) ([]*Reminder, error)
	// MarkSent advances lastSentAt. It never moves the timestamp backwards.
	MarkSent(ctx context.Context, reminderID string) error
}

// HabitStore resolves habits. A missing habit yields (nil, nil).
type HabitStore interface {
	FindByID(ctx context.Context, habitID string) (*Habit, error)
}

// UserStore resolves users. A missing user yields (nil, nil).
type UserStore interface {
	FindByID(ctx context.Context, userID string) (*User, error)
}

// HealthProber checks a backing dependency.
type HealthProber interface {
	Ping(ctx context.Context) error
}
