// Package core contains the channel-agnostic half of reminder delivery:
// building notification content, routing a due reminder to the queue or to
// a provider, and the queue handler that completes queued deliveries.
package core

import (
	"context"
	"fmt"
	"html"
	"strings"

	"habitly/internal/types"
)

const (
	defaultSubjectTitle = "Your habit"
	defaultNoteTitle    = "do your habit"
)

// PayloadBuilder enriches a reminder with user and habit context.
type PayloadBuilder struct {
	users  types.UserStore
	habits types.HabitStore
	logger types.Logger
}

// NewPayloadBuilder creates a PayloadBuilder.
func NewPayloadBuilder(users types.UserStore, habits types.HabitStore, logger types.Logger) *PayloadBuilder {
	return &PayloadBuilder{users: users, habits: habits, logger: logger}
}

// Build always returns a payload. Lookup misses and lookup errors leave the
// corresponding fields empty; a missing address surfaces later as a
// provider failure.
func (b *PayloadBuilder) Build(ctx context.Context, rem *types.Reminder) *types.NotificationPayload {
	log := b.logger.With("reminder_id", rem.ID)

	var user *types.User
	if rem.UserID != "" {
		u, err := b.users.FindByID(ctx, rem.UserID)
		if err != nil {
			log.Warn("user lookup failed", "user_id", rem.UserID, "error", err)
		}
		user = u
	}

	var habit *types.Habit
	if rem.HabitID != "" {
		h, err := b.habits.FindByID(ctx, rem.HabitID)
		if err != nil {
			log.Warn("habit lookup failed", "habit_id", rem.HabitID, "error", err)
		}
		habit = h
	}

	return BuildPayload(rem, user, habit)
}

// BuildPayload derives notification content from already-resolved records.
// user and habit may be nil.
func BuildPayload(rem *types.Reminder, user *types.User, habit *types.Habit) *types.NotificationPayload {
	title := ""
	if habit != nil {
		title = strings.TrimSpace(habit.Title)
	}

	subjectTitle, noteTitle := title, title
	if title == "" {
		subjectTitle, noteTitle = defaultSubjectTitle, defaultNoteTitle
	}

	subject := "Habit reminder: " + subjectTitle
	note := strings.TrimSpace(rem.Note)
	if note == "" {
		note = "Time to " + noteTitle
	}

	p := &types.NotificationPayload{
		ReminderID: rem.ID,
		UserID:     rem.UserID,
		HabitID:    rem.HabitID,
		HabitTitle: title,
		Channel:    rem.Channel,
		Subject:    subject,
		Note:       note,
		Title:      subject,
		Body:       note,
		Text:       fmt.Sprintf("%s\n\n%s", note, "Open the app to check it off."),
		HTML: fmt.Sprintf("<p>%s</p><p><strong>%s</strong></p><p>Open the app to check it off.</p>",
			html.EscapeString(note), html.EscapeString(subjectTitle)),
		Data: map[string]string{
			"reminderId": rem.ID,
			"habitId":    rem.HabitID,
		},
	}

	if user != nil {
		p.Email = user.Email
		p.Phone = user.Phone
		if len(user.PushTokens) > 0 {
			p.PushTokens = append([]string(nil), user.PushTokens...)
		}
		if len(user.PushTokens) == 1 {
			p.Token = user.PushTokens[0]
		}
	}
	return p
}
