package types

import "context"

// NotificationPayload is the denormalized content handed to providers.
// Each provider reads only the fields it understands.
type NotificationPayload struct {
	ReminderID string            `json:"reminderId,omitempty"`
	UserID     string            `json:"userId,omitempty"`
	HabitID    string            `json:"habitId,omitempty"`
	HabitTitle string            `json:"habitTitle,omitempty"`
	Channel    Channel           `json:"channel"`
	Email      string            `json:"email,omitempty"`
	Phone      string            `json:"phone,omitempty"`
	Token      string            `json:"token,omitempty"`
	Topic      string            `json:"topic,omitempty"`
	PushTokens []string          `json:"pushTokens,omitempty"`
	Subject    string            `json:"subject,omitempty"`
	Note       string            `json:"note"`
	Text       string            `json:"text,omitempty"`
	HTML       string            `json:"html,omitempty"`
	Title      string            `json:"title,omitempty"`
	Body       string            `json:"body,omitempty"`
	Data       map[string]string `json:"data,omitempty"`
}

// SendResult is returned by every provider. It is never persisted.
type SendResult struct {
	OK        bool           `json:"ok"`
	MessageID string         `json:"messageId,omitempty"`
	Info      map[string]any `json:"info,omitempty"`
	Error     string         `json:"error,omitempty"`
	Code      string         `json:"code,omitempty"`
	Details   string         `json:"details,omitempty"`
}

// Failed builds a failed result with a message and optional code.
func Failed(msg, code string) SendResult {
	return SendResult{OK: false, Error: msg, Code: code}
}

// NotificationProvider delivers a payload over one channel.
// Send must not panic and must report transport failures through the
// returned SendResult rather than an error.
type NotificationProvider interface {
	Channel() Channel
	Send(ctx context.Context, payload *NotificationPayload) SendResult
}
