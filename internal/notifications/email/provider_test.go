package email

import (
	"context"
	"errors"
	"strings"
	"testing"

	"gopkg.in/mail.v2"

	"habitly/internal/config"
	"habitly/internal/types"
)

type mockLogger struct{}

func (mockLogger) Info(msg string, args ...any)  {}
func (mockLogger) Error(msg string, args ...any) {}
func (mockLogger) Warn(msg string, args ...any)  {}
func (m mockLogger) With(args ...any) types.Logger {
	return m
}

type mockSender struct {
	sent []*mail.Message
	err  error
}

func (m *mockSender) DialAndSend(msgs ...*mail.Message) error {
	m.sent = append(m.sent, msgs...)
	return m.err
}

func TestProvider_Send(t *testing.T) {
	sender := &mockSender{}
	p := NewProviderWithSender(sender, "Habitly <noreply@habitly.app>", "", mockLogger{})

	res := p.Send(context.Background(), &types.NotificationPayload{
		ReminderID: "rem-1",
		Email:      "jo@example.com",
		Subject:    "Habit reminder: Read",
		Text:       "Time to Read",
		HTML:       "<p>Time to Read</p>",
	})

	if !res.OK {
		t.Fatalf("Send() = %+v", res)
	}
	if !strings.HasSuffix(res.MessageID, "@habitly>") {
		t.Errorf("MessageID = %q", res.MessageID)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("sent = %d", len(sender.sent))
	}
	m := sender.sent[0]
	if got := m.GetHeader("To"); len(got) != 1 || got[0] != "jo@example.com" {
		t.Errorf("To = %v", got)
	}
	if got := m.GetHeader("Subject"); got[0] != "Habit reminder: Read" {
		t.Errorf("Subject = %v", got)
	}
	if got := m.GetHeader("Message-ID"); got[0] != res.MessageID {
		t.Errorf("Message-ID = %v, want %s", got, res.MessageID)
	}
}

func TestProvider_FallbackRecipient(t *testing.T) {
	sender := &mockSender{}
	p := NewProviderWithSender(sender, "noreply@habitly.app", "dev@habitly.app", mockLogger{})

	res := p.Send(context.Background(), &types.NotificationPayload{Note: "Time to do your habit"})
	if !res.OK {
		t.Fatalf("Send() = %+v", res)
	}
	if got := sender.sent[0].GetHeader("To"); got[0] != "dev@habitly.app" {
		t.Errorf("To = %v", got)
	}
	if got := sender.sent[0].GetHeader("Subject"); got[0] != "Habit reminder: Your habit" {
		t.Errorf("Subject = %v", got)
	}
}

func TestProvider_NoRecipient(t *testing.T) {
	sender := &mockSender{}
	p := NewProviderWithSender(sender, "noreply@habitly.app", "", mockLogger{})

	res := p.Send(context.Background(), &types.NotificationPayload{})
	if res.OK {
		t.Fatal("expected failure without recipient")
	}
	if res.Code != "no_recipient" || res.Error == "" {
		t.Errorf("res = %+v", res)
	}
	if len(sender.sent) != 0 {
		t.Error("nothing should be sent")
	}
}

func TestProvider_TransportError(t *testing.T) {
	sender := &mockSender{err: errors.New("535 authentication failed")}
	p := NewProviderWithSender(sender, "noreply@habitly.app", "", mockLogger{})

	res := p.Send(context.Background(), &types.NotificationPayload{Email: "jo@example.com"})
	if res.OK {
		t.Fatal("expected failure")
	}
	if !strings.Contains(res.Error, "535") {
		t.Errorf("Error = %q", res.Error)
	}
}

func TestProvider_CancelledContext(t *testing.T) {
	sender := &mockSender{}
	p := NewProviderWithSender(sender, "noreply@habitly.app", "", mockLogger{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if res := p.Send(ctx, &types.NotificationPayload{Email: "jo@example.com"}); res.OK {
		t.Fatal("expected failure on cancelled context")
	}
	if len(sender.sent) != 0 {
		t.Error("nothing should be sent")
	}
}

func TestNewProvider_FromDefaultsToUser(t *testing.T) {
	p := NewProvider(config.SMTPConfig{Host: "smtp.example.com", Port: 465, User: "bot@example.com"}, mockLogger{})
	if p.from != "bot@example.com" {
		t.Errorf("from = %q", p.from)
	}
	d, ok := p.sender.(*mail.Dialer)
	if !ok {
		t.Fatalf("sender = %T", p.sender)
	}
	if !d.SSL {
		t.Error("port 465 must use implicit TLS")
	}
}

func TestRedactEmail(t *testing.T) {
	tests := map[string]string{
		"john@gmail.com": "j***@gmail.com",
		"@x.com":         "***@x.com",
		"nope":           "***",
		"":               "",
	}
	for in, want := range tests {
		if got := RedactEmail(in); got != want {
			t.Errorf("RedactEmail(%q) = %q, want %q", in, got, want)
		}
	}
}
