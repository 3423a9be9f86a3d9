// Package sms delivers reminder notifications as text messages through the
// Twilio Messages API. Without Twilio credentials the provider runs in a
// log-only development mode.
package sms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sony/gobreaker/v2"

	"habitly/internal/config"
	"habitly/internal/external"
	"habitly/internal/types"
)

const (
	CodeNoRecipient = "no_recipient"
	CodeRejected    = "sms_rejected"
	CodeUnavailable = "sms_unavailable"

	defaultText = "habit reminder"
	maxBodyLen  = 1600
)

// Doer sends HTTP requests. *external.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

var _ types.NotificationProvider = (*Provider)(nil)

// Provider sends SMS reminders.
type Provider struct {
	http     Doer
	baseURL  string
	sid      string
	token    types.SecretString
	from     string
	fallback string
	logger   types.Logger
}

// NewProvider builds a Provider from configuration. Missing Twilio
// credentials select development mode.
func NewProvider(cfg config.SMSConfig, logger types.Logger) *Provider {
	client := external.NewClient(&http.Client{Timeout: 10 * time.Second}, external.Options{
		Name:        "twilio",
		UserAgent:   "Habitly/1.0",
		FailureCode: types.ErrCodeUpstreamSMS,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("sms circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return NewProviderWithClient(client, cfg, logger)
}

// NewProviderWithClient creates a Provider over an explicit HTTP client.
func NewProviderWithClient(client Doer, cfg config.SMSConfig, logger types.Logger) *Provider {
	return &Provider{
		http:     client,
		baseURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
		sid:      cfg.AccountSID,
		token:    cfg.AuthToken,
		from:     cfg.FromNumber,
		fallback: cfg.DevFallbackPhone,
		logger:   logger.With("component", "sms_provider"),
	}
}

// DevMode reports whether messages are only logged.
func (p *Provider) DevMode() bool {
	return p.sid == "" || !p.token.IsSet() || p.from == ""
}

// Channel implements types.NotificationProvider.
func (p *Provider) Channel() types.Channel { return types.ChannelSMS }

// Send delivers payload.Note to payload.Phone, falling back to the
// configured development number.
func (p *Provider) Send(ctx context.Context, payload *types.NotificationPayload) types.SendResult {
	to := payload.Phone
	if to == "" {
		to = p.fallback
	}
	if to == "" {
		return types.Failed("No phone number", CodeNoRecipient)
	}

	text := payload.Note
	if text == "" {
		text = defaultText
	}

	if p.DevMode() {
		p.logger.Info("sms dev mode; message not sent",
			"reminder_id", payload.ReminderID,
			"to", RedactPhone(to),
			"text", text,
		)
		return types.SendResult{OK: true, Info: map[string]any{"dev": true}}
	}

	return p.sendTwilio(ctx, to, text, payload.ReminderID)
}

// truncateBody cuts text to maxBodyLen characters on a rune boundary.
func truncateBody(text string) string {
	if utf8.RuneCountInString(text) <= maxBodyLen {
		return text
	}
	return string([]rune(text)[:maxBodyLen])
}

type twilioMessage struct {
	SID          string `json:"sid"`
	Status       string `json:"status"`
	ErrorCode    *int   `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

type twilioError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
}

func (p *Provider) sendTwilio(ctx context.Context, to, text, reminderID string) types.SendResult {
	text = truncateBody(text)
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", p.from)
	form.Set("Body", text)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", p.baseURL, url.PathEscape(p.sid))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return types.Failed(fmt.Sprintf("build request: %v", err), CodeUnavailable)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(p.sid, p.token.Unmask())

	resp, err := p.http.Do(req)
	if err != nil {
		p.logger.Error("twilio request failed", "reminder_id", reminderID, "to", RedactPhone(to), "error", err)
		res := types.Failed(err.Error(), CodeUnavailable)
		var appErr *types.AppError
		if errors.As(err, &appErr) {
			res.Details = string(appErr.Code)
		}
		return res
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return types.Failed(fmt.Sprintf("read response: %v", err), CodeUnavailable)
	}

	if resp.StatusCode >= 300 {
		var te twilioError
		_ = json.Unmarshal(body, &te)
		msg := te.Message
		if msg == "" {
			msg = fmt.Sprintf("twilio returned %d", resp.StatusCode)
		}
		p.logger.Error("twilio rejected message",
			"reminder_id", reminderID,
			"to", RedactPhone(to),
			"status", resp.StatusCode,
			"twilio_code", te.Code,
		)
		return types.SendResult{
			OK:      false,
			Error:   msg,
			Code:    CodeRejected,
			Details: te.MoreInfo,
			Info:    map[string]any{"status": resp.StatusCode, "twilioCode": te.Code},
		}
	}

	var msg twilioMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return types.Failed(fmt.Sprintf("decode response: %v", err), CodeUnavailable)
	}
	if msg.ErrorCode != nil {
		return types.SendResult{
			OK:    false,
			Error: msg.ErrorMessage,
			Code:  CodeRejected,
			Info:  map[string]any{"twilioCode": *msg.ErrorCode, "sid": msg.SID},
		}
	}

	p.logger.Info("sms sent", "reminder_id", reminderID, "to", RedactPhone(to), "sid", msg.SID, "status", msg.Status)
	return types.SendResult{
		OK:        true,
		MessageID: msg.SID,
		Info:      map[string]any{"status": msg.Status},
	}
}
