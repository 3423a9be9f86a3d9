// Package push delivers reminder notifications through Firebase Cloud Messaging.
package push

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/errorutils"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"habitly/internal/config"
	"habitly/internal/types"
)

const (
	defaultTitle = "Habitly Reminder"
	defaultBody  = "Time for your habit!"

	// multicastLimit is the FCM per-request token limit.
	multicastLimit = 500
)

// FCM error codes surfaced in SendResult.Code.
const (
	CodeInvalidArgument  = "messaging/invalid-argument"
	CodeUnregistered     = "messaging/registration-token-not-registered"
	CodeTooManyRequests  = "messaging/too-many-requests"
	CodeUnavailable      = "messaging/server-unavailable"
	CodeInternal         = "messaging/internal-error"
	CodeSenderIDMismatch = "messaging/mismatched-credential"
	CodeThirdPartyAuth   = "messaging/third-party-auth-error"
	CodeUnknown          = "messaging/unknown-error"
	CodeNotInitialized   = "messaging/not-initialized"
	CodeNoTarget         = "messaging/no-target"
)

var errorDetails = map[string]string{
	CodeInvalidArgument:  "Invalid arguments provided to the FCM API. Make sure the token matches the one the client received when registering.",
	CodeUnregistered:     "The registration token is no longer registered. The app should be re-installed.",
	CodeTooManyRequests:  "Too many requests sent to FCM. Retry with exponential backoff.",
	CodeUnavailable:      "The FCM server is temporarily unavailable. Please try again later.",
	CodeInternal:         "FCM reported an internal error. Please try again.",
	CodeSenderIDMismatch: "The token belongs to a different sender than the configured credentials.",
	CodeThirdPartyAuth:   "APNs or web push credentials were rejected.",
	CodeUnknown:          "Unknown error occurred",
}

// ErrorDetails returns the human-readable explanation for an FCM code.
func ErrorDetails(code string) string {
	if d, ok := errorDetails[code]; ok {
		return d
	}
	return errorDetails[CodeUnknown]
}

// ClassifyError maps an SDK error to one of the Code constants.
func ClassifyError(err error) string {
	switch {
	case messaging.IsUnregistered(err):
		return CodeUnregistered
	case errorutils.IsInvalidArgument(err):
		return CodeInvalidArgument
	case messaging.IsQuotaExceeded(err):
		return CodeTooManyRequests
	case messaging.IsSenderIDMismatch(err):
		return CodeSenderIDMismatch
	case messaging.IsThirdPartyAuthError(err):
		return CodeThirdPartyAuth
	case errorutils.IsUnavailable(err):
		return CodeUnavailable
	case errorutils.IsInternal(err):
		return CodeInternal
	default:
		return CodeUnknown
	}
}

// MessagingClient is the subset of *messaging.Client used here.
type MessagingClient interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
	SendDryRun(ctx context.Context, message *messaging.Message) (string, error)
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

var _ types.NotificationProvider = (*Provider)(nil)

// Provider sends push notifications. A Provider without a client (missing
// or broken credentials) reports every send as failed instead of crashing.
type Provider struct {
	client   MessagingClient
	classify func(error) string
	logger   types.Logger
}

// NewProvider initializes the Firebase app once from the configured
// credentials. Initialization failures are logged and leave the provider
// in the not-initialized state.
func NewProvider(ctx context.Context, cfg config.FirebaseConfig, logger types.Logger) *Provider {
	logger = logger.With("component", "push_provider")

	creds, projectID, source, err := LoadCredentials(cfg)
	if err != nil {
		logger.Warn("firebase configuration not found; push notifications disabled", "error", err)
		return NewProviderWithClient(nil, logger)
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, option.WithCredentialsJSON(creds))
	if err != nil {
		logger.Error("firebase init failed", "source", string(source), "error", err)
		return NewProviderWithClient(nil, logger)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		logger.Error("firebase messaging init failed", "source", string(source), "error", err)
		return NewProviderWithClient(nil, logger)
	}

	logger.Info("firebase initialized", "source", string(source), "project_id", projectID)
	return NewProviderWithClient(client, logger)
}

// NewProviderWithClient creates a Provider over an explicit client.
func NewProviderWithClient(client MessagingClient, logger types.Logger) *Provider {
	return &Provider{client: client, classify: ClassifyError, logger: logger}
}

// Initialized reports whether a messaging client is available.
func (p *Provider) Initialized() bool { return p.client != nil }

// Channel implements types.NotificationProvider.
func (p *Provider) Channel() types.Channel { return types.ChannelPush }

// Send delivers to payload.Token, else payload.Topic. When neither is set
// and the payload lists several device tokens, it fans out with multicast.
func (p *Provider) Send(ctx context.Context, payload *types.NotificationPayload) types.SendResult {
	if p.client == nil {
		return types.SendResult{
			OK:      false,
			Error:   "Firebase not initialized",
			Code:    CodeNotInitialized,
			Details: "Check FIREBASE_SERVICE_ACCOUNT configuration",
		}
	}

	if payload.Token == "" && payload.Topic == "" {
		if len(payload.PushTokens) > 0 {
			return p.SendMulticast(ctx, payload.PushTokens, payload)
		}
		return types.Failed("No token or topic specified", CodeNoTarget)
	}

	msg := buildMessage(payload)
	id, err := p.client.Send(ctx, msg)
	if err != nil {
		return p.failure(err, payload)
	}

	p.logger.Info("fcm message sent", "reminder_id", payload.ReminderID, "message_id", id)
	return types.SendResult{
		OK:        true,
		MessageID: id,
		Info:      map[string]any{"messageId": id},
		Details:   "Message sent to FCM successfully",
	}
}

// SendMulticast sends one notification to many device tokens. The result is
// OK when at least one device accepted it; tokens FCM reports as
// unregistered are listed under Info["invalidTokens"].
func (p *Provider) SendMulticast(ctx context.Context, tokens []string, payload *types.NotificationPayload) types.SendResult {
	if p.client == nil {
		return types.Failed("Firebase not initialized", CodeNotInitialized)
	}
	if len(tokens) == 0 {
		return types.Failed("No tokens specified", CodeNoTarget)
	}

	var (
		success, failure int
		invalid          []string
	)
	for start := 0; start < len(tokens); start += multicastLimit {
		end := min(start+multicastLimit, len(tokens))
		batch := tokens[start:end]

		resp, err := p.client.SendEachForMulticast(ctx, &messaging.MulticastMessage{
			Tokens:       batch,
			Notification: notification(payload),
			Data:         payload.Data,
		})
		if err != nil {
			p.logger.Error("fcm multicast failed", "tokens", len(batch), "error", err)
			failure += len(batch)
			continue
		}

		success += resp.SuccessCount
		failure += resp.FailureCount
		for i, r := range resp.Responses {
			if r != nil && !r.Success && r.Error != nil && p.classify(r.Error) == CodeUnregistered {
				invalid = append(invalid, batch[i])
			}
		}
	}

	details := fmt.Sprintf("Multicast send: %d successful, %d failed", success, failure)
	p.logger.Info("fcm multicast sent", "success", success, "failure", failure)
	return types.SendResult{
		OK:      success > 0,
		Info:    map[string]any{"successCount": success, "failureCount": failure, "invalidTokens": invalid},
		Error:   errorIf(success == 0, "no device accepted the message"),
		Details: details,
	}
}

// ValidateToken checks a device token with a dry-run data-only message.
func (p *Provider) ValidateToken(ctx context.Context, token string) (bool, string) {
	if p.client == nil {
		return false, "Firebase not initialized"
	}
	if token == "" {
		return false, "token is required"
	}

	_, err := p.client.SendDryRun(ctx, &messaging.Message{
		Token:   token,
		Data:    map[string]string{"validate": "true"},
		Android: &messaging.AndroidConfig{Priority: "normal"},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{"apns-priority": "5"},
			Payload: &messaging.APNSPayload{Aps: &messaging.Aps{ContentAvailable: true}},
		},
	})
	if err != nil {
		return false, ErrorDetails(p.classify(err))
	}
	return true, "token accepted"
}

func (p *Provider) failure(err error, payload *types.NotificationPayload) types.SendResult {
	code := p.classify(err)
	p.logger.Error("fcm send failed",
		"reminder_id", payload.ReminderID,
		"code", code,
		"has_token", payload.Token != "",
		"has_topic", payload.Topic != "",
		"error", err,
	)
	return types.SendResult{
		OK:      false,
		Error:   err.Error(),
		Code:    code,
		Details: ErrorDetails(code),
	}
}

func notification(payload *types.NotificationPayload) *messaging.Notification {
	title, body := payload.Title, payload.Body
	if title == "" {
		title = defaultTitle
	}
	if body == "" {
		body = defaultBody
	}
	return &messaging.Notification{Title: title, Body: body}
}

func buildMessage(payload *types.NotificationPayload) *messaging.Message {
	n := notification(payload)
	badge := 1
	return &messaging.Message{
		Token:        payload.Token,
		Topic:        payload.Topic,
		Notification: n,
		Data:         payload.Data,
		Android:      &messaging.AndroidConfig{Priority: "high"},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{"apns-priority": "10"},
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Alert: &messaging.ApsAlert{Title: n.Title, Body: n.Body},
					Sound: "default",
					Badge: &badge,
				},
			},
		},
		Webpush: &messaging.WebpushConfig{
			Notification: &messaging.WebpushNotification{
				Title: n.Title,
				Body:  n.Body,
				Icon:  "/icon.png",
				Badge: "/badge.png",
			},
		},
	}
}

func errorIf(cond bool, msg string) string {
	if cond {
		return msg
	}
	return ""
}
