package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"habitly/internal/core"
	"habitly/internal/notifications/push"
	"habitly/internal/types"
)

const (
	defaultTestTitle = "Test Notification"
	defaultTestBody  = "This is a test notification from Habitly"
)

// PushSender is the subset of the push provider used for manual sends.
type PushSender interface {
	Send(ctx context.Context, payload *types.NotificationPayload) types.SendResult
	SendMulticast(ctx context.Context, tokens []string, payload *types.NotificationPayload) types.SendResult
	ValidateToken(ctx context.Context, token string) (bool, string)
}

var _ PushSender = (*push.Provider)(nil)

// PushTestRequest is the body of POST /v1/push/test.
type PushTestRequest struct {
	Token string            `json:"token" validate:"required"`
	Title string            `json:"title,omitempty" validate:"max=200"`
	Body  string            `json:"body,omitempty" validate:"max=1000"`
	Data  map[string]string `json:"data,omitempty"`
}

// PushMulticastRequest is the body of POST /v1/push/multicast.
type PushMulticastRequest struct {
	Tokens []string          `json:"tokens" validate:"required,min=1,dive,required"`
	Title  string            `json:"title,omitempty" validate:"max=200"`
	Body   string            `json:"body,omitempty" validate:"max=1000"`
	Data   map[string]string `json:"data,omitempty"`
}

// PushValidateRequest is the body of POST /v1/push/validate.
type PushValidateRequest struct {
	Token string `json:"token" validate:"required"`
}

// PushValidateResponse reports the dry-run outcome.
type PushValidateResponse struct {
	Valid bool   `json:"valid"`
	Info  string `json:"info"`
}

// PushHandler sends ad-hoc push notifications for device testing.
type PushHandler struct {
	sender    PushSender
	validator *core.Validator
	clock     types.Clock
	logger    *slog.Logger
}

// NewPushHandler creates a PushHandler.
func NewPushHandler(sender PushSender, v *core.Validator, clock types.Clock, l *slog.Logger) *PushHandler {
	if l == nil {
		l = slog.Default()
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	return &PushHandler{sender: sender, validator: v, clock: clock, logger: l}
}

// RegisterRoutes mounts the push routes.
func (h *PushHandler) RegisterRoutes(r chi.Router) {
	r.Route("/push", func(r chi.Router) {
		r.Post("/test", h.SendTest)
		r.Post("/multicast", h.SendMulticast)
		r.Post("/validate", h.Validate)
	})
}

// SendTest handles POST /v1/push/test.
func (h *PushHandler) SendTest(w http.ResponseWriter, r *http.Request) {
	var req PushTestRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	payload := h.testPayload(req.Title, req.Body, req.Data)
	payload.Token = req.Token

	h.logger.Info("sending test push", "token", tokenPreview(req.Token))
	h.respond(w, r, h.sender.Send(r.Context(), payload))
}

// SendMulticast handles POST /v1/push/multicast.
func (h *PushHandler) SendMulticast(w http.ResponseWriter, r *http.Request) {
	var req PushMulticastRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	payload := h.testPayload(req.Title, req.Body, req.Data)
	h.logger.Info("sending multicast push", "tokens", len(req.Tokens))
	h.respond(w, r, h.sender.SendMulticast(r.Context(), req.Tokens, payload))
}

// Validate handles POST /v1/push/validate.
func (h *PushHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req PushValidateRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	valid, info := h.sender.ValidateToken(r.Context(), req.Token)
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: PushValidateResponse{Valid: valid, Info: info}})
}

func (h *PushHandler) testPayload(title, body string, data map[string]string) *types.NotificationPayload {
	if title == "" {
		title = defaultTestTitle
	}
	if body == "" {
		body = defaultTestBody
	}
	if len(data) == 0 {
		data = map[string]string{
			"test":      "true",
			"timestamp": h.clock.Now().UTC().Format(time.RFC3339),
		}
	}
	return &types.NotificationPayload{
		Channel: types.ChannelPush,
		Title:   title,
		Body:    body,
		Data:    data,
	}
}

// respond maps a failed send to a 502 carrying the provider code.
func (h *PushHandler) respond(w http.ResponseWriter, r *http.Request, res types.SendResult) {
	if !res.OK {
		appErr := types.NewAppError(types.ErrCodeUpstreamPush, res.Error, nil)
		appErr.Details = map[string]any{"code": res.Code, "details": res.Details}
		core.Error(w, r, appErr)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: res})
}

func tokenPreview(token string) string {
	if len(token) <= 20 {
		return token[:min(len(token), 8)] + "..."
	}
	return token[:20] + "..."
}
