package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"habitly/internal/core"
	"habitly/internal/db"
)

// PushTokenStore mutates the device tokens on a user record.
type PushTokenStore interface {
	AddPushToken(ctx context.Context, userID, token string) error
	RemovePushToken(ctx context.Context, userID, token string) error
}

var _ PushTokenStore = (*db.UserRepository)(nil)

// PushTokenRequest is the body of both push-token routes.
type PushTokenRequest struct {
	Token    string `json:"token" validate:"required,max=4096"`
	Platform string `json:"platform,omitempty" validate:"omitempty,oneof=ios android web"`
}

// PushTokenResponse acknowledges a token change.
type PushTokenResponse struct {
	UserID     string `json:"userId"`
	Registered bool   `json:"registered"`
}

// PushTokenHandler registers and unregisters device tokens.
type PushTokenHandler struct {
	store     PushTokenStore
	validator *core.Validator
	logger    *slog.Logger
}

// NewPushTokenHandler creates a PushTokenHandler.
func NewPushTokenHandler(store PushTokenStore, v *core.Validator, l *slog.Logger) *PushTokenHandler {
	if l == nil {
		l = slog.Default()
	}
	return &PushTokenHandler{store: store, validator: v, logger: l}
}

// RegisterRoutes mounts /users/{id}/push-tokens.
func (h *PushTokenHandler) RegisterRoutes(r chi.Router) {
	r.Post("/users/{id}/push-tokens", h.Register)
	r.Delete("/users/{id}/push-tokens", h.Unregister)
}

// Register handles POST /v1/users/{id}/push-tokens. Adding a token twice
// is a no-op.
func (h *PushTokenHandler) Register(w http.ResponseWriter, r *http.Request) {
	userID, req, ok := h.decode(w, r)
	if !ok {
		return
	}

	if err := h.store.AddPushToken(r.Context(), userID, req.Token); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.Info("push token registered", "user_id", userID, "platform", req.Platform, "token", tokenPreview(req.Token))
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: PushTokenResponse{UserID: userID, Registered: true}})
}

// Unregister handles DELETE /v1/users/{id}/push-tokens.
func (h *PushTokenHandler) Unregister(w http.ResponseWriter, r *http.Request) {
	userID, req, ok := h.decode(w, r)
	if !ok {
		return
	}

	if err := h.store.RemovePushToken(r.Context(), userID, req.Token); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.Info("push token removed", "user_id", userID)
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: PushTokenResponse{UserID: userID, Registered: false}})
}

func (h *PushTokenHandler) decode(w http.ResponseWriter, r *http.Request) (string, PushTokenRequest, bool) {
	var req PushTokenRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return "", req, false
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return "", req, false
	}
	return chi.URLParam(r, "id"), req, true
}
