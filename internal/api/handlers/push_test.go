package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"habitly/internal/core"
	"habitly/internal/types"
)

func newPushHandler(sender PushSender) *PushHandler {
	clock := fixedClock{t: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)}
	return NewPushHandler(sender, core.NewValidator(), clock, discardLogger())
}

func TestPushHandler_SendTest_Defaults(t *testing.T) {
	sender := &mockPushSender{}
	h := newPushHandler(sender)

	rec := serve(h.RegisterRoutes, http.MethodPost, "/push/test", `{"token":"device-token-abcdefghijklmnop"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, sender.lastPayload)
	assert.Equal(t, "device-token-abcdefghijklmnop", sender.lastPayload.Token)
	assert.Equal(t, types.ChannelPush, sender.lastPayload.Channel)
	assert.Equal(t, defaultTestTitle, sender.lastPayload.Title)
	assert.Equal(t, defaultTestBody, sender.lastPayload.Body)
	assert.Equal(t, "true", sender.lastPayload.Data["test"])
	assert.Equal(t, "2026-10-19T09:00:00Z", sender.lastPayload.Data["timestamp"])
}

func TestPushHandler_SendTest_Custom(t *testing.T) {
	sender := &mockPushSender{}
	h := newPushHandler(sender)

	rec := serve(h.RegisterRoutes, http.MethodPost, "/push/test",
		`{"token":"tok","title":"Hi","body":"Stretch","data":{"k":"v"}}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Hi", sender.lastPayload.Title)
	assert.Equal(t, "Stretch", sender.lastPayload.Body)
	assert.Equal(t, map[string]string{"k": "v"}, sender.lastPayload.Data)
}

func TestPushHandler_SendTest_MissingToken(t *testing.T) {
	sender := &mockPushSender{}
	h := newPushHandler(sender)

	rec := serve(h.RegisterRoutes, http.MethodPost, "/push/test", `{"title":"Hi"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, sender.lastPayload)
}

func TestPushHandler_SendTest_ProviderFailure(t *testing.T) {
	sender := &mockPushSender{sendFn: func(context.Context, *types.NotificationPayload) types.SendResult {
		return types.SendResult{OK: false, Error: "Requested entity was not found.", Code: "messaging/registration-token-not-registered"}
	}}
	h := newPushHandler(sender)

	rec := serve(h.RegisterRoutes, http.MethodPost, "/push/test", `{"token":"stale"}`)

	require.Equal(t, http.StatusBadGateway, rec.Code)
	var env errorEnvelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	assert.Equal(t, string(types.ErrCodeUpstreamPush), env.Error.Code)
	assert.Equal(t, "messaging/registration-token-not-registered", env.Error.Details["code"])
}

func TestPushHandler_SendMulticast(t *testing.T) {
	var gotTokens []string
	sender := &mockPushSender{multicastFn: func(_ context.Context, tokens []string, _ *types.NotificationPayload) types.SendResult {
		gotTokens = tokens
		return types.SendResult{OK: true, Info: map[string]any{"successCount": 2}}
	}}
	h := newPushHandler(sender)

	rec := serve(h.RegisterRoutes, http.MethodPost, "/push/multicast", `{"tokens":["a","b"]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"a", "b"}, gotTokens)
}

func TestPushHandler_SendMulticast_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "no tokens", body: `{"tokens":[]}`},
		{name: "blank token", body: `{"tokens":["a",""]}`},
		{name: "unknown field", body: `{"tokens":["a"],"extra":true}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newPushHandler(&mockPushSender{})
			rec := serve(h.RegisterRoutes, http.MethodPost, "/push/multicast", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestPushHandler_Validate(t *testing.T) {
	sender := &mockPushSender{validateFn: func(_ context.Context, token string) (bool, string) {
		if token == "good" {
			return true, "token accepted"
		}
		return false, "The registration token is not registered"
	}}
	h := newPushHandler(sender)

	for token, want := range map[string]bool{"good": true, "bad": false} {
		rec := serve(h.RegisterRoutes, http.MethodPost, "/push/validate", `{"token":"`+token+`"}`)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Data PushValidateResponse `json:"data"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, want, resp.Data.Valid, token)
		assert.NotEmpty(t, resp.Data.Info)
	}
}

func TestTokenPreview(t *testing.T) {
	assert.Equal(t, "abc...", tokenPreview("abc"))
	assert.Equal(t, "0123456789abcdefghij...", tokenPreview("0123456789abcdefghijklmnop"))
}
