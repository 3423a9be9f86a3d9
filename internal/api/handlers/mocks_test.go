package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"habitly/internal/queue"
	"habitly/internal/scheduler"
	"habitly/internal/types"
)

type mockTicker struct {
	tryTickFn func(ctx context.Context) (scheduler.TickSummary, error)
	calls     int
}

func (m *mockTicker) TryTick(ctx context.Context) (scheduler.TickSummary, error) {
	m.calls++
	if m.tryTickFn != nil {
		return m.tryTickFn(ctx)
	}
	return scheduler.TickSummary{}, nil
}

type mockJobs struct {
	getJobFn func(ctx context.Context, id string) (*queue.Job, error)
	countsFn func(ctx context.Context) (map[queue.State]int64, error)
}

func (m *mockJobs) GetJob(ctx context.Context, id string) (*queue.Job, error) {
	if m.getJobFn != nil {
		return m.getJobFn(ctx, id)
	}
	return nil, types.NewAppError(types.ErrCodeNotFoundJob, "job not found", nil)
}

func (m *mockJobs) Counts(ctx context.Context) (map[queue.State]int64, error) {
	if m.countsFn != nil {
		return m.countsFn(ctx)
	}
	return map[queue.State]int64{}, nil
}

type mockPushSender struct {
	sendFn      func(ctx context.Context, p *types.NotificationPayload) types.SendResult
	multicastFn func(ctx context.Context, tokens []string, p *types.NotificationPayload) types.SendResult
	validateFn  func(ctx context.Context, token string) (bool, string)

	lastPayload *types.NotificationPayload
}

func (m *mockPushSender) Send(ctx context.Context, p *types.NotificationPayload) types.SendResult {
	m.lastPayload = p
	if m.sendFn != nil {
		return m.sendFn(ctx, p)
	}
	return types.SendResult{OK: true, MessageID: "projects/test/messages/1"}
}

func (m *mockPushSender) SendMulticast(ctx context.Context, tokens []string, p *types.NotificationPayload) types.SendResult {
	m.lastPayload = p
	if m.multicastFn != nil {
		return m.multicastFn(ctx, tokens, p)
	}
	return types.SendResult{OK: true, Info: map[string]any{"successCount": len(tokens)}}
}

func (m *mockPushSender) ValidateToken(ctx context.Context, token string) (bool, string) {
	if m.validateFn != nil {
		return m.validateFn(ctx, token)
	}
	return true, "token accepted"
}

type mockTokenStore struct {
	addFn    func(ctx context.Context, userID, token string) error
	removeFn func(ctx context.Context, userID, token string) error
}

func (m *mockTokenStore) AddPushToken(ctx context.Context, userID, token string) error {
	if m.addFn != nil {
		return m.addFn(ctx, userID, token)
	}
	return nil
}

func (m *mockTokenStore) RemovePushToken(ctx context.Context, userID, token string) error {
	if m.removeFn != nil {
		return m.removeFn(ctx, userID, token)
	}
	return nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// serve routes a request through a chi router built by register.
func serve(register func(chi.Router), method, path, body string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	register(r)

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

type errorEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

