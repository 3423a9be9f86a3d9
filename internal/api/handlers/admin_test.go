package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"habitly/internal/queue"
	"habitly/internal/scheduler"
	"habitly/internal/types"
)

func TestAdminHandler_RunReminders(t *testing.T) {
	ticker := &mockTicker{tryTickFn: func(context.Context) (scheduler.TickSummary, error) {
		return scheduler.TickSummary{TickID: "tick-1", Fetched: 3, Due: 2, Queued: 1, Sent: 1}, nil
	}}
	h := NewAdminHandler(ticker, &mockJobs{}, "mail", discardLogger())

	rec := serve(h.RegisterRoutes, http.MethodPost, "/admin/reminders/run", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data scheduler.TickSummary `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "tick-1", resp.Data.TickID)
	assert.Equal(t, 2, resp.Data.Due)
	assert.Equal(t, 1, ticker.calls)
}

func TestAdminHandler_RunReminders_Busy(t *testing.T) {
	ticker := &mockTicker{tryTickFn: func(context.Context) (scheduler.TickSummary, error) {
		return scheduler.TickSummary{}, types.NewAppError(types.ErrCodeConflictSchedulerBusy, "a tick is already running", nil)
	}}
	h := NewAdminHandler(ticker, &mockJobs{}, "mail", discardLogger())

	rec := serve(h.RegisterRoutes, http.MethodPost, "/admin/reminders/run", "")

	assert.Equal(t, http.StatusConflict, rec.Code)
	var env errorEnvelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	assert.Equal(t, string(types.ErrCodeConflictSchedulerBusy), env.Error.Code)
}

func TestAdminHandler_RunReminders_Disabled(t *testing.T) {
	h := NewAdminHandler(nil, &mockJobs{}, "mail", discardLogger())
	rec := serve(h.RegisterRoutes, http.MethodPost, "/admin/reminders/run", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAdminHandler_GetJob(t *testing.T) {
	created := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	jobs := &mockJobs{getJobFn: func(_ context.Context, id string) (*queue.Job, error) {
		if id != "rem-1:20261019T0900Z" {
			return nil, types.NewAppError(types.ErrCodeNotFoundJob, "job not found", nil)
		}
		return &queue.Job{ID: id, Name: "send", State: queue.StateCompleted, Attempts: 1, MaxAttempts: 5, CreatedAt: created}, nil
	}}
	h := NewAdminHandler(&mockTicker{}, jobs, "mail", discardLogger())

	t.Run("found", func(t *testing.T) {
		rec := serve(h.RegisterRoutes, http.MethodGet, "/admin/jobs/rem-1:20261019T0900Z", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Data queue.Job `json:"data"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, queue.StateCompleted, resp.Data.State)
		assert.Equal(t, 1, resp.Data.Attempts)
	})

	t.Run("missing", func(t *testing.T) {
		rec := serve(h.RegisterRoutes, http.MethodGet, "/admin/jobs/unknown", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestAdminHandler_QueueStats(t *testing.T) {
	jobs := &mockJobs{countsFn: func(context.Context) (map[queue.State]int64, error) {
		return map[queue.State]int64{queue.StateWaiting: 4, queue.StateFailed: 1}, nil
	}}
	h := NewAdminHandler(&mockTicker{}, jobs, "mail", discardLogger())

	rec := serve(h.RegisterRoutes, http.MethodGet, "/admin/queue", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data QueueStatsResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "mail", resp.Data.Queue)
	assert.Equal(t, int64(4), resp.Data.Counts[queue.StateWaiting])
	assert.Equal(t, int64(1), resp.Data.Counts[queue.StateFailed])
}

func TestAdminHandler_QueueStats_Error(t *testing.T) {
	jobs := &mockJobs{countsFn: func(context.Context) (map[queue.State]int64, error) {
		return nil, types.NewAppError(types.ErrCodeInternalQueue, "failed to count jobs", nil)
	}}
	h := NewAdminHandler(&mockTicker{}, jobs, "mail", discardLogger())

	rec := serve(h.RegisterRoutes, http.MethodGet, "/admin/queue", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
