package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"habitly/internal/queue"
	"habitly/internal/types"
)

type mockLogger struct{}

func (mockLogger) Info(msg string, args ...any)  {}
func (mockLogger) Error(msg string, args ...any) {}
func (mockLogger) Warn(msg string, args ...any)  {}
func (m mockLogger) With(args ...any) types.Logger {
	return m
}

type mockClock struct{ now time.Time }

func (c mockClock) Now() time.Time { return c.now }

// stubProvider returns a fixed result and records payloads.
type stubProvider struct {
	channel types.Channel
	result  types.SendResult
	panics  bool
	block   bool

	mu    sync.Mutex
	calls []*types.NotificationPayload
}

func (p *stubProvider) Channel() types.Channel { return p.channel }

func (p *stubProvider) Send(ctx context.Context, payload *types.NotificationPayload) types.SendResult {
	p.mu.Lock()
	p.calls = append(p.calls, payload)
	p.mu.Unlock()
	if p.panics {
		panic("transport exploded")
	}
	if p.block {
		<-ctx.Done()
		return types.Failed("late", "late")
	}
	return p.result
}

func (p *stubProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// memQueue is an in-memory JobQueue with idempotent ids.
type memQueue struct {
	jobs map[string]*queue.Job
	err  error
}

func newMemQueue() *memQueue { return &memQueue{jobs: map[string]*queue.Job{}} }

func (q *memQueue) Enqueue(_ context.Context, id, name string, _ any) (*queue.Job, bool, error) {
	if q.err != nil {
		return nil, false, q.err
	}
	if j, ok := q.jobs[id]; ok {
		return j, false, nil
	}
	j := &queue.Job{ID: id, Name: name, State: queue.StateWaiting}
	q.jobs[id] = j
	return j, true, nil
}

type mockReminderStore struct {
	marked  []string
	markErr error
}

func (m *mockReminderStore) FindEnabled(context.Context, int) ([]*types.Reminder, error) {
	return nil, nil
}

func (m *mockReminderStore) MarkSent(_ context.Context, id string) error {
	m.marked = append(m.marked, id)
	return m.markErr
}

type mockUserStore struct {
	users map[string]*types.User
	err   error
}

func (m *mockUserStore) FindByID(_ context.Context, id string) (*types.User, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.users[id], nil
}

type mockHabitStore struct {
	habits map[string]*types.Habit
	err    error
}

func (m *mockHabitStore) FindByID(_ context.Context, id string) (*types.Habit, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.habits[id], nil
}

type recordingMetrics struct {
	NoopMetrics
	deliveries map[MetricResult]int
	lags       []time.Duration
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{deliveries: map[MetricResult]int{}}
}

func (m *recordingMetrics) RecordDelivery(_ context.Context, _ types.Channel, r MetricResult) {
	m.deliveries[r]++
}

func (m *recordingMetrics) RecordQueueLag(_ context.Context, lag time.Duration) {
	m.lags = append(m.lags, lag)
}

var errDB = errors.New("db unavailable")
