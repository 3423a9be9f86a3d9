package scheduler

import (
	"context"
	"sync"
	"time"

	"habitly/internal/notifications/core"
	"habitly/internal/types"
)

type mockLogger struct{}

func (mockLogger) Info(msg string, args ...any)  {}
func (mockLogger) Error(msg string, args ...any) {}
func (mockLogger) Warn(msg string, args ...any)  {}
func (m mockLogger) With(args ...any) types.Logger {
	return m
}

// warnCounter counts warnings across derived loggers.
type warnCounter struct {
	mu    *sync.Mutex
	warns *[]string
}

func newWarnCounter() warnCounter {
	return warnCounter{mu: &sync.Mutex{}, warns: &[]string{}}
}

func (w warnCounter) Info(msg string, args ...any)  {}
func (w warnCounter) Error(msg string, args ...any) {}
func (w warnCounter) Warn(msg string, args ...any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	*w.warns = append(*w.warns, msg)
}
func (w warnCounter) With(args ...any) types.Logger { return w }

func (w warnCounter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(*w.warns)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memStore is an in-memory reminder, habit and user store.
type memStore struct {
	mu        sync.Mutex
	clock     types.Clock
	reminders []*types.Reminder
	users     map[string]*types.User
	habits    map[string]*types.Habit
	fetchErr  error
	marked    []string
}

func newMemStore(clock types.Clock, reminders ...*types.Reminder) *memStore {
	return &memStore{
		clock:     clock,
		reminders: reminders,
		users: map[string]*types.User{
			"user-1": {ID: "user-1", Email: "ana@example.com", Phone: "+15550001111", PushTokens: []string{"tok-1"}},
		},
		habits: map[string]*types.Habit{
			"habit-1": {ID: "habit-1", UserID: "user-1", Title: "Meditate"},
		},
	}
}

func (s *memStore) FindEnabled(_ context.Context, limit int) ([]*types.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	var out []*types.Reminder
	for _, r := range s.reminders {
		if len(out) == limit {
			break
		}
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memStore) MarkSent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	for _, r := range s.reminders {
		if r.ID == id {
			if r.LastSentAt == nil || now.After(*r.LastSentAt) {
				r.LastSentAt = &now
			}
			s.marked = append(s.marked, id)
			return nil
		}
	}
	return types.NewAppError(types.ErrCodeNotFoundReminder, "reminder not found", nil)
}

func (s *memStore) lastSent(id string) *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.reminders {
		if r.ID == id {
			return r.LastSentAt
		}
	}
	return nil
}

type userLookup struct{ s *memStore }

func (u userLookup) FindByID(_ context.Context, id string) (*types.User, error) {
	return u.s.users[id], nil
}

type habitLookup struct{ s *memStore }

func (h habitLookup) FindByID(_ context.Context, id string) (*types.Habit, error) {
	return h.s.habits[id], nil
}

type stubProvider struct {
	channel types.Channel
	result  types.SendResult

	mu    sync.Mutex
	calls []*types.NotificationPayload
}

func (p *stubProvider) Channel() types.Channel { return p.channel }

func (p *stubProvider) Send(_ context.Context, payload *types.NotificationPayload) types.SendResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, payload)
	return p.result
}

func (p *stubProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// stubDispatcher records dispatches without delivering anything.
type stubDispatcher struct {
	mu       sync.Mutex
	seen     []string
	panicFor string
	err      error
}

func (d *stubDispatcher) Dispatch(_ context.Context, rem *types.Reminder, _ *types.NotificationPayload, _ time.Time) (core.DispatchResult, error) {
	if rem.ID == d.panicFor {
		panic("boom")
	}
	d.mu.Lock()
	d.seen = append(d.seen, rem.ID)
	d.mu.Unlock()
	if d.err != nil {
		return core.DispatchResult{}, d.err
	}
	ok := types.SendResult{OK: true}
	return core.DispatchResult{Send: &ok}, nil
}
