package queue

import (
	"context"
	"time"

	"habitly/internal/types"
)

// EventType names a job lifecycle event.
type EventType string

const (
	EventWaiting   EventType = "waiting"
	EventActive    EventType = "active"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
	EventStalled   EventType = "stalled"
	EventCleaned   EventType = "cleaned"
	EventDrained   EventType = "drained"
	EventError     EventType = "error"
)

// Event describes one lifecycle transition. Job is nil for queue-wide
// events (cleaned, drained, error).
type Event struct {
	Type     EventType
	Queue    string
	JobID    string
	Job      *Job
	Err      error
	Count    int
	State    State
	Terminal bool
	Delay    time.Duration
}

// EventListener observes queue lifecycle events. Listeners run inline on
// the enqueue and worker paths and must return promptly; any I/O they do
// needs its own short deadline.
type EventListener interface {
	OnEvent(ctx context.Context, ev Event)
}

// ListenerFunc adapts a function to EventListener.
type ListenerFunc func(ctx context.Context, ev Event)

// OnEvent implements EventListener.
func (f ListenerFunc) OnEvent(ctx context.Context, ev Event) { f(ctx, ev) }

// LoggingListener writes every event to the structured logger.
type LoggingListener struct {
	Logger types.Logger
}

// OnEvent implements EventListener.
func (l LoggingListener) OnEvent(_ context.Context, ev Event) {
	log := l.Logger.With("queue", ev.Queue, "event", string(ev.Type))
	if ev.JobID != "" {
		log = log.With("job_id", ev.JobID)
	}
	if ev.Job != nil {
		log = log.With("attempt", ev.Job.Attempts)
	}

	switch ev.Type {
	case EventFailed:
		if ev.Terminal {
			log.Error("job failed permanently", "error", ev.Err)
			return
		}
		log.Warn("job attempt failed", "error", ev.Err, "retry_in", ev.Delay.String())
	case EventStalled:
		log.Warn("job stalled")
	case EventError:
		log.Error("queue error", "error", ev.Err)
	case EventCleaned:
		log.Info("jobs cleaned", "state", string(ev.State), "count", ev.Count)
	default:
		log.Info("job " + string(ev.Type))
	}
}
