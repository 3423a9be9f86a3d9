package core

import (
	"context"
	"fmt"
	"time"

	"habitly/internal/queue"
	"habitly/internal/schedule"
	"habitly/internal/types"
)

// JobName is the queue job name for queued reminder deliveries.
const JobName = "send-reminder"

// JobQueue is the subset of the delivery queue used by the router.
type JobQueue interface {
	Enqueue(ctx context.Context, id, name string, payload any) (*queue.Job, bool, error)
}

// DispatchResult describes what the router did with a due reminder.
type DispatchResult struct {
	Queued  bool
	JobID   string
	Created bool
	Send    *types.SendResult
}

// OK reports whether the reminder was accepted for delivery.
func (r DispatchResult) OK() bool {
	if r.Queued {
		return true
	}
	return r.Send != nil && r.Send.OK
}

// RouterOptions configures a Router.
type RouterOptions struct {
	// QueuedChannels are delivered through the queue. Defaults to EMAIL.
	QueuedChannels  []types.Channel
	ProviderTimeout time.Duration
}

// Router maps a channel to its provider or to the durable queue.
type Router struct {
	providers map[types.Channel]types.NotificationProvider
	queued    map[types.Channel]bool
	queue     JobQueue
	reminders types.ReminderStore
	metrics   Metrics
	timeout   time.Duration
	logger    types.Logger
}

// NewRouter creates a Router. queue may be nil, in which case every channel
// is sent directly.
func NewRouter(providers []types.NotificationProvider, q JobQueue, reminders types.ReminderStore, metrics Metrics, opts RouterOptions, logger types.Logger) *Router {
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	if opts.QueuedChannels == nil {
		opts.QueuedChannels = []types.Channel{types.ChannelEmail}
	}
	r := &Router{
		providers: make(map[types.Channel]types.NotificationProvider, len(providers)),
		queued:    make(map[types.Channel]bool, len(opts.QueuedChannels)),
		queue:     q,
		reminders: reminders,
		metrics:   metrics,
		timeout:   opts.ProviderTimeout,
		logger:    logger.With("component", "router"),
	}
	for _, p := range providers {
		r.providers[p.Channel()] = p
	}
	if q != nil {
		for _, c := range opts.QueuedChannels {
			r.queued[c] = true
		}
	}
	return r
}

// Provider returns the provider registered for a channel.
func (r *Router) Provider(c types.Channel) (types.NotificationProvider, bool) {
	p, ok := r.providers[c]
	return p, ok
}

// IsQueued reports whether a channel is delivered through the queue.
func (r *Router) IsQueued(c types.Channel) bool {
	return r.queued[c]
}

// Dispatch delivers a due reminder. Queued channels are enqueued under the
// deterministic job key for the occurrence; a duplicate key is accepted
// without a second job. Other channels are sent immediately. lastSentAt is
// advanced after a confirmed enqueue or a successful direct send; a failed
// send leaves it untouched so a later tick retries.
//
// The returned error covers queue infrastructure failures only. Provider
// failures are reported through DispatchResult.Send.
func (r *Router) Dispatch(ctx context.Context, rem *types.Reminder, payload *types.NotificationPayload, occurrence time.Time) (DispatchResult, error) {
	log := r.logger.With("reminder_id", rem.ID, "channel", string(rem.Channel))

	if r.IsQueued(rem.Channel) {
		jobID := schedule.JobKey(rem.ID, occurrence)
		job, created, err := r.queue.Enqueue(ctx, jobID, JobName, payload)
		if err != nil {
			return DispatchResult{}, fmt.Errorf("enqueue %s: %w", jobID, err)
		}
		if created {
			log.Info("reminder enqueued", "job_id", job.ID)
		} else {
			log.Info("duplicate enqueue suppressed", "job_id", job.ID, "state", string(job.State))
		}
		r.markSent(ctx, rem.ID, log)
		return DispatchResult{Queued: true, JobID: job.ID, Created: created}, nil
	}

	res := r.Deliver(ctx, payload)
	if res.OK {
		r.markSent(ctx, rem.ID, log)
		log.Info("reminder sent", "message_id", res.MessageID)
	} else {
		log.Warn("reminder send failed", "error", res.Error, "code", res.Code)
	}
	return DispatchResult{Send: &res}, nil
}

// Deliver sends a payload through its channel's provider, guarding against
// panics and hangs. Unknown channels yield a failed result.
func (r *Router) Deliver(ctx context.Context, payload *types.NotificationPayload) types.SendResult {
	p, ok := r.providers[payload.Channel]
	if !ok {
		return types.Failed(fmt.Sprintf("unknown channel %s", payload.Channel), "unknown_channel")
	}

	start := time.Now()
	res := SafeSend(ctx, p, payload, r.timeout, r.logger)
	r.metrics.RecordLatency(ctx, payload.Channel, time.Since(start))
	if res.OK {
		r.metrics.RecordDelivery(ctx, payload.Channel, MetricSuccess)
	} else {
		r.metrics.RecordDelivery(ctx, payload.Channel, MetricFailed)
	}
	return res
}

func (r *Router) markSent(ctx context.Context, reminderID string, log types.Logger) {
	if r.reminders == nil || reminderID == "" {
		return
	}
	if err := r.reminders.MarkSent(ctx, reminderID); err != nil {
		log.Error("failed to mark reminder sent", "error", err)
	}
}
