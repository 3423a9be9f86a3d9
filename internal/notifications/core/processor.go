package core

import (
	"context"
	"fmt"
	"time"

	"habitly/internal/queue"
	"habitly/internal/types"
)

// Compile-time assertion that DeliveryProcessor is a queue handler.
var _ queue.Handler = (*DeliveryProcessor)(nil)

// DeliveryProcessor completes queued deliveries. It performs no retry of its
// own: a failed send is returned to the queue, which owns the backoff.
type DeliveryProcessor struct {
	router    *Router
	reminders types.ReminderStore
	metrics   Metrics
	clock     types.Clock
	logger    types.Logger
}

// NewDeliveryProcessor creates a DeliveryProcessor.
func NewDeliveryProcessor(router *Router, reminders types.ReminderStore, metrics Metrics, clock types.Clock, logger types.Logger) *DeliveryProcessor {
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	return &DeliveryProcessor{
		router:    router,
		reminders: reminders,
		metrics:   metrics,
		clock:     clock,
		logger:    logger.With("component", "delivery_processor"),
	}
}

// Process implements queue.Handler.
func (p *DeliveryProcessor) Process(ctx context.Context, job *queue.Job) error {
	var payload types.NotificationPayload
	if err := job.Decode(&payload); err != nil {
		return fmt.Errorf("decode job %s: %w", job.ID, err)
	}
	if payload.Channel == "" {
		payload.Channel = types.ChannelEmail
	}

	log := p.logger.With("job_id", job.ID, "reminder_id", payload.ReminderID, "attempt", job.Attempts)
	if job.Attempts == 1 {
		p.metrics.RecordQueueLag(ctx, p.clock.Now().Sub(job.CreatedAt))
	}

	res := p.router.Deliver(ctx, &payload)
	if !res.OK {
		return &DeliveryError{Result: res}
	}

	// The message is out; a bookkeeping failure must not trigger a resend.
	if payload.ReminderID != "" && p.reminders != nil {
		if err := p.reminders.MarkSent(ctx, payload.ReminderID); err != nil {
			log.Error("delivered but failed to mark reminder sent", "error", err)
		}
	}
	log.Info("queued reminder delivered", "message_id", res.MessageID, "latency", time.Since(job.CreatedAt).String())
	return nil
}

// DeliveryError wraps a failed SendResult so the queue records its reason.
type DeliveryError struct {
	Result types.SendResult
}

// Error implements the error interface.
func (e *DeliveryError) Error() string {
	msg := e.Result.Error
	if msg == "" {
		msg = "delivery failed"
	}
	if e.Result.Code != "" {
		return e.Result.Code + ": " + msg
	}
	return msg
}
