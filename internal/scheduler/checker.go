// Package scheduler runs the periodic due-check: each tick scans enabled
// reminders, decides which are due and hands them to the router.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"habitly/internal/notifications/core"
	"habitly/internal/schedule"
	"habitly/internal/types"
)

// DefaultBatchSize bounds how many reminders one tick reads.
const DefaultBatchSize = 500

// PayloadBuilder builds the notification content for a reminder.
type PayloadBuilder interface {
	Build(ctx context.Context, rem *types.Reminder) *types.NotificationPayload
}

// Dispatcher routes a due reminder to its channel.
type Dispatcher interface {
	Dispatch(ctx context.Context, rem *types.Reminder, payload *types.NotificationPayload, occurrence time.Time) (core.DispatchResult, error)
}

// Evaluator decides due-ness for a schedule.
type Evaluator interface {
	IsDue(s types.Schedule, now time.Time) schedule.DueResult
}

// RecordValidator checks a reminder's stored fields before evaluation.
type RecordValidator interface {
	ValidateStruct(s any) error
}

var (
	_ PayloadBuilder = (*core.PayloadBuilder)(nil)
	_ Dispatcher     = (*core.Router)(nil)
	_ Evaluator      = (*schedule.Evaluator)(nil)
)

// TickSummary reports what a single tick did.
type TickSummary struct {
	TickID     string        `json:"tick_id"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration_ns"`
	Fetched    int           `json:"fetched"`
	Disabled   int           `json:"skipped_disabled"`
	Recent     int           `json:"skipped_recent"`
	NotDue     int           `json:"not_due"`
	Due        int           `json:"due"`
	Queued     int           `json:"queued"`
	Duplicates int           `json:"duplicates"`
	Sent       int           `json:"sent"`
	Failed     int           `json:"failed"`
	Errors     int           `json:"errors"`
	FetchError string        `json:"fetch_error,omitempty"`
}

// DueChecker performs scheduler ticks. Ticks never overlap.
type DueChecker struct {
	reminders types.ReminderStore
	evaluator Evaluator
	builder   PayloadBuilder
	router    Dispatcher
	clock     types.Clock
	validator RecordValidator
	batchSize int
	logger    types.Logger

	mu sync.Mutex
}

// NewDueChecker creates a DueChecker. A non-positive batchSize selects
// DefaultBatchSize. A nil validator disables record validation.
func NewDueChecker(
	reminders types.ReminderStore,
	evaluator Evaluator,
	builder PayloadBuilder,
	router Dispatcher,
	validator RecordValidator,
	clock types.Clock,
	batchSize int,
	logger types.Logger,
) *DueChecker {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	return &DueChecker{
		reminders: reminders,
		evaluator: evaluator,
		builder:   builder,
		router:    router,
		validator: validator,
		clock:     clock,
		batchSize: batchSize,
		logger:    logger.With("component", "due_checker"),
	}
}

// Tick waits for any running tick to finish, then performs one scan.
func (d *DueChecker) Tick(ctx context.Context) TickSummary {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tick(ctx)
}

// TryTick performs one scan unless another tick is in progress, in which
// case it returns a conflict error.
func (d *DueChecker) TryTick(ctx context.Context) (TickSummary, error) {
	if !d.mu.TryLock() {
		return TickSummary{}, types.NewAppError(types.ErrCodeConflictSchedulerBusy, "a scheduler tick is already running", nil)
	}
	defer d.mu.Unlock()
	return d.tick(ctx), nil
}

func (d *DueChecker) tick(ctx context.Context) TickSummary {
	now := d.clock.Now().UTC()
	sum := TickSummary{TickID: uuid.NewString(), StartedAt: now}
	log := d.logger.With("tick_id", sum.TickID)
	ctx = types.WithTickID(ctx, sum.TickID)
	ctx = types.WithLogger(ctx, log)

	defer func() {
		sum.Duration = d.clock.Now().Sub(now)
		if sum.Due > 0 || sum.Errors > 0 || sum.FetchError != "" {
			log.Info("tick finished",
				"fetched", sum.Fetched,
				"due", sum.Due,
				"queued", sum.Queued,
				"sent", sum.Sent,
				"failed", sum.Failed,
				"errors", sum.Errors,
				"duration_ms", sum.Duration.Milliseconds(),
			)
		}
	}()

	batch, err := d.reminders.FindEnabled(ctx, d.batchSize)
	if err != nil {
		log.Error("failed to fetch enabled reminders", "error", err)
		sum.FetchError = err.Error()
		return sum
	}
	sum.Fetched = len(batch)

	for i, rem := range batch {
		if ctx.Err() != nil {
			log.Warn("tick cancelled", "remaining", len(batch)-i)
			break
		}
		if rem == nil {
			continue
		}
		if err := d.process(ctx, rem, now, &sum); err != nil {
			sum.Errors++
			log.Error("reminder processing failed", "reminder_id", rem.ID, "error", err)
		}
	}
	return sum
}

// validate rejects records the router cannot deliver. An unknown timezone
// is only logged: the evaluator treats it as a parse error and still honours
// the every-minute fallback.
func (d *DueChecker) validate(ctx context.Context, rem *types.Reminder) error {
	if d.validator == nil {
		return nil
	}
	err := d.validator.ValidateStruct(rem)
	if err == nil {
		return nil
	}
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		fields, _ := appErr.Details["validation_errors"].(map[string]string)
		if _, bad := fields["timezone"]; bad && len(fields) == 1 {
			log := types.LoggerFromContext(ctx)
			if log == nil {
				log = d.logger
			}
			log.Warn("reminder has an unknown timezone",
				"reminder_id", rem.ID, "timezone", rem.Timezone)
			return nil
		}
	}
	return fmt.Errorf("invalid reminder record: %w", err)
}

// process handles one reminder. Panics are converted to errors so a single
// bad record cannot abort the batch.
func (d *DueChecker) process(ctx context.Context, rem *types.Reminder, now time.Time, sum *TickSummary) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	if !rem.Enabled {
		sum.Disabled++
		return nil
	}
	if schedule.RecentlySent(rem.LastSentAt, now) {
		sum.Recent++
		return nil
	}
	if err := d.validate(ctx, rem); err != nil {
		return err
	}

	res := d.evaluator.IsDue(rem.Schedule(), now)
	if !res.Due {
		sum.NotDue++
		return nil
	}
	sum.Due++

	payload := d.builder.Build(ctx, rem)
	out, err := d.router.Dispatch(ctx, rem, payload, res.Occurrence)
	if err != nil {
		return err
	}

	switch {
	case out.Queued && out.Created:
		sum.Queued++
	case out.Queued:
		sum.Duplicates++
	case out.OK():
		sum.Sent++
	default:
		sum.Failed++
	}
	return nil
}
