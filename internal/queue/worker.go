package queue

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"habitly/internal/types"
)

// Handler processes one reserved job. Returning an error hands the job back
// to the queue, which decides between a delayed retry and terminal failure.
type Handler interface {
	Process(ctx context.Context, job *Job) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job *Job) error

// Process implements Handler.
func (f HandlerFunc) Process(ctx context.Context, job *Job) error { return f(ctx, job) }

// WorkerOptions configures a Worker.
type WorkerOptions struct {
	Concurrency         int
	PollInterval        time.Duration
	MaintenanceInterval time.Duration
	// ShutdownGrace is how long an in-flight attempt may keep running after
	// Run's context is cancelled.
	ShutdownGrace time.Duration
	// Limiter caps job throughput across all worker goroutines. Nil means unlimited.
	Limiter *rate.Limiter
}

// Worker consumes jobs from a Queue and runs the periodic maintenance
// (delayed promotion, stalled recovery, retention cleanup).
type Worker struct {
	q       *Queue
	handler Handler
	opts    WorkerOptions
	logger  types.Logger
}

// NewWorker creates a Worker.
func NewWorker(q *Queue, handler Handler, opts WorkerOptions, logger types.Logger) *Worker {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.MaintenanceInterval <= 0 {
		opts.MaintenanceInterval = 5 * time.Second
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = 10 * time.Second
	}
	return &Worker{
		q:       q,
		handler: handler,
		opts:    opts,
		logger:  logger.With("component", "worker", "queue", q.Name()),
	}
}

// Run blocks until ctx is cancelled. In-flight attempts keep running for up
// to ShutdownGrace after cancellation; Run returns once they have settled.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < w.opts.Concurrency; i++ {
		slot := i
		g.Go(func() error {
			w.consume(ctx, slot)
			return nil
		})
	}
	g.Go(func() error {
		w.maintain(ctx)
		return nil
	})

	w.logger.Info("worker started", "concurrency", w.opts.Concurrency)
	err := g.Wait()
	w.logger.Info("worker stopped")
	return err
}

func (w *Worker) consume(ctx context.Context, slot int) {
	for ctx.Err() == nil {
		if w.opts.Limiter != nil {
			if err := w.opts.Limiter.Wait(ctx); err != nil {
				return
			}
		}

		processed, err := w.ProcessNext(ctx)
		if err != nil {
			w.logger.Error("reserve failed", "slot", slot, "error", err)
			w.q.emit(ctx, Event{Type: EventError, Err: err})
		}
		if processed && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.opts.PollInterval):
		}
	}
}

// ProcessNext reserves and processes a single job. It reports whether a job
// was found.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	job, err := w.q.Reserve(ctx)
	if err != nil || job == nil {
		return false, err
	}

	// The job outcome must be recorded even if shutdown starts mid-attempt.
	settleCtx := context.WithoutCancel(ctx)

	attemptCtx, cancel := w.attemptContext(ctx)
	defer cancel()

	stop := w.heartbeat(attemptCtx, job.ID)
	perr := w.safeProcess(attemptCtx, job)
	stop()

	if perr != nil {
		state, err := w.q.Fail(settleCtx, job, perr)
		if err != nil {
			w.logger.Error("failed to record job failure", "job_id", job.ID, "error", err)
			return true, nil
		}
		w.logger.Warn("job attempt failed", "job_id", job.ID, "attempt", job.Attempts, "state", string(state), "error", perr)
		return true, nil
	}

	if err := w.q.Complete(settleCtx, job); err != nil {
		w.logger.Error("failed to complete job", "job_id", job.ID, "error", err)
	}
	return true, nil
}

// attemptContext detaches an attempt from ctx. Once ctx is cancelled the
// attempt is cancelled after ShutdownGrace.
func (w *Worker) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	attemptCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, func() {
		t := time.NewTimer(w.opts.ShutdownGrace)
		defer t.Stop()
		select {
		case <-t.C:
			cancel()
		case <-attemptCtx.Done():
		}
	})
	return attemptCtx, func() {
		stop()
		cancel()
	}
}

// safeProcess converts handler panics into failed attempts.
func (w *Worker) safeProcess(ctx context.Context, job *Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			w.logger.Error("job handler panic", "job_id", job.ID, "panic", rec, "stack", string(debug.Stack()))
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return w.handler.Process(ctx, job)
}

// heartbeat keeps the lease of an active job alive until stop is called.
func (w *Worker) heartbeat(ctx context.Context, id string) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(w.q.opts.LeaseTimeout / 2)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if err := w.q.ExtendLease(ctx, id); err != nil {
					w.logger.Warn("lease extension failed", "job_id", id, "error", err)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (w *Worker) maintain(ctx context.Context) {
	t := time.NewTicker(w.opts.MaintenanceInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.RunMaintenance(ctx)
		}
	}
}

// RunMaintenance performs one pass of delayed promotion, stalled recovery
// and retention cleanup. Errors are logged and emitted, never returned.
func (w *Worker) RunMaintenance(ctx context.Context) {
	if n, err := w.q.RecoverStalled(ctx); err != nil {
		w.reportError(ctx, "stalled recovery failed", err)
	} else if n > 0 {
		w.logger.Warn("recovered stalled jobs", "count", n)
	}
	if n, err := w.q.PromoteDelayed(ctx); err != nil {
		w.reportError(ctx, "delayed promotion failed", err)
	} else if n > 0 {
		w.logger.Info("promoted delayed jobs", "count", n)
	}
	if _, err := w.q.Clean(ctx); err != nil {
		w.reportError(ctx, "retention cleanup failed", err)
	}
}

func (w *Worker) reportError(ctx context.Context, msg string, err error) {
	w.logger.Error(msg, "error", err)
	w.q.emit(ctx, Event{Type: EventError, Err: err})
}
