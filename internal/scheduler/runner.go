package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"habitly/internal/types"
)

// DefaultSpec fires the due-check once a minute.
const DefaultSpec = "@every 1m"

// Ticker is the unit of periodic work.
type Ticker interface {
	Tick(ctx context.Context) TickSummary
}

// Runner drives a Ticker from a cron schedule. A tick that outlasts the
// interval delays the next one instead of overlapping it.
type Runner struct {
	cron       *cron.Cron
	ticker     Ticker
	spec       string
	runOnStart bool
	logger     types.Logger
}

// NewRunner creates a Runner. An empty spec selects DefaultSpec.
func NewRunner(ticker Ticker, spec string, runOnStart bool, logger types.Logger) *Runner {
	if spec == "" {
		spec = DefaultSpec
	}
	cl := cronLogger{logger: logger.With("component", "cron")}
	return &Runner{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.DelayIfStillRunning(cl)),
		),
		ticker:     ticker,
		spec:       spec,
		runOnStart: runOnStart,
		logger:     logger.With("component", "scheduler_runner"),
	}
}

// Run schedules ticks and blocks until ctx is cancelled, then waits for an
// in-flight tick to finish.
func (r *Runner) Run(ctx context.Context) error {
	job := cron.FuncJob(func() { r.ticker.Tick(ctx) })
	if _, err := r.cron.AddJob(r.spec, job); err != nil {
		return fmt.Errorf("invalid scheduler spec %q: %w", r.spec, err)
	}

	if r.runOnStart {
		r.ticker.Tick(ctx)
	}
	r.logger.Info("scheduler started", "spec", r.spec)
	r.cron.Start()

	<-ctx.Done()
	r.logger.Info("scheduler stopping")
	<-r.cron.Stop().Done()
	return nil
}

// cronLogger adapts types.Logger to cron.Logger.
type cronLogger struct {
	logger types.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	// cron logs every wake-up at info; keep those out of the service log.
	if msg == "wake" || msg == "run" {
		return
	}
	l.logger.Info(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
