// Package main is the entrypoint for the reminder scheduler.
//
// The scheduler runs the due-check once a minute: it loads enabled
// reminders, decides which are due, dispatches queue-backed channels to the
// delivery queue and sends direct channels inline. The same process serves
// the admin HTTP surface (manual ticks, job inspection, push utilities and
// health).
//
// Startup:
//  1. Load configuration and initialize the structured logger.
//  2. Connect to PostgreSQL and Redis.
//  3. Build the providers, the notification router and the due checker.
//  4. Run the cron runner and the HTTP server under one errgroup until
//     SIGINT or SIGTERM.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"habitly/internal/api/handlers"
	"habitly/internal/config"
	"habitly/internal/core"
	"habitly/internal/db"
	notifcore "habitly/internal/notifications/core"
	"habitly/internal/notifications/email"
	"habitly/internal/notifications/push"
	"habitly/internal/notifications/sms"
	"habitly/internal/queue"
	"habitly/internal/schedule"
	"habitly/internal/scheduler"
	"habitly/internal/types"
)

// slogAdapter wraps *slog.Logger to implement the types.Logger interface.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *slogAdapter) With(args ...any) types.Logger {
	return &slogAdapter{logger: a.logger.With(args...)}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel).With("service", cfg.Service, "process", "reminder-scheduler")
	log := &slogAdapter{logger: logger}
	log.Info("reminder scheduler starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"spec", cfg.Scheduler.Spec,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password.Unmask(),
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	metrics, err := newMetrics(ctx, cfg.Metrics, log)
	if err != nil {
		return err
	}

	q := queue.New(rdb, queueOptions(cfg.Queue), log)
	q.AddListener(queue.LoggingListener{Logger: log})
	q.AddListener(metrics)
	if err := q.Ping(ctx); err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}

	reminders := db.NewReminderRepository(pool)
	users := db.NewUserRepository(pool)
	habits := db.NewHabitRepository(pool)

	pushProvider := push.NewProvider(ctx, cfg.Firebase, log)
	providers := []types.NotificationProvider{
		email.NewProvider(cfg.SMTP, log),
		pushProvider,
		sms.NewProvider(cfg.SMS, log),
	}
	router := notifcore.NewRouter(providers, q, reminders, metrics, notifcore.RouterOptions{
		ProviderTimeout: cfg.Scheduler.ProviderTimeout,
	}, log)

	checker := scheduler.NewDueChecker(
		reminders,
		schedule.NewEvaluator(log),
		notifcore.NewPayloadBuilder(users, habits, log),
		router,
		core.NewValidator(),
		types.RealClock{},
		cfg.Scheduler.BatchSize,
		log,
	)

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.HealthProbes = []core.HealthProbe{
		core.NewProbe("database", pool),
		core.NewProbe("redis", q),
	}
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		handlers.NewAdminHandler(checker, q, q.Name(), logger).RegisterRoutes,
		handlers.NewPushHandler(pushProvider, srv.Validator, nil, logger).RegisterRoutes,
		handlers.NewPushTokenHandler(users, srv.Validator, logger).RegisterRoutes,
	)
	srv.MountRoutes()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx)
	})
	if cfg.Scheduler.Enabled {
		runner := scheduler.NewRunner(checker, cfg.Scheduler.Spec, true, log)
		g.Go(func() error {
			return runner.Run(gctx)
		})
	} else {
		log.Warn("scheduler disabled; only manual ticks will run")
	}

	err = g.Wait()
	log.Info("reminder scheduler stopped")
	return err
}

func queueOptions(cfg config.QueueConfig) queue.Options {
	return queue.Options{
		Name: cfg.Name,
		Retry: queue.RetryPolicy{
			MaxAttempts:   cfg.MaxAttempts,
			BaseDelay:     cfg.BackoffDelay,
			MaxDelay:      cfg.BackoffMax,
			BackoffFactor: 2.0,
		},
		RemoveOnComplete: cfg.RemoveOnComplete,
		RemoveOnFail:     cfg.RemoveOnFail,
		LeaseTimeout:     cfg.LeaseTimeout,
	}
}

// newMetrics returns CloudWatch metrics when enabled, otherwise a no-op.
func newMetrics(ctx context.Context, cfg config.MetricsConfig, log types.Logger) (notifcore.Metrics, error) {
	if !cfg.Enabled {
		return notifcore.NoopMetrics{}, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	client := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
		}
	})
	return notifcore.NewCloudWatchMetrics(client, cfg.Namespace, log), nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
