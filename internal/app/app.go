// Package app wires the reservation components from configuration. The api, worker and
// resvctl binaries all build the same graph so a task enqueued by one is handled the same
// way by another.
package app

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-table-reservations/internal/aws"
	"github.com/imrishuroy/go-table-reservations/internal/booking"
	"github.com/imrishuroy/go-table-reservations/internal/cache"
	"github.com/imrishuroy/go-table-reservations/internal/config"
	"github.com/imrishuroy/go-table-reservations/internal/db"
	"github.com/imrishuroy/go-table-reservations/internal/idempotency"
	"github.com/imrishuroy/go-table-reservations/internal/jobs"
	"github.com/imrishuroy/go-table-reservations/internal/lock"
	"github.com/imrishuroy/go-table-reservations/internal/metrics"
	"github.com/imrishuroy/go-table-reservations/internal/notify"
	"github.com/imrishuroy/go-table-reservations/internal/reservations"
	"github.com/imrishuroy/go-table-reservations/internal/tasks"
)

const metricsCloseTimeout = 5 * time.Second

type App struct {
	Config  *config.Config
	Logs    *zap.Logger
	AWS     *aws.AWSClients
	DB      *db.DB // nil with the memory driver
	Metrics metrics.Collector

	Repo        reservations.Repository
	Store       *reservations.Store
	Locks       *lock.Service
	Cache       *cache.Cache
	Queue       *tasks.Queue
	Registry    *tasks.Registry
	Expirer     *jobs.Expirer
	Reminder    *jobs.Reminder
	Sweeper     *jobs.Sweeper
	Booking     *booking.Service
	Idempotency *idempotency.Store
}

// New builds the component graph. Close releases what it opened.
func New(ctx context.Context, cfg *config.Config, logs *zap.Logger) (*App, error) {
	clients, err := aws.NewAWSClients(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to init aws clients")
	}
	a := &App{Config: cfg, Logs: logs, AWS: clients}

	if cfg.MetricsNamespace != "" {
		a.Metrics = metrics.NewCloudWatch(clients.CloudWatch, cfg.MetricsNamespace, logs)
	} else {
		a.Metrics = metrics.Nop{}
	}

	switch cfg.StoreDriver {
	case config.DriverPostgres:
		d, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "failed to open database")
		}
		a.DB = d
		a.Repo = reservations.NewPostgresRepository(d)
	default:
		repo := reservations.NewMemoryRepository()
		if err := SeedDemo(ctx, repo); err != nil {
			return nil, err
		}
		a.Repo = repo
	}

	rules := reservations.Rules{
		MinPartySize:       cfg.MinPartySize,
		MaxPartySize:       cfg.MaxPartySize,
		AdvanceBookingDays: cfg.AdvanceBookingDays,
	}
	a.Store = reservations.NewStore(a.Repo, rules, cfg.PendingTimeout, logs)
	a.Locks = lock.NewService(clients.DynamoDB, cfg.LocksTable, cfg.LockMaxBackoff, logs)
	a.Cache = cache.New(clients.DynamoDB, cfg.CacheTable,
		cache.TTLs{Available: cfg.CacheAvailableTTL, Taken: cfg.CacheTakenTTL}, logs, a.Metrics)
	a.Idempotency = idempotency.NewStore(clients.DynamoDB, cfg.IdempotencyTable, cfg.IdempotencyTTL)
	a.Idempotency.SetLease(cfg.IdempotencyLease)

	if cfg.TasksQueueURL == "" {
		logs.Warn("no task queue configured, expirations rely on the sweep")
	}
	a.Queue = tasks.NewQueue(clients.SQS, cfg.TasksQueueURL, logs)
	notifier := notify.New(clients.SQS, cfg.NotificationsQueueURL, logs)

	a.Expirer = jobs.NewExpirer(a.Store, a.Queue, a.Cache, logs, a.Metrics)
	a.Reminder = jobs.NewReminder(a.Store, a.Queue, notifier, logs, a.Metrics)
	a.Sweeper = jobs.NewSweeper(a.Store, a.Expirer, cfg.SweepBatchSize, logs)
	a.Registry = tasks.NewRegistry(a.Queue, logs, a.Metrics)
	jobs.Register(a.Registry, a.Expirer, a.Reminder, a.Sweeper)

	a.Booking = booking.NewService(booking.Deps{
		Store:    a.Store,
		Locks:    a.Locks,
		Cache:    a.Cache,
		Expirer:  a.Expirer,
		Reminder: a.Reminder,
		Notifier: notifier,
		Logs:     logs,
		Metrics:  a.Metrics,
	}, booking.Options{
		LockTTL:      cfg.LockTTL,
		ExtendTTL:    cfg.LockExtendTTL,
		LockPolicy:   lock.Policy{Attempts: cfg.LockAttempts, Wait: cfg.LockWait},
		Timeout:      cfg.BookingTimeout,
		ReminderLead: cfg.ReminderLeadTime,
	})
	return a, nil
}

// Close waits for in-flight notifications and closes the database pool.
// FlushMetrics publishes buffered metrics. Lambda handlers call it before returning since
// the runtime may freeze the process between invocations.
func (a *App) FlushMetrics(ctx context.Context) {
	cw, ok := a.Metrics.(*metrics.CloudWatch)
	if !ok {
		return
	}
	if err := cw.Flush(ctx); err != nil {
		a.Logs.Warn("metrics flush failed", zap.Error(err))
	}
}

func (a *App) Close() {
	a.Booking.Wait()
	if cw, ok := a.Metrics.(*metrics.CloudWatch); ok {
		ctx, cancel := context.WithTimeout(context.Background(), metricsCloseTimeout)
		if err := cw.Close(ctx); err != nil {
			a.Logs.Warn("metrics not flushed on close", zap.Error(err))
		}
		cancel()
	}
	if a.DB != nil {
		a.DB.Close()
	}
	_ = a.Logs.Sync()
}
