// Package config loads runtime settings for the api, worker and resvctl binaries from the environment.
package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

// Prefix is prepended to every variable name, e.g. RESV_LOCKS_TABLE.
const Prefix = "RESV"

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	RunLocal   bool   `envconfig:"RUN_LOCAL" default:"false"`
	ListenAddr string `envconfig:"LISTEN_ADDR" default:":8080"`
	LogLevel   string `envconfig:"LOG_LEVEL" default:"info"`

	StoreDriver string `envconfig:"STORE_DRIVER" default:"postgres"`
	DatabaseURL string `envconfig:"DATABASE_URL"`

	LocksTable       string `envconfig:"LOCKS_TABLE" default:"reservation-locks"`
	CacheTable       string `envconfig:"CACHE_TABLE" default:"availability-cache"`
	IdempotencyTable string `envconfig:"IDEMPOTENCY_TABLE" default:"reservation-idempotency"`

	TasksQueueURL         string `envconfig:"TASKS_QUEUE_URL"`
	NotificationsQueueURL string `envconfig:"NOTIFICATIONS_QUEUE_URL"`

	MetricsNamespace string `envconfig:"METRICS_NAMESPACE"`

	PendingTimeout   time.Duration `envconfig:"PENDING_TIMEOUT" default:"15m"`
	ReminderLeadTime time.Duration `envconfig:"REMINDER_LEAD_TIME" default:"24h"`
	BookingTimeout   time.Duration `envconfig:"BOOKING_TIMEOUT" default:"20s"`

	LockTTL        time.Duration `envconfig:"LOCK_TTL" default:"30s"`
	LockExtendTTL  time.Duration `envconfig:"LOCK_EXTEND_TTL" default:"10s"`
	LockWait       time.Duration `envconfig:"LOCK_WAIT" default:"10s"`
	LockAttempts   int           `envconfig:"LOCK_ATTEMPTS" default:"5"`
	LockMaxBackoff time.Duration `envconfig:"LOCK_MAX_BACKOFF" default:"2s"`

	CacheAvailableTTL time.Duration `envconfig:"CACHE_AVAILABLE_TTL" default:"5m"`
	CacheTakenTTL     time.Duration `envconfig:"CACHE_TAKEN_TTL" default:"30s"`

	IdempotencyTTL time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"48h"`

	// IdempotencyLease is how long an IN_PROGRESS claim blocks retries of the same key.
	IdempotencyLease time.Duration `envconfig:"IDEMPOTENCY_LEASE" default:"1m"`

	MinPartySize       int `envconfig:"MIN_PARTY_SIZE" default:"1"`
	MaxPartySize       int `envconfig:"MAX_PARTY_SIZE" default:"12"`
	AdvanceBookingDays int `envconfig:"ADVANCE_BOOKING_DAYS" default:"90"`

	SweepBatchSize int `envconfig:"SWEEP_BATCH_SIZE" default:"100"`
}

// Load reads the environment and validates the result.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := envconfig.Process(Prefix, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to process env config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("RESV_DATABASE_URL is required when RESV_STORE_DRIVER=postgres")
		}
	case DriverMemory:
	default:
		return errors.Errorf("unknown store driver %q", c.StoreDriver)
	}
	if c.LockTTL <= 0 || c.LockAttempts < 1 {
		return errors.New("lock ttl and attempts must be positive")
	}
	if c.LockExtendTTL <= 0 || c.LockExtendTTL > c.LockTTL {
		return errors.Errorf("lock extend ttl %s must be in (0, %s]", c.LockExtendTTL, c.LockTTL)
	}
	if c.PendingTimeout <= 0 {
		return errors.New("pending timeout must be positive")
	}
	if c.CacheTakenTTL > c.CacheAvailableTTL {
		return errors.Errorf("taken ttl %s must not exceed available ttl %s", c.CacheTakenTTL, c.CacheAvailableTTL)
	}
	if c.IdempotencyLease <= c.BookingTimeout {
		return errors.Errorf("idempotency lease %s must outlast the booking timeout %s", c.IdempotencyLease, c.BookingTimeout)
	}
	if c.MinPartySize < 1 || c.MaxPartySize < c.MinPartySize {
		return errors.Errorf("invalid party size bounds [%d, %d]", c.MinPartySize, c.MaxPartySize)
	}
	return nil
}
