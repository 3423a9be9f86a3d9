// Package config defines the process configuration for the reminder scheduler
// and the delivery worker. Configuration is loaded once at startup from the
// environment (optionally seeded by a .env file) and is immutable thereafter.
package config

import (
	"net"
	"strconv"
	"time"

	"habitly/internal/types"
)

// SecretString is an alias for types.SecretString.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the subsets they require.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"habitly-reminders"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Queue     QueueConfig
	Scheduler SchedulerConfig
	SMTP      SMTPConfig
	Firebase  FirebaseConfig
	SMS       SMSConfig
	Metrics   MetricsConfig

	Build BuildInfo
}

// IsLocal reports whether the process runs in local development mode.
func (c *Config) IsLocal() bool {
	return c.Environment == "local"
}

// ServerConfig holds the admin HTTP surface settings.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	AdminAPIKey     SecretString  `envconfig:"ADMIN_API_KEY"`
	RequestTimeout  time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL             SecretString  `envconfig:"DATABASE_URL" validate:"required"`
	MaxConns        int           `envconfig:"DB_MAX_CONNS" default:"10" validate:"min=1"`
	MinConns        int           `envconfig:"DB_MIN_CONNS" default:"1" validate:"min=0"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
}

// RedisConfig locates the queue backend.
type RedisConfig struct {
	Host     string       `envconfig:"REDIS_HOST" default:"127.0.0.1" validate:"required"`
	Port     int          `envconfig:"REDIS_PORT" default:"6379" validate:"min=1,max=65535"`
	Password SecretString `envconfig:"REDIS_PASSWORD"`
	DB       int          `envconfig:"REDIS_DB" default:"0" validate:"min=0"`
}

// Addr returns host:port for the redis client.
func (r RedisConfig) Addr() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

// QueueConfig holds the delivery queue retry, retention and worker settings.
type QueueConfig struct {
	Name                string        `envconfig:"QUEUE_NAME" default:"mail" validate:"required"`
	MaxAttempts         int           `envconfig:"QUEUE_MAX_ATTEMPTS" default:"5" validate:"min=1"`
	BackoffDelay        time.Duration `envconfig:"QUEUE_BACKOFF_DELAY" default:"1s"`
	BackoffMax          time.Duration `envconfig:"QUEUE_BACKOFF_MAX" default:"5m"`
	RemoveOnComplete    time.Duration `envconfig:"QUEUE_REMOVE_ON_COMPLETE" default:"1h"`
	RemoveOnFail        time.Duration `envconfig:"QUEUE_REMOVE_ON_FAIL" default:"24h"`
	Concurrency         int           `envconfig:"QUEUE_CONCURRENCY" default:"2" validate:"min=1"`
	LeaseTimeout        time.Duration `envconfig:"QUEUE_LEASE_TIMEOUT" default:"30s" validate:"min=1s"`
	ShutdownGrace       time.Duration `envconfig:"QUEUE_SHUTDOWN_GRACE" default:"10s" validate:"min=0"`
	PollInterval        time.Duration `envconfig:"QUEUE_POLL_INTERVAL" default:"1s"`
	MaintenanceInterval time.Duration `envconfig:"QUEUE_MAINTENANCE_INTERVAL" default:"5s"`
	RateLimit           float64       `envconfig:"QUEUE_RATE_LIMIT" default:"0" validate:"min=0"`
}

// SchedulerConfig controls the due-check loop.
type SchedulerConfig struct {
	Enabled         bool          `envconfig:"SCHEDULER_ENABLED" default:"true"`
	Spec            string        `envconfig:"SCHEDULER_SPEC" default:"@every 1m" validate:"required"`
	BatchSize       int           `envconfig:"SCHEDULER_BATCH_SIZE" default:"500" validate:"min=1"`
	ProviderTimeout time.Duration `envconfig:"PROVIDER_TIMEOUT" default:"15s"`
}

// SMTPConfig holds the email transport settings.
type SMTPConfig struct {
	Host             string       `envconfig:"SMTP_HOST" default:"localhost"`
	Port             int          `envconfig:"SMTP_PORT" default:"587" validate:"min=1,max=65535"`
	User             string       `envconfig:"SMTP_USER"`
	Pass             SecretString `envconfig:"SMTP_PASS"`
	From             string       `envconfig:"MAIL_FROM"`
	DevFallbackEmail string       `envconfig:"DEV_FALLBACK_EMAIL"`
	TLSInsecure      bool         `envconfig:"SMTP_TLS_INSECURE" default:"true"`
}

// FirebaseConfig holds the push backend credential sources. The first
// available source wins: file path, inline JSON, then discrete fields.
type FirebaseConfig struct {
	ServiceAccountPath string       `envconfig:"FIREBASE_SERVICE_ACCOUNT_PATH"`
	ServiceAccountJSON SecretString `envconfig:"FIREBASE_SERVICE_ACCOUNT_JSON"`
	ProjectID          string       `envconfig:"FIREBASE_PROJECT_ID"`
	ClientEmail        string       `envconfig:"FIREBASE_CLIENT_EMAIL"`
	PrivateKey         SecretString `envconfig:"FIREBASE_PRIVATE_KEY"`
	PrivateKeyID       string       `envconfig:"FIREBASE_PRIVATE_KEY_ID"`
	ClientID           string       `envconfig:"FIREBASE_CLIENT_ID"`
}

// SMSConfig holds the SMS backend settings.
type SMSConfig struct {
	DevFallbackPhone string       `envconfig:"DEV_FALLBACK_PHONE"`
	AccountSID       string       `envconfig:"TWILIO_ACCOUNT_SID"`
	AuthToken        SecretString `envconfig:"TWILIO_AUTH_TOKEN"`
	FromNumber       string       `envconfig:"TWILIO_FROM_NUMBER"`
	BaseURL          string       `envconfig:"TWILIO_BASE_URL" default:"https://api.twilio.com" validate:"url"`
}

// MetricsConfig controls CloudWatch metric publication.
type MetricsConfig struct {
	Enabled     bool   `envconfig:"METRICS_ENABLED" default:"false"`
	Namespace   string `envconfig:"METRIC_NAMESPACE" default:"Habitly"`
	Region      string `envconfig:"AWS_REGION" default:"us-east-1"`
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates a failure when parsing environment variable values.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
