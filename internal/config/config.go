package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the service configuration
type Config struct {
	Debug     bool   `mapstructure:"debug"`
	SentryDSN string `mapstructure:"sentry_dsn"`

	Database  DatabaseConfig  `mapstructure:"database"`
	Server    ServerConfig    `mapstructure:"server"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Delivery  DeliveryConfig  `mapstructure:"delivery"`
	Failures  FailureConfig   `mapstructure:"failures"`
	Cache     CacheConfig     `mapstructure:"cache"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
}

// DatabaseConfig holds the Postgres connection settings
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// ServerConfig holds listener addresses
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	HealthAddr   string        `mapstructure:"health_addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// QueueConfig holds River queue settings
type QueueConfig struct {
	DeliveryWorkers     int           `mapstructure:"delivery_workers"`
	NotificationWorkers int           `mapstructure:"notification_workers"`
	MaxAttempts         int           `mapstructure:"max_attempts"`
	RetryInitial        time.Duration `mapstructure:"retry_initial"`
	RetryMax            time.Duration `mapstructure:"retry_max"`
}

// DeliveryConfig holds outbound HTTP settings
type DeliveryConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
	// AllowInsecureURLs permits plain http endpoints. Intended for local development.
	AllowInsecureURLs bool `mapstructure:"allow_insecure_urls"`
}

// FailureConfig holds the consecutive failure thresholds
type FailureConfig struct {
	NotifyThresholds []uint `mapstructure:"notify_thresholds"`
	DisableThreshold uint   `mapstructure:"disable_threshold"`
}

// CacheConfig selects and tunes the webhook cache backend
type CacheConfig struct {
	Backend       string        `mapstructure:"backend"` // memory or redis
	TTL           time.Duration `mapstructure:"ttl"`
	Size          int           `mapstructure:"size"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
}

// NATSConfig holds the audit stream settings. An empty URL disables auditing.
type NATSConfig struct {
	URL            string        `mapstructure:"url"`
	StreamName     string        `mapstructure:"stream_name"`
	SubjectPrefix  string        `mapstructure:"subject_prefix"`
	ConnectionName string        `mapstructure:"connection_name"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
}

// AuthConfig holds admin API token verification settings
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

// TelemetryConfig holds OpenTelemetry exporter settings
type TelemetryConfig struct {
	ServiceName    string            `mapstructure:"service_name"`
	Environment    string            `mapstructure:"environment"`
	OTLPEndpoint   string            `mapstructure:"otlp_endpoint"`
	OTLPHeaders    map[string]string `mapstructure:"otlp_headers"`
	EnableTracing  bool              `mapstructure:"enable_tracing"`
	EnableMetrics  bool              `mapstructure:"enable_metrics"`
	SampleRate     float64           `mapstructure:"sample_rate"`
	MetricInterval time.Duration     `mapstructure:"metric_interval"`
}

// ReconcileConfig holds settings for the webhook_enabled sweeper
type ReconcileConfig struct {
	PoolSize  int           `mapstructure:"pool_size"`
	BatchSize int           `mapstructure:"batch_size"`
	Interval  time.Duration `mapstructure:"interval"`
}

// Load reads configuration from .env files, an optional YAML file and
// HERALD_ prefixed environment variables, in increasing precedence.
func Load(configFile string, envPath string) (*Config, error) {
	v := configureViper(configFile, envPath)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required keys and threshold ordering
func (c *Config) Validate() error {
	var errs []error
	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	if c.Failures.DisableThreshold == 0 {
		errs = append(errs, errors.New("failures.disable_threshold must be positive"))
	}
	if !sort.SliceIsSorted(c.Failures.NotifyThresholds, func(i, j int) bool {
		return c.Failures.NotifyThresholds[i] < c.Failures.NotifyThresholds[j]
	}) {
		errs = append(errs, errors.New("failures.notify_thresholds must be ascending"))
	}
	for _, n := range c.Failures.NotifyThresholds {
		if n == 0 || n >= c.Failures.DisableThreshold {
			errs = append(errs, fmt.Errorf("failures.notify_thresholds: %d must be between 1 and disable_threshold", n))
		}
	}
	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.RedisAddr == "" {
			errs = append(errs, errors.New("cache.redis_addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.backend: unknown backend %q", c.Cache.Backend))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.health_addr", ":50051")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("queue.delivery_workers", 8)
	v.SetDefault("queue.notification_workers", 2)
	v.SetDefault("queue.max_attempts", 5)
	v.SetDefault("queue.retry_initial", "10s")
	v.SetDefault("queue.retry_max", "30m")
	v.SetDefault("delivery.timeout", "10s")
	v.SetDefault("delivery.user_agent", "Herald-Webhooks/1.0")
	v.SetDefault("failures.notify_thresholds", []uint{5, 10, 15})
	v.SetDefault("failures.disable_threshold", 20)
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttl", "5m")
	v.SetDefault("cache.size", 10000)
	v.SetDefault("nats.stream_name", "HERALD_AUDIT")
	v.SetDefault("nats.subject_prefix", "herald.audit")
	v.SetDefault("nats.connection_name", "herald")
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("auth.issuer", "herald")
	v.SetDefault("telemetry.service_name", "herald")
	v.SetDefault("telemetry.environment", "development")
	v.SetDefault("telemetry.otlp_endpoint", "localhost:4318")
	v.SetDefault("telemetry.sample_rate", 1.0)
	v.SetDefault("telemetry.metric_interval", "30s")
	v.SetDefault("reconcile.pool_size", 8)
	v.SetDefault("reconcile.batch_size", 500)
	v.SetDefault("reconcile.interval", "15m")
}

func configureViper(configFile string, envPath string) *viper.Viper {
	v := viper.New()

	loadEnv(envPath)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("config/")
	}

	v.SetEnvPrefix("HERALD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal only sees env vars for keys viper already knows about.
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}
	return v
}

var envKeys = []string{
	"debug",
	"sentry_dsn",
	"database.url",
	"database.max_conns",
	"server.addr",
	"server.health_addr",
	"server.read_timeout",
	"server.write_timeout",
	"queue.delivery_workers",
	"queue.notification_workers",
	"queue.max_attempts",
	"queue.retry_initial",
	"queue.retry_max",
	"delivery.timeout",
	"delivery.user_agent",
	"delivery.allow_insecure_urls",
	"failures.notify_thresholds",
	"failures.disable_threshold",
	"cache.backend",
	"cache.ttl",
	"cache.size",
	"cache.redis_addr",
	"cache.redis_password",
	"cache.redis_db",
	"nats.url",
	"nats.stream_name",
	"nats.subject_prefix",
	"nats.connection_name",
	"nats.max_reconnects",
	"nats.reconnect_wait",
	"auth.jwt_secret",
	"auth.issuer",
	"telemetry.service_name",
	"telemetry.environment",
	"telemetry.otlp_endpoint",
	"telemetry.enable_tracing",
	"telemetry.enable_metrics",
	"telemetry.sample_rate",
	"telemetry.metric_interval",
	"reconcile.pool_size",
	"reconcile.batch_size",
	"reconcile.interval",
}

func loadEnv(envPath string) {
	if envPath == "" {
		envPath = "config/"
	}
	for _, name := range []string{".env", ".env.local"} {
		_ = godotenv.Overload(filepath.Join(envPath, name))
	}
}
