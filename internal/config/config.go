package config

import (
	"fmt"
	"time"

	"marketnotify/pkg/log"
)

// Config represents the global configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Log        log.Config       `mapstructure:"log"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Security   SecurityConfig   `mapstructure:"security"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Throttle   ThrottleConfig   `mapstructure:"throttle"`
	Ingest     IngestConfig     `mapstructure:"ingest"`
	Delivery   DeliveryConfig   `mapstructure:"delivery"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"` // debug, release, test
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // mysql, postgres, sqlite
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	Path            string        `mapstructure:"path"` // sqlite file or DSN
	Charset         string        `mapstructure:"charset"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// RedisConfig represents Redis configuration
type RedisConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	MaxRetries   int           `mapstructure:"max_retries"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolTimeout  time.Duration `mapstructure:"pool_timeout"`
}

// MetricsConfig represents metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// TracingConfig represents tracing configuration
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRate  float64 `mapstructure:"sample_rate"`
}

// RateLimitConfig limits API calls per caller
type RateLimitConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	RPS     float64       `mapstructure:"rps"`
	Burst   int           `mapstructure:"burst"`
	TTL     time.Duration `mapstructure:"ttl"`

	// Cluster-wide cap on ingest calls per caller, enforced through Redis.
	IngestPerMinute int `mapstructure:"ingest_per_minute"`
}

// SecurityConfig represents security configuration
type SecurityConfig struct {
	JWT struct {
		Secret string        `mapstructure:"secret"`
		Issuer string        `mapstructure:"issuer"`
		Expire time.Duration `mapstructure:"expire"`
	} `mapstructure:"jwt"`
	// Shared key for the ingest endpoint used by the monitoring scheduler.
	IngestKey string `mapstructure:"ingest_key"`
	CORS      struct {
		AllowOrigins []string `mapstructure:"allow_origins"`
	} `mapstructure:"cors"`
}

// ClassifierConfig AI classifier and its fallback
type ClassifierConfig struct {
	Endpoint    string        `mapstructure:"endpoint"` // empty disables the AI classifier
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxRetries  int           `mapstructure:"max_retries"`
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	BackoffMax  time.Duration `mapstructure:"backoff_max"`
	Breaker     struct {
		MaxRequests      uint32        `mapstructure:"max_requests"`
		Interval         time.Duration `mapstructure:"interval"`
		Timeout          time.Duration `mapstructure:"timeout"`
		FailureThreshold uint32        `mapstructure:"failure_threshold"`
	} `mapstructure:"breaker"`
	Cache struct {
		Enabled      bool          `mapstructure:"enabled"`
		TTL          time.Duration `mapstructure:"ttl"`
		MaxSizeMB    int           `mapstructure:"max_size_mb"`
		CleanWindow  time.Duration `mapstructure:"clean_window"`
		MaxEntrySize int           `mapstructure:"max_entry_size"`
	} `mapstructure:"cache"`
}

// ThrottleConfig per-user counter store
type ThrottleConfig struct {
	Backend   string `mapstructure:"backend"` // memory, redis
	KeyPrefix string `mapstructure:"key_prefix"`
}

// IngestConfig event ingestion
type IngestConfig struct {
	Workers  int           `mapstructure:"workers"`
	NodeID   int64         `mapstructure:"node_id"` // snowflake node, unique per instance
	UserLock bool          `mapstructure:"user_lock"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

// DeliveryConfig channel adapters
type DeliveryConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
	// Token bucket per channel, shared by all users.
	RateLimit map[string]ChannelRate `mapstructure:"rate_limit"`
	InApp     struct {
		BufferSize int `mapstructure:"buffer_size"`
	} `mapstructure:"in_app"`
	Email struct {
		Enabled   bool   `mapstructure:"enabled"`
		Host      string `mapstructure:"host"`
		Port      int    `mapstructure:"port"`
		Username  string `mapstructure:"username"`
		Password  string `mapstructure:"password"`
		From      string `mapstructure:"from"`
		AddressOf string `mapstructure:"address_of"` // template, %s is the user id
	} `mapstructure:"email"`
	Push struct {
		Enabled  bool   `mapstructure:"enabled"`
		Endpoint string `mapstructure:"endpoint"`
		APIKey   string `mapstructure:"api_key"`
	} `mapstructure:"push"`
}

// ChannelRate token bucket parameters
type ChannelRate struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// SchedulerConfig drives the monitoring cycle
type SchedulerConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Spec       string        `mapstructure:"spec"` // cron expression with seconds
	PendingKey string        `mapstructure:"pending_key"`
	MaxBatches int           `mapstructure:"max_batches"`
	LockTTL    time.Duration `mapstructure:"lock_ttl"`
}

// GetAddr returns the server address
func (s *ServerConfig) GetAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// GetDSN returns the database DSN
func (d *DatabaseConfig) GetDSN() string {
	switch d.Driver {
	case "sqlite":
		return d.Path
	case "postgres":
		port := d.Port
		if port == 0 {
			port = 5432
		}
		dsn := fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=disable TimeZone=UTC",
			d.Host, port, d.Username, d.DBName)
		if d.Password != "" {
			dsn += " password=" + d.Password
		}
		return dsn
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=true&loc=UTC",
		d.Username, d.Password, d.Host, d.Port, d.DBName, d.Charset)
}

// GetAddr returns the Redis address
func (r *RedisConfig) GetAddr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Database.Driver {
	case "mysql":
		if c.Database.Host == "" || c.Database.DBName == "" {
			return fmt.Errorf("database host and dbname are required for mysql")
		}
	case "postgres":
		if c.Database.Username == "" || c.Database.DBName == "" {
			return fmt.Errorf("database username and dbname are required for postgres")
		}
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required for sqlite")
		}
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	if c.Security.JWT.Secret == "" {
		return fmt.Errorf("JWT secret is required")
	}

	switch c.Throttle.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported throttle backend: %s", c.Throttle.Backend)
	}

	if c.Ingest.Workers <= 0 {
		return fmt.Errorf("ingest workers must be positive")
	}
	if c.Ingest.NodeID < 0 || c.Ingest.NodeID > 1023 {
		return fmt.Errorf("ingest node_id must be between 0 and 1023")
	}

	if c.Classifier.MaxRetries < 0 {
		return fmt.Errorf("classifier max_retries must not be negative")
	}

	if c.Scheduler.Enabled && c.Scheduler.Spec == "" {
		return fmt.Errorf("scheduler spec is required when the scheduler is enabled")
	}

	return nil
}

// SetDefaults sets default values for configuration
func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Mode == "" {
		c.Server.Mode = "debug"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "mysql"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 3306
	}
	if c.Database.Charset == "" {
		c.Database.Charset = "utf8mb4"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 50
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 10
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = time.Hour
	}
	if c.Database.ConnMaxIdleTime == 0 {
		c.Database.ConnMaxIdleTime = 10 * time.Minute
	}
	if c.Database.LogLevel == "" {
		c.Database.LogLevel = "warn"
	}

	if c.Redis.Host == "" {
		c.Redis.Host = "localhost"
	}
	if c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 50
	}
	if c.Redis.MaxRetries == 0 {
		c.Redis.MaxRetries = 3
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = 3 * time.Second
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = 3 * time.Second
	}
	if c.Redis.PoolTimeout == 0 {
		c.Redis.PoolTimeout = 4 * time.Second
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "marketnotify"
	}
	if c.Tracing.SampleRate == 0 {
		c.Tracing.SampleRate = 0.1
	}

	if c.RateLimit.RPS == 0 {
		c.RateLimit.RPS = 20
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 40
	}
	if c.RateLimit.TTL == 0 {
		c.RateLimit.TTL = 10 * time.Minute
	}
	if c.RateLimit.IngestPerMinute == 0 {
		c.RateLimit.IngestPerMinute = 60
	}

	if c.Security.JWT.Issuer == "" {
		c.Security.JWT.Issuer = "marketnotify"
	}
	if c.Security.JWT.Expire == 0 {
		c.Security.JWT.Expire = 24 * time.Hour
	}

	if c.Classifier.Timeout == 0 {
		c.Classifier.Timeout = 5 * time.Second
	}
	if c.Classifier.MaxRetries == 0 {
		c.Classifier.MaxRetries = 2
	}
	if c.Classifier.BackoffBase == 0 {
		c.Classifier.BackoffBase = 200 * time.Millisecond
	}
	if c.Classifier.BackoffMax == 0 {
		c.Classifier.BackoffMax = 2 * time.Second
	}
	if c.Classifier.Breaker.MaxRequests == 0 {
		c.Classifier.Breaker.MaxRequests = 1
	}
	if c.Classifier.Breaker.Interval == 0 {
		c.Classifier.Breaker.Interval = time.Minute
	}
	if c.Classifier.Breaker.Timeout == 0 {
		c.Classifier.Breaker.Timeout = 30 * time.Second
	}
	if c.Classifier.Breaker.FailureThreshold == 0 {
		c.Classifier.Breaker.FailureThreshold = 5
	}
	if c.Classifier.Cache.TTL == 0 {
		c.Classifier.Cache.TTL = 10 * time.Minute
	}
	if c.Classifier.Cache.MaxSizeMB == 0 {
		c.Classifier.Cache.MaxSizeMB = 64
	}
	if c.Classifier.Cache.CleanWindow == 0 {
		c.Classifier.Cache.CleanWindow = time.Minute
	}
	if c.Classifier.Cache.MaxEntrySize == 0 {
		c.Classifier.Cache.MaxEntrySize = 2048
	}

	if c.Throttle.Backend == "" {
		c.Throttle.Backend = "redis"
	}
	if c.Throttle.KeyPrefix == "" {
		c.Throttle.KeyPrefix = "throttle:"
	}

	if c.Ingest.Workers == 0 {
		c.Ingest.Workers = 8
	}
	if c.Ingest.LockTTL == 0 {
		c.Ingest.LockTTL = 2 * time.Minute
	}

	if c.Delivery.Timeout == 0 {
		c.Delivery.Timeout = 5 * time.Second
	}
	if c.Delivery.InApp.BufferSize == 0 {
		c.Delivery.InApp.BufferSize = 1024
	}
	if c.Delivery.Email.Port == 0 {
		c.Delivery.Email.Port = 587
	}

	if c.Scheduler.Spec == "" {
		c.Scheduler.Spec = "0 */5 * * * *"
	}
	if c.Scheduler.PendingKey == "" {
		c.Scheduler.PendingKey = "ingest:pending"
	}
	if c.Scheduler.MaxBatches == 0 {
		c.Scheduler.MaxBatches = 500
	}
	if c.Scheduler.LockTTL == 0 {
		c.Scheduler.LockTTL = 4 * time.Minute
	}
}
