package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	// Timezones are validated here and used for day bucketing; embed the IANA database
	// so scratch containers behave like developer machines.
	_ "time/tzdata"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/bioviews/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Storage       StorageConfig       `yaml:"storage"`
	Tracking      TrackingConfig      `yaml:"tracking"`
	Presence      PresenceConfig      `yaml:"presence"`
	Analytics     AnalyticsConfig     `yaml:"analytics"`
	Auth          AuthConfig          `yaml:"auth"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`

	AllowedOrigins []string `yaml:"allowed_origins"`
}

// StorageConfig selects where views and counters live.
type StorageConfig struct {
	// Type is "memory" or "postgres"
	Type        string `yaml:"type"`
	PostgresURL string `yaml:"postgres_url"`

	// PostgresReplicaURLs serve analytics reads; writes always go to the primary
	PostgresReplicaURLs []string      `yaml:"postgres_replica_urls"`
	PostgresMaxConns    int           `yaml:"postgres_max_conns"`
	PostgresMinConns    int           `yaml:"postgres_min_conns"`
	PostgresTimeout     time.Duration `yaml:"postgres_timeout"`
	AutoMigrate         bool          `yaml:"auto_migrate"`

	// RedisURL enables Redis-backed presence, cooldowns and rate limits when set
	RedisURL string `yaml:"redis_url"`

	// SeedProfiles pre-creates profiles for the memory backend, "id=count,id=count"
	SeedProfiles string `yaml:"seed_profiles"`

	CountCacheSize int           `yaml:"count_cache_size"`
	CountCacheTTL  time.Duration `yaml:"count_cache_ttl"`
}

// TrackingConfig controls view deduplication and recording.
type TrackingConfig struct {
	Cooldown       time.Duration `yaml:"cooldown"`
	RecordTimeout  time.Duration `yaml:"record_timeout"`
	IPHashSecret   string        `yaml:"ip_hash_secret"`
	AtomicWrites   bool          `yaml:"atomic_writes"`
	ServerCooldown bool          `yaml:"server_cooldown"`
}

// PresenceConfig controls the presence hub.
type PresenceConfig struct {
	LivenessTTL      time.Duration `yaml:"liveness_ttl"`
	SyncInterval     time.Duration `yaml:"sync_interval"`
	SubscriberBuffer int           `yaml:"subscriber_buffer"`
	KeepAlive        time.Duration `yaml:"keep_alive"`
	KeySecret        string        `yaml:"key_secret"`
	// Backplane is "local" or "redis"
	Backplane string `yaml:"backplane"`
}

// AnalyticsConfig controls the owner dashboard and retention.
type AnalyticsConfig struct {
	RecentLimit       int           `yaml:"recent_limit"`
	WindowDays        int           `yaml:"window_days"`
	WindowMaxRows     int           `yaml:"window_max_rows"`
	DefaultTimezone   string        `yaml:"default_timezone"`
	CacheSizeBytes    int           `yaml:"cache_size_bytes"`
	CacheTTL          time.Duration `yaml:"cache_ttl"`
	RetentionDays     int           `yaml:"retention_days"`
	RetentionSchedule string        `yaml:"retention_schedule"`
}

// AuthConfig controls how viewer identity is resolved.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	// TrustClientViewer honours viewerUserId/viewerIp from the request body. Only enable
	// behind a trusted edge that sets them itself.
	TrustClientViewer bool `yaml:"trust_client_viewer"`
}

// RateLimitConfig limits the record endpoint per client.
type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled"`
	RequestsPerWindow int           `yaml:"requests_per_window"`
	WindowDuration    time.Duration `yaml:"window_duration"`
	BurstSize         int           `yaml:"burst_size"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel `yaml:"-"`
	LogLevelName   string                 `yaml:"log_level"`
	MetricsEnabled bool                   `yaml:"metrics_enabled"`

	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"`
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    0, // SSE streams are long-lived
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			HealthPort:      "9090",
			AllowedOrigins:  []string{"*"},
		},
		Storage: StorageConfig{
			Type:             "memory",
			PostgresMaxConns: 20,
			PostgresMinConns: 2,
			PostgresTimeout:  5 * time.Second,
			AutoMigrate:      true,
			CountCacheSize:   10000,
			CountCacheTTL:    5 * time.Second,
		},
		Tracking: TrackingConfig{
			Cooldown:      5 * time.Minute,
			RecordTimeout: 3 * time.Second,
			AtomicWrites:  true,
		},
		Presence: PresenceConfig{
			LivenessTTL:      60 * time.Second,
			SyncInterval:     20 * time.Second,
			SubscriberBuffer: 32,
			KeepAlive:        15 * time.Second,
			Backplane:        "local",
		},
		Analytics: AnalyticsConfig{
			RecentLimit:       10,
			WindowDays:        30,
			WindowMaxRows:     5000,
			DefaultTimezone:   "UTC",
			CacheSizeBytes:    16 * 1024 * 1024,
			CacheTTL:          30 * time.Second,
			RetentionDays:     365,
			RetentionSchedule: "0 3 * * *",
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerWindow: 60,
			WindowDuration:    time.Minute,
			BurstSize:         10,
		},
		Observability: ObservabilityConfig{
			LogLevel:           observability.InfoLevel,
			LogLevelName:       "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "bioviews",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
			OTelSampleRatio:    1,
		},
	}
}

// LoadConfig builds the configuration from defaults, then the YAML file named by
// BIOVIEWS_CONFIG_FILE (if any), then environment variables, and validates the result.
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("BIOVIEWS_CONFIG_FILE"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	cfg.Observability.LogLevel = observability.ParseLogLevel(cfg.Observability.LogLevelName)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	s := &c.Server
	s.Host = getEnv("BIOVIEWS_HOST", s.Host)
	s.Port = getEnv("BIOVIEWS_PORT", s.Port)
	s.ReadTimeout = getEnvDuration("BIOVIEWS_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("BIOVIEWS_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("BIOVIEWS_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("BIOVIEWS_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.HealthPort = getEnv("BIOVIEWS_HEALTH_PORT", s.HealthPort)
	s.AllowedOrigins = getEnvList("BIOVIEWS_ALLOWED_ORIGINS", s.AllowedOrigins)

	st := &c.Storage
	st.Type = getEnv("BIOVIEWS_STORAGE_TYPE", st.Type)
	st.PostgresURL = getEnv("BIOVIEWS_POSTGRES_URL", st.PostgresURL)
	st.PostgresReplicaURLs = getEnvList("BIOVIEWS_POSTGRES_REPLICA_URLS", st.PostgresReplicaURLs)
	st.PostgresMaxConns = getEnvInt("BIOVIEWS_POSTGRES_MAX_CONNS", st.PostgresMaxConns)
	st.PostgresMinConns = getEnvInt("BIOVIEWS_POSTGRES_MIN_CONNS", st.PostgresMinConns)
	st.PostgresTimeout = getEnvDuration("BIOVIEWS_POSTGRES_TIMEOUT", st.PostgresTimeout)
	st.AutoMigrate = getEnvBool("BIOVIEWS_AUTO_MIGRATE", st.AutoMigrate)
	st.RedisURL = getEnv("BIOVIEWS_REDIS_URL", st.RedisURL)
	st.SeedProfiles = getEnv("BIOVIEWS_SEED_PROFILES", st.SeedProfiles)
	st.CountCacheSize = getEnvInt("BIOVIEWS_COUNT_CACHE_SIZE", st.CountCacheSize)
	st.CountCacheTTL = getEnvDuration("BIOVIEWS_COUNT_CACHE_TTL", st.CountCacheTTL)

	tr := &c.Tracking
	tr.Cooldown = getEnvDuration("BIOVIEWS_VIEW_COOLDOWN", tr.Cooldown)
	tr.RecordTimeout = getEnvDuration("BIOVIEWS_RECORD_TIMEOUT", tr.RecordTimeout)
	tr.IPHashSecret = getEnv("BIOVIEWS_IP_HASH_SECRET", tr.IPHashSecret)
	tr.AtomicWrites = getEnvBool("BIOVIEWS_ATOMIC_WRITES", tr.AtomicWrites)
	tr.ServerCooldown = getEnvBool("BIOVIEWS_SERVER_COOLDOWN", tr.ServerCooldown)

	p := &c.Presence
	p.LivenessTTL = getEnvDuration("BIOVIEWS_PRESENCE_TTL", p.LivenessTTL)
	p.SyncInterval = getEnvDuration("BIOVIEWS_PRESENCE_SYNC_INTERVAL", p.SyncInterval)
	p.SubscriberBuffer = getEnvInt("BIOVIEWS_PRESENCE_BUFFER", p.SubscriberBuffer)
	p.KeepAlive = getEnvDuration("BIOVIEWS_PRESENCE_KEEPALIVE", p.KeepAlive)
	p.KeySecret = getEnv("BIOVIEWS_PRESENCE_KEY_SECRET", p.KeySecret)
	p.Backplane = getEnv("BIOVIEWS_PRESENCE_BACKPLANE", p.Backplane)

	a := &c.Analytics
	a.RecentLimit = getEnvInt("BIOVIEWS_RECENT_LIMIT", a.RecentLimit)
	a.WindowDays = getEnvInt("BIOVIEWS_ANALYTICS_WINDOW_DAYS", a.WindowDays)
	a.WindowMaxRows = getEnvInt("BIOVIEWS_ANALYTICS_WINDOW_MAX_ROWS", a.WindowMaxRows)
	a.DefaultTimezone = getEnv("BIOVIEWS_DEFAULT_TIMEZONE", a.DefaultTimezone)
	a.CacheSizeBytes = getEnvInt("BIOVIEWS_ANALYTICS_CACHE_BYTES", a.CacheSizeBytes)
	a.CacheTTL = getEnvDuration("BIOVIEWS_ANALYTICS_CACHE_TTL", a.CacheTTL)
	a.RetentionDays = getEnvInt("BIOVIEWS_RETENTION_DAYS", a.RetentionDays)
	a.RetentionSchedule = getEnv("BIOVIEWS_RETENTION_SCHEDULE", a.RetentionSchedule)

	c.Auth.JWTSecret = getEnv("BIOVIEWS_JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.TrustClientViewer = getEnvBool("BIOVIEWS_TRUST_CLIENT_VIEWER", c.Auth.TrustClientViewer)

	rl := &c.RateLimit
	rl.Enabled = getEnvBool("BIOVIEWS_RATE_LIMIT_ENABLED", rl.Enabled)
	rl.RequestsPerWindow = getEnvInt("BIOVIEWS_RATE_LIMIT_REQUESTS", rl.RequestsPerWindow)
	rl.WindowDuration = getEnvDuration("BIOVIEWS_RATE_LIMIT_WINDOW", rl.WindowDuration)
	rl.BurstSize = getEnvInt("BIOVIEWS_RATE_LIMIT_BURST", rl.BurstSize)

	o := &c.Observability
	o.LogLevelName = getEnv("BIOVIEWS_LOG_LEVEL", o.LogLevelName)
	o.MetricsEnabled = getEnvBool("BIOVIEWS_METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool("BIOVIEWS_OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv("BIOVIEWS_OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv("BIOVIEWS_OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv("BIOVIEWS_OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool("BIOVIEWS_OTEL_INSECURE", o.OTelInsecure)
	o.OTelSampleRatio = getEnvFloat("BIOVIEWS_OTEL_SAMPLE_RATIO", o.OTelSampleRatio)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	switch c.Storage.Type {
	case "memory":
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres storage")
		}
		if c.Tracking.IPHashSecret == "" {
			return fmt.Errorf("IP hash secret is required for postgres storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s (must be memory or postgres)", c.Storage.Type)
	}

	if c.Tracking.Cooldown <= 0 {
		return fmt.Errorf("view cooldown must be positive")
	}
	if c.Tracking.RecordTimeout <= 0 {
		return fmt.Errorf("record timeout must be positive")
	}
	if c.Tracking.ServerCooldown && c.Storage.RedisURL == "" {
		return fmt.Errorf("server-side cooldown requires a Redis URL")
	}

	switch c.Presence.Backplane {
	case "local":
	case "redis":
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("redis presence backplane requires a Redis URL")
		}
	default:
		return fmt.Errorf("invalid presence backplane: %s (must be local or redis)", c.Presence.Backplane)
	}
	if c.Presence.LivenessTTL <= 0 || c.Presence.SyncInterval <= 0 {
		return fmt.Errorf("presence liveness TTL and sync interval must be positive")
	}
	if c.Presence.SyncInterval >= c.Presence.LivenessTTL {
		return fmt.Errorf("presence sync interval (%s) must be shorter than the liveness TTL (%s)",
			c.Presence.SyncInterval, c.Presence.LivenessTTL)
	}

	if c.Analytics.RecentLimit <= 0 || c.Analytics.RecentLimit > 10 {
		return fmt.Errorf("recent limit must be between 1 and 10")
	}
	if c.Analytics.WindowDays <= 0 || c.Analytics.WindowMaxRows <= 0 {
		return fmt.Errorf("analytics window days and max rows must be positive")
	}
	if _, err := time.LoadLocation(c.Analytics.DefaultTimezone); err != nil {
		return fmt.Errorf("invalid default timezone %q: %w", c.Analytics.DefaultTimezone, err)
	}
	if c.Analytics.RetentionDays < 0 {
		return fmt.Errorf("retention days cannot be negative")
	}

	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowDuration <= 0) {
		return fmt.Errorf("rate limit requires positive requests per window and window duration")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// OTel converts the observability section into the tracer bootstrap config.
func (c *Config) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        c.Observability.OTelEnabled,
		Endpoint:       c.Observability.OTelEndpoint,
		ServiceName:    c.Observability.OTelServiceName,
		ServiceVersion: c.Observability.OTelServiceVersion,
		Insecure:       c.Observability.OTelInsecure,
		SampleRatio:    c.Observability.OTelSampleRatio,
		StorageType:    c.Storage.Type,
		Backplane:      c.Presence.Backplane,
		ServerCooldown: c.Tracking.ServerCooldown,
	}
}

// Location resolves the default analytics timezone. Validate has already checked it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Analytics.DefaultTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ParseSeedProfiles parses "id=count,id=count" into a map. Entries without a count
// start at zero.
func ParseSeedProfiles(raw string) (map[string]int64, error) {
	out := make(map[string]int64)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, countStr, hasCount := strings.Cut(part, "=")
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, fmt.Errorf("seed profile entry %q has no id", part)
		}
		var count int64
		if hasCount {
			n, err := strconv.ParseInt(strings.TrimSpace(countStr), 10, 64)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("seed profile %q has invalid count %q", id, countStr)
			}
			count = n
		}
		out[id] = count
	}
	return out, nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
