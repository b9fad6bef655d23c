package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/text/language"

	"github.com/platinummonkey/sitework/pkg/jobs"
	"github.com/platinummonkey/sitework/pkg/observability"
	"github.com/platinummonkey/sitework/pkg/plans"
	"github.com/platinummonkey/sitework/pkg/rbac"
	"github.com/platinummonkey/sitework/pkg/storage"
	"github.com/platinummonkey/sitework/pkg/uploads"
)

// maxPresignTTL is the longest expiry SigV4 presigned URLs accept
const maxPresignTTL = 7 * 24 * time.Hour

// Config holds all application configuration
type Config struct {
	Server ServerConfig

	// Mode picks the live Postgres backend or the blocked demo backend
	Mode storage.Mode

	Database storage.ConnectionConfig
	Redis    storage.RedisConfig

	S3         uploads.S3Config
	PresignTTL time.Duration

	Auth  AuthConfig
	Authz AuthzConfig

	// Locale is the fallback language for denial reasons
	Locale language.Tag

	// PlanCatalogPath optionally points at a YAML plan catalog
	PlanCatalogPath string
	// WatchPlanCatalog reloads the catalog when the file changes
	WatchPlanCatalog bool

	Jobs JobsConfig

	Observability ObservabilityConfig
}

// JobsConfig configures periodic maintenance. Jobs only run in live mode.
type JobsConfig struct {
	Enabled           bool
	UsageRolloverSpec string
	Timeout           time.Duration
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// MaxBodyBytes caps API request bodies
	MaxBodyBytes int64

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// AuthConfig configures bearer-token verification
type AuthConfig struct {
	JWTSecret string
	JWTIssuer string
}

// AuthzConfig configures the RBAC layer
type AuthzConfig struct {
	BypassRoles     []string
	MembershipCache rbac.CacheConfig
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	mode, err := storage.ParseMode(getEnv("SITEWORK_MODE", string(storage.ModeLive)))
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	rawLocale := getEnv("SITEWORK_LOCALE", "en")
	if _, err := language.Parse(rawLocale); err != nil {
		return nil, fmt.Errorf("configuration validation failed: invalid locale: %w", err)
	}

	cfg := &Config{
		Server:          loadServerConfig(),
		Mode:            mode,
		Database:        loadDatabaseConfig(),
		Redis:           loadRedisConfig(),
		S3:              loadS3Config(),
		PresignTTL:      getEnvDuration("SITEWORK_PRESIGN_TTL", 15*time.Minute),
		Auth:            loadAuthConfig(),
		Authz:           loadAuthzConfig(),
		Locale:          plans.ParseLocale(rawLocale),
		PlanCatalogPath: getEnv("SITEWORK_PLAN_CATALOG", ""),
		Observability:   loadObservabilityConfig(),
		Jobs: JobsConfig{
			Enabled:           getEnvBool("SITEWORK_JOBS_ENABLED", true),
			UsageRolloverSpec: getEnv("SITEWORK_USAGE_ROLLOVER_SCHEDULE", jobs.UsageRollerSpec),
			Timeout:           getEnvDuration("SITEWORK_JOB_TIMEOUT", 5*time.Minute),
		},
		WatchPlanCatalog: getEnvBool("SITEWORK_PLAN_CATALOG_WATCH", true),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("SITEWORK_HOST", "0.0.0.0"),
		Port:            getEnv("SITEWORK_PORT", "8080"),
		ReadTimeout:     getEnvDuration("SITEWORK_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("SITEWORK_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("SITEWORK_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("SITEWORK_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    int64(getEnvInt("SITEWORK_MAX_BODY_BYTES", 1<<20)),
		HealthPort:      getEnv("SITEWORK_HEALTH_PORT", "9090"),
	}
}

func loadDatabaseConfig() storage.ConnectionConfig {
	cfg := storage.DefaultConnectionConfig(getEnv("SITEWORK_POSTGRES_URL", ""))

	if maxConns := getEnvInt("SITEWORK_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns := getEnvInt("SITEWORK_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.MinConns = minConns
	}
	if timeout := getEnvDuration("SITEWORK_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.Timeout = timeout
	}
	if retries := getEnvInt("SITEWORK_POSTGRES_CONNECT_RETRIES", -1); retries >= 0 {
		cfg.ConnectRetries = uint64(retries)
	}

	return cfg
}

func loadRedisConfig() storage.RedisConfig {
	return storage.RedisConfig{
		URL:        getEnv("SITEWORK_REDIS_URL", ""),
		Password:   getEnv("SITEWORK_REDIS_PASSWORD", ""),
		DB:         getEnvInt("SITEWORK_REDIS_DB", 0),
		MaxRetries: getEnvInt("SITEWORK_REDIS_MAX_RETRIES", 0),
		PoolSize:   getEnvInt("SITEWORK_REDIS_POOL_SIZE", 0),
	}
}

func loadS3Config() uploads.S3Config {
	return uploads.S3Config{
		Endpoint:     getEnv("SITEWORK_S3_ENDPOINT", ""),
		Region:       getEnv("SITEWORK_S3_REGION", "us-east-1"),
		Bucket:       getEnv("SITEWORK_S3_BUCKET", ""),
		AccessKey:    getEnv("SITEWORK_S3_ACCESS_KEY", ""),
		SecretKey:    getEnv("SITEWORK_S3_SECRET_KEY", ""),
		UsePathStyle: getEnvBool("SITEWORK_S3_USE_PATH_STYLE", false),
	}
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		JWTSecret: getEnv("SITEWORK_JWT_SECRET", ""),
		JWTIssuer: getEnv("SITEWORK_JWT_ISSUER", ""),
	}
}

func loadAuthzConfig() AuthzConfig {
	cache := rbac.DefaultCacheConfig()
	if size := getEnvInt("SITEWORK_MEMBERSHIP_CACHE_SIZE", 0); size > 0 {
		cache.Size = size
	}
	cache.TTL = getEnvDuration("SITEWORK_MEMBERSHIP_CACHE_TTL", cache.TTL)
	if retries := getEnvInt("SITEWORK_MEMBERSHIP_RETRIES", -1); retries >= 0 {
		cache.MaxRetries = uint64(retries)
	}
	cache.RetryInterval = getEnvDuration("SITEWORK_MEMBERSHIP_RETRY_INTERVAL", cache.RetryInterval)

	return AuthzConfig{
		BypassRoles:     getEnvList("SITEWORK_BYPASS_ROLES", []string{"owner", "admin"}),
		MembershipCache: cache,
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       observability.ParseLevel(getEnv("SITEWORK_LOG_LEVEL", "info")),
		MetricsEnabled: getEnvBool("SITEWORK_METRICS_ENABLED", true),
	}
}

// BypassPolicy returns the configured bypass roles as a policy
func (c *Config) BypassPolicy() (rbac.BypassPolicy, error) {
	return rbac.NewBypassPolicy(c.Authz.BypassRoles)
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

	switch c.Mode {
	case storage.ModeLive:
		if c.Database.URL == "" {
			return fmt.Errorf("postgres URL is required in live mode")
		}
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("JWT secret is required in live mode")
		}
	case storage.ModeDemo:
	default:
		return fmt.Errorf("invalid mode: %s (must be live or demo)", c.Mode)
	}

	if len(c.Authz.BypassRoles) == 0 {
		return fmt.Errorf("at least one bypass role is required")
	}
	if _, err := c.BypassPolicy(); err != nil {
		return fmt.Errorf("invalid bypass roles: %w", err)
	}

	if c.Authz.MembershipCache.Size <= 0 {
		return fmt.Errorf("membership cache size must be positive")
	}
	if c.Authz.MembershipCache.TTL <= 0 {
		return fmt.Errorf("membership cache TTL must be positive")
	}

	if c.S3.Bucket != "" && c.S3.Region == "" {
		return fmt.Errorf("S3 region is required when a bucket is configured")
	}
	if (c.S3.AccessKey == "") != (c.S3.SecretKey == "") {
		return fmt.Errorf("S3 access key and secret key must be set together")
	}
	if c.PresignTTL <= 0 || c.PresignTTL > maxPresignTTL {
		return fmt.Errorf("presign TTL must be between 1s and %s", maxPresignTTL)
	}

	if c.Jobs.Enabled {
		if _, err := cron.ParseStandard(c.Jobs.UsageRolloverSpec); err != nil {
			return fmt.Errorf("invalid usage rollover schedule: %w", err)
		}
	}

	return nil
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

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping empty items
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
