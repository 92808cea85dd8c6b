package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"drivesync/database"
	"drivesync/domain/pass"
	"drivesync/domain/subscription"
	"drivesync/infrastructure/graph"
	"drivesync/infrastructure/sink"
	"drivesync/logging"
)

// SubscriptionConfig holds the lifecycle timing and teardown settings.
type SubscriptionConfig struct {
	Policy            subscription.Policy
	TeardownBatchSize int
	CreateMaxAttempts int
	CreateBaseDelay   time.Duration
}

// SchedulerConfig controls the maintenance loop.
type SchedulerConfig struct {
	Interval        time.Duration
	JobRetention    time.Duration
	ResumeOnStartup bool
}

// AppConfig holds application-wide system configuration.
type AppConfig struct {
	HTTPAddr       string
	HTTPLogPath    string
	CursorStoreDSN string
	Database       *database.Config
	Logging        *logging.Config
	Graph          graph.Config
	NATS           sink.Config
	Sync           *pass.Parameters
	Subscription   SubscriptionConfig
	Scheduler      SchedulerConfig
}

// LoadAppConfigFromEnv loads complete application configuration from environment variables.
func LoadAppConfigFromEnv() *AppConfig {
	return &AppConfig{
		HTTPAddr:       getEnvWithDefault("HTTP_ADDR", ":8080"),
		HTTPLogPath:    getEnvWithDefault("HTTP_LOG_PATH", ""),
		CursorStoreDSN: getEnvWithDefault("CURSOR_STORE_DSN", ""),
		Database:       LoadDatabaseConfigFromEnv(),
		Logging:        LoadLoggingConfigFromEnv(),
		Graph:          LoadGraphConfigFromEnv(),
		NATS:           LoadNATSConfigFromEnv(),
		Sync:           LoadSyncParametersFromEnv(),
		Subscription:   LoadSubscriptionConfigFromEnv(),
		Scheduler:      LoadSchedulerConfigFromEnv(),
	}
}

// Validate checks settings that cannot be defaulted.
func (c *AppConfig) Validate() error {
	if err := c.Sync.Validate(pass.DefaultAPIConstraints()); err != nil {
		return fmt.Errorf("sync parameters: %w", err)
	}
	if err := c.Subscription.Policy.Validate(); err != nil {
		return fmt.Errorf("subscription policy: %w", err)
	}
	if c.Subscription.TeardownBatchSize <= 0 {
		return fmt.Errorf("teardown batch size must be positive, got: %d", c.Subscription.TeardownBatchSize)
	}
	if c.Scheduler.Interval < time.Second {
		return fmt.Errorf("scheduler interval must be at least 1s, got: %s", c.Scheduler.Interval)
	}
	return nil
}

// ValidateRemote checks the settings needed to talk to Graph.
func (c *AppConfig) ValidateRemote() error {
	if c.Graph.ClientID == "" || c.Graph.ClientSecret == "" {
		return fmt.Errorf("GRAPH_CLIENT_ID and GRAPH_CLIENT_SECRET are required")
	}
	if c.Graph.NotificationURL == "" {
		return fmt.Errorf("GRAPH_NOTIFICATION_URL is required")
	}
	return nil
}

// LoadDatabaseConfigFromEnv loads database configuration from environment variables.
func LoadDatabaseConfigFromEnv() *database.Config {
	return &database.Config{
		Path:              getEnvWithDefault("DB_PATH", "./drivesync.db"),
		MaxOpenConns:      getEnvIntWithDefault("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:      getEnvIntWithDefault("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime:   getEnvDurationWithDefault("DB_CONN_MAX_LIFETIME", time.Hour),
		ConnMaxIdleTime:   getEnvDurationWithDefault("DB_CONN_MAX_IDLE_TIME", 15*time.Minute),
		BusyTimeoutMs:     getEnvIntWithDefault("DB_BUSY_TIMEOUT_MS", 5000),
		EnableForeignKeys: getEnvBoolWithDefault("DB_ENABLE_FOREIGN_KEYS", true),
		EnableWAL:         getEnvBoolWithDefault("DB_ENABLE_WAL", true),
	}
}

// LoadLoggingConfigFromEnv loads logging configuration from environment variables.
func LoadLoggingConfigFromEnv() *logging.Config {
	return &logging.Config{
		Level:  getEnvWithDefault("LOG_LEVEL", "info"),
		Format: getEnvWithDefault("LOG_FORMAT", "json"),
		Output: getEnvWithDefault("LOG_OUTPUT", "stdout"),
	}
}

// LoadSyncParametersFromEnv loads pass tunables from environment variables.
func LoadSyncParametersFromEnv() *pass.Parameters {
	d := pass.DefaultParameters()
	return &pass.Parameters{
		PageSize:           getEnvIntWithDefault("SYNC_PAGE_SIZE", d.PageSize),
		PermissionPageSize: getEnvIntWithDefault("SYNC_PERMISSION_PAGE_SIZE", d.PermissionPageSize),
		PermissionFanOut:   getEnvIntWithDefault("SYNC_PERMISSION_FAN_OUT", d.PermissionFanOut),
		SinkBatchSize:      getEnvIntWithDefault("SYNC_SINK_BATCH_SIZE", d.SinkBatchSize),
		EmitOwnerless:      getEnvBoolWithDefault("SYNC_EMIT_OWNERLESS", d.EmitOwnerless),
		PassTimeout:        getEnvDurationWithDefault("SYNC_PASS_TIMEOUT", d.PassTimeout),
	}
}

// LoadGraphConfigFromEnv loads the Graph app registration and transport settings.
func LoadGraphConfigFromEnv() graph.Config {
	d := graph.DefaultConfig()
	sync := pass.DefaultParameters()
	return graph.Config{
		BaseURL:            getEnvWithDefault("GRAPH_BASE_URL", d.BaseURL),
		AuthorityURL:       getEnvWithDefault("GRAPH_AUTHORITY_URL", d.AuthorityURL),
		ClientID:           getEnvWithDefault("GRAPH_CLIENT_ID", ""),
		ClientSecret:       getEnvWithDefault("GRAPH_CLIENT_SECRET", ""),
		NotificationURL:    getEnvWithDefault("GRAPH_NOTIFICATION_URL", ""),
		MaxRetries:         getEnvIntWithDefault("GRAPH_MAX_RETRIES", d.MaxRetries),
		RetryDelay:         getEnvDurationWithDefault("GRAPH_RETRY_DELAY", d.RetryDelay),
		MaxRetryDelay:      getEnvDurationWithDefault("GRAPH_MAX_RETRY_DELAY", d.MaxRetryDelay),
		RequestTimeout:     getEnvDurationWithDefault("GRAPH_REQUEST_TIMEOUT", d.RequestTimeout),
		PageSize:           getEnvIntWithDefault("SYNC_PAGE_SIZE", sync.PageSize),
		PermissionPageSize: getEnvIntWithDefault("SYNC_PERMISSION_PAGE_SIZE", sync.PermissionPageSize),
	}
}

// LoadNATSConfigFromEnv loads the sink stream settings.
func LoadNATSConfigFromEnv() sink.Config {
	d := sink.DefaultConfig()
	return sink.Config{
		URL:           getEnvWithDefault("NATS_URL", d.URL),
		Stream:        getEnvWithDefault("NATS_STREAM", d.Stream),
		SubjectPrefix: getEnvWithDefault("NATS_SUBJECT_PREFIX", d.SubjectPrefix),
		BatchSize:     getEnvIntWithDefault("SYNC_SINK_BATCH_SIZE", d.BatchSize),
		Duplicates:    getEnvDurationWithDefault("NATS_DUPLICATE_WINDOW", d.Duplicates),
		MaxAge:        getEnvDurationWithDefault("NATS_MAX_AGE", d.MaxAge),
	}
}

// LoadSubscriptionConfigFromEnv loads the subscription lifecycle settings.
func LoadSubscriptionConfigFromEnv() SubscriptionConfig {
	d := subscription.DefaultPolicy()
	return SubscriptionConfig{
		Policy: subscription.Policy{
			TTL:           getEnvDurationWithDefault("SUBSCRIPTION_TTL", d.TTL),
			RenewalMargin: getEnvDurationWithDefault("SUBSCRIPTION_RENEWAL_MARGIN", d.RenewalMargin),
		},
		TeardownBatchSize: getEnvIntWithDefault("SUBSCRIPTION_TEARDOWN_BATCH_SIZE", 20),
		CreateMaxAttempts: getEnvIntWithDefault("SUBSCRIPTION_CREATE_MAX_ATTEMPTS", 5),
		CreateBaseDelay:   getEnvDurationWithDefault("SUBSCRIPTION_CREATE_BASE_DELAY", 2*time.Second),
	}
}

// LoadSchedulerConfigFromEnv loads the maintenance loop settings.
func LoadSchedulerConfigFromEnv() SchedulerConfig {
	return SchedulerConfig{
		Interval:        getEnvDurationWithDefault("SCHEDULER_INTERVAL", time.Minute),
		JobRetention:    getEnvDurationWithDefault("JOB_RETENTION", 7*24*time.Hour),
		ResumeOnStartup: getEnvBoolWithDefault("SCHEDULER_RESUME_ON_STARTUP", true),
	}
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseBool(v string, def bool) bool {
	v = strings.TrimSpace(strings.ToLower(v))
	switch v {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

// Helper functions for environment variable parsing.
func getEnvIntWithDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBoolWithDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return parseBool(value, defaultValue)
	}
	return defaultValue
}

func getEnvDurationWithDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
