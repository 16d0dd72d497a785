// Package config loads the Proliferate automation core's configuration from
// a YAML base file with environment-variable overrides, following the same
// singleton-with-defaults pattern the rest of the codebase expects.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v2"
)

// =============================================================================
// Proliferate Automation Core - Configuration
// =============================================================================

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Billing    BillingConfig    `yaml:"billing"`
	Webhook    WebhookConfig    `yaml:"webhook"`
	Inbox      InboxConfig      `yaml:"inbox"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	CloudTasks CloudTasksConfig `yaml:"cloud_tasks"`
	WakeBus    WakeBusConfig    `yaml:"wake_bus"`
	Actions    ActionsConfig    `yaml:"actions"`
	Security   SecurityConfig   `yaml:"security"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Sandbox    SandboxConfig    `yaml:"sandbox"`
	Nango      NangoConfig      `yaml:"nango"`
}

// GatewayConfig addresses the Session Gateway collaborator (spec §6).
type GatewayConfig struct {
	BaseURL   string `yaml:"base_url"`
	AuthToken string `yaml:"auth_token"`
}

// SandboxConfig addresses the Modal sandbox provider collaborator (spec
// §4.7).
type SandboxConfig struct {
	ModalBaseURL   string `yaml:"modal_base_url"`
	ModalAuthToken string `yaml:"modal_auth_token"`
}

// NangoConfig addresses Nango's unified action-proxy API, used by the
// Action Engine's adapters to execute approved invocations (spec §4.5).
type NangoConfig struct {
	BaseURL   string `yaml:"base_url"`
	SecretKey string `yaml:"secret_key"`
}

type ServerConfig struct {
	Port             string   `yaml:"port"`
	Env              string   `yaml:"env"`
	Interface        string   `yaml:"interface"`
	ReadTimeoutSec   int      `yaml:"read_timeout_sec"`
	WriteTimeoutSec  int      `yaml:"write_timeout_sec"`
	IdleTimeoutSec   int      `yaml:"idle_timeout_sec"`
	ShutdownTimeout  int      `yaml:"shutdown_timeout_sec"`
	CORSAllowOrigins []string `yaml:"cors_allow_origins"`
}

// DatabaseConfig for Supabase (Postgres)
type DatabaseConfig struct {
	Supabase SupabaseConfig `yaml:"supabase"`
}

type SupabaseConfig struct {
	URL        string `yaml:"url"`
	ServiceKey string `yaml:"service_key"`
}

// RedisConfig backs the wake bus transport and the billing gate's shadow
// balance cache.
type RedisConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Password string `yaml:"password"`
	DB      int    `yaml:"db"`
}

// BillingConfig drives the Session Gate (§4.4).
type BillingConfig struct {
	Enabled           bool `yaml:"enabled"`
	MinCreditsToStart int  `yaml:"min_credits_to_start"`
	MaxConcurrentDefault int `yaml:"max_concurrent_default"`
	GateTimeoutMs     int  `yaml:"gate_timeout_ms"`
}

// WebhookConfig for ingress signature secrets and inbox-worker concurrency.
type WebhookConfig struct {
	NangoSecretKey         string `yaml:"nango_secret_key"`
	GitHubAppWebhookSecret string `yaml:"github_app_webhook_secret"`
	WorkerCount            int    `yaml:"worker_count"`
}

// InboxConfig for GC retention.
type InboxConfig struct {
	RetentionDays int `yaml:"retention_days"`
	GCIntervalMin int `yaml:"gc_interval_min"`
}

// SchedulerConfig for the Trigger Scheduler / Cron Worker.
type SchedulerConfig struct {
	ReconcileOnStart bool `yaml:"reconcile_on_start"`
	WorkerCount      int  `yaml:"worker_count"`
}

// CloudTasksConfig for the durable inbox/cron job queue.
type CloudTasksConfig struct {
	ProjectID  string `yaml:"project_id"`
	LocationID string `yaml:"location_id"`
	QueueID    string `yaml:"queue_id"`
	Enabled    bool   `yaml:"enabled"`
}

// WakeBusConfig for the cross-client wake protocol.
type WakeBusConfig struct {
	RedisChannel string `yaml:"redis_channel"`
}

// ActionsConfig for the Action Engine approval TTL.
type ActionsConfig struct {
	DefaultTTLSec int `yaml:"default_ttl_sec"`
}

// SecurityConfig for service-to-service auth.
type SecurityConfig struct {
	ServiceToServiceAuthToken string `yaml:"service_to_service_auth_token"`
}

// MetricsConfig for the Prometheus /metrics endpoint.
type MetricsConfig struct {
	Addr    string `yaml:"addr"`
	Enabled bool   `yaml:"enabled"`
}

// LoggingConfig for the slog handler.
type LoggingConfig struct {
	Format string `yaml:"format"` // "json" or "text"
	Level  string `yaml:"level"`
}

// =============================================================================
// Singleton Pattern with Environment Overrides
// =============================================================================

var (
	instance *Config
	once     sync.Once
)

// Get returns the singleton config instance.
func Get() *Config {
	once.Do(func() {
		cfg, err := LoadConfig(getEnv("CONFIG_PATH", "config.yaml"))
		if err != nil {
			slog.Warn("config: failed to load config file, using defaults", "error", err)
		}
		if cfg == nil {
			cfg = &Config{Scheduler: SchedulerConfig{ReconcileOnStart: true}}
		}
		cfg.applyEnvOverrides()
		instance = cfg
	})
	return instance
}

// LoadConfig loads config from a YAML file.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg := Config{Scheduler: SchedulerConfig{ReconcileOnStart: true}}
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.Env = getEnv("APP_ENV", c.Server.Env)
	c.Server.Interface = getEnv("APP_INTERFACE", c.Server.Interface)
	if v := getEnvInt("SERVER_READ_TIMEOUT_SEC", 0); v > 0 {
		c.Server.ReadTimeoutSec = v
	}
	if v := getEnvInt("SERVER_WRITE_TIMEOUT_SEC", 0); v > 0 {
		c.Server.WriteTimeoutSec = v
	}
	if v := getEnvInt("SERVER_IDLE_TIMEOUT_SEC", 0); v > 0 {
		c.Server.IdleTimeoutSec = v
	}
	if v := getEnvInt("SERVER_SHUTDOWN_TIMEOUT_SEC", 0); v > 0 {
		c.Server.ShutdownTimeout = v
	}
	if origins := getEnv("CORS_ALLOW_ORIGINS", ""); origins != "" {
		c.Server.CORSAllowOrigins = splitCSV(origins)
	}

	c.Database.Supabase.URL = getEnv("DATABASE_URL", c.Database.Supabase.URL)
	c.Database.Supabase.ServiceKey = getEnv("SUPABASE_SERVICE_KEY", c.Database.Supabase.ServiceKey)

	c.Redis.Addr = getEnv("REDIS_URL", c.Redis.Addr)
	c.Redis.Enabled = getEnvBool("REDIS_ENABLED", c.Redis.Enabled || c.Redis.Addr != "")
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	if v := getEnvInt("REDIS_DB", -1); v >= 0 {
		c.Redis.DB = v
	}

	c.Billing.Enabled = getEnvBool("BILLING_ENABLED", c.Billing.Enabled)
	if v := getEnvInt("MIN_CREDITS_TO_START", 0); v > 0 {
		c.Billing.MinCreditsToStart = v
	}
	if v := getEnvInt("GATE_TIMEOUT_MS", 0); v > 0 {
		c.Billing.GateTimeoutMs = v
	}

	c.Webhook.NangoSecretKey = getEnv("NANGO_SECRET_KEY", c.Webhook.NangoSecretKey)
	c.Webhook.GitHubAppWebhookSecret = getEnv("GITHUB_APP_WEBHOOK_SECRET", c.Webhook.GitHubAppWebhookSecret)
	if v := getEnvInt("WEBHOOK_WORKERS", 0); v > 0 {
		c.Webhook.WorkerCount = v
	}

	if v := getEnvInt("INBOX_RETENTION_DAYS", 0); v > 0 {
		c.Inbox.RetentionDays = v
	}
	if v := getEnvInt("INBOX_GC_INTERVAL_MIN", 0); v > 0 {
		c.Inbox.GCIntervalMin = v
	}

	c.Scheduler.ReconcileOnStart = getEnvBool("SCHEDULER_RECONCILE_ON_START", c.Scheduler.ReconcileOnStart)
	if v := getEnvInt("SCHEDULER_WORKERS", 0); v > 0 {
		c.Scheduler.WorkerCount = v
	}

	if projectID := getEnv("GCP_PROJECT_ID", ""); projectID != "" {
		c.CloudTasks.ProjectID = projectID
	}
	c.CloudTasks.LocationID = getEnv("CLOUD_TASKS_LOCATION", c.CloudTasks.LocationID)
	c.CloudTasks.QueueID = getEnv("CLOUD_TASKS_QUEUE", c.CloudTasks.QueueID)
	c.CloudTasks.Enabled = getEnvBool("CLOUD_TASKS_ENABLED", c.CloudTasks.Enabled)

	c.WakeBus.RedisChannel = getEnv("REDIS_WAKEBUS_CHANNEL", c.WakeBus.RedisChannel)

	if v := getEnvInt("ACTION_DEFAULT_TTL_SEC", 0); v > 0 {
		c.Actions.DefaultTTLSec = v
	}

	c.Security.ServiceToServiceAuthToken = getEnv("SERVICE_TO_SERVICE_AUTH_TOKEN", c.Security.ServiceToServiceAuthToken)

	c.Metrics.Addr = getEnv("METRICS_ADDR", c.Metrics.Addr)
	c.Metrics.Enabled = getEnvBool("METRICS_ENABLED", c.Metrics.Enabled)

	c.Logging.Format = getEnv("LOG_FORMAT", c.Logging.Format)
	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)

	c.Gateway.BaseURL = getEnv("GATEWAY_BASE_URL", c.Gateway.BaseURL)
	c.Gateway.AuthToken = getEnv("GATEWAY_AUTH_TOKEN", c.Gateway.AuthToken)

	c.Sandbox.ModalBaseURL = getEnv("MODAL_BASE_URL", c.Sandbox.ModalBaseURL)
	c.Sandbox.ModalAuthToken = getEnv("MODAL_AUTH_TOKEN", c.Sandbox.ModalAuthToken)

	c.Nango.BaseURL = getEnv("NANGO_BASE_URL", c.Nango.BaseURL)
	c.Nango.SecretKey = getEnv("NANGO_SECRET_KEY_PROXY", c.Nango.SecretKey)

	c.applyDefaults()
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.ReadTimeoutSec == 0 {
		c.Server.ReadTimeoutSec = 15
	}
	if c.Server.WriteTimeoutSec == 0 {
		c.Server.WriteTimeoutSec = 15
	}
	if c.Server.IdleTimeoutSec == 0 {
		c.Server.IdleTimeoutSec = 60
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30
	}
	if len(c.Server.CORSAllowOrigins) == 0 {
		c.Server.CORSAllowOrigins = []string{"*"}
	}
	if c.Billing.MinCreditsToStart == 0 {
		c.Billing.MinCreditsToStart = 10
	}
	if c.Billing.MaxConcurrentDefault == 0 {
		c.Billing.MaxConcurrentDefault = 5
	}
	if c.Billing.GateTimeoutMs == 0 {
		c.Billing.GateTimeoutMs = 3000
	}
	if c.Webhook.WorkerCount == 0 {
		c.Webhook.WorkerCount = 8
	}
	if c.Inbox.RetentionDays == 0 {
		c.Inbox.RetentionDays = 7
	}
	if c.Inbox.GCIntervalMin == 0 {
		c.Inbox.GCIntervalMin = 60
	}
	if c.Scheduler.WorkerCount == 0 {
		c.Scheduler.WorkerCount = 4
	}
	if c.CloudTasks.LocationID == "" {
		c.CloudTasks.LocationID = "us-central1"
	}
	if c.CloudTasks.QueueID == "" {
		c.CloudTasks.QueueID = "proliferate-automation"
	}
	if c.WakeBus.RedisChannel == "" {
		c.WakeBus.RedisChannel = "proliferate:session-events"
	}
	if c.Actions.DefaultTTLSec == 0 {
		c.Actions.DefaultTTLSec = 900 // 15 minutes
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9090"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Nango.BaseURL == "" {
		c.Nango.BaseURL = "https://api.nango.dev"
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1"
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func splitCSV(s string) []string {
	parts := make([]string, 0)
	for _, p := range strings.Split(s, ",") {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

// =============================================================================
// Convenience Methods
// =============================================================================

func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

func (c *Config) GetPort() string {
	if c.Server.Port == "" {
		return "8080"
	}
	return c.Server.Port
}

func (c *Config) GetSupabaseURL() string {
	return c.Database.Supabase.URL
}

func (c *Config) GetSupabaseKey() string {
	return c.Database.Supabase.ServiceKey
}
