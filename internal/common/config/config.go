// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App          AppConfig         `mapstructure:"app"`
	Server       ServerConfig      `mapstructure:"server"`
	Database     DatabaseConfig    `mapstructure:"database"`
	Session      SessionConfig     `mapstructure:"session"`
	Policy       PolicyConfig      `mapstructure:"policy"`
	Refill       RefillConfig      `mapstructure:"refill"`
	Agents       AgentsConfig      `mapstructure:"agents"`
	Integrations IntegrationConfig `mapstructure:"integrations"`
	Tracing      TracingConfig     `mapstructure:"tracing"`
	Logging      LoggingConfig     `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type ServerConfig struct {
	Address        string `mapstructure:"address"`
	MetricsAddress string `mapstructure:"metrics_address"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string.
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	Index     string   `mapstructure:"index"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// SessionConfig controls conversation session lifecycle.
type SessionConfig struct {
	TTLMinutes  int `mapstructure:"ttl_minutes"`
	MaxTurns    int `mapstructure:"max_turns"`
	HistoryUsed int `mapstructure:"history_used"` // turns passed to extraction
}

// PolicyConfig holds the safety policy thresholds. All of these are
// externally configurable; none are compiled in.
type PolicyConfig struct {
	MaxQuantityPerOrder int     `mapstructure:"max_quantity_per_order"`
	MaxDailyDoseMG      float64 `mapstructure:"max_daily_dose_mg"`
	MaxDailyDosePerKgMG float64 `mapstructure:"max_daily_dose_per_kg_mg"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
}

// RefillConfig holds the refill prediction thresholds.
type RefillConfig struct {
	LeadTimeDays              int `mapstructure:"lead_time_days"`
	NotificationToleranceDays int `mapstructure:"notification_tolerance_days"`
	RecomputeIntervalMinutes  int `mapstructure:"recompute_interval_minutes"`
}

// AgentsConfig holds settings shared by the agent call sites.
type AgentsConfig struct {
	TimeoutMS  int                     `mapstructure:"timeout"` // milliseconds
	MaxRetries int                     `mapstructure:"max_retries"`
	BackoffMS  int                     `mapstructure:"backoff"` // milliseconds
	Extraction ExtractionBackendConfig `mapstructure:"extraction"`
}

// ExtractionBackendConfig selects the reasoning backend behind the
// extraction agent contract.
type ExtractionBackendConfig struct {
	Backend       string  `mapstructure:"backend"` // "rules" or "http"
	BaseURL       string  `mapstructure:"base_url"`
	APIKey        string  `mapstructure:"api_key"`
	MinConfidence float64 `mapstructure:"min_confidence"`
}

// IntegrationConfig holds settings for AWS messaging services.
type IntegrationConfig struct {
	AWS struct {
		Region string `mapstructure:"region"`
		SNS    struct {
			Enabled           bool   `mapstructure:"enabled"`
			WarehouseTopicARN string `mapstructure:"warehouse_topic_arn"`
		} `mapstructure:"sns"`
		SES struct {
			Enabled   bool   `mapstructure:"enabled"`
			FromEmail string `mapstructure:"from_email"`
		} `mapstructure:"ses"`
	} `mapstructure:"aws"`
}

// TracingConfig holds span export settings.
type TracingConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
