// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

func Load() (*Config, error) {
	loadEnvFile()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("../../configs")
	viper.AddConfigPath(".")

	// Enable ENV override like DATABASE_POSTGRES_PASSWORD
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	// Merge environment-specific overrides, ignore if not present.
	viper.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = viper.MergeInConfig()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// loadEnvFile tries .env from the working directory upward so tests run
// from nested packages still pick it up.
func loadEnvFile() {
	possiblePaths := []string{".env", "../.env", "../../.env", "../../../.env"}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "pharmacy-agents"
	}
	if cfg.App.Environment == "" {
		cfg.App.Environment = "development"
	}
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.MetricsAddress == "" {
		cfg.Server.MetricsAddress = ":9090"
	}
	if cfg.Database.Postgres.Port == 0 {
		cfg.Database.Postgres.Port = 5432
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 10
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Redis.Address == "" {
		cfg.Database.Redis.Address = "localhost:6379"
	}
	if cfg.Database.Elasticsearch.Index == "" {
		cfg.Database.Elasticsearch.Index = "medications"
	}
	if cfg.Session.TTLMinutes == 0 {
		cfg.Session.TTLMinutes = 30
	}
	if cfg.Session.HistoryUsed == 0 {
		cfg.Session.HistoryUsed = 6
	}
	if cfg.Policy.MaxQuantityPerOrder == 0 {
		cfg.Policy.MaxQuantityPerOrder = 90
	}
	if cfg.Policy.MaxDailyDoseMG == 0 {
		cfg.Policy.MaxDailyDoseMG = 4000
	}
	if cfg.Policy.MaxDailyDosePerKgMG == 0 {
		cfg.Policy.MaxDailyDosePerKgMG = 60
	}
	if cfg.Policy.SimilarityThreshold == 0 {
		cfg.Policy.SimilarityThreshold = 0.72
	}
	if cfg.Refill.LeadTimeDays == 0 {
		cfg.Refill.LeadTimeDays = 5
	}
	if cfg.Refill.NotificationToleranceDays == 0 {
		cfg.Refill.NotificationToleranceDays = 2
	}
	if cfg.Refill.RecomputeIntervalMinutes == 0 {
		cfg.Refill.RecomputeIntervalMinutes = 60
	}
	if cfg.Agents.TimeoutMS == 0 {
		cfg.Agents.TimeoutMS = 10000
	}
	if cfg.Agents.MaxRetries == 0 {
		cfg.Agents.MaxRetries = 3
	}
	if cfg.Agents.BackoffMS == 0 {
		cfg.Agents.BackoffMS = 500
	}
	if cfg.Agents.Extraction.Backend == "" {
		cfg.Agents.Extraction.Backend = "rules"
	}
	if cfg.Agents.Extraction.MinConfidence == 0 {
		cfg.Agents.Extraction.MinConfidence = 0.5
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Database.Postgres.Host == "" {
		return fmt.Errorf("database.postgres.host is required")
	}
	if cfg.Database.Postgres.Database == "" {
		return fmt.Errorf("database.postgres.database is required")
	}
	if cfg.Agents.Extraction.Backend == "http" && cfg.Agents.Extraction.BaseURL == "" {
		return fmt.Errorf("agents.extraction.base_url is required for the http backend")
	}
	if cfg.Integrations.AWS.SNS.Enabled && cfg.Integrations.AWS.SNS.WarehouseTopicARN == "" {
		return fmt.Errorf("integrations.aws.sns.warehouse_topic_arn is required when SNS is enabled")
	}
	if cfg.Integrations.AWS.SES.Enabled && cfg.Integrations.AWS.SES.FromEmail == "" {
		return fmt.Errorf("integrations.aws.ses.from_email is required when SES is enabled")
	}
	if cfg.Policy.SimilarityThreshold <= 0 || cfg.Policy.SimilarityThreshold > 1 {
		return fmt.Errorf("policy.similarity_threshold must be in (0, 1]")
	}
	if cfg.Agents.Extraction.MinConfidence < 0 || cfg.Agents.Extraction.MinConfidence > 1 {
		return fmt.Errorf("agents.extraction.min_confidence must be in [0, 1]")
	}
	return nil
}
