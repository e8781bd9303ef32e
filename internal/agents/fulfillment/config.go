// internal/agents/fulfillment/config.go
package fulfillment

import "time"

type Config struct {
	WarehouseTopicARN string
	SNSEnabled        bool
	RetryInterval     time.Duration // warehouse retrier poll interval
	MaxRetryAttempts  int           // per queued notification
}

func LoadConfig() *Config {
	return &Config{
		RetryInterval:    30 * time.Second,
		MaxRetryAttempts: 5,
	}
}
