// internal/agents/refill/config.go
package refill

import "time"

type Config struct {
	LeadTimeDays      int
	ToleranceDays     int
	RecomputeInterval time.Duration
	SESEnabled        bool
	FromEmail         string
}

func LoadConfig() *Config {
	return &Config{
		LeadTimeDays:      5,
		ToleranceDays:     2,
		RecomputeInterval: 6 * time.Hour,
	}
}
