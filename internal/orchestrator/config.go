// internal/orchestrator/config.go
package orchestrator

import "time"

type Config struct {
	StageTimeout time.Duration // per agent call
	MaxTurns     int           // session aborts past this
}

func LoadConfig() *Config {
	return &Config{
		StageTimeout: 30 * time.Second,
		MaxTurns:     20,
	}
}
