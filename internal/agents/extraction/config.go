// internal/agents/extraction/config.go
package extraction

import "time"

type Config struct {
	Backend             string // "rules" or "http"
	BaseURL             string
	APIKey              string
	Timeout             time.Duration
	SimilarityThreshold float64
	MinConfidence       float64 // below this the backend's read is not trusted
	HistoryUsed         int     // how many trailing turns the backend sees
}

func LoadConfig() *Config {
	return &Config{
		Backend:             "rules",
		Timeout:             30 * time.Second,
		SimilarityThreshold: 0.72,
		MinConfidence:       0.5,
		HistoryUsed:         6,
	}
}
