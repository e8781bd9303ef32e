// internal/agents/safety/config.go
package safety

type Config struct {
	MaxQuantityPerOrder int
	MaxDailyDoseMG      float64
	MaxDailyDosePerKgMG float64
}

func LoadConfig() *Config {
	return &Config{
		MaxQuantityPerOrder: 90,
		MaxDailyDoseMG:      4000,
		MaxDailyDosePerKgMG: 60,
	}
}
