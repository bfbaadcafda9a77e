// internal/workers/notifications/send-notification/config.go
package sendnotification

import "time"

type Config struct {
	Timeout time.Duration
}

// NewConfig starts from LoadConfig and applies timeout when it is positive.
func NewConfig(timeout time.Duration) *Config {
	cfg := LoadConfig()
	if timeout > 0 {
		cfg.Timeout = timeout
	}
	return cfg
}

func LoadConfig() *Config {
	return &Config{
		Timeout: 30 * time.Second,
	}
}
