package config

import "time"

// DefaultConfig returns the configuration the service starts with when no
// file or environment override is present.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:        8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "metalquery",
			Name:            "ignis",
			SSLMode:         "disable",
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
			QueryTimeout:    30 * time.Second,
		},
		Redis: RedisConfig{
			Enabled:      false,
			Addr:         "localhost:6379",
			PoolSize:     10,
			MinIdleConns: 2,
			DefaultTTL:   5 * time.Minute,
		},
		LLM: LLMConfig{
			BaseURL:           "https://api.groq.com/openai",
			Model:             "llama-3.1-8b-instant",
			Timeout:           30 * time.Second,
			MaxOutputTokens:   256,
			RequestsPerSecond: 0.5,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 25,
			TokensPerMinute:   5000,
			MaxOutputTokens:   256,
		},
		Guard: GuardConfig{
			BlockOnAnomaly:  false,
			SessionCapacity: 50,
			AuditCapacity:   10000,
			MaxResultRows:   100,
		},
		JWT: JWTConfig{},
		Log: LogConfig{
			Level:       "info",
			Format:      "json",
			OutputPaths: []string{"stdout"},
		},
	}
}
