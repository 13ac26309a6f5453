package config

import "time"

type Limits struct {
	// MaxPromptTokens rejects oversized prompts before they are sent. Zero
	// disables the check.
	MaxPromptTokens int             `yaml:"max_prompt_tokens" validate:"min=0,max=1000000"`
	TotalTimeout    time.Duration   `yaml:"total_timeout" validate:"required,min=1m,max=24h"`
	RateLimit       RateLimitConfig `yaml:"rate_limit" validate:"required"`
	Breaker         BreakerConfig   `yaml:"circuit_breaker"`
}

// BreakerConfig pauses generation after repeated backend failures. A zero
// threshold disables it.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold" validate:"min=0,max=100"`
	OpenTimeout      time.Duration `yaml:"open_timeout" validate:"min=0,max=10m"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" validate:"required,min=1,max=10000"`
	BurstSize         int `yaml:"burst_size" validate:"required,min=1,max=100"`
}

func DefaultLimits() Limits {
	return Limits{
		MaxPromptTokens: 100000,
		TotalTimeout:    6 * time.Hour,
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 30,
			BurstSize:         5,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			OpenTimeout:      30 * time.Second,
		},
	}
}
