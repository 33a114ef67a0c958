package remote

import (
	"math"
	"math/rand"
	"time"
)

// BackoffConfig defines poll retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// NextBackoffDelay returns the delay before attempt N (1-based).
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if attempt <= 1 {
		return cfg.InitialDelay
	}
	if cfg.InitialDelay <= 0 {
		return 0
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		f := 0.5
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay = delay * f
	}
	return time.Duration(delay)
}

// Config defines client dial, call, and completion polling behavior.
type Config struct {
	Addr            string
	Token           string
	DialTimeout     time.Duration
	CallTimeout     time.Duration
	Poll            BackoffConfig
	MaxPollFailures int
}

// DefaultConfig returns client defaults for addr.
func DefaultConfig(addr string) Config {
	return Config{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
		CallTimeout: 15 * time.Second,
		Poll: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
		MaxPollFailures: 5,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig(c.Addr)
	if c.DialTimeout <= 0 {
		c.DialTimeout = def.DialTimeout
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = def.CallTimeout
	}
	if c.Poll.InitialDelay <= 0 {
		c.Poll = def.Poll
	}
	if c.MaxPollFailures <= 0 {
		c.MaxPollFailures = def.MaxPollFailures
	}
	return c
}
