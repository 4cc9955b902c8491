package endpoint

import (
	"math/rand"
	"time"
)

// BackoffConfig paces repeated waits: BufferedAmount polling while a frame
// drains, and handshake retries in the client.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	// Jitter scales each delay after the first by a random factor in [0.5, 1.5).
	Jitter bool
}

// DefaultDrainBackoff polls like a browser socket: 10ms, doubling, capped at 2s.
func DefaultDrainBackoff() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 10 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     2 * time.Second,
	}
}

// DefaultRetryBackoff spaces reconnect attempts: 250ms, doubling, capped at
// 5s, jittered.
func DefaultRetryBackoff() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       true,
	}
}

// Or returns def when b is the zero value, otherwise b with its unset
// timings filled from def. Jitter is inherited only with the whole of def.
func (b BackoffConfig) Or(def BackoffConfig) BackoffConfig {
	if b == (BackoffConfig{}) {
		return def
	}
	if b.InitialDelay <= 0 {
		b.InitialDelay = def.InitialDelay
	}
	if b.Multiplier < 1.0 {
		b.Multiplier = def.Multiplier
	}
	if b.MaxDelay <= 0 {
		b.MaxDelay = def.MaxDelay
	}
	return b
}

// NextBackoffDelay returns the wait before attempt (1-based). The first
// attempt waits InitialDelay exactly; a nil rng disables jitter.
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if cfg.InitialDelay <= 0 {
		return 0
	}
	if attempt <= 1 {
		return cfg.InitialDelay
	}
	mult := cfg.Multiplier
	if mult < 1.0 {
		mult = 1.0
	}
	delay := float64(cfg.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= mult
		if cfg.MaxDelay > 0 && delay >= float64(cfg.MaxDelay) {
			delay = float64(cfg.MaxDelay)
			break
		}
	}
	if cfg.Jitter && rng != nil {
		delay *= 0.5 + rng.Float64()
	}
	return time.Duration(delay)
}
