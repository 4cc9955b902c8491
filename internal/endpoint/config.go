package endpoint

import "time"

// Config defines per-endpoint send limits and timing.
type Config struct {
	// MaxPayloadBytes caps the encoded frame length. Zero means unlimited.
	MaxPayloadBytes uint64
	// WriteTimeout bounds one transport write, including drain polling.
	WriteTimeout time.Duration
	// Drain paces BufferedAmount polling for buffered transports.
	Drain BackoffConfig
}

// DefaultConfig returns an unlimited endpoint config with browser-style
// drain polling (10ms doubling up to 2s).
func DefaultConfig() Config {
	return Config{
		MaxPayloadBytes: 0,
		WriteTimeout:    0,
		Drain:           DefaultDrainBackoff(),
	}
}

// WithDefaults fills unset drain timing.
func (c Config) WithDefaults() Config {
	c.Drain = c.Drain.Or(DefaultDrainBackoff())
	if c.WriteTimeout < 0 {
		c.WriteTimeout = 0
	}
	return c
}
