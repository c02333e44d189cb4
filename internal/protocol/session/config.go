package session

import (
	"errors"
	"fmt"
	"runtime"
	"time"
)

var ErrInvalidConfig = errors.New("session: invalid config")

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       true,
	}
}

// Config is the immutable per-server configuration shared by every session.
type Config struct {
	Threads            int
	IdleTimeout        time.Duration
	MaxFrame           uint32
	MaxWriteQueueBytes int
	TCPNoDelay         bool
}

func DefaultConfig() Config {
	return Config{
		Threads:            max(1, runtime.NumCPU()),
		IdleTimeout:        60 * time.Second,
		MaxFrame:           1 << 20,
		MaxWriteQueueBytes: 8 << 20,
		TCPNoDelay:         true,
	}
}

// WithDefaults fills unset numeric fields. TCPNoDelay is left as given since
// false is a meaningful choice.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.Threads <= 0 {
		c.Threads = d.Threads
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.MaxFrame == 0 {
		c.MaxFrame = d.MaxFrame
	}
	if c.MaxWriteQueueBytes <= 0 {
		c.MaxWriteQueueBytes = d.MaxWriteQueueBytes
	}
	return c
}

func (c Config) Validate() error {
	if c.Threads < 1 {
		return fmt.Errorf("%w: threads must be >= 1, got %d", ErrInvalidConfig, c.Threads)
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("%w: idle_timeout must be positive", ErrInvalidConfig)
	}
	if c.MaxFrame == 0 {
		return fmt.Errorf("%w: max_frame must be positive", ErrInvalidConfig)
	}
	if c.MaxWriteQueueBytes <= 0 {
		return fmt.Errorf("%w: max_write_queue_bytes must be positive", ErrInvalidConfig)
	}
	return nil
}
