// internal/sweeper/config.go
package sweeper

import (
	"log/slog"
	"time"
)

// Config holds configuration for the sweeper.
type Config struct {
	// Interval is the time between sweeps.
	// Default: 1m
	Interval time.Duration

	// Retention is how long settled or expired proposals are kept before
	// they are pruned. Zero disables pruning.
	Retention time.Duration

	// Concurrency bounds the number of resources swept at once.
	// Default: 4
	Concurrency int

	// Logger for structured logging.
	// Default: slog.Default()
	Logger *slog.Logger
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Interval == 0 {
		c.Interval = time.Minute
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
