package healthchecker

import "time"

// Option configures a Checker's Config.
type Option func(*Config)

// WithInterval sets the ping interval.
func WithInterval(interval time.Duration) Option {
	return func(c *Config) {
		c.Interval = interval
	}
}

// WithTimeout sets the per-ping deadline.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Timeout = timeout
	}
}
