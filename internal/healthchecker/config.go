package healthchecker

import "time"

// Config holds the background health monitor's timing.
type Config struct {
	Interval time.Duration // ping frequency; <= 0 disables monitoring
	Timeout  time.Duration // per-ping deadline
}

// DefaultConfig matches the reference implementation's health loop cadence.
func DefaultConfig() Config {
	return Config{
		Interval: 10 * time.Second,
		Timeout:  2 * time.Second,
	}
}
