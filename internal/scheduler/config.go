package scheduler

import (
	"time"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval         time.Duration
	JobTimeout          time.Duration
	RateRefreshInterval time.Duration
	RolloverBatchSize   int
}

func DefaultConfig() Config {
	return Config{
		RunInterval:         time.Minute,
		JobTimeout:          30 * time.Second,
		RateRefreshInterval: time.Hour,
		RolloverBatchSize:   100,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.RateRefreshInterval <= 0 {
		c.RateRefreshInterval = defaults.RateRefreshInterval
	}
	if c.RolloverBatchSize <= 0 {
		c.RolloverBatchSize = defaults.RolloverBatchSize
	}
	return c
}
