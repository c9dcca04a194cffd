package scheduler

import (
	"time"

	"github.com/smallbiznis/swimreg/internal/config"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval time.Duration
	BatchSize   int
	JobTimeout  time.Duration
	// LockTTL bounds how long one replica holds a job. Zero uses JobTimeout
	// plus a margin.
	LockTTL time.Duration
	// EnabledJobs restricts the run to the named jobs. Empty runs all.
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval: time.Minute,
		BatchSize:   50,
		JobTimeout:  30 * time.Second,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval: time.Duration(cfg.Scheduler.IntervalSeconds) * time.Second,
		BatchSize:   cfg.Scheduler.BatchSize,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = c.JobTimeout + 15*time.Second
	}
	return c
}
