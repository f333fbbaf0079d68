package scheduler

import (
	"time"

	"github.com/smallbiznis/dealcadence/internal/config"
)

// Config controls scheduler intervals and job deadlines. Batch size, stale
// threshold and the backfill cron spec come from the hot-reloadable schedule
// config instead.
type Config struct {
	RunInterval     time.Duration
	JobTimeout      time.Duration
	BackfillTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunInterval:     5 * time.Minute,
		JobTimeout:      2 * time.Minute,
		BackfillTimeout: 30 * time.Minute,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		RunInterval:     time.Duration(cfg.Scheduler.IntervalSeconds) * time.Second,
		JobTimeout:      time.Duration(cfg.Scheduler.JobTimeoutSeconds) * time.Second,
		BackfillTimeout: time.Duration(cfg.Scheduler.BackfillTimeoutSeconds) * time.Second,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.BackfillTimeout <= 0 {
		c.BackfillTimeout = defaults.BackfillTimeout
	}
	return c
}
