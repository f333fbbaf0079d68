package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// ScheduleConfig holds the hot-reloadable knobs of the next-call engine.
type ScheduleConfig struct {
	CBC      CBCConfig      `mapstructure:"cbc"`
	Backfill BackfillConfig `mapstructure:"backfill"`
	Calendar CalendarConfig `mapstructure:"calendar"`
}

type CBCConfig struct {
	DueHour    int    `mapstructure:"dueHour"`
	Timezone   string `mapstructure:"timezone"`
	TaskListID string `mapstructure:"taskListId"`
	TaskTitle  string `mapstructure:"taskTitle"`
}

type BackfillConfig struct {
	Cron       string        `mapstructure:"cron"`
	StaleAfter time.Duration `mapstructure:"staleAfter"`
	BatchSize  int           `mapstructure:"batchSize"`
}

type CalendarConfig struct {
	// OrgDomains maps an organization ID to the email domains treated as internal.
	OrgDomains map[string][]string `mapstructure:"orgDomains"`
}

func DefaultScheduleConfig() ScheduleConfig {
	return ScheduleConfig{
		CBC: CBCConfig{
			DueHour:    9,
			Timezone:   "UTC",
			TaskListID: "@default",
			TaskTitle:  "Check in before next call: %s",
		},
		Backfill: BackfillConfig{
			Cron:       "0 3 * * *",
			StaleAfter: 24 * time.Hour,
			BatchSize:  50,
		},
		Calendar: CalendarConfig{
			OrgDomains: map[string][]string{},
		},
	}
}

// Location resolves the configured timezone, falling back to UTC.
func (c CBCConfig) Location() *time.Location {
	name := strings.TrimSpace(c.Timezone)
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DomainsFor returns the internal email domains configured for an organization.
func (c CalendarConfig) DomainsFor(orgID string) []string {
	if len(c.OrgDomains) == 0 {
		return nil
	}
	return c.OrgDomains[strings.TrimSpace(orgID)]
}

type ScheduleConfigHolder struct {
	current atomic.Value // holds ScheduleConfig
}

// NewStaticScheduleConfigHolder returns a holder that never reloads.
func NewStaticScheduleConfigHolder(cfg ScheduleConfig) *ScheduleConfigHolder {
	holder := &ScheduleConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewScheduleConfigHolder(appCfg Config, log *zap.Logger) (*ScheduleConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("schedule")
	v.SetConfigType("yml")
	for _, path := range appCfg.ScheduleConfigPaths {
		v.AddConfigPath(path)
	}

	v.SetEnvPrefix("DEALCADENCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultScheduleConfig()
	v.SetDefault("schedule.cbc.dueHour", defaults.CBC.DueHour)
	v.SetDefault("schedule.cbc.timezone", defaults.CBC.Timezone)
	v.SetDefault("schedule.cbc.taskListId", defaults.CBC.TaskListID)
	v.SetDefault("schedule.cbc.taskTitle", defaults.CBC.TaskTitle)
	v.SetDefault("schedule.backfill.cron", defaults.Backfill.Cron)
	v.SetDefault("schedule.backfill.staleAfter", defaults.Backfill.StaleAfter)
	v.SetDefault("schedule.backfill.batchSize", defaults.Backfill.BatchSize)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	var cfg ScheduleConfig
	if err := v.UnmarshalKey("schedule", &cfg); err != nil {
		return nil, err
	}
	if err := ValidateScheduleConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticScheduleConfigHolder(cfg)
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("schedule.config")

	if !fileLoaded {
		log.Info("schedule config file not found, using defaults")
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated ScheduleConfig
		if err := v.UnmarshalKey("schedule", &updated); err != nil {
			log.Warn("schedule config reload failed", zap.Error(err))
			return
		}
		if err := ValidateScheduleConfig(updated); err != nil {
			log.Warn("invalid schedule config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("schedule config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *ScheduleConfigHolder) Get() ScheduleConfig {
	if h == nil {
		return DefaultScheduleConfig()
	}
	cfg, ok := h.current.Load().(ScheduleConfig)
	if !ok {
		return DefaultScheduleConfig()
	}
	return cfg
}

func ValidateScheduleConfig(cfg ScheduleConfig) error {
	if cfg.CBC.DueHour < 0 || cfg.CBC.DueHour > 23 {
		return fmt.Errorf("schedule.cbc.dueHour must be within 0-23, got %d", cfg.CBC.DueHour)
	}
	if tz := strings.TrimSpace(cfg.CBC.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("schedule.cbc.timezone: %w", err)
		}
	}
	if strings.TrimSpace(cfg.CBC.TaskListID) == "" {
		return errors.New("schedule.cbc.taskListId cannot be empty")
	}
	if strings.TrimSpace(cfg.Backfill.Cron) == "" {
		return errors.New("schedule.backfill.cron cannot be empty")
	}
	if cfg.Backfill.StaleAfter <= 0 {
		return errors.New("schedule.backfill.staleAfter must be positive")
	}
	if cfg.Backfill.BatchSize <= 0 {
		return errors.New("schedule.backfill.batchSize must be positive")
	}
	return nil
}
