package app

import (
	"errors"
	"strings"
	"time"

	"birthdaybot/internal/config"
	"birthdaybot/internal/dispatch"
	"birthdaybot/internal/scheduler"
	logx "birthdaybot/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapScheduleConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		Enabled:  cfg.Schedule.IsEnabled(),
		At:       cfg.Schedule.At,
		Cron:     cfg.Schedule.Cron,
		Timezone: cfg.Schedule.Timezone,
	}
}

func mapDispatchConfig(cfg *config.Config) (dispatch.Config, error) {
	timeout, err := config.ParseDuration("dispatch.community_timeout", cfg.Dispatch.CommunityTimeout, 30*time.Second)
	if err != nil {
		return dispatch.Config{}, err
	}
	if cfg.Dispatch.RatePerSec < 0 {
		return dispatch.Config{}, errors.New("dispatch.rate_per_sec must be >= 0")
	}
	return dispatch.Config{
		RatePerSec:       cfg.Dispatch.RatePerSec,
		CommunityTimeout: timeout,
		WithCard:         cfg.Dispatch.WithCard,
	}, nil
}

// validateConfig is the manager's pre-commit hook: a reloaded file must be
// fully acceptable before it replaces the running config.
func validateConfig(cfg *config.Config) error {
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	if _, err := config.ParseDuration("telegram.poll_timeout", cfg.Telegram.PollTimeout, 0); err != nil {
		return err
	}
	if err := scheduler.ValidateConfig(mapScheduleConfig(cfg)); err != nil {
		return err
	}
	if _, err := mapDispatchConfig(cfg); err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "file", "sqlite", "sqlite3":
	default:
		return errors.New("storage.driver must be file or sqlite")
	}
	return nil
}
