package config

import "time"

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Schedule  ScheduleConfig  `json:"schedule"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Birthdays BirthdaysConfig `json:"birthdays,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`

	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`

	// AdminUserIDs may change the notification channel for a community.
	AdminUserIDs []int64 `json:"admin_user_ids,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level,omitempty"`
	Console bool          `json:"console"`
	File    LogFileConfig `json:"file,omitempty"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// StorageConfig selects the persistence backend for the birthday registry,
// the channel directory and the membership roster.
//
// Driver values: "file" (JSON documents) or "sqlite".
type StorageConfig struct {
	Driver string `json:"driver"`
	Path   string `json:"path"`
}

// ScheduleConfig controls the daily reminder pass.
//
// At is a local "HH:MM" time of day (default "00:01"). Cron, when set,
// overrides At with a 5-field cron expression. Timezone is an IANA name;
// empty means the process-local timezone.
type ScheduleConfig struct {
	Enabled  *bool  `json:"enabled,omitempty"` // omitted means enabled
	At       string `json:"at,omitempty"`
	Cron     string `json:"cron,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

type DispatchConfig struct {
	// RatePerSec caps outgoing sends across a pass. 0 means default (1/s).
	RatePerSec int `json:"rate_per_sec,omitempty"`

	// CommunityTimeout bounds render+send per community (Go duration string).
	// "0s" disables the bound.
	CommunityTimeout string `json:"community_timeout,omitempty"`

	// WithCard enables the rendered birthday-card attachment.
	WithCard bool `json:"with_card"`
}

type BirthdaysConfig struct {
	// StrictDates additionally validates day-of-month range (Feb 29 allowed).
	// Off by default: "02-30" parses, matching the historical lax behavior.
	StrictDates bool `json:"strict_dates"`
}

func (s ScheduleConfig) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }

// ParseDuration parses a Go duration config field, mapping "" to def.
func ParseDuration(field, raw string, def time.Duration) (time.Duration, error) {
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, &FieldError{Field: field, Err: err}
	}
	return d, nil
}

// FieldError reports which config field failed validation.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string { return e.Field + ": " + e.Err.Error() }
func (e *FieldError) Unwrap() error { return e.Err }
