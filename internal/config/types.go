// Package config loads and hot-reloads the daemon configuration. Files may
// be JSON or YAML; both go through the same strict decoder so unknown keys
// are rejected early instead of silently ignored.
package config

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Speech    SpeechConfig    `json:"speech,omitempty"`
	Telegram  TelegramConfig  `json:"telegram,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the persistence driver. Driver "sqlite" (default)
// needs a path; "memory" keeps everything volatile.
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

// SchedulerConfig controls the trigger service.
//
// All durations are Go duration strings (e.g. "30s", "1m").
type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"`

	// ReloadEvery is the periodic reconciliation interval. Default "1m".
	ReloadEvery string `json:"reload_every,omitempty"`

	// DefaultStepTimeout caps each step that does not set its own "timeout"
	// parameter. "0s" disables the cap.
	DefaultStepTimeout string `json:"default_step_timeout,omitempty"`
}

// SpeechConfig configures the text-to-speech shell command. Command is a
// template with a {text} placeholder; empty disables speech.
type SpeechConfig struct {
	Command string `json:"command,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

// TelegramConfig configures outbound notifications. An empty token disables
// the notifier entirely.
type TelegramConfig struct {
	Token      string  `json:"token,omitempty"`
	ChatID     int64   `json:"chat_id,omitempty"`
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
}

// Validate checks cross-field constraints and all duration strings. It is
// installed as the watch validator so a broken edit never reaches running
// components.
func (c *Config) Validate() error {
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("scheduler.reload_every", c.Scheduler.ReloadEvery); err != nil {
		return err
	}
	if _, err := ParseDurationField("scheduler.default_step_timeout", c.Scheduler.DefaultStepTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("speech.timeout", c.Speech.Timeout); err != nil {
		return err
	}
	if tz := c.Scheduler.Timezone; tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return err
		}
	}
	return nil
}

// ParseDurationField parses one of the duration strings above. Empty means
// unset and parses to zero. Negative values are rejected; no field here is
// meaningful below zero. path names the field in errors.
func ParseDurationField(path, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %q is not a duration: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: %q is negative", path, raw)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField for fields that must end up
// positive: unset (or "0s") yields def instead.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}
