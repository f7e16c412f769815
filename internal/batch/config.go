// Package batch runs recurring mailbox exports on cron schedules.
package batch

import (
	"fmt"
	"os"
	"time"

	"github.com/hochfrequenz/mailbox-export-orchestrator/internal/config"
	"github.com/pelletier/go-toml/v2"
)

// Entry is one scheduled export
type Entry struct {
	Name          string          `toml:"name"`
	Cron          string          `toml:"cron"`
	MailboxFile   string          `toml:"mailbox_file"`
	Destination   string          `toml:"destination"`
	MaxConcurrent int             `toml:"max_concurrent"`
	MaxDuration   config.Duration `toml:"max_duration"`
}

// ScheduleConfig holds all scheduled exports
type ScheduleConfig struct {
	Entries []Entry `toml:"schedule"`
}

// Validate checks the entry and fills in defaults
func (e *Entry) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("schedule name is required")
	}
	if e.Cron == "" {
		return fmt.Errorf("cron expression is required")
	}
	if _, err := ParseCron(e.Cron); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	if e.MailboxFile == "" {
		return fmt.Errorf("schedule %s: mailbox_file is required", e.Name)
	}
	if e.MaxConcurrent < 0 {
		return fmt.Errorf("schedule %s: max_concurrent must not be negative", e.Name)
	}
	if e.MaxDuration.Duration <= 0 {
		e.MaxDuration = config.Duration{Duration: 12 * time.Hour} // Default
	}
	e.MailboxFile = config.ExpandPath(e.MailboxFile)
	return nil
}

// LoadScheduleConfig loads scheduled exports from a TOML file
func LoadScheduleConfig(path string) (*ScheduleConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ScheduleConfig{}, nil
		}
		return nil, err
	}

	var cfg ScheduleConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	seen := make(map[string]bool)
	for i := range cfg.Entries {
		if err := cfg.Entries[i].Validate(); err != nil {
			return nil, fmt.Errorf("schedule %d: %w", i, err)
		}
		if seen[cfg.Entries[i].Name] {
			return nil, fmt.Errorf("schedule %q defined twice", cfg.Entries[i].Name)
		}
		seen[cfg.Entries[i].Name] = true
	}

	return &cfg, nil
}
