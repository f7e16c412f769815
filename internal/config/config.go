package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// LocalConfigName is looked up from the working directory upwards
const LocalConfigName = ".mbx-export.toml"

// Duration is a time.Duration written as "15s" in TOML
type Duration struct {
	time.Duration
}

// UnmarshalText parses a Go duration string
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText renders the duration string
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config holds all application configuration
type Config struct {
	Export        ExportConfig        `toml:"export"`
	Remote        RemoteConfig        `toml:"remote"`
	Retry         RetryConfig         `toml:"retry"`
	Ledger        LedgerConfig        `toml:"ledger"`
	Report        ReportConfig        `toml:"report"`
	Notifications NotificationsConfig `toml:"notifications"`
	Web           WebConfig           `toml:"web"`
}

// ExportConfig holds the orchestration settings
type ExportConfig struct {
	Destination        string   `toml:"destination"`
	BatchPrefix        string   `toml:"batch_prefix"`
	MaxConcurrent      int      `toml:"max_concurrent"`
	SubmitPollInterval Duration `toml:"submit_poll_interval"`
	DrainPollInterval  Duration `toml:"drain_poll_interval"`
	RequireUNC         bool     `toml:"require_unc"`
}

// RemoteConfig holds the PowerShell connection settings
type RemoteConfig struct {
	Shell          string   `toml:"shell"`
	SessionScript  string   `toml:"session_script"`
	CommandTimeout Duration `toml:"command_timeout"`
}

// RetryConfig tunes retries of failed status polls
type RetryConfig struct {
	PollAttempts   int      `toml:"poll_attempts"`
	InitialBackoff Duration `toml:"initial_backoff"`
	MaxBackoff     Duration `toml:"max_backoff"`
}

// LedgerConfig holds the run history database settings
type LedgerConfig struct {
	DatabasePath string `toml:"database_path"`
}

// ReportConfig holds the CSV report settings
type ReportConfig struct {
	Dir string `toml:"dir"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// WebConfig holds status server settings
type WebConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Export: ExportConfig{
			BatchPrefix:        "mbx-export",
			MaxConcurrent:      5,
			SubmitPollInterval: Duration{15 * time.Second},
			DrainPollInterval:  Duration{60 * time.Second},
			RequireUNC:         true,
		},
		Remote: RemoteConfig{
			Shell:          "pwsh",
			CommandTimeout: Duration{2 * time.Minute},
		},
		Retry: RetryConfig{
			PollAttempts:   5,
			InitialBackoff: Duration{time.Second},
			MaxBackoff:     Duration{60 * time.Second},
		},
		Ledger: LedgerConfig{
			DatabasePath: filepath.Join(home, ".mbx-export", "history.db"),
		},
		Report: ReportConfig{
			Dir: filepath.Join(home, ".mbx-export", "reports"),
		},
		Notifications: NotificationsConfig{
			Desktop: false,
		},
		Web: WebConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	// Expand paths
	cfg.Ledger.DatabasePath = ExpandPath(cfg.Ledger.DatabasePath)
	cfg.Report.Dir = ExpandPath(cfg.Report.Dir)

	return cfg, nil
}

// LoadWithLocalFallback loads an explicit path if given, otherwise the
// nearest local config, otherwise the user config
func LoadWithLocalFallback(explicitPath string) (*Config, error) {
	if explicitPath != "" {
		return Load(explicitPath)
	}
	if local := FindLocalConfig(); local != "" {
		return Load(local)
	}
	return Load(DefaultConfigPath())
}

// FindLocalConfig walks up from the working directory looking for LocalConfigName
func FindLocalConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, LocalConfigName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// Save writes the configuration as TOML
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := toml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate rejects settings the orchestrator cannot run with
func (c *Config) Validate() error {
	if c.Export.MaxConcurrent < 1 {
		return fmt.Errorf("export.max_concurrent must be at least 1")
	}
	if c.Export.SubmitPollInterval.Duration <= 0 {
		return fmt.Errorf("export.submit_poll_interval must be positive")
	}
	if c.Export.DrainPollInterval.Duration <= 0 {
		return fmt.Errorf("export.drain_poll_interval must be positive")
	}
	if c.Retry.PollAttempts < 1 {
		return fmt.Errorf("retry.poll_attempts must be at least 1")
	}
	return nil
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "mbx-export", "config.toml")
}
