// Package config holds all anima configuration from config/anima.json.
// The file is JSON with comments permitted (hujson), so a hand-edited
// config survives round-trips through humans. Environment variables
// override the matching keys after the file is read.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/tailscale/hujson"
)

// Mode selects how the orchestrator advances.
type Mode string

const (
	// ModeCycle runs the continuous loop with delays between cycles.
	ModeCycle Mode = "cycle"
	// ModeTick advances one cycle per external tick request.
	ModeTick Mode = "tick"
)

// Config is the single source of truth for runtime configuration.
type Config struct {
	// Paths
	SubstratePath    string `json:"substratePath,omitempty"`
	WorkingDirectory string `json:"workingDirectory,omitempty"`
	SourceCodePath   string `json:"sourceCodePath,omitempty"`
	BackupPath       string `json:"backupPath,omitempty"`
	StatePath        string `json:"statePath,omitempty"` // last-backup marker, email state, process registry

	// HTTP edge
	Port  int    `json:"port,omitempty"`
	Token string `json:"token,omitempty"` // bearer token for /api; empty disables auth

	// Models
	Model          string `json:"model,omitempty"`          // default for both tiers
	StrategicModel string `json:"strategicModel,omitempty"` // ego, superego
	TacticalModel  string `json:"tacticalModel,omitempty"`  // subconscious, id, summaries

	// Loop behavior
	Mode                     Mode `json:"mode,omitempty"`
	AutoStartOnFirstRun      bool `json:"autoStartOnFirstRun,omitempty"`
	AutoStartAfterRestart    bool `json:"autoStartAfterRestart"`
	SuperegoAuditInterval    int  `json:"superegoAuditInterval,omitempty"`    // cycles per audit
	AutonomyReminderInterval int  `json:"autonomyReminderInterval,omitempty"` // cycles per reminder, 0 disables
	MaxConsecutiveIdleCycles int  `json:"maxConsecutiveIdleCycles,omitempty"`
	IdleSleepEnabled         bool `json:"idleSleepEnabled,omitempty"`
	CycleDelayMs             int  `json:"cycleDelayMs,omitempty"`
	IdleDelayMs              int  `json:"idleDelayMs,omitempty"`

	// Session launching
	Session SessionConfig `json:"session,omitempty"`

	// Conversation maintenance
	ConversationArchive ArchiveConfig `json:"conversationArchive,omitempty"`

	// Peripherals. BackupRetentionCount is the flat key older configs
	// use; when set it wins over backup.retentionCount.
	BackupRetentionCount int          `json:"backupRetentionCount,omitempty"`
	Backup               BackupConfig `json:"backup,omitempty"`
	Email                EmailConfig  `json:"email,omitempty"`

	// Logging
	Logging LoggingConfig `json:"logging,omitempty"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		SubstratePath:    "./substrate",
		WorkingDirectory: ".",
		SourceCodePath:   ".",
		BackupPath:       "./backups",
		StatePath:        "./config",

		Port: 3000,

		Model:          "claude-sonnet-4-5",
		StrategicModel: "",
		TacticalModel:  "",

		Mode:                     ModeCycle,
		AutoStartOnFirstRun:      false,
		AutoStartAfterRestart:    true,
		SuperegoAuditInterval:    20,
		AutonomyReminderInterval: 10,
		MaxConsecutiveIdleCycles: 3,
		IdleSleepEnabled:         false,
		CycleDelayMs:             5000,
		IdleDelayMs:              30000,

		Session: DefaultSessionConfig(),

		ConversationArchive: ArchiveConfig{
			Enabled:           true,
			LinesToKeep:       50,
			SizeThreshold:     500,
			TimeThresholdDays: 7,
		},

		Backup: BackupConfig{
			Enabled:        true,
			IntervalHours:  24,
			RetentionCount: 14,
		},

		Email: EmailConfig{
			Enabled:       false,
			IntervalHours: 24,
		},

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from path, falling back to defaults when the
// file does not exist, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	std, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := json.Unmarshal(std, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration as indented JSON.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if p := os.Getenv("SUBSTRATE_PATH"); p != "" {
		c.SubstratePath = p
	}
	if p := os.Getenv("PORT"); p != "" {
		if n, err := strconv.Atoi(p); err == nil && n > 0 {
			c.Port = n
		}
	}
	if v := os.Getenv("SUPEREGO_AUDIT_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.SuperegoAuditInterval = n
		}
	}
	if v := os.Getenv("AUTONOMY_REMINDER_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.AutonomyReminderInterval = n
		}
	}
	if t := os.Getenv("ANIMA_TOKEN"); t != "" {
		c.Token = t
	}
	if m := os.Getenv("ANIMA_MODE"); m == string(ModeCycle) || m == string(ModeTick) {
		c.Mode = Mode(m)
	}
}

// StrategicModelName returns the model for ego and superego sessions.
func (c *Config) StrategicModelName() string {
	if c.StrategicModel != "" {
		return c.StrategicModel
	}
	return c.Model
}

// TacticalModelName returns the model for subconscious, id, and summary work.
func (c *Config) TacticalModelName() string {
	if c.TacticalModel != "" {
		return c.TacticalModel
	}
	return c.Model
}

// CycleDelay returns the pause between cycles.
func (c *Config) CycleDelay() time.Duration {
	if c.CycleDelayMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.CycleDelayMs) * time.Millisecond
}

// IdleDelay returns the pause after an idle cycle.
func (c *Config) IdleDelay() time.Duration {
	if c.IdleDelayMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.IdleDelayMs) * time.Millisecond
}

// BackupRetention resolves the backup retention count. The flat
// backupRetentionCount key wins, then backup.retentionCount, then 14.
func (c *Config) BackupRetention() int {
	if c.BackupRetentionCount > 0 {
		return c.BackupRetentionCount
	}
	if c.Backup.RetentionCount > 0 {
		return c.Backup.RetentionCount
	}
	return 14
}
