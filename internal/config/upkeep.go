package config

import "time"

// BackupConfig controls the periodic substrate backup.
type BackupConfig struct {
	Enabled        bool `json:"enabled"`
	IntervalHours  int  `json:"intervalHours,omitempty"`
	RetentionCount int  `json:"retentionCount,omitempty"`
}

// Interval returns the backup cadence.
func (b BackupConfig) Interval() time.Duration {
	hours := b.IntervalHours
	if hours <= 0 {
		hours = 24
	}
	return time.Duration(hours) * time.Hour
}

// EmailConfig controls the periodic status digest.
type EmailConfig struct {
	Enabled       bool   `json:"enabled"`
	Recipient     string `json:"recipient,omitempty"`
	From          string `json:"from,omitempty"`
	IntervalHours int    `json:"intervalHours,omitempty"`
}

// Interval returns the digest cadence.
func (e EmailConfig) Interval() time.Duration {
	hours := e.IntervalHours
	if hours <= 0 {
		hours = 24
	}
	return time.Duration(hours) * time.Hour
}
