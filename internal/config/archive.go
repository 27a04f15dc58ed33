package config

import "time"

// ArchiveConfig controls conversation archiving thresholds. Archiving
// trims CONVERSATION to its most recent lines once it grows too large
// or too old; the removed history moves to archive/conversation/.
type ArchiveConfig struct {
	Enabled bool `json:"enabled"`

	// LinesToKeep is how many recent lines survive an archive pass.
	LinesToKeep int `json:"linesToKeep,omitempty"`

	// SizeThreshold is the non-header line count that triggers archiving.
	SizeThreshold int `json:"sizeThreshold,omitempty"`

	// TimeThresholdDays triggers archiving when the oldest entry is older.
	TimeThresholdDays int `json:"timeThresholdDays,omitempty"`
}

// TimeThreshold returns the age cutoff as a duration.
func (a ArchiveConfig) TimeThreshold() time.Duration {
	days := a.TimeThresholdDays
	if days <= 0 {
		days = 7
	}
	return time.Duration(days) * 24 * time.Hour
}
