package config

// LoggingConfig configures the categorized logger.
type LoggingConfig struct {
	Level       string          `json:"level,omitempty"` // debug, info, warn, error
	Development bool            `json:"development,omitempty"`
	Disabled    map[string]bool `json:"disabled,omitempty"` // per-category silencing
}
