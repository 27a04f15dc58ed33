package config

import "time"

// SessionConfig configures LLM session launching.
type SessionConfig struct {
	// Backend selects the launcher: "claude-cli" (default) or "gemini".
	Backend string `json:"backend,omitempty"`

	// TimeoutMs bounds a whole session. Zero means the 10 minute default.
	TimeoutMs int `json:"timeoutMs,omitempty"`

	// IdleTimeoutMs bounds the gap between stream messages. Zero disables.
	IdleTimeoutMs int `json:"idleTimeoutMs,omitempty"`

	// MaxRetries is the number of relaunch attempts after a failed spawn.
	MaxRetries int `json:"maxRetries,omitempty"`

	// RetryDelayMs is the fixed pause between retries.
	RetryDelayMs int `json:"retryDelayMs,omitempty"`

	// ConversationIdleTimeoutMs bounds user-facing conversation sessions,
	// which stay open for injection and close when the user goes quiet.
	ConversationIdleTimeoutMs int `json:"conversationIdleTimeoutMs,omitempty"`
}

// DefaultSessionConfig returns session defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Backend:                   "claude-cli",
		TimeoutMs:                 600000,
		IdleTimeoutMs:             0,
		MaxRetries:                2,
		RetryDelayMs:              2000,
		ConversationIdleTimeoutMs: 120000,
	}
}

// Timeout returns the total session deadline.
func (s SessionConfig) Timeout() time.Duration {
	if s.TimeoutMs <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

// IdleTimeout returns the inter-message deadline; zero disables it.
func (s SessionConfig) IdleTimeout() time.Duration {
	if s.IdleTimeoutMs <= 0 {
		return 0
	}
	return time.Duration(s.IdleTimeoutMs) * time.Millisecond
}

// RetryDelay returns the pause between launch retries.
func (s SessionConfig) RetryDelay() time.Duration {
	if s.RetryDelayMs <= 0 {
		return 2 * time.Second
	}
	return time.Duration(s.RetryDelayMs) * time.Millisecond
}

// ConversationIdleTimeout returns the conversation session idle deadline.
func (s SessionConfig) ConversationIdleTimeout() time.Duration {
	if s.ConversationIdleTimeoutMs <= 0 {
		return 2 * time.Minute
	}
	return time.Duration(s.ConversationIdleTimeoutMs) * time.Millisecond
}
