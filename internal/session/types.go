// Package session launches LLM sessions and streams their typed
// messages. One Launcher call is one session; sessions never outlive
// the call. Two deadlines race every stream: a total timeout and an
// optional idle timeout that resets on each message.
package session

import (
	"context"
	"fmt"
	"time"
)

// Request is what a session is asked to do.
type Request struct {
	SystemPrompt string
	UserMessage  string
}

// EntryType classifies a projected stream message.
type EntryType string

const (
	EntrySystem     EntryType = "system"
	EntryThinking   EntryType = "thinking"
	EntryText       EntryType = "text"
	EntryToolUse    EntryType = "tool_use"
	EntryToolResult EntryType = "tool_result"
	EntryResult     EntryType = "result"
	EntryError      EntryType = "error"
)

// ProcessLogEntry is one stream message projected to its type and text.
type ProcessLogEntry struct {
	Type    EntryType `json:"type"`
	Content string    `json:"content"`
}

// Options tune a single launch.
type Options struct {
	Model string
	CWD   string

	// Role tags the session for the usage ledger. Launchers ignore it.
	Role string

	// OnLogEntry receives every projected stream message. May be nil.
	// Runs on the stream goroutine and must not block.
	OnLogEntry func(ProcessLogEntry)

	// MaxRetries relaunches after any failure, with a fixed RetryDelay
	// between attempts. No backoff.
	MaxRetries int
	RetryDelay time.Duration

	// Timeout bounds the whole session; zero means DefaultTimeout.
	Timeout time.Duration

	// IdleTimeout bounds the gap between stream messages; zero disables.
	IdleTimeout time.Duration

	// Injector feeds out-of-band user messages into the running session.
	// Launchers that cannot inject drop queued messages with a debug log.
	Injector *Injector
}

// DefaultTimeout bounds a session when Options.Timeout is zero.
const DefaultTimeout = 10 * time.Minute

// Usage counts tokens consumed by a session, when the backend reports them.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// Result is the outcome of one session.
type Result struct {
	RawOutput string
	ExitCode  int
	Duration  time.Duration
	Success   bool
	Usage     Usage
	Err       error
}

// Launcher opens one LLM session and blocks until it ends.
// Implementations: CLILauncher (claude subprocess), GeminiLauncher
// (google genai), Fake (tests).
type Launcher interface {
	Launch(ctx context.Context, req Request, opts Options) (Result, error)
}

// TimeoutError reports the total deadline firing.
type TimeoutError struct {
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("Session timed out after %dms", e.Elapsed.Milliseconds())
}

// IdleTimeoutError reports the inter-message deadline firing.
type IdleTimeoutError struct {
	Idle time.Duration
}

func (e *IdleTimeoutError) Error() string {
	return fmt.Sprintf("session idle for %dms with no stream activity", e.Idle.Milliseconds())
}

// RateLimitError indicates the provider refused the session for rate
// limiting. Callers detect it with errors.As; the raw provider text is
// kept so the reset instant can be parsed out of it.
type RateLimitError struct {
	Provider    string
	RawResponse string
}

func (e *RateLimitError) Error() string {
	if e.RawResponse != "" {
		return fmt.Sprintf("%s rate limited: %s", e.Provider, e.RawResponse)
	}
	return fmt.Sprintf("%s rate limited", e.Provider)
}
