// Package conversation maintains the CONVERSATION log: role-gated
// appends, hourly compaction of old entries into a model-written
// summary, and archival of history to date-stamped files.
package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"anima/internal/logging"
	"anima/internal/session"
	"anima/internal/substrate"
)

// Summarizer condenses conversation lines to a short plain-text summary.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// LauncherSummarizer summarizes through a tactical-tier session.
type LauncherSummarizer struct {
	Launcher session.Launcher
	Model    string
}

// Summarize runs one summarization session.
func (s *LauncherSummarizer) Summarize(ctx context.Context, text string) (string, error) {
	res, err := s.Launcher.Launch(ctx, session.Request{
		SystemPrompt: "You summarize conversation logs. Reply with a short plain-text summary, no preamble.",
		UserMessage:  fmt.Sprintf("Summarize these conversation lines:\n\n%s", text),
	}, session.Options{Model: s.Model})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.RawOutput), nil
}

// Compactor replaces the pre-cutoff prefix of the conversation with a
// summary block, preserving headers and everything newer than the
// cutoff.
type Compactor struct {
	summarizer Summarizer
}

// NewCompactor builds a compactor. summarizer may be nil, in which case
// the placeholder fallback is always used.
func NewCompactor(summarizer Summarizer) *Compactor {
	return &Compactor{summarizer: summarizer}
}

// timestampedLine extracts the leading [ts] of a conversation line.
func timestampedLine(line string) (time.Time, bool) {
	if !strings.HasPrefix(line, "[") {
		return time.Time{}, false
	}
	end := strings.IndexByte(line, ']')
	if end < 0 {
		return time.Time{}, false
	}
	ts, err := time.Parse(substrate.TimestampLayout, line[1:end])
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// Compact partitions content at the cutoff and summarizes the old part.
// Content with nothing older than the cutoff is returned unchanged;
// empty content stays empty. The second return reports whether
// compaction happened.
func (c *Compactor) Compact(ctx context.Context, content string, cutoff time.Time) (string, bool) {
	if strings.TrimSpace(content) == "" {
		return content, false
	}

	var headers, recent, old []string
	for _, line := range strings.Split(strings.TrimRight(content, "\n"), "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "#"):
			headers = append(headers, line)
		default:
			ts, ok := timestampedLine(trimmed)
			if ok && ts.Before(cutoff) {
				old = append(old, line)
			} else {
				// Untimestamped lines count as recent; they may be
				// continuations of a recent entry.
				recent = append(recent, line)
			}
		}
	}
	if len(old) == 0 {
		return content, false
	}

	summary := c.summarize(ctx, old)

	var sb strings.Builder
	if len(headers) > 0 {
		sb.WriteString(strings.Join(headers, "\n"))
		sb.WriteString("\n\n")
	}
	sb.WriteString("## Summary of Earlier Conversation\n\n")
	sb.WriteString(summary)
	sb.WriteString("\n\n## Recent Conversation (Last Hour)\n\n")
	if len(recent) > 0 {
		sb.WriteString(strings.Join(recent, "\n"))
		sb.WriteString("\n")
	}
	return sb.String(), true
}

func (c *Compactor) summarize(ctx context.Context, old []string) string {
	fallback := fmt.Sprintf("[Previous conversation history compacted - %d lines summarized]", len(old))
	if c.summarizer == nil {
		return fallback
	}
	summary, err := c.summarizer.Summarize(ctx, strings.Join(old, "\n"))
	if err != nil || strings.TrimSpace(summary) == "" {
		logging.Conversation().Warnw("summarization failed, using placeholder", "error", err)
		return fallback
	}
	return summary
}
