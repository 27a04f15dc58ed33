package ratelimit

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"anima/internal/logging"
	"anima/internal/plan"
	"anima/internal/substrate"
)

// neutralContext is RESTART_CONTEXT when no hibernation is in progress.
const neutralContext = "# Restart Context\n\nNo hibernation in progress.\n"

// Context is the durable hibernation record.
type Context struct {
	HibernationStart time.Time
	ExpectedReset    time.Time
	InterruptedTask  string
	PlanSnapshot     string
}

// Hibernating reports whether the context records an unexpired sleep.
func (c *Context) Hibernating(now time.Time) bool {
	return c != nil && !c.ExpectedReset.IsZero() && now.Before(c.ExpectedReset)
}

// StateManager persists hibernation context so a process restart during
// a rate-limit sleep resumes instead of re-dispatching blind.
type StateManager struct {
	reader   *substrate.Reader
	writer   *substrate.Writer
	appender *substrate.Appender
	clock    substrate.Clock
}

// NewStateManager wires the manager over substrate plumbing.
func NewStateManager(reader *substrate.Reader, writer *substrate.Writer, appender *substrate.Appender, clock substrate.Clock) *StateManager {
	return &StateManager{reader: reader, writer: writer, appender: appender, clock: clock}
}

// SaveStateBeforeSleep records the hibernation in RESTART_CONTEXT, tags
// PLAN with the resume instant, and notes the sleep in PROGRESS.
// interruptedTaskID may be empty.
func (m *StateManager) SaveStateBeforeSleep(resetTime time.Time, interruptedTaskID string) error {
	start := m.clock.Now().UTC()
	resetTime = resetTime.UTC()
	minutes := int(resetTime.Sub(start).Minutes())

	_, planContent, err := m.reader.Read(substrate.FilePlan)
	if err != nil && !substrate.IsNotFound(err) {
		return fmt.Errorf("read plan for hibernation: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("# Restart Context\n\n## Rate Limit Hibernation\n\n")
	fmt.Fprintf(&sb, "- **Hibernation Start**: %s\n", substrate.FormatTimestamp(start))
	fmt.Fprintf(&sb, "- **Expected Reset**: %s\n", substrate.FormatTimestamp(resetTime))
	fmt.Fprintf(&sb, "- **Duration**: approximately %d minutes\n", minutes)
	if interruptedTaskID != "" {
		fmt.Fprintf(&sb, "- **Interrupted Task**: %s\n", interruptedTaskID)
	}
	if goal := plan.CurrentGoal(planContent); goal != "" {
		fmt.Fprintf(&sb, "\n## Current Goal\n\n%s\n", goal)
	}
	if planContent != "" {
		fmt.Fprintf(&sb, "\n## Plan Snapshot\n\n%s\n", strings.TrimRight(planContent, "\n"))
	}

	if err := m.writer.Write(substrate.FileRestartContext, sb.String()); err != nil {
		return err
	}

	if planContent != "" {
		tagged := tagPlan(planContent, resetTime, interruptedTaskID)
		if err := m.writer.Write(substrate.FilePlan, tagged); err != nil {
			return err
		}
	}

	entry := fmt.Sprintf("Rate limit hibernation starting. Reset expected at %s (approximately %d minutes)",
		substrate.FormatTimestamp(resetTime), minutes)
	if err := m.appender.Append(substrate.FileProgress, "SYSTEM", entry); err != nil {
		return err
	}

	logging.RateLimit().Infow("hibernation state saved",
		"reset", substrate.FormatTimestamp(resetTime),
		"minutes", minutes,
		"interruptedTask", interruptedTaskID,
	)
	return nil
}

// ClearRestartContext writes the neutral stub. Idempotent.
func (m *StateManager) ClearRestartContext() error {
	return m.writer.Write(substrate.FileRestartContext, neutralContext)
}

var (
	startPattern = regexp.MustCompile(`\*\*Hibernation Start\*\*: (\S+)`)
	resetExtract = regexp.MustCompile(`\*\*Expected Reset\*\*: (\S+)`)
	taskExtract  = regexp.MustCompile(`\*\*Interrupted Task\*\*: (\S+)`)
)

// Load reads RESTART_CONTEXT. A missing file or the neutral stub
// returns nil.
func (m *StateManager) Load() (*Context, error) {
	_, content, err := m.reader.Read(substrate.FileRestartContext)
	if err != nil {
		if substrate.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	resetMatch := resetExtract.FindStringSubmatch(content)
	if resetMatch == nil {
		return nil, nil
	}
	reset, err := time.Parse(substrate.TimestampLayout, resetMatch[1])
	if err != nil {
		return nil, nil
	}

	ctx := &Context{ExpectedReset: reset}
	if m := startPattern.FindStringSubmatch(content); m != nil {
		if start, err := time.Parse(substrate.TimestampLayout, m[1]); err == nil {
			ctx.HibernationStart = start
		}
	}
	if m := taskExtract.FindStringSubmatch(content); m != nil {
		ctx.InterruptedTask = m[1]
	}
	if idx := strings.Index(content, "## Plan Snapshot"); idx >= 0 {
		ctx.PlanSnapshot = strings.TrimSpace(content[idx+len("## Plan Snapshot"):])
	}
	return ctx, nil
}

// planTag marks a rate-limited plan; it sits directly under the title
// heading so PLAN still validates.
const planTagPrefix = "[RATE LIMITED - resuming at "

// tagPlan inserts the hibernation tag under the plan's title heading,
// replacing any tag from an earlier hibernation.
func tagPlan(content string, reset time.Time, interruptedTaskID string) string {
	lines := strings.Split(content, "\n")

	// Drop stale tag lines from a previous hibernation.
	kept := lines[:0]
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, planTagPrefix) || strings.HasPrefix(trimmed, `Task "`) && strings.HasSuffix(trimmed, `" was interrupted`) {
			continue
		}
		kept = append(kept, line)
	}
	lines = kept

	tag := []string{fmt.Sprintf("%s%s]", planTagPrefix, substrate.FormatTimestamp(reset))}
	if interruptedTaskID != "" {
		tag = append(tag, fmt.Sprintf("Task %q was interrupted", interruptedTaskID))
	}

	// Insert after the title heading; a plan without one gets the tag first.
	insert := 0
	if len(lines) > 0 && strings.HasPrefix(strings.TrimSpace(lines[0]), "# ") {
		insert = 1
		tag = append([]string{""}, tag...)
	}

	out := make([]string, 0, len(lines)+len(tag))
	out = append(out, lines[:insert]...)
	out = append(out, tag...)
	out = append(out, lines[insert:]...)
	return strings.Join(out, "\n")
}
