package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anima/internal/substrate"
)

type fakeSummarizer struct {
	summary string
	err     error
	calls   int
	lastIn  string
}

func (f *fakeSummarizer) Summarize(_ context.Context, text string) (string, error) {
	f.calls++
	f.lastIn = text
	return f.summary, f.err
}

func line(ts time.Time, role, text string) string {
	return fmt.Sprintf("[%s] [%s] %s", substrate.FormatTimestamp(ts), role, text)
}

var compactNow = time.Date(2026, 2, 15, 10, 0, 0, 0, time.UTC)

func TestCompactEmptyContentUnchanged(t *testing.T) {
	c := NewCompactor(nil)
	out, changed := c.Compact(t.Context(), "", compactNow.Add(-time.Hour))
	assert.False(t, changed)
	assert.Empty(t, out)
}

func TestCompactAllRecentUnchanged(t *testing.T) {
	c := NewCompactor(&fakeSummarizer{summary: "unused"})
	content := "# Conversation\n\n" +
		line(compactNow.Add(-10*time.Minute), "EGO", "hello") + "\n" +
		line(compactNow.Add(-5*time.Minute), "USER", "hi") + "\n"

	out, changed := c.Compact(t.Context(), content, compactNow.Add(-time.Hour))
	assert.False(t, changed)
	assert.Equal(t, content, out)
}

func TestCompactSummarizesOldLines(t *testing.T) {
	summarizer := &fakeSummarizer{summary: "They greeted each other."}
	c := NewCompactor(summarizer)
	old1 := line(compactNow.Add(-3*time.Hour), "USER", "good morning")
	old2 := line(compactNow.Add(-2*time.Hour), "EGO", "morning!")
	recent := line(compactNow.Add(-10*time.Minute), "USER", "still here")
	content := "# Conversation\n" + old1 + "\n" + old2 + "\n" + recent + "\n"

	out, changed := c.Compact(t.Context(), content, compactNow.Add(-time.Hour))
	require.True(t, changed)
	assert.Equal(t, 1, summarizer.calls)
	assert.Contains(t, summarizer.lastIn, "good morning")

	assert.True(t, strings.HasPrefix(out, "# Conversation\n"), "headers preserved first")
	assert.Contains(t, out, "## Summary of Earlier Conversation\n\nThey greeted each other.")
	assert.Contains(t, out, "## Recent Conversation (Last Hour)\n\n"+recent)
	assert.NotContains(t, out, "good morning")
}

func TestCompactFallbackOnSummarizerError(t *testing.T) {
	c := NewCompactor(&fakeSummarizer{err: errors.New("no session")})
	old := line(compactNow.Add(-2*time.Hour), "USER", "ancient history")
	content := old + "\n" + line(compactNow.Add(-time.Minute), "EGO", "now") + "\n"

	out, changed := c.Compact(t.Context(), content, compactNow.Add(-time.Hour))
	require.True(t, changed)
	assert.Contains(t, out, "[Previous conversation history compacted - 1 lines summarized]")
}

func TestCompactUntimestampedLinesStayRecent(t *testing.T) {
	c := NewCompactor(&fakeSummarizer{summary: "s"})
	old := line(compactNow.Add(-2*time.Hour), "USER", "old")
	content := old + "\ncontinuation without timestamp\n"

	out, changed := c.Compact(t.Context(), content, compactNow.Add(-time.Hour))
	require.True(t, changed)
	assert.Contains(t, out, "continuation without timestamp")
	assert.NotContains(t, out, "[USER] old")
}
