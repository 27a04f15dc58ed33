package conversation

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anima/internal/config"
	"anima/internal/mind"
	"anima/internal/substrate"
)

func newTestManager(t *testing.T, archiveCfg *config.ArchiveConfig, summarizer Summarizer) (*Manager, *substrate.Mem, *substrate.FakeClock) {
	t.Helper()
	clock := substrate.NewFakeClock(time.Date(2026, 2, 15, 10, 0, 0, 0, time.UTC))
	fs := substrate.NewMem(clock)
	reader := substrate.NewReader(fs, "/substrate", substrate.DefaultCacheSize)
	lock := substrate.NewFileLock()
	appender := substrate.NewAppender(fs, reader, lock, clock)

	var archiver *Archiver
	if archiveCfg != nil {
		archiver = NewArchiver(*archiveCfg)
	}
	m := NewManager(fs, reader, appender, lock, clock, NewCompactor(summarizer), archiver)
	return m, fs, clock
}

func readConversation(t *testing.T, fs *substrate.Mem) string {
	t.Helper()
	data, err := fs.ReadFile("/substrate/CONVERSATION.md")
	require.NoError(t, err)
	return string(data)
}

func TestAppendWritesRoleTaggedLine(t *testing.T) {
	m, fs, _ := newTestManager(t, nil, nil)

	require.NoError(t, m.Append(t.Context(), mind.RoleEgo, "Hi there"))

	content := readConversation(t, fs)
	assert.Equal(t, "[2026-02-15T10:00:00.000Z] [EGO] Hi there\n", content)
}

func TestAppendDeniedForGovernanceRoles(t *testing.T) {
	m, fs, _ := newTestManager(t, nil, nil)

	err := m.Append(t.Context(), mind.RoleSuperego, "verdict")
	assert.ErrorIs(t, err, mind.ErrPermissionDenied)

	err = m.Append(t.Context(), mind.RoleId, "wanting")
	assert.ErrorIs(t, err, mind.ErrPermissionDenied)

	assert.False(t, fs.Exists("/substrate/CONVERSATION.md"))
}

func TestCompactionTriggersAfterOneHour(t *testing.T) {
	summarizer := &fakeSummarizer{summary: "earlier chit-chat"}
	m, fs, clock := newTestManager(t, nil, summarizer)

	// First append records the baseline.
	require.NoError(t, m.Append(t.Context(), mind.RoleEgo, "a"))
	assert.Zero(t, summarizer.calls)

	// Thirty minutes in: below the threshold, no compaction.
	clock.Advance(30 * time.Minute)
	require.NoError(t, m.Append(t.Context(), mind.RoleEgo, "b"))
	assert.Zero(t, summarizer.calls)

	// Past baseline + 1h the compactor runs exactly once; the cutoff
	// lands just after the first entry, so only "a" is summarized.
	clock.Advance(31 * time.Minute)
	require.NoError(t, m.Append(t.Context(), mind.RoleEgo, "c"))
	assert.Equal(t, 1, summarizer.calls)
	assert.Contains(t, summarizer.lastIn, "[EGO] a")

	content := readConversation(t, fs)
	assert.Contains(t, content, "## Summary of Earlier Conversation")
	assert.Contains(t, content, "earlier chit-chat")
	assert.Contains(t, content, "[EGO] c")
}

func TestCompactionBaselineAdvances(t *testing.T) {
	summarizer := &fakeSummarizer{summary: "s"}
	m, _, clock := newTestManager(t, nil, summarizer)

	require.NoError(t, m.Append(t.Context(), mind.RoleEgo, "a"))
	clock.Advance(61 * time.Minute)
	require.NoError(t, m.Append(t.Context(), mind.RoleEgo, "b"))
	require.Equal(t, 1, summarizer.calls)

	// Ten minutes later the new baseline has not elapsed.
	clock.Advance(10 * time.Minute)
	require.NoError(t, m.Append(t.Context(), mind.RoleEgo, "c"))
	assert.Equal(t, 1, summarizer.calls)
}

func TestForceCompactionBypassesThrottle(t *testing.T) {
	summarizer := &fakeSummarizer{summary: "forced"}
	m, fs, clock := newTestManager(t, nil, summarizer)

	require.NoError(t, m.Append(t.Context(), mind.RoleUser, "old line"))
	clock.Advance(2 * time.Hour)

	require.NoError(t, m.ForceCompaction(t.Context()))
	assert.Equal(t, 1, summarizer.calls)
	assert.Contains(t, readConversation(t, fs), "forced")
	assert.Equal(t, clock.Now(), m.LastMaintenance())
}

func TestArchiveTriggersOnSizeThreshold(t *testing.T) {
	cfg := &config.ArchiveConfig{Enabled: true, LinesToKeep: 3, SizeThreshold: 5, TimeThresholdDays: 7}
	m, fs, clock := newTestManager(t, cfg, nil)

	for i := 0; i < 7; i++ {
		require.NoError(t, m.Append(t.Context(), mind.RoleUser, fmt.Sprintf("msg %d", i)))
		clock.Advance(time.Second)
	}

	names, err := fs.ReadDir("/substrate/archive/conversation")
	require.NoError(t, err)
	require.Len(t, names, 1)
	assert.Equal(t, "conversation-2026-02-15.md", names[0])

	live := readConversation(t, fs)
	liveLines := strings.Count(strings.TrimRight(live, "\n"), "\n") + 1
	assert.LessOrEqual(t, liveLines, 4, "live file keeps only recent lines")
	assert.Contains(t, live, "msg 6")

	archived, err := fs.ReadFile("/substrate/archive/conversation/" + names[0])
	require.NoError(t, err)
	assert.Contains(t, string(archived), "msg 0")
}

func TestForceArchiveKeepsConfiguredLines(t *testing.T) {
	cfg := &config.ArchiveConfig{Enabled: true, LinesToKeep: 2, SizeThreshold: 1000, TimeThresholdDays: 7}
	m, fs, _ := newTestManager(t, cfg, nil)

	for i := 0; i < 5; i++ {
		require.NoError(t, m.Append(t.Context(), mind.RoleUser, fmt.Sprintf("msg %d", i)))
	}
	require.NoError(t, m.ForceArchive())

	live := readConversation(t, fs)
	assert.NotContains(t, live, "msg 2")
	assert.Contains(t, live, "msg 3")
	assert.Contains(t, live, "msg 4")
}

func TestLastMaintenanceZeroInitially(t *testing.T) {
	m, _, _ := newTestManager(t, nil, nil)
	assert.True(t, m.LastMaintenance().IsZero())
}
