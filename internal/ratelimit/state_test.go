package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anima/internal/substrate"
)

const statePlan = `# Plan

## Current Goal

Ship the runtime.

## Tasks

- [ ] Task A
- [ ] Task B
`

func newTestManager(t *testing.T) (*StateManager, *substrate.Mem, *substrate.FakeClock) {
	t.Helper()
	clock := substrate.NewFakeClock(time.Date(2026, 2, 15, 10, 0, 0, 0, time.UTC))
	fs := substrate.NewMem(clock)
	reader := substrate.NewReader(fs, "/substrate", substrate.DefaultCacheSize)
	lock := substrate.NewFileLock()
	writer := substrate.NewWriter(fs, reader, lock)
	appender := substrate.NewAppender(fs, reader, lock, clock)
	return NewStateManager(reader, writer, appender, clock), fs, clock
}

func TestSaveStateBeforeSleep(t *testing.T) {
	m, fs, _ := newTestManager(t)
	require.NoError(t, fs.WriteFile("/substrate/PLAN.md", []byte(statePlan)))

	reset := time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC)
	require.NoError(t, m.SaveStateBeforeSleep(reset, "task-1"))

	restart, err := fs.ReadFile("/substrate/RESTART_CONTEXT.md")
	require.NoError(t, err)
	content := string(restart)
	assert.Contains(t, content, "Hibernation Start**: 2026-02-15T10:00:00.000Z")
	assert.Contains(t, content, "Expected Reset**: 2026-02-15T12:00:00.000Z")
	assert.Contains(t, content, "approximately 120 minutes")
	assert.Contains(t, content, "Interrupted Task**: task-1")
	assert.Contains(t, content, "Ship the runtime.")
	assert.Contains(t, content, "## Plan Snapshot")
	assert.Contains(t, content, "- [ ] Task A")

	planData, err := fs.ReadFile("/substrate/PLAN.md")
	require.NoError(t, err)
	planContent := string(planData)
	assert.Contains(t, planContent, "[RATE LIMITED - resuming at 2026-02-15T12:00:00.000Z]")
	assert.Contains(t, planContent, `Task "task-1" was interrupted`)
	assert.Contains(t, planContent, "## Tasks", "plan structure survives tagging")

	progress, err := fs.ReadFile("/substrate/PROGRESS.md")
	require.NoError(t, err)
	assert.Contains(t, string(progress), "[SYSTEM] Rate limit hibernation starting")
	assert.Contains(t, string(progress), "Reset expected at 2026-02-15T12:00:00.000Z")
}

func TestSaveStateWithoutTaskOrPlan(t *testing.T) {
	m, fs, _ := newTestManager(t)

	reset := time.Date(2026, 2, 15, 11, 0, 0, 0, time.UTC)
	require.NoError(t, m.SaveStateBeforeSleep(reset, ""))

	restart, err := fs.ReadFile("/substrate/RESTART_CONTEXT.md")
	require.NoError(t, err)
	assert.NotContains(t, string(restart), "Interrupted Task")
	assert.NotContains(t, string(restart), "Plan Snapshot")
}

func TestRepeatedHibernationReplacesTag(t *testing.T) {
	m, fs, _ := newTestManager(t)
	require.NoError(t, fs.WriteFile("/substrate/PLAN.md", []byte(statePlan)))

	require.NoError(t, m.SaveStateBeforeSleep(time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC), "task-1"))
	require.NoError(t, m.SaveStateBeforeSleep(time.Date(2026, 2, 15, 14, 0, 0, 0, time.UTC), ""))

	planData, err := fs.ReadFile("/substrate/PLAN.md")
	require.NoError(t, err)
	content := string(planData)
	assert.NotContains(t, content, "12:00:00")
	assert.Contains(t, content, "[RATE LIMITED - resuming at 2026-02-15T14:00:00.000Z]")
	assert.NotContains(t, content, "was interrupted")
}

func TestClearRestartContextIdempotent(t *testing.T) {
	m, fs, _ := newTestManager(t)

	require.NoError(t, m.ClearRestartContext())
	first, err := fs.ReadFile("/substrate/RESTART_CONTEXT.md")
	require.NoError(t, err)

	require.NoError(t, m.ClearRestartContext())
	second, err := fs.ReadFile("/substrate/RESTART_CONTEXT.md")
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
	assert.Contains(t, string(first), "No hibernation in progress")
}

func TestLoadRoundTrip(t *testing.T) {
	m, fs, clock := newTestManager(t)
	require.NoError(t, fs.WriteFile("/substrate/PLAN.md", []byte(statePlan)))

	reset := time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC)
	require.NoError(t, m.SaveStateBeforeSleep(reset, "task-2"))

	ctx, err := m.Load()
	require.NoError(t, err)
	require.NotNil(t, ctx)
	assert.Equal(t, reset, ctx.ExpectedReset)
	assert.Equal(t, clock.Now().UTC(), ctx.HibernationStart)
	assert.Equal(t, "task-2", ctx.InterruptedTask)
	assert.Contains(t, ctx.PlanSnapshot, "- [ ] Task A")
	assert.True(t, ctx.Hibernating(clock.Now()))
	assert.False(t, ctx.Hibernating(reset.Add(time.Minute)))
}

func TestLoadNeutralContextIsNil(t *testing.T) {
	m, _, _ := newTestManager(t)

	require.NoError(t, m.ClearRestartContext())
	ctx, err := m.Load()
	require.NoError(t, err)
	assert.Nil(t, ctx)
}

func TestLoadMissingFileIsNil(t *testing.T) {
	m, _, _ := newTestManager(t)

	ctx, err := m.Load()
	require.NoError(t, err)
	assert.Nil(t, ctx)
}
