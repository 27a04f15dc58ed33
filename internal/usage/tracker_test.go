package usage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"anima/internal/session"
	"anima/internal/substrate"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestTracker(t *testing.T) (*Tracker, string) {
	t.Helper()
	dir := t.TempDir()
	clock := substrate.NewFakeClock(time.Date(2026, 2, 15, 10, 0, 0, 0, time.UTC))
	tracker, err := NewTracker(dir, clock)
	require.NoError(t, err)
	return tracker, dir
}

func TestRecordAggregatesByRoleAndModel(t *testing.T) {
	tracker, _ := newTestTracker(t)

	tracker.Record("SUBCONSCIOUS", "claude-tactical", session.Usage{InputTokens: 100, OutputTokens: 40})
	tracker.Record("SUBCONSCIOUS", "claude-tactical", session.Usage{InputTokens: 50, OutputTokens: 10})
	tracker.Record("EGO", "claude-strategic", session.Usage{InputTokens: 30, OutputTokens: 20})

	snap := tracker.Snapshot()
	assert.Equal(t, uint64(3), snap.Sessions)
	assert.Equal(t, int64(250), snap.Total.Total)
	assert.Equal(t, int64(150), snap.ByRole["SUBCONSCIOUS"].Input)
	assert.Equal(t, int64(50), snap.ByRole["SUBCONSCIOUS"].Output)
	assert.Equal(t, int64(50), snap.ByModel["claude-strategic"].Total)
}

func TestSessionWithoutTokensStillCounts(t *testing.T) {
	tracker, _ := newTestTracker(t)

	tracker.Record("EGO", "", session.Usage{})

	snap := tracker.Snapshot()
	assert.Equal(t, uint64(1), snap.Sessions)
	assert.Zero(t, snap.Total.Total)
	assert.Empty(t, snap.ByModel)
}

func TestFlushAndReload(t *testing.T) {
	tracker, dir := newTestTracker(t)
	tracker.Record("EGO", "claude-strategic", session.Usage{InputTokens: 10, OutputTokens: 5})
	before := tracker.Snapshot()
	require.NoError(t, tracker.Flush())

	clock := substrate.NewFakeClock(time.Date(2026, 2, 16, 10, 0, 0, 0, time.UTC))
	reloaded, err := NewTracker(dir, clock)
	require.NoError(t, err)

	snap := reloaded.Snapshot()
	if diff := cmp.Diff(before, snap); diff != "" {
		t.Errorf("snapshot changed across reload (-before +after):\n%s", diff)
	}
	// Since survives the reload; it is not reset by reopening.
	assert.Equal(t, time.Date(2026, 2, 15, 10, 0, 0, 0, time.UTC), snap.Since)
}

func TestFlushSkipsWhenClean(t *testing.T) {
	tracker, dir := newTestTracker(t)
	require.NoError(t, tracker.Flush())
	assert.NoFileExists(t, filepath.Join(dir, "usage.json"))

	tracker.Record("ID", "m", session.Usage{InputTokens: 1})
	require.NoError(t, tracker.Flush())
	assert.FileExists(t, filepath.Join(dir, "usage.json"))
}

func TestRecordingLauncherFeedsLedger(t *testing.T) {
	tracker, _ := newTestTracker(t)
	fake := session.NewFake()
	fake.Enqueue(session.Result{RawOutput: "ok", Usage: session.Usage{InputTokens: 7, OutputTokens: 3}})

	launcher := &RecordingLauncher{Inner: fake, Tracker: tracker}
	_, err := launcher.Launch(t.Context(), session.Request{}, session.Options{Role: "EGO", Model: "m"})
	require.NoError(t, err)

	snap := tracker.Snapshot()
	assert.Equal(t, int64(10), snap.ByRole["EGO"].Total)
	assert.Equal(t, int64(7), snap.ByModel["m"].Input)
}

func TestSnapshotIsACopy(t *testing.T) {
	tracker, _ := newTestTracker(t)
	tracker.Record("EGO", "m", session.Usage{InputTokens: 1})

	snap := tracker.Snapshot()
	snap.ByRole["EGO"] = TokenCounts{Input: 999}

	assert.Equal(t, int64(1), tracker.Snapshot().ByRole["EGO"].Input)
}
