package upkeep

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anima/internal/config"
	"anima/internal/loop"
	"anima/internal/substrate"
)

func testClock() *substrate.FakeClock {
	return substrate.NewFakeClock(time.Date(2026, 2, 15, 10, 0, 0, 0, time.UTC))
}

func seedSubstrate(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "PLAN.md"),
		[]byte("# Plan\n\n## Tasks\n\n- [ ] A\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "PROGRESS.md"),
		[]byte("# Progress\n"), 0o644))
	return root
}

func TestBackupCopiesAndRecords(t *testing.T) {
	root := seedSubstrate(t)
	dest := t.TempDir()
	state := t.TempDir()
	clock := testClock()
	b := NewBackup(config.BackupConfig{Enabled: true, IntervalHours: 24, RetentionCount: 3},
		root, dest, state, clock, nil)

	require.NoError(t, b.RunOnce())

	copied := filepath.Join(dest, "backup-2026-02-15T10-00-00Z", "PLAN.md")
	assert.FileExists(t, copied)

	marker, err := os.ReadFile(filepath.Join(state, "config", "last-backup.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(marker), "2026-02-15T10:00:00Z")
	// The marker stays out of the substrate, so backups never capture it.
	assert.NoFileExists(t, filepath.Join(root, "config", "last-backup.txt"))
}

func TestBackupSkipsInsideInterval(t *testing.T) {
	root := seedSubstrate(t)
	dest := t.TempDir()
	clock := testClock()
	b := NewBackup(config.BackupConfig{Enabled: true, IntervalHours: 24}, root, dest, t.TempDir(), clock, nil)

	require.NoError(t, b.RunOnce())
	clock.Advance(time.Hour)
	require.NoError(t, b.RunOnce())

	entries, err := os.ReadDir(dest)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	clock.Advance(24 * time.Hour)
	require.NoError(t, b.RunOnce())
	entries, err = os.ReadDir(dest)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestBackupPrunesToRetention(t *testing.T) {
	root := seedSubstrate(t)
	dest := t.TempDir()
	clock := testClock()
	b := NewBackup(config.BackupConfig{Enabled: true, IntervalHours: 1, RetentionCount: 2},
		root, dest, t.TempDir(), clock, nil)

	for i := 0; i < 4; i++ {
		require.NoError(t, b.RunOnce())
		clock.Advance(2 * time.Hour)
	}

	entries, err := os.ReadDir(dest)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	// The survivors are the newest two.
	assert.Equal(t, "backup-2026-02-15T14-00-00Z", entries[0].Name())
	assert.Equal(t, "backup-2026-02-15T16-00-00Z", entries[1].Name())
}

type recordingSender struct {
	sent []string
}

func (s *recordingSender) Send(to, from, subject, body string) error {
	s.sent = append(s.sent, body)
	return nil
}

func TestEmailDigestSendsAndTracksState(t *testing.T) {
	root := seedSubstrate(t)
	entry := "[2026-02-15T09:30:00.000Z] [SUBCONSCIOUS] finished research\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, "PROGRESS.md"),
		[]byte("# Progress\n\n"+entry), 0o644))

	clock := testClock()
	state := t.TempDir()
	reader := substrate.NewReader(substrate.OS{}, root, substrate.DefaultCacheSize)
	sender := &recordingSender{}
	e := NewEmail(config.EmailConfig{Enabled: true, Recipient: "me@example.com", IntervalHours: 24},
		state, reader, sender, clock, nil)

	require.NoError(t, e.RunOnce())
	require.Len(t, sender.sent, 1)
	assert.Contains(t, sender.sent[0], "finished research")

	// Inside the interval nothing more is sent.
	clock.Advance(time.Hour)
	require.NoError(t, e.RunOnce())
	assert.Len(t, sender.sent, 1)

	raw, err := os.ReadFile(filepath.Join(state, "config", "email-scheduler-state.json"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"emailsSent":1`)
	assert.NoFileExists(t, filepath.Join(root, "config", "email-scheduler-state.json"))
}

func TestEmailDigestEmptySinceLast(t *testing.T) {
	root := seedSubstrate(t)
	clock := testClock()
	reader := substrate.NewReader(substrate.OS{}, root, substrate.DefaultCacheSize)
	sender := &recordingSender{}
	e := NewEmail(config.EmailConfig{Enabled: true, Recipient: "me@example.com", IntervalHours: 1},
		t.TempDir(), reader, sender, clock, nil)

	require.NoError(t, e.RunOnce())
	clock.Advance(2 * time.Hour)
	require.NoError(t, e.RunOnce())

	require.Len(t, sender.sent, 2)
	assert.Contains(t, sender.sent[1], "No activity since the last digest")
}

func TestHealthCheckHealthy(t *testing.T) {
	root := seedSubstrate(t)
	clock := testClock()
	reader := substrate.NewReader(substrate.OS{}, root, substrate.DefaultCacheSize)
	orch := loop.New(loop.Options{Clock: clock})

	h := NewHealth(reader, orch, root, clock, nil)
	report := h.Check(t.Context())

	assert.True(t, report.Healthy)
	assert.Equal(t, "STOPPED", report.State)
	assert.Len(t, report.Checks, 3)
	for _, c := range report.Checks {
		assert.True(t, c.OK, c.Name)
	}
}

func TestHealthCheckUnwritableDisk(t *testing.T) {
	root := seedSubstrate(t)
	clock := testClock()
	reader := substrate.NewReader(substrate.OS{}, root, substrate.DefaultCacheSize)
	orch := loop.New(loop.Options{Clock: clock})
	require.NoError(t, os.Chmod(root, 0o555))
	t.Cleanup(func() { _ = os.Chmod(root, 0o755) })

	h := NewHealth(reader, orch, root, clock, nil)
	report := h.Check(t.Context())

	assert.False(t, report.Healthy)
}
