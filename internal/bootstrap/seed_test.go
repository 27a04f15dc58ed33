package bootstrap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anima/internal/substrate"
)

func TestSeedCreatesEveryFile(t *testing.T) {
	clock := substrate.NewFakeClock(time.Date(2026, 2, 15, 10, 0, 0, 0, time.UTC))
	fs := substrate.NewMem(clock)

	created, err := Seed(fs, "/substrate")
	require.NoError(t, err)
	assert.Len(t, created, len(substrate.AllFiles()))

	// Every seeded overwrite-mode document passes its own validation.
	reader := substrate.NewReader(fs, "/substrate", substrate.DefaultCacheSize)
	for _, spec := range substrate.AllFiles() {
		_, content, err := reader.Read(spec.ID)
		require.NoError(t, err, spec.ID)
		if spec.Validate != nil {
			assert.NoError(t, spec.Validate(content), spec.ID)
		}
	}
}

func TestSeedPreservesExistingFiles(t *testing.T) {
	clock := substrate.NewFakeClock(time.Date(2026, 2, 15, 10, 0, 0, 0, time.UTC))
	fs := substrate.NewMem(clock)
	custom := "# Plan\n\n## Current Goal\n\nKeep me.\n\n## Tasks\n\n- [ ] A\n"
	require.NoError(t, fs.MkdirAll("/substrate"))
	require.NoError(t, fs.WriteFile("/substrate/PLAN.md", []byte(custom)))

	created, err := Seed(fs, "/substrate")
	require.NoError(t, err)
	assert.Len(t, created, len(substrate.AllFiles())-1)
	assert.NotContains(t, created, substrate.FilePlan)

	raw, err := fs.ReadFile("/substrate/PLAN.md")
	require.NoError(t, err)
	assert.Equal(t, custom, string(raw))
}

func TestSeedIsIdempotent(t *testing.T) {
	clock := substrate.NewFakeClock(time.Date(2026, 2, 15, 10, 0, 0, 0, time.UTC))
	fs := substrate.NewMem(clock)

	_, err := Seed(fs, "/substrate")
	require.NoError(t, err)
	again, err := Seed(fs, "/substrate")
	require.NoError(t, err)
	assert.Empty(t, again)
}
