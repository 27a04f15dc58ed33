package mind

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"anima/internal/session"
	"anima/internal/substrate"
)

const testPlan = `# Plan

## Current Goal

Ship the thing.

## Tasks

- [ ] Task A
- [ ] Task B
`

func newTestDeps(t *testing.T) (Deps, *session.Fake, *substrate.Mem) {
	t.Helper()
	clock := substrate.NewFakeClock(time.Date(2026, 2, 15, 10, 0, 0, 0, time.UTC))
	fs := substrate.NewMem(clock)
	reader := substrate.NewReader(fs, "/substrate", substrate.DefaultCacheSize)
	lock := substrate.NewFileLock()
	fake := session.NewFake()
	deps := Deps{
		Launcher: fake,
		Prompts:  NewSubstratePrompts(reader),
		Classify: &Classifier{StrategicModel: "model-strategic", TacticalModel: "model-tactical"},
		Reader:   reader,
		Writer:   substrate.NewWriter(fs, reader, lock),
		Appender: substrate.NewAppender(fs, reader, lock, clock),
		Clock:    clock,
	}
	return deps, fake, fs
}

func seedPlan(t *testing.T, fs *substrate.Mem, content string) {
	t.Helper()
	require.NoError(t, fs.WriteFile("/substrate/PLAN.md", []byte(content)))
}
