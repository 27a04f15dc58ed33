package loop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunTickLoopStopsOnStopped(t *testing.T) {
	f := newFixture(t, Config{})
	f.seed(t, "PLAN.md", donePlan)
	require.NoError(t, f.o.Start())

	ticks := f.events(EventTickStarted, EventTickComplete)
	f.timer.OnDelay = func(time.Duration) {
		if f.o.State() == StateRunning {
			require.NoError(t, f.o.Stop())
		}
	}
	require.NoError(t, f.o.RunTickLoop(t.Context()))
	require.Equal(t, StateStopped, f.o.State())
	require.GreaterOrEqual(t, f.o.Metrics().Total, uint64(1))

	started := waitEvent(t, ticks)
	require.Equal(t, EventTickStarted, started.Type)
	complete := waitEvent(t, ticks)
	require.Equal(t, EventTickComplete, complete.Type)
}

func TestRunTickLoopUsesIdleDelay(t *testing.T) {
	cfg := Config{CycleDelay: 5 * time.Second, IdleDelay: 30 * time.Second}
	f := newFixture(t, cfg)
	f.seed(t, "PLAN.md", donePlan)
	require.NoError(t, f.o.Start())

	f.timer.OnDelay = func(time.Duration) { _ = f.o.Stop() }
	require.NoError(t, f.o.RunTickLoop(t.Context()))

	delays := f.timer.Delays()
	require.NotEmpty(t, delays)
	require.Equal(t, 30*time.Second, delays[0])
}

func TestRunTickLoopParksWhilePaused(t *testing.T) {
	cfg := Config{CycleDelay: 5 * time.Second}
	f := newFixture(t, cfg)
	f.seed(t, "PLAN.md", donePlan)
	require.NoError(t, f.o.Start())
	require.NoError(t, f.o.Pause())

	f.timer.OnDelay = func(time.Duration) { _ = f.o.Stop() }
	require.NoError(t, f.o.RunTickLoop(t.Context()))

	// No tick ran while paused.
	require.Zero(t, f.o.Metrics().Total)
}
