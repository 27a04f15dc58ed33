package loop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"anima/internal/mind"
	"anima/internal/ratelimit"
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

const donePlan = `# Plan

## Current Goal

Ship the thing.

## Tasks

- [x] Task A
`

type fixture struct {
	o     *Orchestrator
	fake  *session.Fake
	fs    *substrate.Mem
	clock *substrate.FakeClock
	timer *FakeTimer
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	clock := substrate.NewFakeClock(time.Date(2026, 2, 15, 10, 0, 0, 0, time.UTC))
	fs := substrate.NewMem(clock)
	reader := substrate.NewReader(fs, "/substrate", substrate.DefaultCacheSize)
	lock := substrate.NewFileLock()
	writer := substrate.NewWriter(fs, reader, lock)
	appender := substrate.NewAppender(fs, reader, lock, clock)
	fake := session.NewFake()
	deps := mind.Deps{
		Launcher: fake,
		Prompts:  mind.NewSubstratePrompts(reader),
		Classify: &mind.Classifier{StrategicModel: "model-strategic", TacticalModel: "model-tactical"},
		Reader:   reader,
		Writer:   writer,
		Appender: appender,
		Clock:    clock,
	}
	timer := NewFakeTimer()
	o := New(Options{
		Ego:          mind.NewEgo(deps),
		Subconscious: mind.NewSubconscious(deps),
		Superego:     mind.NewSuperego(deps, nil),
		RateLimit:    ratelimit.NewStateManager(reader, writer, appender, clock),
		Clock:        clock,
		Timer:        timer,
		Config:       cfg,
	})
	return &fixture{o: o, fake: fake, fs: fs, clock: clock, timer: timer}
}

func (f *fixture) seed(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, f.fs.WriteFile("/substrate/"+path, []byte(content)))
}

func (f *fixture) events(types ...EventType) <-chan Event {
	want := make(map[EventType]bool, len(types))
	for _, tp := range types {
		want[tp] = true
	}
	ch := make(chan Event, 64)
	f.o.Emitter().Subscribe(func(ev Event) {
		if len(want) == 0 || want[ev.Type] {
			select {
			case ch <- ev:
			default:
			}
		}
	})
	return ch
}

func waitEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestStateTransitions(t *testing.T) {
	f := newFixture(t, Config{})
	o := f.o

	require.Equal(t, StateStopped, o.State())
	require.NoError(t, o.Start())
	require.Equal(t, StateRunning, o.State())

	var invalid *InvalidTransitionError
	err := o.Start()
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, StateRunning, invalid.From)

	require.NoError(t, o.Pause())
	require.ErrorAs(t, o.Pause(), &invalid)
	require.NoError(t, o.Resume())
	require.NoError(t, o.Stop())
	require.Equal(t, StateStopped, o.State())

	// PAUSED is unreachable from STOPPED.
	require.ErrorAs(t, o.Pause(), &invalid)
}

func TestStopInjectsPersistMessage(t *testing.T) {
	f := newFixture(t, Config{})
	require.NoError(t, f.o.Start())

	f.o.setSessionActive(true)
	require.NoError(t, f.o.Stop())

	queued := f.o.injector.Drain()
	require.Equal(t, []string{"Persist your state before shutting down."}, queued)
}

func TestStopWithoutSessionQueuesNothing(t *testing.T) {
	f := newFixture(t, Config{})
	require.NoError(t, f.o.Start())
	require.NoError(t, f.o.Stop())
	require.Empty(t, f.o.injector.Drain())
}

func TestInjectMessageQueuesWhenNoSession(t *testing.T) {
	f := newFixture(t, Config{})
	f.o.InjectMessage("remember this")
	require.Equal(t, []string{"remember this"}, f.o.injector.Drain())
}

func TestRunLoopStopsOnStopped(t *testing.T) {
	f := newFixture(t, Config{})
	f.seed(t, "PLAN.md", donePlan)
	require.NoError(t, f.o.Start())

	f.timer.OnDelay = func(time.Duration) {
		if f.o.State() == StateRunning {
			require.NoError(t, f.o.Stop())
		}
	}
	require.NoError(t, f.o.RunLoop(t.Context()))
	require.Equal(t, StateStopped, f.o.State())
	require.GreaterOrEqual(t, f.o.Metrics().Total, uint64(1))
}

func TestRunLoopUsesIdleDelay(t *testing.T) {
	cfg := Config{CycleDelay: 5 * time.Second, IdleDelay: 30 * time.Second}
	f := newFixture(t, cfg)
	f.seed(t, "PLAN.md", donePlan)
	require.NoError(t, f.o.Start())

	f.timer.OnDelay = func(time.Duration) { _ = f.o.Stop() }
	require.NoError(t, f.o.RunLoop(t.Context()))

	delays := f.timer.Delays()
	require.NotEmpty(t, delays)
	require.Equal(t, 30*time.Second, delays[0])
}
