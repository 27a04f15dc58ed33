package loop

import (
	"context"

	"anima/internal/logging"
)

// TickResult reports one manual tick.
type TickResult struct {
	Deferred bool
	Cycle    CycleResult
}

// RunOneTick executes a single cycle on demand. Ticks never overlap a
// conversation session or another tick: when one is active the tick is
// deferred and replayed when the blocking work finishes.
func (o *Orchestrator) RunOneTick(ctx context.Context) TickResult {
	o.mu.Lock()
	if o.conversationActive || o.tickInProgress {
		o.tickRequested = true
		o.mu.Unlock()
		logging.Loop().Infow("tick deferred, session active")
		o.emitter.Emit(EventTickComplete, map[string]any{"result": "Deferred"})
		return TickResult{Deferred: true}
	}
	o.tickInProgress = true
	o.mu.Unlock()

	o.emitter.Emit(EventTickStarted, map[string]any{"cycle": o.cycle.Load() + 1})
	res := o.RunCycle(ctx)

	o.mu.Lock()
	o.tickInProgress = false
	o.mu.Unlock()

	o.emitter.Emit(EventTickComplete, map[string]any{
		"cycle":   res.Cycle,
		"idle":    res.Idle,
		"task":    res.TaskID,
		"outcome": string(res.Outcome),
	})
	return TickResult{Cycle: res}
}

// RunTickLoop drives ticks on the cycle cadence until the context ends
// or the state machine reaches STOPPED. It parks on the timer while
// paused or sleeping, the same way RunLoop does. Message injection is
// delegated to whatever session the tick has open, so a deferred tick
// is simply replayed on the next beat.
func (o *Orchestrator) RunTickLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		switch o.State() {
		case StateStopped:
			return nil
		case StatePaused, StateSleeping:
			if !o.timer.Delay(ctx, o.cfg.cycleDelay()) {
				return ctx.Err()
			}
			continue
		}

		res := o.RunOneTick(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := o.cfg.cycleDelay()
		if !res.Deferred && res.Cycle.Idle {
			delay = o.cfg.idleDelay()
		}
		if !o.timer.Delay(ctx, delay) {
			return ctx.Err()
		}
	}
}

// replayDeferredTick runs a queued tick once the blocking session ends.
func (o *Orchestrator) replayDeferredTick(ctx context.Context) {
	o.mu.Lock()
	pending := o.tickRequested
	o.tickRequested = false
	o.mu.Unlock()
	if pending {
		o.RunOneTick(ctx)
	}
}
