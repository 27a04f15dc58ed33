package loop

import (
	"context"
	"errors"
	"time"

	"anima/internal/logging"
	"anima/internal/mind"
	"anima/internal/plan"
	"anima/internal/ratelimit"
	"anima/internal/session"
)

// CycleResult summarizes one pass through the autonomous loop.
type CycleResult struct {
	Cycle   uint64
	Idle    bool
	TaskID  string
	Outcome mind.ExecuteOutcome
	Err     error
}

// fallbackHibernation is used when a rate-limit response carries no
// parseable reset time.
const fallbackHibernation = time.Hour

// RunLoop drives cycles until the context ends or the state machine
// reaches STOPPED. Paused and sleeping states park on the timer and
// re-check after every wake.
func (o *Orchestrator) RunLoop(ctx context.Context) error {
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

		res := o.RunCycle(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := o.cfg.cycleDelay()
		if res.Idle {
			delay = o.cfg.idleDelay()
		}
		if !o.timer.Delay(ctx, delay) {
			return ctx.Err()
		}
	}
}

// RunCycle executes exactly one cycle: dispatch the first pending task
// or run the idle path, then the post-cycle bookkeeping (audit check,
// autonomy reminder). It never panics the loop; errors are recorded and
// the next cycle proceeds.
func (o *Orchestrator) RunCycle(ctx context.Context) CycleResult {
	n := o.cycle.Add(1)
	log := logging.Loop()

	task, err := o.ego.DispatchNext(ctx)
	if err != nil {
		log.Errorw("dispatch read failed", "cycle", n, "error", err)
		o.metrics.RecordFailure()
		o.emitter.Emit(EventError, map[string]any{"cycle": n, "error": err.Error()})
		o.emitter.Emit(EventCycleComplete, map[string]any{
			"cycle":   n,
			"outcome": string(mind.OutcomeFailure),
			"error":   err.Error(),
		})
		res := CycleResult{Cycle: n, Err: err}
		o.afterCycle(ctx, n)
		return res
	}

	var res CycleResult
	if task == nil {
		res = o.runIdleCycle(ctx, n)
	} else {
		res = o.runDispatchCycle(ctx, n, *task)
	}
	o.afterCycle(ctx, n)
	return res
}

func (o *Orchestrator) runIdleCycle(ctx context.Context, n uint64) CycleResult {
	o.metrics.RecordIdle()
	snap := o.metrics.Get()
	o.emitter.Emit(EventIdle, map[string]any{"cycle": n, "consecutive": snap.ConsecutiveIdle})
	logging.Loop().Debugw("idle cycle", "cycle", n, "consecutive", snap.ConsecutiveIdle)

	if o.cfg.MaxConsecutiveIdleCycles > 0 && snap.ConsecutiveIdle >= uint64(o.cfg.MaxConsecutiveIdleCycles) {
		o.escalateIdle(ctx, n)
	}
	o.emitter.Emit(EventCycleComplete, map[string]any{"cycle": n, "outcome": "idle"})
	return CycleResult{Cycle: n, Idle: true}
}

func (o *Orchestrator) escalateIdle(ctx context.Context, n uint64) {
	outcome := IdleNoGoals
	if o.idle != nil {
		outcome = o.idle.HandleIdle(ctx)
	}
	o.emitter.Emit(EventIdleHandler, map[string]any{"cycle": n, "outcome": outcome})

	switch outcome {
	case IdlePlanCreated:
		// New work exists; the streak is over regardless of sleep config.
		o.metrics.ResetConsecutiveIdle()
	case IdleNotIdle:
		o.metrics.ResetConsecutiveIdle()
	case IdleNoGoals, IdleAllRejected:
		o.metrics.ResetConsecutiveIdle()
		if o.cfg.IdleSleepEnabled {
			if err := o.transition(StateSleeping); err != nil {
				logging.Loop().Warnw("idle sleep transition refused", "error", err)
			}
		} else {
			if err := o.transition(StateStopped); err != nil {
				logging.Loop().Warnw("idle stop transition refused", "error", err)
			}
		}
	}
}

func (o *Orchestrator) runDispatchCycle(ctx context.Context, n uint64, task plan.Task) CycleResult {
	log := logging.Loop()
	log.Infow("dispatching task", "cycle", n, "task", task.ID, "title", task.Title)

	onLog := func(entry session.ProcessLogEntry) {
		o.emitter.Emit(EventProcessOutput, map[string]any{
			"source":      "cycle",
			"role":        string(mind.RoleSubconscious),
			"cycleNumber": n,
			"entry":       entry,
		})
	}

	o.setSessionActive(true)
	started := o.clock.Now()
	exec, err := o.sub.Execute(ctx, task, onLog)
	o.metrics.ObserveSession(string(mind.RoleSubconscious), o.clock.Now().Sub(started))
	o.setSessionActive(false)

	if err != nil {
		var rl *session.RateLimitError
		if errors.As(err, &rl) {
			o.metrics.RecordFailure()
			o.emitter.Emit(EventCycleComplete, map[string]any{
				"cycle":   n,
				"task":    task.ID,
				"outcome": string(mind.OutcomeFailure),
				"error":   err.Error(),
			})
			o.hibernate(ctx, rl, task.ID)
			return CycleResult{Cycle: n, TaskID: task.ID, Outcome: mind.OutcomeFailure, Err: err}
		}
		log.Errorw("execution failed", "cycle", n, "task", task.ID, "error", err)
		o.metrics.RecordFailure()
		o.emitter.Emit(EventError, map[string]any{"cycle": n, "task": task.ID, "error": err.Error()})
		o.emitter.Emit(EventCycleComplete, map[string]any{
			"cycle":   n,
			"task":    task.ID,
			"outcome": string(mind.OutcomeFailure),
			"error":   err.Error(),
		})
		return CycleResult{Cycle: n, TaskID: task.ID, Outcome: mind.OutcomeFailure, Err: err}
	}

	o.applyExecution(ctx, n, task, exec)

	if exec.Result == mind.OutcomeFailure {
		o.metrics.RecordFailure()
	} else {
		o.metrics.RecordSuccess()
	}

	if exec.Result == mind.OutcomeSuccess || exec.Result == mind.OutcomePartial {
		rec := o.sub.Reconsider(ctx, task, exec.Summary)
		o.emitter.Emit(EventReconsiderationComplete, map[string]any{
			"cycle":                n,
			"task":                 task.ID,
			"outcomeMatchesIntent": rec.OutcomeMatchesIntent,
			"qualityScore":         rec.QualityScore,
			"needsReassessment":    rec.NeedsReassessment,
		})
	}

	o.emitter.Emit(EventCycleComplete, map[string]any{
		"cycle":   n,
		"task":    task.ID,
		"outcome": string(exec.Result),
		"summary": exec.Summary,
	})
	return CycleResult{Cycle: n, TaskID: task.ID, Outcome: exec.Result}
}

// applyExecution lands the side effects of a finished execution:
// progress entry, task completion, and governed proposals.
func (o *Orchestrator) applyExecution(ctx context.Context, n uint64, task plan.Task, exec mind.ExecuteResult) {
	log := logging.Loop()

	if exec.ProgressEntry != "" {
		if err := o.sub.LogProgress(exec.ProgressEntry); err != nil {
			log.Warnw("progress entry failed", "cycle", n, "error", err)
		}
	}

	if exec.Result == mind.OutcomeSuccess {
		if err := o.sub.MarkTaskComplete(task.ID); err != nil {
			log.Warnw("mark complete failed", "cycle", n, "task", task.ID, "error", err)
		}
	}

	if exec.Result != mind.OutcomeFailure {
		if exec.SkillUpdates != "" {
			if err := o.sub.UpdateSkills(exec.SkillUpdates); err != nil {
				log.Warnw("skill update failed", "cycle", n, "error", err)
			}
		}
		if exec.MemoryUpdates != "" {
			if err := o.sub.UpdateMemory(exec.MemoryUpdates); err != nil {
				log.Warnw("memory update failed", "cycle", n, "error", err)
			}
		}
	}

	if exec.Summary != "" {
		if err := o.sub.LogConversation(exec.Summary); err != nil {
			log.Warnw("conversation entry failed", "cycle", n, "error", err)
		}
	}

	if len(exec.Proposals) == 0 {
		return
	}
	evals := o.superego.EvaluateProposals(ctx, exec.Proposals)
	for _, ev := range evals {
		if !ev.Approved {
			log.Infow("proposal rejected", "cycle", n, "kind", ev.Proposal.Kind, "reason", ev.Reason)
			continue
		}
		var err error
		switch ev.Proposal.Kind {
		case "memory":
			err = o.sub.UpdateMemory(ev.Proposal.Content)
		case "skill":
			err = o.sub.UpdateSkills(ev.Proposal.Content)
		default:
			log.Warnw("proposal of unknown kind approved, ignoring", "kind", ev.Proposal.Kind)
		}
		if err != nil {
			log.Warnw("approved proposal failed to land", "cycle", n, "kind", ev.Proposal.Kind, "error", err)
		}
	}
}

// afterCycle runs once per cycle after the metrics update: the audit
// check fires on the post-cycle totals, then the periodic autonomy
// reminder is queued.
func (o *Orchestrator) afterCycle(ctx context.Context, n uint64) {
	o.maybeAudit(ctx)

	if o.cfg.AutonomyReminderInterval > 0 && n > 0 && n%uint64(o.cfg.AutonomyReminderInterval) == 0 {
		o.injector.Push(o.cfg.reminderText())
		o.emitter.Emit(EventAutonomyReminderInjected, map[string]any{"cycle": n})
	}
}

// maybeAudit fires a superego audit when one was explicitly requested
// or when the total cycle count crosses the configured interval. The
// counter increments synchronously so observers never see a completed
// audit with a stale count; the audit session itself runs detached.
func (o *Orchestrator) maybeAudit(ctx context.Context) {
	total := o.metrics.Get().Total

	due := o.auditRequested.Swap(false)
	if !due && o.cfg.SuperegoAuditInterval > 0 && total > 0 &&
		total%uint64(o.cfg.SuperegoAuditInterval) == 0 && o.lastAuditTotal.Load() != total {
		due = true
	}
	if !due {
		return
	}
	if !o.auditInFlight.CompareAndSwap(false, true) {
		logging.Loop().Debugw("audit already in flight, skipping")
		return
	}
	o.lastAuditTotal.Store(total)
	o.metrics.RecordAudit()

	cycle := o.cycle.Load()
	go func() {
		defer o.auditInFlight.Store(false)
		report, err := o.superego.Audit(context.WithoutCancel(ctx), cycle)
		if err != nil {
			logging.Loop().Warnw("audit failed", "cycle", cycle, "error", err)
			o.emitter.Emit(EventError, map[string]any{"source": "audit", "error": err.Error()})
			return
		}
		o.emitter.Emit(EventAuditComplete, map[string]any{
			"cycle":    cycle,
			"findings": len(report.Findings),
			"summary":  report.Summary,
		})
	}()
}

// hibernate parks the loop until the provider's reset instant. The
// timer can be woken early (nudges, stop) but the reset is re-checked
// after every wake, so a nudge cannot shortcut the rate limit.
func (o *Orchestrator) hibernate(ctx context.Context, rlErr *session.RateLimitError, taskID string) {
	now := o.clock.Now()
	reset := ratelimit.ParseReset(rlErr.RawResponse, now)
	if reset == nil {
		t := now.Add(fallbackHibernation)
		reset = &t
		logging.Loop().Warnw("rate limit reset unparseable, using fallback",
			"fallback", fallbackHibernation.String())
	}

	if o.rl != nil {
		if err := o.rl.SaveStateBeforeSleep(*reset, taskID); err != nil {
			logging.Loop().Errorw("hibernation state save failed", "error", err)
		}
	}
	if err := o.transition(StateSleeping); err != nil {
		logging.Loop().Warnw("hibernation transition refused", "error", err)
	}
	logging.Loop().Infow("hibernating for rate limit", "until", reset.UTC().Format(time.RFC3339))

	o.sleepUntilReset(ctx, *reset)
}

// ResumeHibernation re-enters a recorded rate-limit sleep after a
// process restart. The orchestrator moves STOPPED to SLEEPING and the
// calling goroutine blocks until the reset time, then the loop resumes.
func (o *Orchestrator) ResumeHibernation(ctx context.Context, reset time.Time) error {
	if err := o.InitializeSleeping(); err != nil {
		return err
	}
	logging.Loop().Infow("resuming hibernation", "until", reset.UTC().Format(time.RFC3339))
	o.sleepUntilReset(ctx, reset)
	return nil
}

// sleepUntilReset parks until the reset time passes, tolerating timer
// wakes that arrive early. It then clears the restart context and
// moves a still-sleeping loop back to RUNNING.
func (o *Orchestrator) sleepUntilReset(ctx context.Context, reset time.Time) {
	o.setRateLimitUntil(reset)

	for {
		remaining := reset.Sub(o.clock.Now())
		if remaining <= 0 {
			break
		}
		if !o.timer.Delay(ctx, remaining) {
			return // context canceled; restart context stays for next boot
		}
		if o.State() == StateStopped {
			return
		}
	}

	o.setRateLimitUntil(time.Time{})
	if o.rl != nil {
		if err := o.rl.ClearRestartContext(); err != nil {
			logging.Loop().Warnw("restart context clear failed", "error", err)
		}
	}
	if o.State() == StateSleeping {
		if err := o.transition(StateRunning); err != nil {
			logging.Loop().Warnw("wake transition refused", "error", err)
		}
	}
	logging.Loop().Infow("rate limit hibernation over, resuming")
}
