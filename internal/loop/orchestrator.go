package loop

import (
	"sync"
	"sync/atomic"
	"time"

	"anima/internal/conversation"
	"anima/internal/logging"
	"anima/internal/mind"
	"anima/internal/ratelimit"
	"anima/internal/session"
	"anima/internal/substrate"
)

// Config tunes the orchestrator.
type Config struct {
	CycleDelay time.Duration
	IdleDelay  time.Duration

	SuperegoAuditInterval    int
	AutonomyReminderInterval int
	AutonomyReminderText     string

	MaxConsecutiveIdleCycles int
	IdleSleepEnabled         bool

	ConversationIdleTimeout time.Duration
	ConversationMaxDuration time.Duration
}

// DefaultAutonomyReminder is injected every AutonomyReminderInterval
// cycles unless configuration overrides the text.
const DefaultAutonomyReminder = "Reminder: you are operating autonomously. " +
	"Review your plan, keep your progress log current, and persist anything worth keeping."

func (c Config) cycleDelay() time.Duration {
	if c.CycleDelay <= 0 {
		return 5 * time.Second
	}
	return c.CycleDelay
}

func (c Config) idleDelay() time.Duration {
	if c.IdleDelay <= 0 {
		return 30 * time.Second
	}
	return c.IdleDelay
}

func (c Config) reminderText() string {
	if c.AutonomyReminderText != "" {
		return c.AutonomyReminderText
	}
	return DefaultAutonomyReminder
}

func (c Config) conversationMaxDuration() time.Duration {
	if c.ConversationMaxDuration <= 0 {
		return 10 * time.Minute
	}
	return c.ConversationMaxDuration
}

// Options wires an Orchestrator.
type Options struct {
	Ego          *mind.Ego
	Subconscious *mind.Subconscious
	Superego     *mind.Superego
	Conversation *conversation.Manager
	RateLimit    *ratelimit.StateManager
	IdleHandler  IdleHandler // optional

	Clock    substrate.Clock
	Timer    Timer
	Metrics  *Metrics
	Emitter  *Emitter
	Injector *session.Injector

	// Shutdown receives the exit code on RequestRestart. Optional.
	Shutdown func(code int)

	Config Config
}

// Orchestrator drives the agent: one cycle or tick at a time, with
// cooperative step boundaries enforced by explicit state flags.
type Orchestrator struct {
	ego      *mind.Ego
	sub      *mind.Subconscious
	superego *mind.Superego
	conv     *conversation.Manager
	rl       *ratelimit.StateManager
	idle     IdleHandler

	clock    substrate.Clock
	timer    Timer
	metrics  *Metrics
	emitter  *Emitter
	injector *session.Injector
	shutdown func(code int)
	cfg      Config

	cycle          atomic.Uint64
	auditRequested atomic.Bool
	auditInFlight  atomic.Bool
	lastAuditTotal atomic.Uint64
	rateLimitUntil atomic.Int64 // UnixNano; 0 = none

	mu                 sync.Mutex
	state              State
	tickInProgress     bool
	conversationActive bool
	tickRequested      bool
	sessionActive      bool // any launcher session that accepts injection
}

// New builds an orchestrator in STOPPED.
func New(opts Options) *Orchestrator {
	if opts.Clock == nil {
		opts.Clock = substrate.WallClock{}
	}
	if opts.Timer == nil {
		opts.Timer = NewWallTimer()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	if opts.Emitter == nil {
		opts.Emitter = NewEmitter(opts.Clock)
	}
	if opts.Injector == nil {
		opts.Injector = session.NewInjector()
	}
	return &Orchestrator{
		ego:      opts.Ego,
		sub:      opts.Subconscious,
		superego: opts.Superego,
		conv:     opts.Conversation,
		rl:       opts.RateLimit,
		idle:     opts.IdleHandler,
		clock:    opts.Clock,
		timer:    opts.Timer,
		metrics:  opts.Metrics,
		emitter:  opts.Emitter,
		injector: opts.Injector,
		shutdown: opts.Shutdown,
		cfg:      opts.Config,
		state:    StateStopped,
	}
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Metrics returns the loop counters.
func (o *Orchestrator) Metrics() Snapshot {
	return o.metrics.Get()
}

// Emitter exposes the event fan-out for subscribers.
func (o *Orchestrator) Emitter() *Emitter {
	return o.emitter
}

// transition validates and applies a state change, emitting
// state_changed. The caller must not hold o.mu.
func (o *Orchestrator) transition(to State) error {
	o.mu.Lock()
	from := o.state
	if from == to {
		o.mu.Unlock()
		return &InvalidTransitionError{From: from, To: to}
	}
	if !canTransition(from, to) {
		o.mu.Unlock()
		return &InvalidTransitionError{From: from, To: to}
	}
	o.state = to
	o.mu.Unlock()

	logging.Loop().Infow("state changed", "from", string(from), "to", string(to))
	o.emitter.Emit(EventStateChanged, map[string]any{"from": from, "to": to})
	return nil
}

// Start moves STOPPED or SLEEPING to RUNNING.
func (o *Orchestrator) Start() error {
	err := o.transition(StateRunning)
	if err == nil {
		o.timer.Wake()
	}
	return err
}

// Pause moves RUNNING to PAUSED.
func (o *Orchestrator) Pause() error {
	return o.transition(StatePaused)
}

// Resume moves PAUSED to RUNNING.
func (o *Orchestrator) Resume() error {
	err := o.transition(StateRunning)
	if err == nil {
		o.timer.Wake()
	}
	return err
}

// InitializeSleeping moves STOPPED directly to SLEEPING, used when the
// process restarts into a known hibernation.
func (o *Orchestrator) InitializeSleeping() error {
	o.mu.Lock()
	if o.state != StateStopped {
		err := &InvalidTransitionError{From: o.state, To: StateSleeping}
		o.mu.Unlock()
		return err
	}
	o.state = StateSleeping
	o.mu.Unlock()
	o.emitter.Emit(EventStateChanged, map[string]any{"from": StateStopped, "to": StateSleeping})
	return nil
}

// Wake moves SLEEPING to RUNNING and drains any pending delay.
func (o *Orchestrator) Wake() error {
	if err := o.transition(StateRunning); err != nil {
		return err
	}
	o.timer.Wake()
	return nil
}

// Stop transitions to STOPPED from any active state. An in-flight
// session gets a persist-state message injected first so the model can
// flush durable writes before the process exits.
func (o *Orchestrator) Stop() error {
	o.injectIfActive("Persist your state before shutting down.")
	if err := o.transition(StateStopped); err != nil {
		return err
	}
	o.timer.Wake()
	return nil
}

// RequestRestart performs the graceful-stop injection, then invokes the
// shutdown callback with exit code 75 so a supervisor re-execs.
func (o *Orchestrator) RequestRestart() {
	o.injectIfActive("Persist your state before shutting down.")
	o.emitter.Emit(EventRestartRequested, map[string]any{"exitCode": 75})
	if err := o.transition(StateStopped); err == nil {
		o.timer.Wake()
	}
	if o.shutdown != nil {
		o.shutdown(75)
	}
}

// Nudge interrupts the current cycle delay. Rate-limit hibernation is
// not bypassed: the loop re-checks the reset instant after every wake.
func (o *Orchestrator) Nudge() {
	o.timer.Wake()
}

// RequestAudit flags an audit for the next loop boundary.
func (o *Orchestrator) RequestAudit() {
	o.auditRequested.Store(true)
	o.emitter.Emit(EventEvaluationRequested, map[string]any{"source": "request"})
}

// InjectMessage queues a message for the active session. With no
// session active this is a no-op beyond queueing: the message waits for
// the next session, and the event still fires so observers see intent.
func (o *Orchestrator) InjectMessage(message string) {
	o.mu.Lock()
	active := o.sessionActive
	o.mu.Unlock()

	o.injector.Push(message)
	if !active {
		logging.Loop().Debugw("no active session, message queued for next")
	}
	o.emitter.Emit(EventMessageInjected, map[string]any{"active": active})
}

func (o *Orchestrator) injectIfActive(message string) {
	o.mu.Lock()
	active := o.sessionActive
	o.mu.Unlock()
	if !active {
		return
	}
	o.injector.Push(message)
	o.emitter.Emit(EventMessageInjected, map[string]any{"active": true})
}

// setRateLimitUntil records the atomic rate-limit cell.
func (o *Orchestrator) setRateLimitUntil(t time.Time) {
	if t.IsZero() {
		o.rateLimitUntil.Store(0)
		return
	}
	o.rateLimitUntil.Store(t.UnixNano())
}

// RateLimitedUntil returns the reset instant, or zero when not limited.
func (o *Orchestrator) RateLimitedUntil() time.Time {
	n := o.rateLimitUntil.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// IsEffectivelyPaused reports whether the loop cannot make progress:
// paused, sleeping, or inside an unexpired rate limit.
func (o *Orchestrator) IsEffectivelyPaused() bool {
	if until := o.RateLimitedUntil(); !until.IsZero() && o.clock.Now().Before(until) {
		return true
	}
	s := o.State()
	return s == StatePaused || s == StateSleeping
}

func (o *Orchestrator) setSessionActive(active bool) {
	o.mu.Lock()
	o.sessionActive = active
	o.mu.Unlock()
}
