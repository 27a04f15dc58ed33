package mind

import (
	"context"
	"fmt"
	"time"

	"anima/internal/logging"
	"anima/internal/plan"
	"anima/internal/session"
	"anima/internal/substrate"
)

// Deps is the plumbing every shim shares.
type Deps struct {
	Launcher session.Launcher
	Prompts  PromptBuilder
	Classify *Classifier
	Reader   *substrate.Reader
	Writer   *substrate.Writer
	Appender *substrate.Appender
	Clock    substrate.Clock

	// Defaults seed every launch; shims fill in Model and callbacks.
	Defaults session.Options
}

func (d *Deps) launchOpts(role Role, operation string) session.Options {
	opts := d.Defaults
	opts.Role = string(role)
	opts.Model = d.Classify.ModelFor(operation)
	return opts
}

// Decision is the Ego's choice of what happens next.
type Decision string

const (
	DecisionDispatch   Decision = "dispatch"
	DecisionUpdatePlan Decision = "update_plan"
	DecisionConverse   Decision = "converse"
	DecisionIdle       Decision = "idle"
)

// Ego is the deciding role: it chooses the next action, answers the
// user, and reads the plan for dispatch.
type Ego struct {
	deps Deps
}

// NewEgo builds the Ego shim.
func NewEgo(deps Deps) *Ego {
	return &Ego{deps: deps}
}

// Decide asks the model what to do next. A parse failure or launch
// error degrades to idle; the loop must keep running.
func (e *Ego) Decide(ctx context.Context) (Decision, error) {
	system, user := e.deps.Prompts.Build(RoleEgo, "decide",
		`Choose the next action. Reply with JSON: {"action": "dispatch" | "update_plan" | "converse" | "idle"}`)

	res, err := e.deps.Launcher.Launch(ctx, session.Request{SystemPrompt: system, UserMessage: user},
		e.deps.launchOpts(RoleEgo, "decide"))
	if err != nil {
		return DecisionIdle, err
	}

	var reply struct {
		Action string `json:"action"`
	}
	if err := DecodeReply(res.RawOutput, &reply); err != nil {
		logging.Mind().Warnw("decide reply unparseable, idling", "error", err)
		return DecisionIdle, nil
	}
	switch Decision(reply.Action) {
	case DecisionDispatch, DecisionUpdatePlan, DecisionConverse, DecisionIdle:
		return Decision(reply.Action), nil
	default:
		logging.Mind().Warnw("decide reply unknown action, idling", "action", reply.Action)
		return DecisionIdle, nil
	}
}

// RespondOptions tune a conversational session.
type RespondOptions struct {
	IdleTimeout time.Duration
	Injector    *session.Injector
}

// RespondToMessage opens a conversational session for a user message
// and returns the free-text reply.
func (e *Ego) RespondToMessage(ctx context.Context, message string, onLog func(session.ProcessLogEntry), ropts RespondOptions) (string, error) {
	system, user := e.deps.Prompts.Build(RoleEgo, "respond_to_message",
		fmt.Sprintf("The user says:\n\n%s\n\nReply conversationally, as yourself.", message))

	opts := e.deps.launchOpts(RoleEgo, "respond_to_message")
	opts.OnLogEntry = onLog
	opts.IdleTimeout = ropts.IdleTimeout
	opts.Injector = ropts.Injector

	res, err := e.deps.Launcher.Launch(ctx, session.Request{SystemPrompt: system, UserMessage: user}, opts)
	if err != nil {
		return "", err
	}
	return res.RawOutput, nil
}

// DispatchNext reads PLAN and returns the first pending task. It is
// deterministic: no session is launched, and the task id is the ordinal
// of the checkbox within the ## Tasks section. A nil task means idle.
func (e *Ego) DispatchNext(ctx context.Context) (*plan.Task, error) {
	_, content, err := e.deps.Reader.Read(substrate.FilePlan)
	if err != nil {
		if substrate.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return plan.FirstPending(plan.Parse(content)), nil
}
