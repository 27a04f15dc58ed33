package mind

import (
	"context"
	"fmt"

	"anima/internal/logging"
	"anima/internal/plan"
	"anima/internal/session"
	"anima/internal/substrate"
)

// Drives is what the Id wants the agent to pursue next.
type Drives struct {
	GoalCandidates []string `json:"goalCandidates"`
}

// Id is the drive role: it detects idleness deterministically and
// proposes new goals when the agent has nothing to do.
type Id struct {
	deps Deps
}

// NewId builds the Id shim.
func NewId(deps Deps) *Id {
	return &Id{deps: deps}
}

// DetectIdle reports whether the plan has no pending task. Deterministic;
// no session is launched. A missing PLAN is idle.
func (i *Id) DetectIdle(ctx context.Context) (bool, error) {
	_, content, err := i.deps.Reader.Read(substrate.FilePlan)
	if err != nil {
		if substrate.IsNotFound(err) {
			return true, nil
		}
		return false, err
	}
	return !plan.HasPending(content), nil
}

// GenerateDrives asks the model for new goal candidates.
func (i *Id) GenerateDrives(ctx context.Context) (Drives, error) {
	system, user := i.deps.Prompts.Build(RoleId, "generate_drives",
		`The agent is idle: the plan has no pending tasks. Propose what to
want next, grounded in the drives document and the charter.

Reply with JSON: {"goalCandidates": ["...", "..."]}`)

	res, err := i.deps.Launcher.Launch(ctx, session.Request{SystemPrompt: system, UserMessage: user},
		i.deps.launchOpts(RoleId, "generate_drives"))
	if err != nil {
		return Drives{}, err
	}

	var drives Drives
	if err := DecodeReply(res.RawOutput, &drives); err != nil {
		logging.Mind().Warnw("drive reply unparseable", "error", err)
		return Drives{}, nil
	}
	return drives, nil
}

// AddGoalTasks appends approved goal candidates to PLAN as pending
// tasks tagged with the generation date.
func (i *Id) AddGoalTasks(goals []string) error {
	if len(goals) == 0 {
		return nil
	}
	if err := CheckPermission(RoleId, substrate.FilePlan, OpWrite); err != nil {
		return err
	}
	_, content, err := i.deps.Reader.Read(substrate.FilePlan)
	if err != nil {
		return err
	}
	suffix := plan.GeneratedSuffix(i.deps.Clock.Now())
	for _, goal := range goals {
		content, err = plan.AppendTask(content, fmt.Sprintf("%s %s", goal, suffix))
		if err != nil {
			return err
		}
	}
	return i.deps.Writer.Write(substrate.FilePlan, content)
}
