package loop

import (
	"context"

	"anima/internal/logging"
	"anima/internal/mind"
)

// IdleOutcome is the result of an idle escalation.
type IdleOutcome string

const (
	// IdleNotIdle means the handler found pending work after all.
	IdleNotIdle IdleOutcome = "not_idle"
	// IdlePlanCreated means new tasks were added to the plan.
	IdlePlanCreated IdleOutcome = "plan_created"
	// IdleNoGoals means the drive generator produced nothing.
	IdleNoGoals IdleOutcome = "no_goals"
	// IdleAllRejected means governance rejected every candidate goal.
	IdleAllRejected IdleOutcome = "all_rejected"
)

// IdleHandler decides what to do after a sustained idle streak.
type IdleHandler interface {
	HandleIdle(ctx context.Context) IdleOutcome
}

// DriveIdleHandler asks the Id for goal candidates and runs them past
// the Superego before adding survivors to the plan.
type DriveIdleHandler struct {
	id       *mind.Id
	superego *mind.Superego
}

// NewDriveIdleHandler builds the default idle handler.
func NewDriveIdleHandler(id *mind.Id, superego *mind.Superego) *DriveIdleHandler {
	return &DriveIdleHandler{id: id, superego: superego}
}

// HandleIdle runs the escalation: confirm the idleness, generate goal
// candidates, filter through governance, append approvals to the plan.
func (h *DriveIdleHandler) HandleIdle(ctx context.Context) IdleOutcome {
	log := logging.Loop()

	idle, err := h.id.DetectIdle(ctx)
	if err != nil {
		log.Warnw("idle detection failed", "error", err)
		return IdleNoGoals
	}
	if !idle {
		return IdleNotIdle
	}

	drives, err := h.id.GenerateDrives(ctx)
	if err != nil {
		log.Warnw("drive generation failed", "error", err)
		return IdleNoGoals
	}
	if len(drives.GoalCandidates) == 0 {
		return IdleNoGoals
	}

	proposals := make([]mind.Proposal, len(drives.GoalCandidates))
	for i, goal := range drives.GoalCandidates {
		proposals[i] = mind.Proposal{Kind: "goal", Content: goal}
	}
	evals := h.superego.EvaluateProposals(ctx, proposals)

	var approved []string
	for _, ev := range evals {
		if ev.Approved {
			approved = append(approved, ev.Proposal.Content)
		} else {
			log.Infow("goal candidate rejected", "goal", ev.Proposal.Content, "reason", ev.Reason)
		}
	}
	if len(approved) == 0 {
		return IdleAllRejected
	}

	if err := h.id.AddGoalTasks(approved); err != nil {
		log.Errorw("approved goals not added to plan", "error", err)
		return IdleNoGoals
	}
	log.Infow("idle escalation added goals", "count", len(approved))
	return IdlePlanCreated
}
