package mind

import (
	"context"
	"fmt"
	"strings"

	"anima/internal/logging"
	"anima/internal/reports"
	"anima/internal/session"
)

// ProposalEvaluation is one governance verdict.
type ProposalEvaluation struct {
	Proposal Proposal `json:"proposal"`
	Approved bool     `json:"approved"`
	Reason   string   `json:"reason,omitempty"`
}

// AuditReport is the outcome of one governance pass.
type AuditReport struct {
	Findings            []string             `json:"findings"`
	ProposalEvaluations []ProposalEvaluation `json:"proposalEvaluations,omitempty"`
	Summary             string               `json:"summary"`
}

// Superego is the governance role: periodic audits and proposal
// evaluation. Audits write a dated report to the report store.
type Superego struct {
	deps  Deps
	store *reports.Store
}

// NewSuperego builds the Superego shim. store may be nil, in which case
// audits are not persisted.
func NewSuperego(deps Deps, store *reports.Store) *Superego {
	return &Superego{deps: deps, store: store}
}

// Audit runs one governance pass over the substrate. cycle tags the
// persisted report with the loop position that triggered it.
func (s *Superego) Audit(ctx context.Context, cycle uint64) (AuditReport, error) {
	system, user := s.deps.Prompts.Build(RoleSuperego, "audit",
		`Audit the substrate for integrity: stale goals, contradictions between
VALUES and recent actions, security concerns.

Reply with JSON:
{"findings": ["..."], "summary": "overall assessment"}`)

	res, err := s.deps.Launcher.Launch(ctx, session.Request{SystemPrompt: system, UserMessage: user},
		s.deps.launchOpts(RoleSuperego, "audit"))
	if err != nil {
		return AuditReport{}, err
	}

	var report AuditReport
	if err := DecodeReply(res.RawOutput, &report); err != nil {
		logging.Mind().Warnw("audit reply unparseable", "error", err)
		report = AuditReport{Summary: fmt.Sprintf("unparseable audit reply: %v", err)}
	}

	if s.store != nil {
		if _, err := s.store.Write(reports.Report{
			Cycle:    cycle,
			Findings: report.Findings,
			Summary:  report.Summary,
		}); err != nil {
			logging.Mind().Warnw("audit report not persisted", "error", err)
		}
	}
	return report, nil
}

// EvaluateProposals judges each proposal against the charter. The reply
// must carry one decision per proposal; any shortfall, launch error, or
// parse failure rejects the unjudged remainder.
func (s *Superego) EvaluateProposals(ctx context.Context, proposals []Proposal) []ProposalEvaluation {
	evals := make([]ProposalEvaluation, len(proposals))
	for i, p := range proposals {
		evals[i] = ProposalEvaluation{Proposal: p, Approved: false, Reason: "not evaluated"}
	}
	if len(proposals) == 0 {
		return evals
	}

	var listing strings.Builder
	for i, p := range proposals {
		fmt.Fprintf(&listing, "%d. [%s] %s (rationale: %s)\n", i+1, p.Kind, p.Content, p.Rationale)
	}
	system, user := s.deps.Prompts.Build(RoleSuperego, "evaluate_proposals", fmt.Sprintf(
		`The subconscious proposes these substrate changes:

%s
Approve or reject each. Reply with JSON:
{"decisions": [{"approved": bool, "reason": "..."}]}`, listing.String()))

	res, err := s.deps.Launcher.Launch(ctx, session.Request{SystemPrompt: system, UserMessage: user},
		s.deps.launchOpts(RoleSuperego, "evaluate_proposals"))
	if err != nil {
		logging.Mind().Warnw("proposal evaluation failed, rejecting all", "error", err)
		return evals
	}

	var reply struct {
		Decisions []struct {
			Approved bool   `json:"approved"`
			Reason   string `json:"reason"`
		} `json:"decisions"`
	}
	if err := DecodeReply(res.RawOutput, &reply); err != nil {
		logging.Mind().Warnw("proposal evaluation unparseable, rejecting all", "error", err)
		return evals
	}

	for i := range evals {
		if i < len(reply.Decisions) {
			evals[i].Approved = reply.Decisions[i].Approved
			evals[i].Reason = reply.Decisions[i].Reason
		}
	}
	return evals
}
