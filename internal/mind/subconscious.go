package mind

import (
	"context"
	"fmt"

	"anima/internal/logging"
	"anima/internal/plan"
	"anima/internal/session"
	"anima/internal/substrate"
)

// ExecuteOutcome classifies a task execution.
type ExecuteOutcome string

const (
	OutcomeSuccess ExecuteOutcome = "success"
	OutcomePartial ExecuteOutcome = "partial"
	OutcomeFailure ExecuteOutcome = "failure"
)

// Proposal is a substrate change the subconscious wants governance to
// approve before it lands.
type Proposal struct {
	Kind      string `json:"kind"` // "memory" or "skill"
	Content   string `json:"content"`
	Rationale string `json:"rationale,omitempty"`
}

// ExecuteResult is the structured reply from one task execution.
type ExecuteResult struct {
	Result        ExecuteOutcome `json:"result"`
	Summary       string         `json:"summary"`
	ProgressEntry string         `json:"progressEntry"`
	SkillUpdates  string         `json:"skillUpdates,omitempty"`
	MemoryUpdates string         `json:"memoryUpdates,omitempty"`
	Proposals     []Proposal     `json:"proposals,omitempty"`
}

// Reconsideration is the bounded self-evaluation after a dispatch.
// Its zero value is the conservative default used when parsing fails.
type Reconsideration struct {
	OutcomeMatchesIntent bool `json:"outcomeMatchesIntent"`
	QualityScore         int  `json:"qualityScore"`
	NeedsReassessment    bool `json:"needsReassessment"`
}

// Subconscious executes tasks and maintains the execution record.
type Subconscious struct {
	deps Deps
}

// NewSubconscious builds the Subconscious shim.
func NewSubconscious(deps Deps) *Subconscious {
	return &Subconscious{deps: deps}
}

// Execute runs one task through a session and parses the structured
// reply. Launch errors surface to the caller; parse failures degrade to
// a failure result carrying the parser message.
func (s *Subconscious) Execute(ctx context.Context, task plan.Task, onLog func(session.ProcessLogEntry)) (ExecuteResult, error) {
	system, user := s.deps.Prompts.Build(RoleSubconscious, "execute", fmt.Sprintf(
		`Execute this task: %s

Reply with JSON:
{"result": "success" | "partial" | "failure",
 "summary": "what happened",
 "progressEntry": "one line for the progress log",
 "skillUpdates": "full replacement SKILLS markdown, or null",
 "memoryUpdates": "full replacement MEMORY markdown, or null",
 "proposals": [{"kind": "memory" | "skill", "content": "...", "rationale": "..."}]}`,
		task.Title))

	opts := s.deps.launchOpts(RoleSubconscious, "execute")
	opts.OnLogEntry = onLog

	res, err := s.deps.Launcher.Launch(ctx, session.Request{SystemPrompt: system, UserMessage: user}, opts)
	if err != nil {
		return ExecuteResult{Result: OutcomeFailure, Summary: err.Error()}, err
	}

	var parsed ExecuteResult
	if err := DecodeReply(res.RawOutput, &parsed); err != nil {
		logging.Mind().Warnw("execute reply unparseable", "task", task.ID, "error", err)
		return ExecuteResult{
			Result:  OutcomeFailure,
			Summary: fmt.Sprintf("unparseable execution reply: %v", err),
		}, nil
	}
	switch parsed.Result {
	case OutcomeSuccess, OutcomePartial, OutcomeFailure:
	default:
		parsed.Summary = fmt.Sprintf("unknown result %q: %s", parsed.Result, parsed.Summary)
		parsed.Result = OutcomeFailure
	}
	return parsed, nil
}

// Reconsider runs the bounded self-evaluation of a completed dispatch.
// Every failure path returns the conservative default: outcome does not
// match intent, quality zero, reassessment needed.
func (s *Subconscious) Reconsider(ctx context.Context, task plan.Task, summary string) Reconsideration {
	conservative := Reconsideration{NeedsReassessment: true}

	system, user := s.deps.Prompts.Build(RoleSubconscious, "reconsider", fmt.Sprintf(
		`You just executed %q and reported: %s

Evaluate your own work. Reply with JSON:
{"outcomeMatchesIntent": bool, "qualityScore": 0-10, "needsReassessment": bool}`,
		task.Title, summary))

	res, err := s.deps.Launcher.Launch(ctx, session.Request{SystemPrompt: system, UserMessage: user},
		s.deps.launchOpts(RoleSubconscious, "reconsider"))
	if err != nil {
		logging.Mind().Debugw("reconsideration failed", "task", task.ID, "error", err)
		return conservative
	}

	var parsed Reconsideration
	if err := DecodeReply(res.RawOutput, &parsed); err != nil {
		logging.Mind().Debugw("reconsideration unparseable", "task", task.ID, "error", err)
		return conservative
	}
	return parsed
}

// LogProgress appends one entry to PROGRESS as SUBCONSCIOUS.
func (s *Subconscious) LogProgress(entry string) error {
	if err := CheckPermission(RoleSubconscious, substrate.FileProgress, OpAppend); err != nil {
		return err
	}
	return s.deps.Appender.Append(substrate.FileProgress, string(RoleSubconscious), entry)
}

// LogConversation appends one entry to CONVERSATION as SUBCONSCIOUS.
func (s *Subconscious) LogConversation(entry string) error {
	if err := CheckPermission(RoleSubconscious, substrate.FileConversation, OpAppend); err != nil {
		return err
	}
	return s.deps.Appender.Append(substrate.FileConversation, string(RoleSubconscious), entry)
}

// MarkTaskComplete flips the task's checkbox in PLAN. Marking an
// already-done task is a no-op.
func (s *Subconscious) MarkTaskComplete(taskID string) error {
	if err := CheckPermission(RoleSubconscious, substrate.FilePlan, OpWrite); err != nil {
		return err
	}
	_, content, err := s.deps.Reader.Read(substrate.FilePlan)
	if err != nil {
		return err
	}
	updated, changed, err := plan.MarkDone(content, taskID)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	return s.deps.Writer.Write(substrate.FilePlan, updated)
}

// UpdateSkills overwrites SKILLS with the replacement document.
func (s *Subconscious) UpdateSkills(content string) error {
	if err := CheckPermission(RoleSubconscious, substrate.FileSkills, OpWrite); err != nil {
		return err
	}
	return s.deps.Writer.Write(substrate.FileSkills, content)
}

// UpdateMemory overwrites MEMORY with the replacement document.
func (s *Subconscious) UpdateMemory(content string) error {
	if err := CheckPermission(RoleSubconscious, substrate.FileMemory, OpWrite); err != nil {
		return err
	}
	return s.deps.Writer.Write(substrate.FileMemory, content)
}
