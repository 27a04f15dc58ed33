package mind

import (
	"fmt"
	"strings"

	"anima/internal/substrate"
)

// PromptBuilder composes the system prompt and user message for a role
// operation. The shims consume the interface; prompt engineering beyond
// the substrate-grounded default lives behind it.
type PromptBuilder interface {
	Build(role Role, operation, instruction string) (systemPrompt, userMessage string)
}

// SubstratePrompts is the default builder: a role preamble, the
// substrate excerpts the role needs, and the operation instruction.
type SubstratePrompts struct {
	reader *substrate.Reader
}

// NewSubstratePrompts builds the default prompt builder.
func NewSubstratePrompts(reader *substrate.Reader) *SubstratePrompts {
	return &SubstratePrompts{reader: reader}
}

var rolePreambles = map[Role]string{
	RoleEgo: "You are the Ego: the deliberate, conscious decision-maker. " +
		"You choose what happens next and you speak for the agent.",
	RoleSubconscious: "You are the Subconscious: the executor. " +
		"You carry out one task at a time and report exactly what you did.",
	RoleSuperego: "You are the Superego: the governor. " +
		"You audit the substrate for integrity and judge proposals against the charter.",
	RoleId: "You are the Id: the source of drives. " +
		"You notice when nothing is happening and propose what to want next.",
}

// roleContext lists which substrate files ground each role's prompt.
var roleContext = map[Role][]substrate.FileID{
	RoleEgo:          {substrate.FileCharter, substrate.FileValues, substrate.FilePlan, substrate.FileMemory},
	RoleSubconscious: {substrate.FileCharter, substrate.FilePlan, substrate.FileSkills, substrate.FileHabits},
	RoleSuperego:     {substrate.FileCharter, substrate.FileValues, substrate.FileSuperego, substrate.FileSecurity},
	RoleId:           {substrate.FileCharter, substrate.FileIdDrives, substrate.FilePlan},
}

// excerptLimit caps each substrate excerpt so one oversized file cannot
// crowd out the rest of the prompt.
const excerptLimit = 4000

// Build assembles the prompts. Missing substrate files are skipped.
func (p *SubstratePrompts) Build(role Role, operation, instruction string) (string, string) {
	var sb strings.Builder
	if preamble, ok := rolePreambles[role]; ok {
		sb.WriteString(preamble)
		sb.WriteString("\n")
	}

	for _, id := range roleContext[role] {
		_, content := p.reader.ReadOrEmpty(id)
		if content == "" {
			continue
		}
		if len(content) > excerptLimit {
			content = content[:excerptLimit] + "\n[truncated]"
		}
		fmt.Fprintf(&sb, "\n--- %s ---\n%s\n", id, strings.TrimSpace(content))
	}

	return sb.String(), instruction
}
