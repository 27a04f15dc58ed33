package mind

// Tier is a model tier.
type Tier int

const (
	// TierStrategic handles decisions and governance.
	TierStrategic Tier = iota
	// TierTactical handles execution, drives, and summaries.
	TierTactical
)

// Classifier maps operation names to model tiers so each shim launches
// on the right model. Unknown operations get the tactical tier.
type Classifier struct {
	StrategicModel string
	TacticalModel  string

	// Overrides pins specific operations to a tier, winning over the
	// built-in table.
	Overrides map[string]Tier
}

var defaultTiers = map[string]Tier{
	"decide":             TierStrategic,
	"respond_to_message": TierStrategic,
	"audit":              TierStrategic,
	"evaluate_proposals": TierStrategic,
	"execute":            TierTactical,
	"reconsider":         TierTactical,
	"generate_drives":    TierTactical,
	"summarize":          TierTactical,
}

// TierFor resolves an operation's tier.
func (c *Classifier) TierFor(operation string) Tier {
	if c.Overrides != nil {
		if tier, ok := c.Overrides[operation]; ok {
			return tier
		}
	}
	if tier, ok := defaultTiers[operation]; ok {
		return tier
	}
	return TierTactical
}

// ModelFor resolves an operation to its model string.
func (c *Classifier) ModelFor(operation string) string {
	if c.TierFor(operation) == TierStrategic {
		return c.StrategicModel
	}
	return c.TacticalModel
}
