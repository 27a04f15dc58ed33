// Package loop is the cycle orchestrator: a state machine that
// schedules LLM-backed cycles, routes user messages, hibernates on
// provider rate limits, runs periodic governance audits, and enforces
// safe shutdown.
package loop

import "fmt"

// State is the orchestrator's lifecycle state.
type State string

const (
	StateStopped  State = "STOPPED"
	StateRunning  State = "RUNNING"
	StatePaused   State = "PAUSED"
	StateSleeping State = "SLEEPING"
)

// InvalidTransitionError reports a request outside the state diagram.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}

// transitions is the allowed edge set. SLEEPING is entered either by
// explicit InitializeSleeping from STOPPED or by the loop itself when a
// rate limit or idle escalation puts a RUNNING loop to sleep.
var transitions = map[State]map[State]bool{
	StateStopped:  {StateRunning: true, StateSleeping: true},
	StateRunning:  {StatePaused: true, StateStopped: true, StateSleeping: true},
	StatePaused:   {StateRunning: true, StateStopped: true},
	StateSleeping: {StateRunning: true, StateStopped: true},
}

// canTransition reports whether from -> to is an edge of the diagram.
func canTransition(from, to State) bool {
	return transitions[from][to]
}
