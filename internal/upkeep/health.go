package upkeep

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"anima/internal/logging"
	"anima/internal/loop"
	"anima/internal/substrate"
)

// Check is one probe result.
type Check struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// Report is the aggregate health view served by the edge.
type Report struct {
	Healthy bool      `json:"healthy"`
	Checked time.Time `json:"checked"`
	State   string    `json:"state"`
	Checks  []Check   `json:"checks"`
}

// Health probes the substrate, the loop, and the disk.
type Health struct {
	reader        *substrate.Reader
	orchestrator  *loop.Orchestrator
	substrateRoot string
	clock         substrate.Clock
	emitter       *loop.Emitter
}

// NewHealth wires the health prober.
func NewHealth(reader *substrate.Reader, orchestrator *loop.Orchestrator,
	substrateRoot string, clock substrate.Clock, emitter *loop.Emitter) *Health {
	return &Health{
		reader:        reader,
		orchestrator:  orchestrator,
		substrateRoot: substrateRoot,
		clock:         clock,
		emitter:       emitter,
	}
}

// Check runs every probe. A hibernating or paused loop is not a fault;
// only a loop that claims to run while rate limited is flagged.
func (h *Health) Check(_ context.Context) Report {
	report := Report{
		Healthy: true,
		Checked: h.clock.Now().UTC(),
		State:   string(h.orchestrator.State()),
	}

	report.add(h.checkSubstrate())
	report.add(h.checkDisk())
	report.add(h.checkLoop())

	if h.emitter != nil {
		h.emitter.Emit(loop.EventHealthCheckComplete, map[string]any{
			"healthy": report.Healthy,
			"state":   report.State,
		})
	}
	return report
}

func (r *Report) add(c Check) {
	r.Checks = append(r.Checks, c)
	if !c.OK {
		r.Healthy = false
	}
}

// checkSubstrate verifies the core files are readable. Files the agent
// has not created yet are fine; a read error on an existing one is not.
func (h *Health) checkSubstrate() Check {
	for _, spec := range substrate.AllFiles() {
		_, _, err := h.reader.Read(spec.ID)
		if err != nil && !substrate.IsNotFound(err) {
			return Check{
				Name:   "substrate",
				Detail: fmt.Sprintf("%s unreadable: %v", spec.ID, err),
			}
		}
	}
	return Check{Name: "substrate", OK: true}
}

func (h *Health) checkDisk() Check {
	probe := filepath.Join(h.substrateRoot, ".health-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return Check{Name: "disk", Detail: fmt.Sprintf("substrate not writable: %v", err)}
	}
	if err := os.Remove(probe); err != nil {
		logging.Upkeep().Warnw("health probe file not removed", "error", err)
	}
	return Check{Name: "disk", OK: true}
}

func (h *Health) checkLoop() Check {
	state := h.orchestrator.State()
	if until := h.orchestrator.RateLimitedUntil(); !until.IsZero() &&
		state == loop.StateRunning && h.clock.Now().Before(until) {
		return Check{
			Name:   "loop",
			Detail: fmt.Sprintf("running inside rate limit window until %s", until.UTC().Format(time.RFC3339)),
		}
	}
	return Check{Name: "loop", OK: true}
}
