package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"anima/internal/logging"
)

// ProcessTracker records subprocess PIDs in a JSON file so an external
// supervisor can clean up sessions that outlived the runtime. A PID is
// registered at spawn, removed on clean exit, and marked abandoned when
// the launcher kills it (idle timeout). Missing PIDs are tolerated
// everywhere; the registry is advisory.
type ProcessTracker struct {
	mu   sync.Mutex
	path string
}

type trackedProcess struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"startedAt"`
	Abandoned bool      `json:"abandoned,omitempty"`
}

// NewProcessTracker stores the registry at dir/processes.json.
func NewProcessTracker(dir string) *ProcessTracker {
	return &ProcessTracker{path: filepath.Join(dir, "processes.json")}
}

// Register records a live PID.
func (t *ProcessTracker) Register(pid int) {
	t.mutate(func(procs map[int]*trackedProcess) {
		procs[pid] = &trackedProcess{PID: pid, StartedAt: time.Now().UTC()}
	})
}

// Abandon marks a PID as killed-but-possibly-lingering.
func (t *ProcessTracker) Abandon(pid int) {
	t.mutate(func(procs map[int]*trackedProcess) {
		if p, ok := procs[pid]; ok {
			p.Abandoned = true
		}
	})
}

// Exit removes a cleanly exited PID.
func (t *ProcessTracker) Exit(pid int) {
	t.mutate(func(procs map[int]*trackedProcess) {
		delete(procs, pid)
	})
}

// Live returns the registered PIDs, abandoned included.
func (t *ProcessTracker) Live() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	procs := t.load()
	pids := make([]int, 0, len(procs))
	for pid := range procs {
		pids = append(pids, pid)
	}
	return pids
}

func (t *ProcessTracker) mutate(fn func(map[int]*trackedProcess)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	procs := t.load()
	fn(procs)
	t.save(procs)
}

func (t *ProcessTracker) load() map[int]*trackedProcess {
	procs := make(map[int]*trackedProcess)
	data, err := os.ReadFile(t.path)
	if err != nil {
		return procs
	}
	var list []*trackedProcess
	if err := json.Unmarshal(data, &list); err != nil {
		logging.Session().Debugw("process registry unreadable, resetting", "path", t.path)
		return procs
	}
	for _, p := range list {
		procs[p.PID] = p
	}
	return procs
}

func (t *ProcessTracker) save(procs map[int]*trackedProcess) {
	list := make([]*trackedProcess, 0, len(procs))
	for _, p := range procs {
		list = append(list, p)
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(t.path), 0755); err != nil {
		return
	}
	if err := os.WriteFile(t.path, data, 0644); err != nil {
		logging.Session().Debugw("process registry write failed", "error", err)
	}
}
