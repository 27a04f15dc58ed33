// Package usage keeps the token ledger: how many input and output
// tokens each role and model has consumed, persisted as JSON beside the
// substrate.
package usage

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/natefinch/atomic"

	"anima/internal/logging"
	"anima/internal/session"
	"anima/internal/substrate"
)

// TokenCounts holds input/output sums.
type TokenCounts struct {
	Input  int64 `json:"input"`
	Output int64 `json:"output"`
	Total  int64 `json:"total"`
}

func (c *TokenCounts) add(u session.Usage) {
	c.Input += int64(u.InputTokens)
	c.Output += int64(u.OutputTokens)
	c.Total += int64(u.InputTokens) + int64(u.OutputTokens)
}

// Snapshot is the ledger at a point in time.
type Snapshot struct {
	Since    time.Time              `json:"since"`
	Sessions uint64                 `json:"sessions"`
	Total    TokenCounts            `json:"total"`
	ByRole   map[string]TokenCounts `json:"byRole"`
	ByModel  map[string]TokenCounts `json:"byModel"`
}

// Tracker accumulates session usage and persists it as JSON. Records
// mark the ledger dirty; Flush writes only when something changed.
type Tracker struct {
	mu       sync.Mutex
	data     Snapshot
	filePath string
	dirty    bool
	clock    substrate.Clock
}

// NewTracker loads or initializes the ledger at dir/usage.json.
func NewTracker(dir string, clock substrate.Clock) (*Tracker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	t := &Tracker{
		filePath: filepath.Join(dir, "usage.json"),
		clock:    clock,
		data: Snapshot{
			Since:   clock.Now().UTC(),
			ByRole:  make(map[string]TokenCounts),
			ByModel: make(map[string]TokenCounts),
		},
	}
	if err := t.load(); err != nil {
		logging.Usage().Warnw("usage ledger unreadable, starting fresh",
			"path", t.filePath, "error", err)
	}
	return t, nil
}

func (t *Tracker) load() error {
	raw, err := os.ReadFile(t.filePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var loaded Snapshot
	if err := json.Unmarshal(raw, &loaded); err != nil {
		return err
	}
	if loaded.ByRole == nil {
		loaded.ByRole = make(map[string]TokenCounts)
	}
	if loaded.ByModel == nil {
		loaded.ByModel = make(map[string]TokenCounts)
	}
	if loaded.Since.IsZero() {
		loaded.Since = t.clock.Now().UTC()
	}
	t.mu.Lock()
	t.data = loaded
	t.mu.Unlock()
	return nil
}

// Record adds one session's usage under the given role and model.
// Sessions that report no tokens still count toward the session total.
func (t *Tracker) Record(role, model string, u session.Usage) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.data.Sessions++
	t.data.Total.add(u)

	byRole := t.data.ByRole[role]
	byRole.add(u)
	t.data.ByRole[role] = byRole

	if model != "" {
		byModel := t.data.ByModel[model]
		byModel.add(u)
		t.data.ByModel[model] = byModel
	}
	t.dirty = true
}

// Snapshot returns a copy of the ledger.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := t.data
	out.ByRole = make(map[string]TokenCounts, len(t.data.ByRole))
	for k, v := range t.data.ByRole {
		out.ByRole[k] = v
	}
	out.ByModel = make(map[string]TokenCounts, len(t.data.ByModel))
	for k, v := range t.data.ByModel {
		out.ByModel[k] = v
	}
	return out
}

// Flush persists the ledger when dirty. Safe to call on a schedule.
func (t *Tracker) Flush() error {
	t.mu.Lock()
	if !t.dirty {
		t.mu.Unlock()
		return nil
	}
	raw, err := json.MarshalIndent(t.data, "", "  ")
	t.dirty = false
	t.mu.Unlock()
	if err != nil {
		return err
	}
	return atomic.WriteFile(t.filePath, bytes.NewReader(raw))
}
