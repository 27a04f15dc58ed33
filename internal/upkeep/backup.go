// Package upkeep holds the peripheral schedulers: substrate backups,
// the email digest, and the health probe. Each runs on its own cadence
// and reports through the loop's event emitter.
package upkeep

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"anima/internal/config"
	"anima/internal/logging"
	"anima/internal/loop"
	"anima/internal/substrate"
)

const backupDirLayout = "2006-01-02T15-04-05Z"

// Backup copies the substrate tree to a dated directory on a schedule
// and prunes old copies down to the retention count. The last-backup
// marker lives in the state dir, never inside the substrate it copies.
type Backup struct {
	cfg           config.BackupConfig
	substrateRoot string
	backupPath    string
	statePath     string
	clock         substrate.Clock
	emitter       *loop.Emitter
}

// NewBackup wires the backup scheduler.
func NewBackup(cfg config.BackupConfig, substrateRoot, backupPath, statePath string,
	clock substrate.Clock, emitter *loop.Emitter) *Backup {
	return &Backup{
		cfg:           cfg,
		substrateRoot: substrateRoot,
		backupPath:    backupPath,
		statePath:     statePath,
		clock:         clock,
		emitter:       emitter,
	}
}

// Run backs up on the configured interval until the context ends. The
// first check happens immediately, so a long-stopped agent catches up
// on boot.
func (b *Backup) Run(ctx context.Context) error {
	if !b.cfg.Enabled {
		logging.Upkeep().Debugw("backups disabled")
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(b.cfg.Interval() / 4)
	defer ticker.Stop()
	for {
		if err := b.RunOnce(); err != nil {
			logging.Upkeep().Errorw("backup failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce performs a backup if one is due, then prunes.
func (b *Backup) RunOnce() error {
	now := b.clock.Now().UTC()
	if last, ok := b.lastBackup(); ok && now.Sub(last) < b.cfg.Interval() {
		return nil
	}

	dest := filepath.Join(b.backupPath, "backup-"+now.Format(backupDirLayout))
	if err := copyTree(b.substrateRoot, dest); err != nil {
		return fmt.Errorf("backup copy: %w", err)
	}
	if err := b.recordBackup(now); err != nil {
		return err
	}
	pruned, err := b.prune()
	if err != nil {
		logging.Upkeep().Warnw("backup prune failed", "error", err)
	}

	logging.Upkeep().Infow("backup complete", "dest", dest, "pruned", pruned)
	if b.emitter != nil {
		b.emitter.Emit(loop.EventBackupComplete, map[string]any{
			"path":   dest,
			"pruned": pruned,
		})
	}
	return nil
}

func (b *Backup) markerPath() string {
	return filepath.Join(b.statePath, "config", "last-backup.txt")
}

func (b *Backup) lastBackup() (time.Time, bool) {
	raw, err := os.ReadFile(b.markerPath())
	if err != nil {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(string(raw)))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func (b *Backup) recordBackup(now time.Time) error {
	path := b.markerPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(now.Format(time.RFC3339)+"\n"), 0o644)
}

// prune removes the oldest backups beyond the retention count and
// returns how many were deleted.
func (b *Backup) prune() (int, error) {
	retain := b.cfg.RetentionCount
	if retain <= 0 {
		retain = 14
	}
	entries, err := os.ReadDir(b.backupPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	var backups []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "backup-") {
			backups = append(backups, e.Name())
		}
	}
	if len(backups) <= retain {
		return 0, nil
	}
	sort.Strings(backups) // dated names sort chronologically

	doomed := backups[:len(backups)-retain]
	for _, name := range doomed {
		if err := os.RemoveAll(filepath.Join(b.backupPath, name)); err != nil {
			return 0, err
		}
	}
	return len(doomed), nil
}

func copyTree(src, dest string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
