package conversation

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"anima/internal/logging"
	"anima/internal/mind"
	"anima/internal/substrate"
)

// Manager owns all writes to CONVERSATION: role-gated appends plus the
// maintenance rewrites (compaction, archiving) that the append-only
// contract reserves for this package. Maintenance rewrites happen under
// the file lock through the filesystem directly; role-level writers
// still cannot overwrite the log.
type Manager struct {
	fs       substrate.FileSystem
	reader   *substrate.Reader
	appender *substrate.Appender
	lock     *substrate.FileLock
	clock    substrate.Clock

	compactor *Compactor
	archiver  *Archiver

	mu             sync.Mutex
	baseline       time.Time // compaction baseline; zero until first append
	lastArchive    time.Time
	lastCompaction time.Time
}

// NewManager wires the conversation manager. archiver may be nil to
// disable archiving; compactor may be nil to disable compaction.
func NewManager(fs substrate.FileSystem, reader *substrate.Reader, appender *substrate.Appender,
	lock *substrate.FileLock, clock substrate.Clock, compactor *Compactor, archiver *Archiver) *Manager {
	return &Manager{
		fs:        fs,
		reader:    reader,
		appender:  appender,
		lock:      lock,
		clock:     clock,
		compactor: compactor,
		archiver:  archiver,
	}
}

// Append adds one role-tagged entry, running maintenance first when a
// threshold has tripped. SUPEREGO and ID are denied by the role matrix.
func (m *Manager) Append(ctx context.Context, role mind.Role, entry string) error {
	if err := mind.CheckPermission(role, substrate.FileConversation, mind.OpAppend); err != nil {
		return err
	}

	now := m.clock.Now()

	if m.archiver.Enabled() {
		m.mu.Lock()
		last := m.lastArchive
		if last.IsZero() {
			// First append seeds the archive interval.
			m.lastArchive = now
			last = now
		}
		m.mu.Unlock()

		_, content, err := m.reader.Read(substrate.FileConversation)
		if err == nil && m.archiver.ShouldArchive(content, last, now) {
			if err := m.archive(content, now); err != nil {
				logging.Conversation().Warnw("archive failed", "error", err)
			}
		}
	}

	if m.compactor != nil {
		m.mu.Lock()
		due := false
		if m.baseline.IsZero() {
			m.baseline = now
		} else if !now.Before(m.baseline.Add(time.Hour)) {
			due = true
			m.baseline = now
		}
		m.mu.Unlock()

		if due {
			if err := m.compact(ctx, now); err != nil {
				logging.Conversation().Warnw("compaction failed", "error", err)
			}
		}
	}

	return m.appender.Append(substrate.FileConversation, string(role), entry)
}

// ForceCompaction runs compaction now, bypassing the hourly throttle.
func (m *Manager) ForceCompaction(ctx context.Context) error {
	return m.compact(ctx, m.clock.Now())
}

// ForceArchive runs archiving now, bypassing the thresholds.
func (m *Manager) ForceArchive() error {
	_, content, err := m.reader.Read(substrate.FileConversation)
	if err != nil {
		return err
	}
	return m.archive(content, m.clock.Now())
}

// LastMaintenance returns the most recent compaction or archive instant.
func (m *Manager) LastMaintenance() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastArchive.After(m.lastCompaction) {
		return m.lastArchive
	}
	return m.lastCompaction
}

func (m *Manager) compact(ctx context.Context, now time.Time) error {
	_, content, err := m.reader.Read(substrate.FileConversation)
	if err != nil {
		if substrate.IsNotFound(err) {
			return nil
		}
		return err
	}

	cutoff := now.Add(-time.Hour)
	compacted, changed := m.compactor.Compact(ctx, content, cutoff)
	if !changed {
		return nil
	}

	path, err := m.reader.PathFor(substrate.FileConversation)
	if err != nil {
		return err
	}
	release := m.lock.Acquire(substrate.FileConversation)
	defer release()
	if err := m.fs.WriteFile(path, []byte(compacted)); err != nil {
		return err
	}
	m.reader.Invalidate(path)

	m.mu.Lock()
	m.lastCompaction = now
	m.mu.Unlock()

	logging.Conversation().Infow("compacted conversation",
		"cutoff", substrate.FormatTimestamp(cutoff))
	return nil
}

func (m *Manager) archive(content string, now time.Time) error {
	live, archived := m.archiver.Split(content)
	if archived == "" {
		return nil
	}

	path, err := m.reader.PathFor(substrate.FileConversation)
	if err != nil {
		return err
	}
	dir := filepath.Join(filepath.Dir(path), "archive", "conversation")
	archivePath := filepath.Join(dir, fmt.Sprintf("conversation-%s.md", now.UTC().Format("2006-01-02")))

	release := m.lock.Acquire(substrate.FileConversation)
	defer release()

	if err := m.fs.MkdirAll(dir); err != nil {
		return err
	}
	if err := m.fs.AppendFile(archivePath, []byte(archived)); err != nil {
		return err
	}
	if err := m.fs.WriteFile(path, []byte(live)); err != nil {
		return err
	}
	m.reader.Invalidate(path)

	m.mu.Lock()
	m.lastArchive = now
	m.mu.Unlock()

	logging.Conversation().Infow("archived conversation history",
		"archive", archivePath)
	return nil
}
