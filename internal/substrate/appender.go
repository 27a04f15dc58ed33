package substrate

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"anima/internal/logging"
)

// DefaultRotateThreshold is the PROGRESS size at which the live file is
// archived and re-initialized.
const DefaultRotateThreshold = 512 * 1024

// Appender adds timestamped role-tagged entries to append-only files.
// Appends to PROGRESS rotate the file synchronously once it crosses the
// size threshold, so one append may observe the archive copy.
type Appender struct {
	fs     FileSystem
	reader *Reader
	lock   *FileLock
	clock  Clock

	// RotateThreshold overrides DefaultRotateThreshold when positive.
	RotateThreshold int64
}

// NewAppender wires an appender over shared substrate plumbing.
func NewAppender(fs FileSystem, reader *Reader, lock *FileLock, clock Clock) *Appender {
	return &Appender{fs: fs, reader: reader, lock: lock, clock: clock}
}

// Append writes "[ts] [role] entry\n" to an append-only identifier.
func (a *Appender) Append(id FileID, role, entry string) error {
	spec, err := Lookup(id)
	if err != nil {
		return err
	}
	if spec.Mode != ModeAppendOnly {
		return fmt.Errorf("%w: %s is %s, use the writer", ErrContractViolation, id, spec.Mode)
	}

	entry = redactAndWarn(id, entry)

	path, err := a.reader.PathFor(id)
	if err != nil {
		return err
	}

	release := a.lock.Acquire(id)
	defer release()

	if id == FileProgress {
		if err := a.maybeRotate(path); err != nil {
			return err
		}
	}

	line := fmt.Sprintf("[%s] [%s] %s\n", FormatTimestamp(a.clock.Now()), role, entry)
	if err := a.fs.AppendFile(path, []byte(line)); err != nil {
		return err
	}
	a.reader.Invalidate(path)

	return nil
}

func (a *Appender) threshold() int64 {
	if a.RotateThreshold > 0 {
		return a.RotateThreshold
	}
	return DefaultRotateThreshold
}

// maybeRotate archives the live PROGRESS file once its size reaches the
// threshold. Called with the PROGRESS lock held.
func (a *Appender) maybeRotate(path string) error {
	st, err := a.fs.Stat(path)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if st.Size < a.threshold() {
		return nil
	}

	ts := strings.ReplaceAll(FormatTimestamp(a.clock.Now()), ":", "-")
	dir := filepath.Join(filepath.Dir(path), "progress")
	archive := filepath.Join(dir, fmt.Sprintf("PROGRESS-%s.md", ts))

	if err := a.fs.MkdirAll(dir); err != nil {
		return err
	}
	if err := a.fs.CopyFile(path, archive); err != nil {
		return err
	}

	header := fmt.Sprintf("# Progress Log\n\n[%s] [SYSTEM] Log rotated; earlier entries moved to %s\n",
		FormatTimestamp(a.clock.Now()), filepath.ToSlash(filepath.Join("progress", filepath.Base(archive))))
	if err := a.fs.WriteFile(path, []byte(header)); err != nil {
		return err
	}
	a.reader.Invalidate(path)

	logging.Substrate().Infow("rotated progress log",
		"archive", archive,
		"bytes", st.Size,
	)
	return nil
}
