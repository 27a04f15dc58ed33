package substrate

import (
	"fmt"
	"time"

	"anima/internal/logging"
)

// TimestampLayout is the ISO-8601-with-milliseconds form used across the
// substrate: progress entries, conversation lines, hibernation context.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// FormatTimestamp renders t in UTC using TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Writer replaces whole documents. It refuses identifiers whose mode is
// not overwrite, validates, redacts secrets, and writes under the file
// lock, invalidating the reader cache before release.
type Writer struct {
	fs     FileSystem
	reader *Reader
	lock   *FileLock
}

// NewWriter wires a writer over the same filesystem, reader, and lock
// registry the rest of the substrate uses.
func NewWriter(fs FileSystem, reader *Reader, lock *FileLock) *Writer {
	return &Writer{fs: fs, reader: reader, lock: lock}
}

// Write validates and persists content for an overwrite-mode identifier.
func (w *Writer) Write(id FileID, content string) error {
	spec, err := Lookup(id)
	if err != nil {
		return err
	}
	if spec.Mode != ModeOverwrite {
		return fmt.Errorf("%w: %s is %s, use the appender", ErrContractViolation, id, spec.Mode)
	}
	if spec.Validate != nil {
		if err := spec.Validate(content); err != nil {
			return fmt.Errorf("%s: %w", id, err)
		}
	}

	content = redactAndWarn(id, content)

	path, err := w.reader.PathFor(id)
	if err != nil {
		return err
	}

	release := w.lock.Acquire(id)
	defer release()

	if err := w.fs.WriteFile(path, []byte(content)); err != nil {
		return err
	}
	w.reader.Invalidate(path)

	logging.Substrate().Debugw("wrote substrate file",
		"file", string(id),
		"bytes", len(content),
	)
	return nil
}
