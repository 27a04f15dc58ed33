package substrate

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// FileID names a substrate document. The set is closed; write modes and
// validation rules are declared statically per identifier.
type FileID string

const (
	FilePlan           FileID = "PLAN"
	FileMemory         FileID = "MEMORY"
	FileSkills         FileID = "SKILLS"
	FileHabits         FileID = "HABITS"
	FileValues         FileID = "VALUES"
	FileIdDrives       FileID = "ID"
	FileSecurity       FileID = "SECURITY"
	FileCharter        FileID = "CHARTER"
	FileSuperego       FileID = "SUPEREGO"
	FileProgress       FileID = "PROGRESS"
	FileConversation   FileID = "CONVERSATION"
	FileRestartContext FileID = "RESTART_CONTEXT"
)

// WriteMode declares how a file may be mutated.
type WriteMode int

const (
	// ModeOverwrite replaces the whole document.
	ModeOverwrite WriteMode = iota
	// ModeAppendOnly adds timestamped entries to the end.
	ModeAppendOnly
)

func (m WriteMode) String() string {
	if m == ModeAppendOnly {
		return "append-only"
	}
	return "overwrite"
}

// FileSpec is one registry entry.
type FileSpec struct {
	ID       FileID
	Filename string
	Mode     WriteMode
	Validate func(content string) error
}

// registry is the static identifier table. Order matters only for listing.
var registry = []FileSpec{
	{FilePlan, "PLAN.md", ModeOverwrite, validatePlan},
	{FileMemory, "MEMORY.md", ModeOverwrite, validateMarkdown},
	{FileSkills, "SKILLS.md", ModeOverwrite, validateMarkdown},
	{FileHabits, "HABITS.md", ModeOverwrite, validateMarkdown},
	{FileValues, "VALUES.md", ModeOverwrite, validateMarkdown},
	{FileIdDrives, "ID.md", ModeOverwrite, validateMarkdown},
	{FileSecurity, "SECURITY.md", ModeOverwrite, validateMarkdown},
	{FileCharter, "CHARTER.md", ModeOverwrite, validateMarkdown},
	{FileSuperego, "SUPEREGO.md", ModeOverwrite, validateMarkdown},
	{FileProgress, "PROGRESS.md", ModeAppendOnly, nil},
	{FileConversation, "CONVERSATION.md", ModeAppendOnly, nil},
	{FileRestartContext, "RESTART_CONTEXT.md", ModeOverwrite, validateMarkdown},
}

var specsByID = func() map[FileID]FileSpec {
	m := make(map[FileID]FileSpec, len(registry))
	for _, s := range registry {
		m[s.ID] = s
	}
	return m
}()

// Lookup resolves an identifier to its registry entry.
func Lookup(id FileID) (FileSpec, error) {
	s, ok := specsByID[id]
	if !ok {
		return FileSpec{}, fmt.Errorf("%w: %q", ErrUnknownFile, id)
	}
	return s, nil
}

// ParseFileID resolves a string to a known identifier, case-insensitively.
func ParseFileID(s string) (FileID, error) {
	id := FileID(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := specsByID[id]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownFile, s)
	}
	return id, nil
}

// AllFiles lists every registered identifier in declaration order.
func AllFiles() []FileSpec {
	out := make([]FileSpec, len(registry))
	copy(out, registry)
	return out
}

// IDForFilename maps a basename like "PLAN.md" back to its identifier.
func IDForFilename(name string) (FileID, bool) {
	base := filepath.Base(name)
	for _, s := range registry {
		if s.Filename == base {
			return s.ID, true
		}
	}
	return "", false
}

// Metadata describes a substrate file at read time. Hash is a SHA-256
// digest of the raw bytes, used for cache revalidation and integrity
// reporting only.
type Metadata struct {
	ID      FileID    `json:"id"`
	Path    string    `json:"path"`
	ModTime time.Time `json:"modTime"`
	Hash    string    `json:"hash"`
}

func validateMarkdown(content string) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return fmt.Errorf("%w: content is empty", ErrInvalidContent)
	}
	if !strings.HasPrefix(trimmed, "# ") {
		return fmt.Errorf("%w: content must start with a '# ' heading", ErrInvalidContent)
	}
	return nil
}

func validatePlan(content string) error {
	if err := validateMarkdown(content); err != nil {
		return err
	}
	if !strings.Contains(content, "\n## Tasks") {
		return fmt.Errorf("%w: PLAN requires a '## Tasks' section", ErrInvalidContent)
	}
	return nil
}
