// Package reports persists governance audit reports under the
// substrate's reports/ directory, one Markdown file per audit with a
// YAML frontmatter header for machine consumption.
package reports

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"anima/internal/logging"
	"anima/internal/substrate"
)

// Report is one governance audit outcome.
type Report struct {
	ID       string    `yaml:"id" json:"id"`
	Cycle    uint64    `yaml:"cycle" json:"cycle"`
	Created  time.Time `yaml:"created" json:"created"`
	Findings []string  `yaml:"findings" json:"findings"`
	Summary  string    `yaml:"-" json:"summary"`
}

// Store reads and writes reports through the substrate filesystem.
type Store struct {
	fs    substrate.FileSystem
	dir   string
	clock substrate.Clock
}

// NewStore roots the store at substrateRoot/reports.
func NewStore(fs substrate.FileSystem, substrateRoot string, clock substrate.Clock) *Store {
	return &Store{fs: fs, dir: filepath.Join(substrateRoot, "reports"), clock: clock}
}

// Write persists a report, assigning ID and Created when unset.
// The filename carries the creation instant so lexical order is
// chronological order.
func (s *Store) Write(report Report) (Report, error) {
	if report.ID == "" {
		report.ID = uuid.NewString()
	}
	if report.Created.IsZero() {
		report.Created = s.clock.Now().UTC()
	}

	front, err := yaml.Marshal(report)
	if err != nil {
		return Report{}, fmt.Errorf("marshal report frontmatter: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("---\n")
	sb.Write(front)
	sb.WriteString("---\n\n# Superego Audit Report\n\n")
	sb.WriteString(report.Summary)
	if !strings.HasSuffix(report.Summary, "\n") {
		sb.WriteString("\n")
	}

	if err := s.fs.MkdirAll(s.dir); err != nil {
		return Report{}, err
	}
	name := fmt.Sprintf("superego-report-%s.md",
		strings.ReplaceAll(substrate.FormatTimestamp(report.Created), ":", "-"))
	path := filepath.Join(s.dir, name)
	if err := s.fs.WriteFile(path, []byte(sb.String())); err != nil {
		return Report{}, err
	}

	logging.Reports().Infow("wrote governance report",
		"id", report.ID, "cycle", report.Cycle, "findings", len(report.Findings))
	return report, nil
}

// List returns every stored report, newest first. A missing directory
// is an empty list, not an error.
func (s *Store) List() ([]Report, error) {
	names, err := s.fs.ReadDir(s.dir)
	if err != nil {
		if substrate.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	var reports []Report
	for _, name := range names {
		if !strings.HasPrefix(name, "superego-report-") || !strings.HasSuffix(name, ".md") {
			continue
		}
		report, err := s.read(filepath.Join(s.dir, name))
		if err != nil {
			logging.Reports().Warnw("skipping unreadable report", "file", name, "error", err)
			continue
		}
		reports = append(reports, report)
	}
	sort.Slice(reports, func(i, j int) bool {
		return reports[i].Created.After(reports[j].Created)
	})
	return reports, nil
}

// Latest returns the newest report, or nil when none exist.
func (s *Store) Latest() (*Report, error) {
	reports, err := s.List()
	if err != nil {
		return nil, err
	}
	if len(reports) == 0 {
		return nil, nil
	}
	return &reports[0], nil
}

func (s *Store) read(path string) (Report, error) {
	data, err := s.fs.ReadFile(path)
	if err != nil {
		return Report{}, err
	}
	front, body, err := splitFrontmatter(string(data))
	if err != nil {
		return Report{}, err
	}
	var report Report
	if err := yaml.Unmarshal([]byte(front), &report); err != nil {
		return Report{}, fmt.Errorf("parse frontmatter: %w", err)
	}
	report.Summary = strings.TrimSpace(body)
	return report, nil
}

func splitFrontmatter(content string) (front, body string, err error) {
	rest, ok := strings.CutPrefix(content, "---\n")
	if !ok {
		return "", "", fmt.Errorf("missing frontmatter")
	}
	idx := strings.Index(rest, "\n---\n")
	if idx < 0 {
		return "", "", fmt.Errorf("unterminated frontmatter")
	}
	return rest[:idx+1], rest[idx+len("\n---\n"):], nil
}
