// Package plan parses and mutates the PLAN document's ## Tasks section.
// Task identifiers are ordinals over the section's checkbox lines
// (task-1 is the first checkbox); they are stable within one read and
// never persisted.
package plan

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Task is one checkbox line from the ## Tasks section.
type Task struct {
	ID    string `json:"id"` // "task-N", 1-based ordinal
	Title string `json:"title"`
	Done  bool   `json:"done"`
	Line  int    `json:"line"` // 0-based line index in the document
}

const (
	pendingMark = "- [ ]"
	doneMark    = "- [x]"
)

// Parse extracts tasks from markdown. Checkbox lines outside the
// ## Tasks section are ignored.
func Parse(markdown string) []Task {
	lines := strings.Split(markdown, "\n")
	start, end := sectionBounds(lines)
	if start < 0 {
		return nil
	}

	var tasks []Task
	for i := start; i < end; i++ {
		trimmed := strings.TrimSpace(lines[i])
		done, ok := checkboxState(trimmed)
		if !ok {
			continue
		}
		title := strings.TrimSpace(trimmed[len(pendingMark):])
		tasks = append(tasks, Task{
			ID:    fmt.Sprintf("task-%d", len(tasks)+1),
			Title: title,
			Done:  done,
			Line:  i,
		})
	}
	return tasks
}

// FirstPending returns the first not-done task, or nil.
func FirstPending(tasks []Task) *Task {
	for i := range tasks {
		if !tasks[i].Done {
			return &tasks[i]
		}
	}
	return nil
}

// HasPending reports whether any task is not done.
func HasPending(markdown string) bool {
	return FirstPending(Parse(markdown)) != nil
}

// MarkDone flips the taskID's checkbox to done. Returns the updated
// markdown and whether anything changed; marking an already-done task is
// a no-op. Unknown identifiers are an error.
func MarkDone(markdown, taskID string) (string, bool, error) {
	n, err := ordinal(taskID)
	if err != nil {
		return markdown, false, err
	}

	tasks := Parse(markdown)
	if n < 1 || n > len(tasks) {
		return markdown, false, fmt.Errorf("no such task %q (plan has %d)", taskID, len(tasks))
	}
	t := tasks[n-1]
	if t.Done {
		return markdown, false, nil
	}

	lines := strings.Split(markdown, "\n")
	lines[t.Line] = strings.Replace(lines[t.Line], pendingMark, doneMark, 1)
	return strings.Join(lines, "\n"), true, nil
}

// AppendTask adds a pending task at the end of the ## Tasks section.
func AppendTask(markdown, title string) (string, error) {
	lines := strings.Split(markdown, "\n")
	start, end := sectionBounds(lines)
	if start < 0 {
		return markdown, fmt.Errorf("plan has no ## Tasks section")
	}

	// Insert after the last non-blank line of the section.
	insert := start
	for i := start; i < end; i++ {
		if strings.TrimSpace(lines[i]) != "" {
			insert = i + 1
		}
	}

	out := make([]string, 0, len(lines)+1)
	out = append(out, lines[:insert]...)
	out = append(out, pendingMark+" "+title)
	out = append(out, lines[insert:]...)
	return strings.Join(out, "\n"), nil
}

// GeneratedSuffix tags drive-generated tasks with their creation date.
func GeneratedSuffix(t time.Time) string {
	return fmt.Sprintf("[ID-generated %s]", t.UTC().Format("2006-01-02"))
}

// CurrentGoal returns the text under the first ## Current Goal heading,
// or empty when the plan has none.
func CurrentGoal(markdown string) string {
	lines := strings.Split(markdown, "\n")
	var out []string
	in := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "## ") {
			if in {
				break
			}
			in = strings.EqualFold(trimmed, "## Current Goal")
			continue
		}
		if strings.HasPrefix(trimmed, "# ") && in {
			break
		}
		if in && trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return strings.Join(out, "\n")
}

// sectionBounds returns [start, end) line indexes of the ## Tasks body,
// or start < 0 when the section is missing.
func sectionBounds(lines []string) (int, int) {
	start := -1
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if start < 0 {
			if strings.EqualFold(trimmed, "## Tasks") {
				start = i + 1
			}
			continue
		}
		if strings.HasPrefix(trimmed, "## ") || strings.HasPrefix(trimmed, "# ") {
			return start, i
		}
	}
	if start < 0 {
		return -1, -1
	}
	return start, len(lines)
}

func checkboxState(trimmed string) (done, ok bool) {
	switch {
	case strings.HasPrefix(trimmed, pendingMark):
		return false, true
	case strings.HasPrefix(trimmed, doneMark), strings.HasPrefix(trimmed, "- [X]"):
		return true, true
	default:
		return false, false
	}
}

func ordinal(taskID string) (int, error) {
	rest, ok := strings.CutPrefix(taskID, "task-")
	if !ok {
		return 0, fmt.Errorf("malformed task id %q", taskID)
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("malformed task id %q", taskID)
	}
	return n, nil
}
