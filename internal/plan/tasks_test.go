package plan

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePlan = `# Plan

## Current Goal

Ship the parser.

## Tasks

- [ ] Task A
- [x] Task B
some note between tasks
- [ ] Task C

## Notes

- [ ] not a task, wrong section
`

func TestParse(t *testing.T) {
	tasks := Parse(samplePlan)
	require.Len(t, tasks, 3, "checkbox outside ## Tasks must be ignored")

	assert.Equal(t, Task{ID: "task-1", Title: "Task A", Done: false, Line: 8}, tasks[0])
	assert.Equal(t, "task-2", tasks[1].ID)
	assert.True(t, tasks[1].Done)
	assert.Equal(t, "Task C", tasks[2].Title)
}

func TestParseNoSection(t *testing.T) {
	assert.Nil(t, Parse("# Plan\n\n- [ ] floating task\n"))
	assert.Nil(t, Parse(""))
}

func TestOrdinalsCountDoneTasks(t *testing.T) {
	// IDs must not shift as tasks complete.
	md := "# P\n\n## Tasks\n\n- [x] done first\n- [ ] pending second\n"
	tasks := Parse(md)
	require.Len(t, tasks, 2)
	assert.Equal(t, "task-1", tasks[0].ID)
	assert.Equal(t, "task-2", tasks[1].ID)

	p := FirstPending(tasks)
	require.NotNil(t, p)
	assert.Equal(t, "task-2", p.ID)
}

func TestFirstPendingAllDone(t *testing.T) {
	md := "# P\n\n## Tasks\n\n- [x] a\n- [x] b\n"
	assert.Nil(t, FirstPending(Parse(md)))
	assert.False(t, HasPending(md))
}

func TestMarkDone(t *testing.T) {
	updated, changed, err := MarkDone(samplePlan, "task-1")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Contains(t, updated, "- [x] Task A")
	assert.Contains(t, updated, "- [ ] Task C", "other tasks untouched")

	t.Run("idempotent on done task", func(t *testing.T) {
		again, changed, err := MarkDone(updated, "task-1")
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, updated, again)
	})

	t.Run("unknown ordinal", func(t *testing.T) {
		_, changed, err := MarkDone(samplePlan, "task-9")
		assert.Error(t, err)
		assert.False(t, changed)
	})

	t.Run("malformed id", func(t *testing.T) {
		_, _, err := MarkDone(samplePlan, "job-1")
		assert.Error(t, err)
		_, _, err = MarkDone(samplePlan, "task-0")
		assert.Error(t, err)
	})
}

func TestAppendTask(t *testing.T) {
	updated, err := AppendTask(samplePlan, "Task D [ID-generated 2026-02-15]")
	require.NoError(t, err)

	tasks := Parse(updated)
	require.Len(t, tasks, 4)
	assert.Equal(t, "task-4", tasks[3].ID)
	assert.Contains(t, tasks[3].Title, "Task D")

	// Inserted inside the section, before ## Notes.
	assert.Less(t, strings.Index(updated, "Task D"), strings.Index(updated, "## Notes"))
}

func TestAppendTaskNoSection(t *testing.T) {
	_, err := AppendTask("# Plan\n", "x")
	assert.Error(t, err)
}

func TestGeneratedSuffix(t *testing.T) {
	at := time.Date(2026, 2, 15, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, "[ID-generated 2026-02-15]", GeneratedSuffix(at))
}

func TestCurrentGoal(t *testing.T) {
	assert.Equal(t, "Ship the parser.", CurrentGoal(samplePlan))
	assert.Empty(t, CurrentGoal("# Plan\n\n## Tasks\n\n- [ ] a\n"))
}
