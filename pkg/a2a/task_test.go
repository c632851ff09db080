package a2a

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskStateTerminal(t *testing.T) {
	assert.True(t, TaskStateCompleted.Terminal())
	assert.True(t, TaskStateFailed.Terminal())
	assert.True(t, TaskStateCanceled.Terminal())

	assert.False(t, TaskStateSubmitted.Terminal())
	assert.False(t, TaskStateWorking.Terminal())
	assert.False(t, TaskStateInputReq.Terminal())
	assert.False(t, TaskStateUnknown.Terminal())
}

func TestTaskSkill(t *testing.T) {
	task := &Task{ID: "task-1"}
	assert.Empty(t, task.Skill())

	task.Metadata = map[string]any{SkillKey: "echo"}
	assert.Equal(t, "echo", task.Skill())

	// Non-string values don't count as a skill.
	task.Metadata[SkillKey] = 42
	assert.Empty(t, task.Skill())
}

func TestTaskClone(t *testing.T) {
	task := &Task{
		ID:        "task-1",
		Status:    TaskStatus{State: TaskStateWorking},
		Artifacts: []Artifact{{ID: "artifact-1", Parts: []Part{NewTextPart("one")}}},
		Metadata:  map[string]any{SkillKey: "echo"},
	}

	clone := task.Clone()
	require.NotSame(t, task, clone)

	clone.Artifacts[0].ID = "mutated"
	clone.Metadata[SkillKey] = "mutated"

	assert.Equal(t, "artifact-1", task.Artifacts[0].ID)
	assert.Equal(t, "echo", task.Metadata[SkillKey])
}

func TestLastMessage(t *testing.T) {
	task := &Task{ID: "task-1"}
	assert.Nil(t, task.LastMessage())

	task.History = []Message{
		*NewTextMessage(RoleUser, "first"),
		*NewTextMessage(RoleAgent, "second"),
	}

	last := task.LastMessage()
	require.NotNil(t, last)
	assert.Equal(t, "second", last.String())
}

func TestMessageString(t *testing.T) {
	message := Message{
		Role: RoleUser,
		Parts: []Part{
			NewTextPart("a "),
			NewTextPart("b"),
			NewDataPart(map[string]any{"k": "v"}),
		},
	}

	assert.Equal(t, "a b", message.String())
}
