// Package a2a holds the gateway's domain documents: tasks, agents, cards
// and push configurations. Task bodies and agent cards are schemaless
// pass-through JSON; structure is enforced only where the gateway needs it
// (task id, status.state, artifact identity).
package a2a

import (
	"encoding/json"

	"github.com/google/uuid"
)

// TaskState enumerates the lifecycle states of a task.
type TaskState string

const (
	TaskStateSubmitted     TaskState = "submitted"
	TaskStateWorking       TaskState = "working"
	TaskStateInputRequired TaskState = "input_required"
	TaskStateCompleted     TaskState = "completed"
	TaskStateFailed        TaskState = "failed"
	TaskStateCanceled      TaskState = "canceled"
	TaskStateRejected      TaskState = "rejected"
)

// Terminal reports whether a state permits no further writes.
func (state TaskState) Terminal() bool {
	switch state {
	case TaskStateCompleted, TaskStateFailed, TaskStateCanceled, TaskStateRejected:
		return true
	}
	return false
}

// Task is a schemaless task document. Upstream agents own the shape; the
// gateway only reads and writes the handful of keys below.
type Task map[string]any

// NewTask creates a minimal task document in the submitted state.
func NewTask(id string) Task {
	if id == "" {
		id = uuid.NewString()
	}

	return Task{
		"id": id,
		"status": map[string]any{
			"state": string(TaskStateSubmitted),
		},
	}
}

// FromValue coerces an arbitrary decoded JSON value into a Task.
func FromValue(v any) (Task, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	return Task(m), true
}

// ID returns the task identifier or "".
func (task Task) ID() string {
	id, _ := task["id"].(string)
	return id
}

// ContextID returns the task's context identifier or "".
func (task Task) ContextID() string {
	id, _ := task["contextId"].(string)
	return id
}

// Status returns the status object, or nil when absent.
func (task Task) Status() map[string]any {
	status, _ := task["status"].(map[string]any)
	return status
}

// State returns the current task state or "".
func (task Task) State() TaskState {
	status := task.Status()
	if status == nil {
		return ""
	}
	state, _ := status["state"].(string)
	return TaskState(state)
}

// Terminal reports whether the task has reached a terminal state.
func (task Task) Terminal() bool {
	return task.State().Terminal()
}

// SetStatus overwrites the status object wholesale. Streaming status
// updates replace, never merge.
func (task Task) SetStatus(status map[string]any) {
	task["status"] = status
}

// Artifacts returns the artifact list, or nil when absent.
func (task Task) Artifacts() []any {
	artifacts, _ := task["artifacts"].([]any)
	return artifacts
}

// ArtifactKey extracts the identity of an artifact document, preferring
// artifactId, then id, then name. Returns "" when no identity exists.
func ArtifactKey(artifact map[string]any) string {
	for _, key := range []string{"artifactId", "id", "name"} {
		if v, ok := artifact[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// MergeArtifact merges one artifact into the task by identity: a matching
// key replaces in place, anything else appends. Artifacts without identity
// always append.
func (task Task) MergeArtifact(artifact map[string]any) {
	key := ArtifactKey(artifact)
	artifacts := task.Artifacts()

	if key != "" {
		for i, existing := range artifacts {
			m, ok := existing.(map[string]any)
			if !ok {
				continue
			}
			if ArtifactKey(m) == key {
				artifacts[i] = artifact
				task["artifacts"] = artifacts
				return
			}
		}
	}

	task["artifacts"] = append(artifacts, artifact)
}

// Clone returns a deep copy of the task via a JSON round trip, so stored
// tasks never alias caller-held maps.
func (task Task) Clone() Task {
	raw, err := json.Marshal(task)
	if err != nil {
		// Task documents come from decoded JSON, so this cannot fail in
		// practice; return a shallow copy as a fallback.
		clone := make(Task, len(task))
		for k, v := range task {
			clone[k] = v
		}
		return clone
	}

	var clone Task
	if err := json.Unmarshal(raw, &clone); err != nil {
		return task
	}
	return clone
}

// SyntheticFromMessage wraps a bare agent message as a completed task so
// message-only upstream responses still land in the task store.
func SyntheticFromMessage(message map[string]any) Task {
	id, _ := message["id"].(string)
	if id == "" {
		id = uuid.NewString()
	}

	return Task{
		"id":      id,
		"message": message,
		"status": map[string]any{
			"state": string(TaskStateCompleted),
		},
	}
}
