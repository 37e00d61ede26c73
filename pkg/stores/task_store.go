// Package stores holds the authoritative task state. The in-memory
// adapter is the primary implementation: terminal-state immutability and
// artifact-merge identity are enforced here, and every accepted write is
// fanned out to local subscribers and the push dispatcher.
package stores

import (
	"context"
	"sort"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/superxlabs/superx/pkg/a2a"
	"github.com/superxlabs/superx/pkg/bus"
	"github.com/superxlabs/superx/pkg/errors"
)

// Dispatcher delivers a stream payload to one webhook target. Deliveries
// run on the dispatcher's own goroutines; the store never blocks on them.
type Dispatcher interface {
	Dispatch(payload map[string]any, cfg *a2a.PushConfig)
}

// TaskStore is the authoritative store contract.
type TaskStore interface {
	Put(task a2a.Task) *errors.RpcError
	Get(id string) (a2a.Task, bool)
	Delete(id string)
	List(limit int) []a2a.Task
	ApplyStatusUpdate(update map[string]any) (a2a.Task, *errors.RpcError)
	ApplyArtifactUpdate(update map[string]any) (a2a.Task, *errors.RpcError)
	Subscribe(ctx context.Context, taskID string) (*bus.Subscription, a2a.Task)
}

// InMemoryTaskStore implements TaskStore over a mutex-guarded map.
type InMemoryTaskStore struct {
	mu      sync.RWMutex
	tasks   map[string]a2a.Task
	bus     *bus.Bus
	configs *PushConfigStore
	pusher  Dispatcher
}

// NewInMemoryTaskStore builds the store. pusher may be nil, in which case
// accepted writes skip webhook dispatch.
func NewInMemoryTaskStore(eventBus *bus.Bus, configs *PushConfigStore, pusher Dispatcher) *InMemoryTaskStore {
	return &InMemoryTaskStore{
		tasks:   make(map[string]a2a.Task),
		bus:     eventBus,
		configs: configs,
		pusher:  pusher,
	}
}

// Configs exposes the push-config registry owned by this store.
func (store *InMemoryTaskStore) Configs() *PushConfigStore {
	return store.configs
}

// Bus exposes the subscription bus owned by this store.
func (store *InMemoryTaskStore) Bus() *bus.Bus {
	return store.bus
}

// Put upserts a task. The terminal check happens inside the critical
// section, at commit time: a task whose stored value is terminal rejects
// every further write.
func (store *InMemoryTaskStore) Put(task a2a.Task) *errors.RpcError {
	return store.commit(task, nil, map[string]any{"task": task})
}

// commit persists the task, then broadcasts task_update plus an optional
// extra event, then dispatches the push payload. Returns the rejection
// that applies, if any.
func (store *InMemoryTaskStore) commit(task a2a.Task, extra *bus.Event, pushPayload map[string]any) *errors.RpcError {
	id := task.ID()
	if id == "" {
		return errors.ErrInvalidParams.WithMessagef("task requires an id")
	}

	clone := task.Clone()

	store.mu.Lock()
	if prior, ok := store.tasks[id]; ok && prior.Terminal() {
		store.mu.Unlock()
		return errors.ErrTaskTerminal.WithMessagef("task %s is %s", id, prior.State())
	}
	store.tasks[id] = clone
	store.mu.Unlock()

	store.bus.Broadcast(id, bus.Event{Kind: bus.EventTaskUpdate, Payload: clone})
	if extra != nil {
		store.bus.Broadcast(id, *extra)
	}

	store.dispatchPush(id, pushPayload)

	return nil
}

func (store *InMemoryTaskStore) dispatchPush(taskID string, payload map[string]any) {
	if store.pusher == nil || payload == nil {
		return
	}

	for _, cfg := range store.configs.List(taskID) {
		store.pusher.Dispatch(payload, cfg)
	}
}

// DispatchWebhook sends one payload to a per-request webhook target, used
// for webhooks carried on an envelope rather than stored as configs.
func (store *InMemoryTaskStore) DispatchWebhook(payload map[string]any, cfg *a2a.PushConfig) {
	if store.pusher == nil || cfg == nil {
		return
	}
	store.pusher.Dispatch(payload, cfg)
}

// Get returns a copy of the task, or false when absent.
func (store *InMemoryTaskStore) Get(id string) (a2a.Task, bool) {
	store.mu.RLock()
	task, ok := store.tasks[id]
	store.mu.RUnlock()

	if !ok {
		return nil, false
	}
	return task.Clone(), true
}

// Delete removes the task and its push configs, and halts subscribers.
// Idempotent.
func (store *InMemoryTaskStore) Delete(id string) {
	store.mu.Lock()
	_, existed := store.tasks[id]
	delete(store.tasks, id)
	store.mu.Unlock()

	store.configs.DeleteForTask(id)

	if existed {
		log.Info("task deleted", "id", id)
	}
	store.bus.Broadcast(id, bus.Event{Kind: bus.EventHalt, Payload: "deleted"})
}

// List enumerates tasks, bounded by limit when positive. Order is by id
// for deterministic output; enumeration is best-effort.
func (store *InMemoryTaskStore) List(limit int) []a2a.Task {
	store.mu.RLock()
	tasks := make([]a2a.Task, 0, len(store.tasks))
	for _, task := range store.tasks {
		tasks = append(tasks, task.Clone())
	}
	store.mu.RUnlock()

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].ID() < tasks[j].ID()
	})

	if limit > 0 && len(tasks) > limit {
		tasks = tasks[:limit]
	}

	return tasks
}

// ApplyStatusUpdate overwrites the task's status from a statusUpdate
// event payload and commits the merged task.
func (store *InMemoryTaskStore) ApplyStatusUpdate(update map[string]any) (a2a.Task, *errors.RpcError) {
	taskID, _ := update["taskId"].(string)
	if taskID == "" {
		return nil, errors.ErrInvalidParams.WithMessagef("statusUpdate requires a taskId")
	}

	task, ok := store.Get(taskID)
	if !ok {
		return nil, errors.ErrTaskNotFound.WithMessagef("task %s not found", taskID)
	}

	if status, ok := update["status"].(map[string]any); ok {
		task.SetStatus(status)
	}

	extra := &bus.Event{Kind: bus.EventStatusUpdate, Payload: task}
	if rpcErr := store.commit(task, extra, map[string]any{"statusUpdate": update}); rpcErr != nil {
		return nil, rpcErr
	}

	return task, nil
}

// ApplyArtifactUpdate merges artifacts carried by an artifactUpdate event
// payload, each by identity, and commits the merged task.
func (store *InMemoryTaskStore) ApplyArtifactUpdate(update map[string]any) (a2a.Task, *errors.RpcError) {
	taskID, _ := update["taskId"].(string)
	if taskID == "" {
		return nil, errors.ErrInvalidParams.WithMessagef("artifactUpdate requires a taskId")
	}

	task, ok := store.Get(taskID)
	if !ok {
		return nil, errors.ErrTaskNotFound.WithMessagef("task %s not found", taskID)
	}

	for _, artifact := range artifactsFromUpdate(update) {
		task.MergeArtifact(artifact)
	}

	extra := &bus.Event{Kind: bus.EventArtifactUpdate, Payload: task}
	if rpcErr := store.commit(task, extra, map[string]any{"artifactUpdate": update}); rpcErr != nil {
		return nil, rpcErr
	}

	return task, nil
}

// artifactsFromUpdate collects artifact documents from the historical
// field spellings: artifact, artifacts, artifactUpdate.
func artifactsFromUpdate(update map[string]any) []map[string]any {
	var artifacts []map[string]any

	if artifact, ok := update["artifact"].(map[string]any); ok {
		artifacts = append(artifacts, artifact)
	}
	if list, ok := update["artifacts"].([]any); ok {
		for _, raw := range list {
			if artifact, ok := raw.(map[string]any); ok {
				artifacts = append(artifacts, artifact)
			}
		}
	}
	if artifact, ok := update["artifactUpdate"].(map[string]any); ok {
		artifacts = append(artifacts, artifact)
	}

	return artifacts
}

// Subscribe registers the caller with the bus and returns the current
// task value, which may be nil when the task does not exist yet.
func (store *InMemoryTaskStore) Subscribe(ctx context.Context, taskID string) (*bus.Subscription, a2a.Task) {
	sub := store.bus.Subscribe(ctx, taskID)
	task, _ := store.Get(taskID)
	return sub, task
}
