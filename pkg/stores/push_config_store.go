package stores

import (
	"sync"

	"github.com/google/uuid"
	"github.com/superxlabs/superx/pkg/a2a"
	"github.com/superxlabs/superx/pkg/errors"
)

// PushConfigStore keeps webhook registrations per task. Deleting a task
// cascades through DeleteForTask.
type PushConfigStore struct {
	mu     sync.RWMutex
	byID   map[string]*a2a.PushConfig
	byTask map[string]map[string]*a2a.PushConfig
}

func NewPushConfigStore() *PushConfigStore {
	return &PushConfigStore{
		byID:   make(map[string]*a2a.PushConfig),
		byTask: make(map[string]map[string]*a2a.PushConfig),
	}
}

// Set stores a config, assigning an id when absent, and returns the stored
// copy.
func (store *PushConfigStore) Set(cfg *a2a.PushConfig) (*a2a.PushConfig, *errors.RpcError) {
	if cfg.TaskID == "" {
		return nil, errors.ErrInvalidParams.WithMessagef("push config requires a taskId")
	}
	if cfg.URL == "" {
		return nil, errors.ErrInvalidParams.WithMessagef("push config requires a url")
	}

	stored := *cfg
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}

	store.mu.Lock()
	defer store.mu.Unlock()

	store.byID[stored.ID] = &stored

	set, ok := store.byTask[stored.TaskID]
	if !ok {
		set = make(map[string]*a2a.PushConfig)
		store.byTask[stored.TaskID] = set
	}
	set[stored.ID] = &stored

	result := stored
	return &result, nil
}

// Get returns one config by id.
func (store *PushConfigStore) Get(configID string) (*a2a.PushConfig, *errors.RpcError) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	cfg, ok := store.byID[configID]
	if !ok {
		return nil, errors.ErrResourceNotFound.WithMessagef("push config %s not found", configID)
	}

	result := *cfg
	return &result, nil
}

// List returns every config registered for a task.
func (store *PushConfigStore) List(taskID string) []*a2a.PushConfig {
	store.mu.RLock()
	defer store.mu.RUnlock()

	configs := make([]*a2a.PushConfig, 0, len(store.byTask[taskID]))
	for _, cfg := range store.byTask[taskID] {
		copied := *cfg
		configs = append(configs, &copied)
	}

	return configs
}

// Delete removes one config. Unknown ids are a no-op.
func (store *PushConfigStore) Delete(configID string) {
	store.mu.Lock()
	defer store.mu.Unlock()

	cfg, ok := store.byID[configID]
	if !ok {
		return
	}

	delete(store.byID, configID)
	if set, ok := store.byTask[cfg.TaskID]; ok {
		delete(set, configID)
		if len(set) == 0 {
			delete(store.byTask, cfg.TaskID)
		}
	}
}

// DeleteForTask removes every config bound to a task.
func (store *PushConfigStore) DeleteForTask(taskID string) {
	store.mu.Lock()
	defer store.mu.Unlock()

	for id := range store.byTask[taskID] {
		delete(store.byID, id)
	}
	delete(store.byTask, taskID)
}
