// Package bus implements the per-task subscription registry. Subscribers
// are bound to a context; when the context ends the subscription is swept
// automatically, so abandoned SSE handlers never leak.
package bus

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"
)

// EventKind tags the updates a subscriber can receive.
type EventKind string

const (
	EventTaskUpdate     EventKind = "task_update"
	EventStatusUpdate   EventKind = "status_update"
	EventArtifactUpdate EventKind = "artifact_update"
	EventHalt           EventKind = "halt"
)

// Event is one broadcast delivered to subscribers of a task.
type Event struct {
	Kind    EventKind
	TaskID  string
	Payload any
}

// Subscription is one live subscriber. Events arrive on C in FIFO order
// per sender; slow subscribers drop events rather than block the store.
type Subscription struct {
	TaskID string
	C      chan Event

	bus    *Bus
	cancel func()
	once   sync.Once
}

// Close removes the subscription from the bus. Safe to call repeatedly.
func (sub *Subscription) Close() {
	sub.once.Do(func() {
		sub.cancel()
		sub.bus.remove(sub)
	})
}

// Bus is the process-wide subscriber registry.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{}
}

func New() *Bus {
	return &Bus{
		subs: make(map[string]map[*Subscription]struct{}),
	}
}

// Subscribe registers the caller for a task's updates. The subscription is
// dropped when ctx ends or Close is called.
func (bus *Bus) Subscribe(ctx context.Context, taskID string) *Subscription {
	ctx, cancel := context.WithCancel(ctx)

	sub := &Subscription{
		TaskID: taskID,
		C:      make(chan Event, 16),
		bus:    bus,
		cancel: cancel,
	}

	bus.mu.Lock()
	set, ok := bus.subs[taskID]
	if !ok {
		set = make(map[*Subscription]struct{})
		bus.subs[taskID] = set
	}
	set[sub] = struct{}{}
	bus.mu.Unlock()

	go func() {
		<-ctx.Done()
		sub.Close()
	}()

	return sub
}

// Broadcast delivers an event to every current subscriber of the task.
func (bus *Bus) Broadcast(taskID string, event Event) {
	event.TaskID = taskID

	// Sends stay under the read lock: remove() closes channels under the
	// write lock, so a send can never race a close. Sends never block.
	bus.mu.RLock()
	defer bus.mu.RUnlock()

	for sub := range bus.subs[taskID] {
		select {
		case sub.C <- event:
		default:
			// Slow subscriber, drop instead of blocking the store.
			log.Warn("dropping event for slow subscriber", "task", taskID, "kind", event.Kind)
		}
	}
}

// SubscriberCount returns the number of live subscribers for a task.
func (bus *Bus) SubscriberCount(taskID string) int {
	bus.mu.RLock()
	defer bus.mu.RUnlock()
	return len(bus.subs[taskID])
}

func (bus *Bus) remove(sub *Subscription) {
	bus.mu.Lock()
	defer bus.mu.Unlock()

	if set, ok := bus.subs[sub.TaskID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(bus.subs, sub.TaskID)
		}
	}

	close(sub.C)
}
