package telemetry

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// EventName identifies a telemetry event emitted by the gateway.
type EventName string

const (
	CallStart          EventName = "call_start"
	CallStop           EventName = "call_stop"
	CallError          EventName = "call_error"
	BreakerOpen        EventName = "breaker_open"
	BreakerHalfOpen    EventName = "breaker_half_open"
	BreakerClosed      EventName = "breaker_closed"
	BreakerReject      EventName = "breaker_reject"
	BackpressureReject EventName = "backpressure_reject"
	PushStart          EventName = "push_start"
	PushSuccess        EventName = "push_success"
	PushFailure        EventName = "push_failure"
	StreamConnect      EventName = "stream_connect"
	StreamEvent        EventName = "stream_event"
	StreamError        EventName = "stream_error"
)

// Event is a single telemetry record with free-form fields.
type Event struct {
	Name   EventName
	Time   time.Time
	Fields map[string]any
}

// Handler receives every emitted event. Handlers must not block.
type Handler func(Event)

type sink struct {
	mu       sync.RWMutex
	handlers []Handler
}

var defaultSink = &sink{}

// Subscribe registers a handler for all future events.
func Subscribe(h Handler) {
	defaultSink.mu.Lock()
	defer defaultSink.mu.Unlock()
	defaultSink.handlers = append(defaultSink.handlers, h)
}

// Reset drops all registered handlers. Intended for tests.
func Reset() {
	defaultSink.mu.Lock()
	defer defaultSink.mu.Unlock()
	defaultSink.handlers = nil
}

// Emit publishes an event to every handler and mirrors it to the debug log.
// Fields are alternating key/value pairs, matching the logging style used
// throughout the codebase.
func Emit(name EventName, fields ...any) {
	evt := Event{
		Name:   name,
		Time:   time.Now(),
		Fields: make(map[string]any, len(fields)/2),
	}

	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		evt.Fields[key] = fields[i+1]
	}

	log.Debug("telemetry", append([]any{"event", string(name)}, fields...)...)

	defaultSink.mu.RLock()
	handlers := defaultSink.handlers
	defaultSink.mu.RUnlock()

	for _, h := range handlers {
		h(evt)
	}
}
