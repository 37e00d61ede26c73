package protocol

import (
	"encoding/json"

	"github.com/superxlabs/superx/pkg/a2a"
)

// Envelope is the protocol-independent representation of one call moving
// through the gateway. Intake builds it from a decoded JSON-RPC request;
// workers pass it by value into the adapter that produces the upstream
// wire form.
type Envelope struct {
	Protocol string
	Version  string
	Method   Method

	TaskID    string
	ContextID string
	Message   map[string]any
	Payload   map[string]any
	Metadata  map[string]any

	AgentID string
	RPCID   json.RawMessage

	// Webhook is an optional per-request push target carried in
	// metadata.webhook; it rides alongside stored push configs.
	Webhook *a2a.PushConfig
}

// Streaming reports whether this envelope requires a streaming upstream
// call.
func (env *Envelope) Streaming() bool {
	return env.Method.Streaming()
}
