package protocol

import (
	"bytes"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/superxlabs/superx/pkg/a2a"
	"github.com/superxlabs/superx/pkg/errors"
	"github.com/superxlabs/superx/pkg/jsonrpc"
)

// A2AAdapter speaks the A2A 0.3.0 JSON-RPC dialect. Wire method names come
// in two historical flavors, PascalCase and slash form; both normalize to
// the same canonical method, and encoding always emits the slash form.
type A2AAdapter struct {
	wire      map[Method]string
	normalize map[string]Method
}

// NewA2AAdapter builds the adapter with its method tables.
func NewA2AAdapter() *A2AAdapter {
	wire := map[Method]string{
		MethodSendMessage:      "message/send",
		MethodStreamMessage:    "message/stream",
		MethodGetTask:          "tasks/get",
		MethodListTasks:        "tasks/list",
		MethodCancelTask:       "tasks/cancel",
		MethodSubscribeTask:    "tasks/subscribe",
		MethodSetPushConfig:    "tasks/pushNotificationConfig/set",
		MethodGetPushConfig:    "tasks/pushNotificationConfig/get",
		MethodListPushConfigs:  "tasks/pushNotificationConfig/list",
		MethodDeletePushConfig: "tasks/pushNotificationConfig/delete",
		MethodGetAgentCard:     "agent/card",
	}

	normalize := make(map[string]Method, len(wire)*2)
	for method, name := range wire {
		normalize[name] = method
	}

	// PascalCase aliases still emitted by older A2A peers.
	for name, method := range map[string]Method{
		"SendMessage":                   MethodSendMessage,
		"SendStreamingMessage":          MethodStreamMessage,
		"StreamMessage":                 MethodStreamMessage,
		"GetTask":                       MethodGetTask,
		"ListTasks":                     MethodListTasks,
		"CancelTask":                    MethodCancelTask,
		"SubscribeTask":                 MethodSubscribeTask,
		"TaskResubscription":            MethodSubscribeTask,
		"SetTaskPushNotificationConfig": MethodSetPushConfig,
		"GetTaskPushNotificationConfig": MethodGetPushConfig,
		"GetAgentCard":                  MethodGetAgentCard,
		// Legacy slash alias.
		"tasks/resubscribe": MethodSubscribeTask,
	} {
		normalize[name] = method
	}

	return &A2AAdapter{wire: wire, normalize: normalize}
}

func (adapter *A2AAdapter) ProtocolName() string    { return a2a.ProtocolA2A }
func (adapter *A2AAdapter) ProtocolVersion() string { return "0.3.0" }

func (adapter *A2AAdapter) NormalizeMethod(wire string) (Method, bool) {
	method, ok := adapter.normalize[wire]
	return method, ok
}

func (adapter *A2AAdapter) WireMethod(method Method) (string, bool) {
	name, ok := adapter.wire[method]
	return name, ok
}

// Encode places envelope fields into the positions A2A servers expect.
// Task ids go to both params.id and params.taskId because peers have
// historically disagreed on which one is authoritative.
func (adapter *A2AAdapter) Encode(env *Envelope) (*jsonrpc.Request, error) {
	name, ok := adapter.WireMethod(env.Method)
	if !ok {
		return nil, errors.ErrMethodNotFound.WithMessagef("no a2a wire method for %s", env.Method)
	}

	params := make(map[string]any, len(env.Payload)+4)
	for k, v := range env.Payload {
		params[k] = v
	}

	if env.Message != nil {
		params["message"] = env.Message
	}
	if env.TaskID != "" {
		params["id"] = env.TaskID
		params["taskId"] = env.TaskID
	}
	if env.ContextID != "" {
		params["contextId"] = env.ContextID
	}
	if env.Metadata != nil {
		params["metadata"] = env.Metadata
	}

	id := env.RPCID
	if len(id) == 0 {
		raw, err := json.Marshal(uuid.NewString())
		if err != nil {
			return nil, err
		}
		id = raw
	}

	req, err := jsonrpc.NewRequest(name, params, nil)
	if err != nil {
		return nil, err
	}
	req.ID = id

	return req, nil
}

// Decode rebuilds an envelope from a wire request, pulling the known
// placements out of params and leaving the rest as opaque payload.
func (adapter *A2AAdapter) Decode(req *jsonrpc.Request) (*Envelope, error) {
	method, ok := adapter.NormalizeMethod(req.Method)
	if !ok {
		return nil, errors.ErrMethodNotFound.WithMessagef("unknown a2a method %s", req.Method)
	}

	env := &Envelope{
		Protocol: adapter.ProtocolName(),
		Version:  adapter.ProtocolVersion(),
		Method:   method,
		RPCID:    req.ID,
	}

	if len(req.Params) == 0 {
		return env, nil
	}

	var params map[string]any
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, errors.ErrInvalidParams.WithMessagef("undecodable params: %v", err)
	}

	payload := make(map[string]any, len(params))
	for k, v := range params {
		payload[k] = v
	}

	if message, ok := params["message"].(map[string]any); ok {
		env.Message = message
		delete(payload, "message")
	}
	if taskID, ok := params["taskId"].(string); ok && taskID != "" {
		env.TaskID = taskID
	} else if id, ok := params["id"].(string); ok {
		env.TaskID = id
	}
	delete(payload, "taskId")
	delete(payload, "id")

	if contextID, ok := params["contextId"].(string); ok {
		env.ContextID = contextID
		delete(payload, "contextId")
	}
	if metadata, ok := params["metadata"].(map[string]any); ok {
		env.Metadata = metadata
		env.Webhook = WebhookFromMetadata(metadata)
		delete(payload, "metadata")
	}

	if len(payload) > 0 {
		env.Payload = payload
	}

	return env, nil
}

// streamEvent mirrors the body of one SSE frame.
type streamEvent struct {
	Result json.RawMessage  `json:"result"`
	Error  *errors.RpcError `json:"error"`
}

// DecodeStreamEvent strips the optional "data: " prefix, then interprets
// the JSON body: a result passes through, an upstream error is surfaced,
// anything else is a decode failure.
func (adapter *A2AAdapter) DecodeStreamEvent(line []byte) (json.RawMessage, *errors.RpcError) {
	line = bytes.TrimSpace(line)
	line = bytes.TrimPrefix(line, []byte("data:"))
	line = bytes.TrimSpace(line)

	var event streamEvent
	if err := json.Unmarshal(line, &event); err != nil {
		return nil, errors.ErrParseError.WithMessagef("undecodable stream event: %v", err)
	}

	if event.Error != nil {
		return nil, event.Error
	}
	if len(event.Result) > 0 {
		return event.Result, nil
	}

	return nil, errors.ErrParseError.WithMessagef("stream event carried neither result nor error")
}

// WellKnownPath implements CardAdapter.
func (adapter *A2AAdapter) WellKnownPath() string { return a2a.WellKnownCardPath }

// ResolveCardURL implements CardAdapter.
func (adapter *A2AAdapter) ResolveCardURL(agent *a2a.Agent) string {
	return a2a.ResolveCardURL(agent)
}

// NormalizeCard implements CardAdapter.
func (adapter *A2AAdapter) NormalizeCard(card a2a.Card) a2a.Card {
	return card.Normalize()
}

// ValidCard implements CardAdapter.
func (adapter *A2AAdapter) ValidCard(card a2a.Card) bool {
	return card.Valid()
}

// WebhookFromMetadata extracts a per-request push target from a metadata
// document, or nil when none is present.
func WebhookFromMetadata(metadata map[string]any) *a2a.PushConfig {
	if metadata == nil {
		return nil
	}

	raw, ok := metadata["webhook"].(map[string]any)
	if !ok {
		return nil
	}

	url, _ := raw["url"].(string)
	if url == "" {
		return nil
	}

	cfg := a2a.NewPushConfig("", url)
	cfg.Token, _ = raw["token"].(string)
	cfg.HMACSecret, _ = raw["hmacSecret"].(string)
	cfg.JWTSecret, _ = raw["jwtSecret"].(string)
	cfg.JWTIssuer, _ = raw["jwtIssuer"].(string)
	cfg.JWTAudience, _ = raw["jwtAudience"].(string)
	cfg.JWTKid, _ = raw["jwtKid"].(string)

	return cfg
}
