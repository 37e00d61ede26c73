package protocol

import (
	"bytes"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/superxlabs/superx/pkg/a2a"
	"github.com/superxlabs/superx/pkg/errors"
	"github.com/superxlabs/superx/pkg/jsonrpc"
)

// MCPAdapter speaks the MCP JSON-RPC dialect. Requests carry ids;
// notifications are prefixed with "notifications/" and carry none.
type MCPAdapter struct {
	wire      map[Method]string
	normalize map[string]Method
}

// mcpNotifications is the set of canonical methods encoded without an id.
var mcpNotifications = map[Method]bool{
	MethodInitialized:      true,
	MethodToolsChanged:     true,
	MethodResourcesChanged: true,
	MethodResourceUpdated:  true,
	MethodPromptsChanged:   true,
	MethodRootsChanged:     true,
	MethodLogMessage:       true,
	MethodProgress:         true,
	MethodCancelled:        true,
}

// mcpServerRequests is the set of canonical methods an MCP server may send
// to its client; these are dispatched to a client-side handler that must
// answer with the same id.
var mcpServerRequests = map[Method]bool{
	MethodCreateMessage:     true,
	MethodCreateElicitation: true,
	MethodListRoots:         true,
}

// NewMCPAdapter builds the adapter with its method tables.
func NewMCPAdapter() *MCPAdapter {
	wire := map[Method]string{
		MethodInitialize:            "initialize",
		MethodInitialized:           "notifications/initialized",
		MethodPing:                  "ping",
		MethodShutdown:              "shutdown",
		MethodListTools:             "tools/list",
		MethodCallTool:              "tools/call",
		MethodToolsChanged:          "notifications/tools/list_changed",
		MethodListResources:         "resources/list",
		MethodListResourceTemplates: "resources/templates/list",
		MethodReadResource:          "resources/read",
		MethodSubscribeResource:     "resources/subscribe",
		MethodUnsubscribeResource:   "resources/unsubscribe",
		MethodResourcesChanged:      "notifications/resources/list_changed",
		MethodResourceUpdated:       "notifications/resources/updated",
		MethodListPrompts:           "prompts/list",
		MethodGetPrompt:             "prompts/get",
		MethodPromptsChanged:        "notifications/prompts/list_changed",
		MethodCreateMessage:         "sampling/createMessage",
		MethodCreateElicitation:     "elicitation/create",
		MethodListRoots:             "roots/list",
		MethodRootsChanged:          "notifications/roots/list_changed",
		MethodSetLogLevel:           "logging/setLevel",
		MethodLogMessage:            "notifications/message",
		MethodProgress:              "notifications/progress",
		MethodCancelled:             "notifications/cancelled",
	}

	normalize := make(map[string]Method, len(wire))
	for method, name := range wire {
		normalize[name] = method
	}

	return &MCPAdapter{wire: wire, normalize: normalize}
}

func (adapter *MCPAdapter) ProtocolName() string    { return a2a.ProtocolMCP }
func (adapter *MCPAdapter) ProtocolVersion() string { return "2025-03-26" }

func (adapter *MCPAdapter) NormalizeMethod(wire string) (Method, bool) {
	method, ok := adapter.normalize[wire]
	return method, ok
}

func (adapter *MCPAdapter) WireMethod(method Method) (string, bool) {
	name, ok := adapter.wire[method]
	return name, ok
}

// IsNotification reports whether the canonical method is encoded without
// an id.
func (adapter *MCPAdapter) IsNotification(method Method) bool {
	return mcpNotifications[method]
}

// IsServerRequest reports whether the method is a server-to-client request
// that expects a response with the same id.
func (adapter *MCPAdapter) IsServerRequest(method Method) bool {
	return mcpServerRequests[method]
}

// Encode produces the wire request; notifications get no id.
func (adapter *MCPAdapter) Encode(env *Envelope) (*jsonrpc.Request, error) {
	name, ok := adapter.WireMethod(env.Method)
	if !ok {
		return nil, errors.ErrMethodNotFound.WithMessagef("no mcp wire method for %s", env.Method)
	}

	var params any
	if env.Payload != nil {
		params = env.Payload
	}

	if adapter.IsNotification(env.Method) {
		return jsonrpc.NewNotification(name, params)
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

// Decode rebuilds an envelope from a wire request. MCP params stay opaque.
func (adapter *MCPAdapter) Decode(req *jsonrpc.Request) (*Envelope, error) {
	method, ok := adapter.NormalizeMethod(req.Method)
	if !ok {
		return nil, errors.ErrMethodNotFound.WithMessagef("unknown mcp method %s", req.Method)
	}

	env := &Envelope{
		Protocol: adapter.ProtocolName(),
		Version:  adapter.ProtocolVersion(),
		Method:   method,
		RPCID:    req.ID,
	}

	if len(req.Params) > 0 {
		var params map[string]any
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return nil, errors.ErrInvalidParams.WithMessagef("undecodable params: %v", err)
		}
		env.Payload = params
	}

	return env, nil
}

// DecodeStreamEvent handles MCP streamable-http frames, which carry either
// a JSON-RPC response or a {method, params} notification.
func (adapter *MCPAdapter) DecodeStreamEvent(line []byte) (json.RawMessage, *errors.RpcError) {
	line = bytes.TrimSpace(line)
	line = bytes.TrimPrefix(line, []byte("data:"))
	line = bytes.TrimSpace(line)

	var frame struct {
		Result json.RawMessage  `json:"result"`
		Error  *errors.RpcError `json:"error"`
		Method string           `json:"method"`
		Params json.RawMessage  `json:"params"`
	}
	if err := json.Unmarshal(line, &frame); err != nil {
		return nil, errors.ErrParseError.WithMessagef("undecodable mcp stream event: %v", err)
	}

	switch {
	case frame.Error != nil:
		return nil, frame.Error
	case len(frame.Result) > 0:
		return frame.Result, nil
	case frame.Method != "":
		return frame.Params, nil
	}

	return nil, errors.ErrParseError.WithMessagef("mcp stream event carried neither result nor method")
}
