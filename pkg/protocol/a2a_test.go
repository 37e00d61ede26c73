package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/superxlabs/superx/pkg/jsonrpc"
)

func TestA2ANormalizeMethodForms(t *testing.T) {
	adapter := NewA2AAdapter()

	cases := map[string]Method{
		"message/send":                     MethodSendMessage,
		"SendMessage":                      MethodSendMessage,
		"message/stream":                   MethodStreamMessage,
		"SendStreamingMessage":             MethodStreamMessage,
		"tasks/get":                        MethodGetTask,
		"GetTask":                          MethodGetTask,
		"tasks/resubscribe":                MethodSubscribeTask,
		"TaskResubscription":               MethodSubscribeTask,
		"tasks/pushNotificationConfig/set": MethodSetPushConfig,
		"agent/card":                       MethodGetAgentCard,
	}

	for wire, want := range cases {
		got, ok := adapter.NormalizeMethod(wire)
		assert.True(t, ok, "method %s should normalize", wire)
		assert.Equal(t, want, got, "method %s", wire)
	}

	_, ok := adapter.NormalizeMethod("tasks/unknown")
	assert.False(t, ok)
}

func TestA2AEncodeEmitsBothTaskIDFields(t *testing.T) {
	adapter := NewA2AAdapter()

	req, err := adapter.Encode(&Envelope{
		Method:    MethodSendMessage,
		TaskID:    "t-1",
		ContextID: "c-1",
		Message:   map[string]any{"role": "user"},
	})
	require.NoError(t, err)
	assert.Equal(t, "message/send", req.Method)
	assert.NotEmpty(t, req.ID, "a generated rpc id is assigned")

	var params map[string]any
	require.NoError(t, json.Unmarshal(req.Params, &params))
	assert.Equal(t, "t-1", params["id"])
	assert.Equal(t, "t-1", params["taskId"])
	assert.Equal(t, "c-1", params["contextId"])
	assert.NotNil(t, params["message"])
}

func newWireRequest(method string, params json.RawMessage) *jsonrpc.Request {
	return &jsonrpc.Request{
		JSONRPC: jsonrpc.Version,
		ID:      json.RawMessage(`"rpc-1"`),
		Method:  method,
		Params:  params,
	}
}

func TestA2ADecodeExtractsKnownPlacements(t *testing.T) {
	adapter := NewA2AAdapter()

	params, _ := json.Marshal(map[string]any{
		"taskId":        "t-9",
		"contextId":     "c-2",
		"historyLength": 5,
	})

	env, err := adapter.Decode(newWireRequest("tasks/get", params))
	require.NoError(t, err)
	assert.Equal(t, MethodGetTask, env.Method)
	assert.Equal(t, "t-9", env.TaskID)
	assert.Equal(t, "c-2", env.ContextID)

	// Unknown params survive as opaque payload.
	assert.Equal(t, float64(5), env.Payload["historyLength"])
}

func TestA2ADecode(t *testing.T) {
	adapter := NewA2AAdapter()

	req, err := adapter.Encode(&Envelope{Method: MethodGetTask, TaskID: "t-9"})
	require.NoError(t, err)

	env, decodeErr := adapter.Decode(req)
	require.NoError(t, decodeErr)
	assert.Equal(t, MethodGetTask, env.Method)
	assert.Equal(t, "t-9", env.TaskID)
}

func TestA2ADecodeWebhookFromMetadata(t *testing.T) {
	adapter := NewA2AAdapter()

	params, _ := json.Marshal(map[string]any{
		"taskId": "t-1",
		"metadata": map[string]any{
			"webhook": map[string]any{"url": "http://hook.local/cb", "token": "tok"},
		},
	})

	env, err := adapter.Decode(newWireRequest("message/send", params))
	require.NoError(t, err)
	require.NotNil(t, env.Webhook)
	assert.Equal(t, "http://hook.local/cb", env.Webhook.URL)
	assert.Equal(t, "tok", env.Webhook.Token)
}

func TestA2ADecodeStreamEvent(t *testing.T) {
	adapter := NewA2AAdapter()

	result, rpcErr := adapter.DecodeStreamEvent([]byte(`data: {"result": {"id": "t-1"}}`))
	assert.Nil(t, rpcErr)
	assert.JSONEq(t, `{"id": "t-1"}`, string(result))

	_, rpcErr = adapter.DecodeStreamEvent([]byte(`{"error": {"code": -32099, "message": "boom"}}`))
	require.NotNil(t, rpcErr)
	assert.Equal(t, -32099, rpcErr.Code)

	_, rpcErr = adapter.DecodeStreamEvent([]byte(`not json`))
	require.NotNil(t, rpcErr)
	assert.Equal(t, -32700, rpcErr.Code)
}

func TestRegistryLookupFallback(t *testing.T) {
	registry := NewRegistry()

	adapter := registry.Lookup("a2a", "0.3.0")
	assert.Equal(t, "a2a", adapter.ProtocolName())

	// Unknown version falls back to the latest adapter for the protocol.
	adapter = registry.Lookup("a2a", "9.9.9")
	assert.Equal(t, "a2a", adapter.ProtocolName())

	adapter = registry.Lookup("mcp", "")
	assert.Equal(t, "mcp", adapter.ProtocolName())

	// Unknown protocol defaults to A2A.
	adapter = registry.Lookup("smtp", "")
	assert.Equal(t, "a2a", adapter.ProtocolName())
}
