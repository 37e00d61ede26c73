package service

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/superxlabs/superx/pkg/a2a"
)

func newTestGateway() *Gateway {
	config := DefaultConfig()
	config.Worker.CallTimeout = 2 * time.Second
	config.KeepAliveInterval = 50 * time.Millisecond
	return NewGateway(config)
}

func testRequest(method, path, body string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func doRequest(t *testing.T, gateway *Gateway, req *http.Request) *http.Response {
	t.Helper()
	resp, err := gateway.App().Test(req, fiber.TestConfig{Timeout: 5 * time.Second})
	require.NoError(t, err)
	return resp
}

func postRPC(t *testing.T, gateway *Gateway, body string) map[string]any {
	t.Helper()
	resp := doRequest(t, gateway, testRequest(http.MethodPost, "/rpc", body))
	defer resp.Body.Close()

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return decoded
}

func errorCode(t *testing.T, response map[string]any) int {
	t.Helper()
	rpcErr, ok := response["error"].(map[string]any)
	require.True(t, ok, "expected an error in %v", response)
	return int(rpcErr["code"].(float64))
}

// a2aUpstream answers every JSON-RPC call with a fixed task result.
func a2aUpstream(t *testing.T, state string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		require.NoError(t, json.Unmarshal(body, &req))

		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req["id"],
			"result": map[string]any{
				"id":     "t-up-1",
				"kind":   "task",
				"status": map[string]any{"state": state},
			},
		})
	}))
}

func TestSendMessageForwardsAndMirrors(t *testing.T) {
	upstream := a2aUpstream(t, "completed")
	defer upstream.Close()

	gateway := newTestGateway()
	gateway.Catalog().Upsert(&a2a.Agent{ID: "up1", URL: upstream.URL})

	response := postRPC(t, gateway, `{
		"jsonrpc": "2.0", "id": "1", "method": "message.send",
		"params": {"agentId": "up1", "message": {"role": "user", "parts": [{"kind": "text", "text": "hi"}]}}
	}`)

	result, ok := response["result"].(map[string]any)
	require.True(t, ok, "expected a result in %v", response)
	status := result["status"].(map[string]any)
	assert.Equal(t, "completed", status["state"])

	task, ok := gateway.Store().Get("t-up-1")
	require.True(t, ok, "the forwarded result is mirrored locally")
	assert.Equal(t, a2a.TaskStateCompleted, task.State())
}

func TestSendMessageUnknownAgent(t *testing.T) {
	gateway := newTestGateway()

	response := postRPC(t, gateway, `{
		"jsonrpc": "2.0", "id": "1", "method": "message.send",
		"params": {"agentId": "ghost", "message": {"role": "user"}}
	}`)

	assert.Equal(t, -32001, errorCode(t, response))
}

func TestUnknownMethod(t *testing.T) {
	gateway := newTestGateway()

	response := postRPC(t, gateway, `{"jsonrpc": "2.0", "id": "1", "method": "agents.explode"}`)
	assert.Equal(t, -32601, errorCode(t, response))
}

func TestAgentUpsertValidatesRecord(t *testing.T) {
	gateway := newTestGateway()

	response := postRPC(t, gateway, `{
		"jsonrpc": "2.0", "id": "1", "method": "agents.upsert",
		"params": {"agent": {"id": "bad"}}
	}`)

	assert.Equal(t, -32602, errorCode(t, response))
}

func TestAgentLifecycleOverRPC(t *testing.T) {
	gateway := newTestGateway()

	response := postRPC(t, gateway, `{
		"jsonrpc": "2.0", "id": "1", "method": "agents.upsert",
		"params": {"agent": {"id": "up1", "url": "http://up1.local"}}
	}`)
	require.NotContains(t, response, "error")

	response = postRPC(t, gateway, `{
		"jsonrpc": "2.0", "id": "2", "method": "agents.get", "params": {"id": "up1"}
	}`)
	agent := response["result"].(map[string]any)
	assert.Equal(t, "up1", agent["id"])

	response = postRPC(t, gateway, `{"jsonrpc": "2.0", "id": "3", "method": "agents.list"}`)
	agents := response["result"].(map[string]any)["agents"].([]any)
	assert.Len(t, agents, 1)

	response = postRPC(t, gateway, `{
		"jsonrpc": "2.0", "id": "4", "method": "agents.delete", "params": {"id": "up1"}
	}`)
	require.NotContains(t, response, "error")

	response = postRPC(t, gateway, `{
		"jsonrpc": "2.0", "id": "5", "method": "agents.get", "params": {"id": "up1"}
	}`)
	assert.Equal(t, -32001, errorCode(t, response))
}

func TestBatchRejectsStreamingMember(t *testing.T) {
	gateway := newTestGateway()

	resp := doRequest(t, gateway, testRequest(http.MethodPost, "/rpc", `[
		{"jsonrpc": "2.0", "id": "1", "method": "agents.list"},
		{"jsonrpc": "2.0", "id": "2", "method": "message.stream", "params": {"agentId": "x", "message": {}}}
	]`))
	defer resp.Body.Close()

	var responses []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&responses))
	require.Len(t, responses, 2)

	assert.Contains(t, responses[0], "result")
	assert.Equal(t, -32600, errorCode(t, responses[1]))
}

func TestRpcErrorsCarryBadRequestStatus(t *testing.T) {
	gateway := newTestGateway()

	resp := doRequest(t, gateway, testRequest(http.MethodPost, "/rpc",
		`{"jsonrpc": "2.0", "id": "1", "method": "agents.explode"}`))
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var response map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&response))
	assert.Equal(t, -32601, errorCode(t, response))

	resp = doRequest(t, gateway, testRequest(http.MethodPost, "/rpc", `{not json`))
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBatchStatusReflectsOutcomes(t *testing.T) {
	gateway := newTestGateway()

	// Every member failing makes the whole batch a 400.
	resp := doRequest(t, gateway, testRequest(http.MethodPost, "/rpc", `[
		{"jsonrpc": "2.0", "id": "1", "method": "agents.explode"},
		{"jsonrpc": "2.0", "id": "2", "method": "agents.get", "params": {"id": "ghost"}}
	]`))
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// A mixed batch stays 200.
	resp = doRequest(t, gateway, testRequest(http.MethodPost, "/rpc", `[
		{"jsonrpc": "2.0", "id": "1", "method": "agents.list"},
		{"jsonrpc": "2.0", "id": "2", "method": "agents.explode"}
	]`))
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNotificationGetsNoContent(t *testing.T) {
	gateway := newTestGateway()

	resp := doRequest(t, gateway, testRequest(http.MethodPost, "/rpc",
		`{"jsonrpc": "2.0", "method": "agents.list"}`))
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestTaskQueriesAndLocalCancel(t *testing.T) {
	gateway := newTestGateway()
	require.Nil(t, gateway.Store().Put(a2a.Task{
		"id":     "t-1",
		"status": map[string]any{"state": "working"},
	}))

	response := postRPC(t, gateway, `{
		"jsonrpc": "2.0", "id": "1", "method": "tasks.get", "params": {"taskId": "t-1"}
	}`)
	task := response["result"].(map[string]any)
	assert.Equal(t, "t-1", task["id"])

	response = postRPC(t, gateway, `{
		"jsonrpc": "2.0", "id": "2", "method": "tasks.cancel", "params": {"taskId": "t-1"}
	}`)
	task = response["result"].(map[string]any)
	status := task["status"].(map[string]any)
	assert.Equal(t, "canceled", status["state"])

	response = postRPC(t, gateway, `{
		"jsonrpc": "2.0", "id": "3", "method": "tasks.get", "params": {"taskId": "ghost"}
	}`)
	assert.Equal(t, -32004, errorCode(t, response))
}

func TestPushConfigOverRPC(t *testing.T) {
	gateway := newTestGateway()

	response := postRPC(t, gateway, `{
		"jsonrpc": "2.0", "id": "1", "method": "tasks.pushNotificationConfig.set",
		"params": {"taskId": "t-1", "pushNotificationConfig": {"url": "http://hook.local", "token": "tok"}}
	}`)
	stored := response["result"].(map[string]any)
	configID := stored["id"].(string)
	require.NotEmpty(t, configID)

	response = postRPC(t, gateway, `{
		"jsonrpc": "2.0", "id": "2", "method": "tasks.pushNotificationConfig.list",
		"params": {"taskId": "t-1"}
	}`)
	configs := response["result"].(map[string]any)["configs"].([]any)
	assert.Len(t, configs, 1)

	response = postRPC(t, gateway, `{
		"jsonrpc": "2.0", "id": "3", "method": "tasks.pushNotificationConfig.delete",
		"params": {"configId": "`+configID+`"}
	}`)
	require.NotContains(t, response, "error")

	response = postRPC(t, gateway, `{
		"jsonrpc": "2.0", "id": "4", "method": "tasks.pushNotificationConfig.list",
		"params": {"taskId": "t-1"}
	}`)
	configs = response["result"].(map[string]any)["configs"].([]any)
	assert.Empty(t, configs)
}

func TestAgentCardServedFromCache(t *testing.T) {
	gateway := newTestGateway()
	gateway.Catalog().Upsert(&a2a.Agent{
		ID:  "up1",
		URL: "http://up1.local",
		Metadata: map[string]any{
			"agentCard": map[string]any{"name": "Upstream One", "url": "http://up1.local"},
		},
	})

	resp := doRequest(t, gateway, testRequest(http.MethodGet, "/agents/up1/.well-known/agent-card.json", ""))
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var card map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&card))

	assert.Equal(t, "Upstream One", card["name"])
	assert.Equal(t, "http://localhost:3210/agents/up1", card["url"], "the card url points back at the gateway")
	assert.Equal(t, "1.0.0", card["version"], "normalization fills defaults")
}

func TestAgentCardUnknownAgent(t *testing.T) {
	gateway := newTestGateway()

	resp := doRequest(t, gateway, testRequest(http.MethodGet, "/agents/ghost/.well-known/agent-card.json", ""))
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAgentCardFetchFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := upstream.URL
	upstream.Close()

	gateway := newTestGateway()
	gateway.Catalog().Upsert(&a2a.Agent{ID: "up1", URL: url})

	resp := doRequest(t, gateway, testRequest(http.MethodGet, "/agents/up1/.well-known/agent-card.json", ""))
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestCatalogDocumentSynthesizesMissingCards(t *testing.T) {
	gateway := newTestGateway()
	gateway.Catalog().Upsert(&a2a.Agent{ID: "bare", URL: "http://bare.local"})

	resp := doRequest(t, gateway, testRequest(http.MethodGet, "/.well-known/catalog.json", ""))
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var doc map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))

	cards := doc["agents"].([]any)
	require.Len(t, cards, 1)
	card := cards[0].(map[string]any)
	assert.Equal(t, "bare", card["name"])
	assert.Equal(t, "http://localhost:3210/agents/bare", card["url"])
}

func TestHealthSurface(t *testing.T) {
	gateway := newTestGateway()

	resp := doRequest(t, gateway, testRequest(http.MethodGet, "/health", ""))
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health["status"])
}

func TestSubscribeTerminalTaskStreamsSnapshot(t *testing.T) {
	gateway := newTestGateway()
	require.Nil(t, gateway.Store().Put(a2a.Task{
		"id":     "t-done",
		"status": map[string]any{"state": "completed"},
	}))

	resp := doRequest(t, gateway, testRequest(http.MethodPost, "/rpc", `{
		"jsonrpc": "2.0", "id": "1", "method": "tasks.subscribe", "params": {"taskId": "t-done"}
	}`))
	defer resp.Body.Close()

	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "data: ")
	assert.Contains(t, string(body), "t-done")
	assert.Contains(t, string(body), "completed")
}

func TestWireEndpointServesLocalTask(t *testing.T) {
	gateway := newTestGateway()
	gateway.Catalog().Upsert(&a2a.Agent{ID: "up1", URL: "http://up1.local"})
	require.Nil(t, gateway.Store().Put(a2a.Task{
		"id":     "t-1",
		"status": map[string]any{"state": "working"},
	}))

	resp := doRequest(t, gateway, testRequest(http.MethodPost, "/agents/up1", `{
		"jsonrpc": "2.0", "id": "1", "method": "tasks/get", "params": {"id": "t-1"}
	}`))
	defer resp.Body.Close()

	var response map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&response))
	task := response["result"].(map[string]any)
	assert.Equal(t, "t-1", task["id"])
}

func TestWireEndpointUnknownAgent(t *testing.T) {
	gateway := newTestGateway()

	resp := doRequest(t, gateway, testRequest(http.MethodPost, "/agents/ghost", `{
		"jsonrpc": "2.0", "id": "1", "method": "message/send", "params": {"message": {}}
	}`))
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var response map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&response))
	assert.Equal(t, -32001, errorCode(t, response))
}
