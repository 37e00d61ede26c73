package mcpsession

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/superxlabs/superx/pkg/a2a"
)

// fakeRPC stands in for mcp-go's client.
type fakeRPC struct {
	mu         sync.Mutex
	initErr    error
	serverInfo mcp.Implementation
	tools      []mcp.Tool
	listCalls  int
	readErr    error
	notify     func(mcp.JSONRPCNotification)
	closed     bool
}

func (f *fakeRPC) Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error) {
	if f.initErr != nil {
		return nil, f.initErr
	}
	return &mcp.InitializeResult{ServerInfo: f.serverInfo}, nil
}

func (f *fakeRPC) ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	return &mcp.ListToolsResult{Tools: f.tools}, nil
}

func (f *fakeRPC) ListResources(ctx context.Context, req mcp.ListResourcesRequest) (*mcp.ListResourcesResult, error) {
	return &mcp.ListResourcesResult{}, nil
}

func (f *fakeRPC) ListPrompts(ctx context.Context, req mcp.ListPromptsRequest) (*mcp.ListPromptsResult, error) {
	return &mcp.ListPromptsResult{}, nil
}

func (f *fakeRPC) CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return &mcp.CallToolResult{}, nil
}

func (f *fakeRPC) ReadResource(ctx context.Context, req mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	return &mcp.ReadResourceResult{}, nil
}

func (f *fakeRPC) GetPrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	return &mcp.GetPromptResult{}, nil
}

func (f *fakeRPC) OnNotification(handler func(mcp.JSONRPCNotification)) {
	f.notify = handler
}

func (f *fakeRPC) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeRPC) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

func mcpAgent() *a2a.Agent {
	return &a2a.Agent{ID: "helper", URL: "http://helper.local/mcp", Protocol: "mcp"}
}

func openSession(t *testing.T, rpc *fakeRPC) *Session {
	t.Helper()
	session := newSession(mcpAgent(), rpc, time.Second)
	require.NoError(t, session.open(context.Background(), "test-client", "0.0.1"))
	require.Equal(t, StateReady, session.State())
	return session
}

func TestHandshakeMovesSessionToReady(t *testing.T) {
	rpc := &fakeRPC{serverInfo: mcp.Implementation{Name: "helper-server", Version: "2.3.0"}}
	session := openSession(t, rpc)

	assert.Equal(t, "helper-server", session.ServerInfo().Name)
	assert.NotNil(t, rpc.notify, "notification handler is registered before initialize")
}

func TestHandshakeFailureClosesSession(t *testing.T) {
	rpc := &fakeRPC{initErr: errors.New("connection refused")}
	session := newSession(mcpAgent(), rpc, time.Second)

	err := session.open(context.Background(), "test-client", "0.0.1")
	require.Error(t, err)
	assert.Equal(t, StateClosed, session.State())
}

func TestToolsCachedUntilListChanged(t *testing.T) {
	rpc := &fakeRPC{tools: []mcp.Tool{{Name: "search"}}}
	session := openSession(t, rpc)

	_, rpcErr := session.Tools(context.Background())
	require.Nil(t, rpcErr)
	_, rpcErr = session.Tools(context.Background())
	require.Nil(t, rpcErr)
	assert.Equal(t, 1, rpc.calls(), "second listing is served from cache")

	rpc.notify(mcp.JSONRPCNotification{Notification: mcp.Notification{Method: "notifications/tools/list_changed"}})

	_, rpcErr = session.Tools(context.Background())
	require.Nil(t, rpcErr)
	assert.Equal(t, 2, rpc.calls(), "invalidation forces a refresh")
}

func TestCallsRejectedBeforeReady(t *testing.T) {
	session := newSession(mcpAgent(), &fakeRPC{}, time.Second)

	_, rpcErr := session.CallTool(context.Background(), "search", nil)
	require.NotNil(t, rpcErr)
	assert.Equal(t, -32001, rpcErr.Code)
}

func TestReadResourceMapsNotFound(t *testing.T) {
	rpc := &fakeRPC{readErr: errors.New("resource not found")}
	session := openSession(t, rpc)

	_, rpcErr := session.ReadResource(context.Background(), "file:///missing")
	require.NotNil(t, rpcErr)
	assert.Equal(t, -32010, rpcErr.Code)
}

func TestAgentCardSynthesizesSkillsFromTools(t *testing.T) {
	rpc := &fakeRPC{
		serverInfo: mcp.Implementation{Name: "helper-server", Version: "2.3.0"},
		tools: []mcp.Tool{
			{Name: "search", Description: "full text search"},
			{Name: "fetch", Description: "fetch a url"},
		},
	}
	session := openSession(t, rpc)

	card, rpcErr := session.AgentCard(context.Background())
	require.Nil(t, rpcErr)

	assert.Equal(t, "helper-server", card["name"])
	assert.Equal(t, "2.3.0", card["version"])

	skills, ok := card["skills"].([]any)
	require.True(t, ok)
	require.Len(t, skills, 2)
	first := skills[0].(map[string]any)
	assert.Equal(t, "search", first["id"])
	assert.Contains(t, first["tags"], "mcp")

	caps := card["capabilities"].(map[string]any)
	assert.Equal(t, false, caps["streaming"])
}

func TestCloseIsIdempotentAndTearsDownClient(t *testing.T) {
	rpc := &fakeRPC{}
	session := openSession(t, rpc)

	require.NoError(t, session.Close())
	require.NoError(t, session.Close())

	assert.Equal(t, StateClosed, session.State())
	rpc.mu.Lock()
	defer rpc.mu.Unlock()
	assert.True(t, rpc.closed)
}

func TestManagerReusesReadySession(t *testing.T) {
	var dials int

	manager := NewManager(Config{})
	manager.dial = func(ctx context.Context, agent *a2a.Agent) (rpcClient, error) {
		dials++
		return &fakeRPC{}, nil
	}

	agent := mcpAgent()
	first, err := manager.Session(context.Background(), agent)
	require.NoError(t, err)
	second, err := manager.Session(context.Background(), agent)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, dials)
}

func TestManagerReopensAfterClose(t *testing.T) {
	var dials int

	manager := NewManager(Config{})
	manager.dial = func(ctx context.Context, agent *a2a.Agent) (rpcClient, error) {
		dials++
		return &fakeRPC{}, nil
	}

	agent := mcpAgent()
	_, err := manager.Session(context.Background(), agent)
	require.NoError(t, err)

	manager.Close(agent.ID)

	_, err = manager.Session(context.Background(), agent)
	require.NoError(t, err)
	assert.Equal(t, 2, dials)
}

func TestManagerSurfacesDialFailure(t *testing.T) {
	manager := NewManager(Config{})
	manager.dial = func(ctx context.Context, agent *a2a.Agent) (rpcClient, error) {
		return nil, errors.New("no route to host")
	}

	_, err := manager.Session(context.Background(), mcpAgent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "helper")
}

func TestTransportKindFromMetadata(t *testing.T) {
	assert.Equal(t, TransportSSE, transportKind(&a2a.Agent{}))
	assert.Equal(t, TransportStdio, transportKind(&a2a.Agent{
		Metadata: map[string]any{"mcpTransport": "stdio"},
	}))
	assert.Equal(t, TransportStreamableHTTP, transportKind(&a2a.Agent{
		Metadata: map[string]any{"mcpTransport": "http"},
	}))
}
