// Package mcpsession maintains long-lived MCP client sessions, one per
// registered MCP agent. A session owns the initialize handshake, caches
// the server's tool/resource/prompt listings, and invalidates those
// caches when the server announces list changes.
package mcpsession

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/superxlabs/superx/pkg/a2a"
	"github.com/superxlabs/superx/pkg/errors"
)

// State is the session lifecycle position.
type State string

const (
	StateConnecting   State = "connecting"
	StateInitializing State = "initializing"
	StateReady        State = "ready"
	StateClosing      State = "closing"
	StateClosed       State = "closed"
)

// rpcClient is the slice of mcp-go's client used by a session. The
// concrete *client.Client satisfies it; tests substitute a fake.
type rpcClient interface {
	Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	ListResources(ctx context.Context, req mcp.ListResourcesRequest) (*mcp.ListResourcesResult, error)
	ListPrompts(ctx context.Context, req mcp.ListPromptsRequest) (*mcp.ListPromptsResult, error)
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	ReadResource(ctx context.Context, req mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error)
	GetPrompt(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error)
	OnNotification(handler func(mcp.JSONRPCNotification))
	Close() error
}

// Session is one agent's MCP connection.
type Session struct {
	mu    sync.Mutex
	state State
	agent *a2a.Agent

	client     rpcClient
	serverInfo mcp.Implementation
	caps       mcp.ServerCapabilities

	tools     []mcp.Tool
	resources []mcp.Resource
	prompts   []mcp.Prompt

	toolsValid     bool
	resourcesValid bool
	promptsValid   bool

	pending sync.WaitGroup

	closeTimeout time.Duration
}

func newSession(agent *a2a.Agent, client rpcClient, closeTimeout time.Duration) *Session {
	return &Session{
		state:        StateConnecting,
		agent:        agent,
		client:       client,
		closeTimeout: closeTimeout,
	}
}

// open runs the initialize handshake and moves the session to ready.
func (session *Session) open(ctx context.Context, clientName, clientVersion string) error {
	session.mu.Lock()
	session.state = StateInitializing
	session.mu.Unlock()

	session.client.OnNotification(session.handleNotification)

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    clientName,
		Version: clientVersion,
	}
	initReq.Params.Capabilities = mcp.ClientCapabilities{}

	result, err := session.client.Initialize(ctx, initReq)
	if err != nil {
		session.mu.Lock()
		session.state = StateClosed
		session.mu.Unlock()
		return err
	}

	session.mu.Lock()
	session.serverInfo = result.ServerInfo
	session.caps = result.Capabilities
	session.state = StateReady
	session.mu.Unlock()

	log.Info("mcp session ready",
		"agent_id", session.agent.ID,
		"server", result.ServerInfo.Name,
		"version", result.ServerInfo.Version)

	// Warm the caches for everything the server advertises so the first
	// card synthesis does not pay a round trip.
	if result.Capabilities.Tools != nil {
		if _, err := session.Tools(ctx); err != nil {
			log.Warn("initial tools listing failed", "agent_id", session.agent.ID, "error", err)
		}
	}
	if result.Capabilities.Resources != nil {
		if _, err := session.Resources(ctx); err != nil {
			log.Warn("initial resources listing failed", "agent_id", session.agent.ID, "error", err)
		}
	}
	if result.Capabilities.Prompts != nil {
		if _, err := session.Prompts(ctx); err != nil {
			log.Warn("initial prompts listing failed", "agent_id", session.agent.ID, "error", err)
		}
	}

	return nil
}

// handleNotification invalidates the matching cache on list_changed
// announcements. Unknown notifications are logged at debug.
func (session *Session) handleNotification(notification mcp.JSONRPCNotification) {
	session.mu.Lock()
	defer session.mu.Unlock()

	switch notification.Method {
	case "notifications/tools/list_changed":
		session.toolsValid = false
	case "notifications/resources/list_changed":
		session.resourcesValid = false
	case "notifications/prompts/list_changed":
		session.promptsValid = false
	default:
		log.Debug("mcp notification", "agent_id", session.agent.ID, "method", notification.Method)
	}
}

// State returns the lifecycle position.
func (session *Session) State() State {
	session.mu.Lock()
	defer session.mu.Unlock()
	return session.state
}

// ServerInfo returns the remote server's implementation record.
func (session *Session) ServerInfo() mcp.Implementation {
	session.mu.Lock()
	defer session.mu.Unlock()
	return session.serverInfo
}

// begin gates an RPC on session readiness and counts it as pending.
func (session *Session) begin() *errors.RpcError {
	session.mu.Lock()
	defer session.mu.Unlock()

	if session.state != StateReady {
		return errors.ErrAgentNotFound.WithMessagef("mcp session for %s is %s", session.agent.ID, session.state)
	}
	session.pending.Add(1)
	return nil
}

// Tools returns the cached tool listing, refreshing it when invalidated.
func (session *Session) Tools(ctx context.Context) ([]mcp.Tool, *errors.RpcError) {
	session.mu.Lock()
	if session.toolsValid {
		tools := session.tools
		session.mu.Unlock()
		return tools, nil
	}
	session.mu.Unlock()

	if rpcErr := session.begin(); rpcErr != nil {
		return nil, rpcErr
	}
	defer session.pending.Done()

	result, err := session.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, errors.ErrRemote.WithMessagef("tools/list failed for %s: %v", session.agent.ID, err)
	}

	session.mu.Lock()
	session.tools = result.Tools
	session.toolsValid = true
	session.mu.Unlock()

	return result.Tools, nil
}

// Resources returns the cached resource listing, refreshing when needed.
func (session *Session) Resources(ctx context.Context) ([]mcp.Resource, *errors.RpcError) {
	session.mu.Lock()
	if session.resourcesValid {
		resources := session.resources
		session.mu.Unlock()
		return resources, nil
	}
	session.mu.Unlock()

	if rpcErr := session.begin(); rpcErr != nil {
		return nil, rpcErr
	}
	defer session.pending.Done()

	result, err := session.client.ListResources(ctx, mcp.ListResourcesRequest{})
	if err != nil {
		return nil, errors.ErrRemote.WithMessagef("resources/list failed for %s: %v", session.agent.ID, err)
	}

	session.mu.Lock()
	session.resources = result.Resources
	session.resourcesValid = true
	session.mu.Unlock()

	return result.Resources, nil
}

// Prompts returns the cached prompt listing, refreshing when needed.
func (session *Session) Prompts(ctx context.Context) ([]mcp.Prompt, *errors.RpcError) {
	session.mu.Lock()
	if session.promptsValid {
		prompts := session.prompts
		session.mu.Unlock()
		return prompts, nil
	}
	session.mu.Unlock()

	if rpcErr := session.begin(); rpcErr != nil {
		return nil, rpcErr
	}
	defer session.pending.Done()

	result, err := session.client.ListPrompts(ctx, mcp.ListPromptsRequest{})
	if err != nil {
		return nil, errors.ErrRemote.WithMessagef("prompts/list failed for %s: %v", session.agent.ID, err)
	}

	session.mu.Lock()
	session.prompts = result.Prompts
	session.promptsValid = true
	session.mu.Unlock()

	return result.Prompts, nil
}

// CallTool invokes one tool on the remote server.
func (session *Session) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, *errors.RpcError) {
	if rpcErr := session.begin(); rpcErr != nil {
		return nil, rpcErr
	}
	defer session.pending.Done()

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	result, err := session.client.CallTool(ctx, req)
	if err != nil {
		return nil, errors.ErrRemote.WithMessagef("tools/call %s failed for %s: %v", name, session.agent.ID, err)
	}

	return result, nil
}

// ReadResource fetches one resource's contents.
func (session *Session) ReadResource(ctx context.Context, uri string) (*mcp.ReadResourceResult, *errors.RpcError) {
	if rpcErr := session.begin(); rpcErr != nil {
		return nil, rpcErr
	}
	defer session.pending.Done()

	req := mcp.ReadResourceRequest{}
	req.Params.URI = uri

	result, err := session.client.ReadResource(ctx, req)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			return nil, errors.ErrResourceNotFound.WithMessagef("resource %s not found on %s", uri, session.agent.ID)
		}
		return nil, errors.ErrRemote.WithMessagef("resources/read %s failed for %s: %v", uri, session.agent.ID, err)
	}

	return result, nil
}

// GetPrompt fetches one rendered prompt.
func (session *Session) GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, *errors.RpcError) {
	if rpcErr := session.begin(); rpcErr != nil {
		return nil, rpcErr
	}
	defer session.pending.Done()

	req := mcp.GetPromptRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	result, err := session.client.GetPrompt(ctx, req)
	if err != nil {
		return nil, errors.ErrRemote.WithMessagef("prompts/get %s failed for %s: %v", name, session.agent.ID, err)
	}

	return result, nil
}

// AgentCard synthesizes an agent card from the session's cached state.
// Tools become skills; the server's implementation record supplies the
// card identity.
func (session *Session) AgentCard(ctx context.Context) (a2a.Card, *errors.RpcError) {
	tools, rpcErr := session.Tools(ctx)
	if rpcErr != nil {
		return nil, rpcErr
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	name := session.serverInfo.Name
	if name == "" {
		name = session.agent.ID
	}
	version := session.serverInfo.Version
	if version == "" {
		version = "1.0.0"
	}

	skills := make([]any, 0, len(tools))
	for _, tool := range tools {
		skills = append(skills, map[string]any{
			"id":          tool.Name,
			"name":        tool.Name,
			"description": tool.Description,
			"tags":        []any{"mcp", "tool"},
		})
	}

	return a2a.Card{
		"name":               name,
		"description":        "MCP server bridged through the gateway",
		"url":                session.agent.URL,
		"version":            version,
		"protocolVersion":    session.agent.ProtocolVersion,
		"capabilities":       map[string]any{"streaming": false},
		"defaultInputModes":  []any{"text/plain"},
		"defaultOutputModes": []any{"text/plain"},
		"skills":             skills,
	}, nil
}

// Close drains pending requests, bounded by the close timeout, then tears
// down the transport. A stdio child process exits with the transport.
func (session *Session) Close() error {
	session.mu.Lock()
	if session.state == StateClosing || session.state == StateClosed {
		session.mu.Unlock()
		return nil
	}
	session.state = StateClosing
	session.mu.Unlock()

	done := make(chan struct{})
	go func() {
		session.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(session.closeTimeout):
		log.Warn("mcp session close timed out waiting for pending requests", "agent_id", session.agent.ID)
	}

	err := session.client.Close()

	session.mu.Lock()
	session.state = StateClosed
	session.mu.Unlock()

	log.Info("mcp session closed", "agent_id", session.agent.ID)
	return err
}
