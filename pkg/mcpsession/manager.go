package mcpsession

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/superxlabs/superx/pkg/a2a"
)

const (
	TransportSSE            = "sse"
	TransportStreamableHTTP = "streamable-http"
	TransportStdio          = "stdio"
)

// Config tunes session construction.
type Config struct {
	ClientName    string
	ClientVersion string
	CloseTimeout  time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ClientName:    "superx-gateway",
		ClientVersion: "1.0.0",
		CloseTimeout:  5 * time.Second,
	}
}

// dialFunc builds the transport-backed client for one agent. Swappable
// in tests.
type dialFunc func(ctx context.Context, agent *a2a.Agent) (rpcClient, error)

// Manager owns at most one session per agent id, created lazily on first
// use.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	config   Config
	dial     dialFunc
}

// NewManager builds a manager with the real mcp-go dialer.
func NewManager(config Config) *Manager {
	if config.ClientName == "" {
		config.ClientName = DefaultConfig().ClientName
	}
	if config.ClientVersion == "" {
		config.ClientVersion = DefaultConfig().ClientVersion
	}
	if config.CloseTimeout <= 0 {
		config.CloseTimeout = DefaultConfig().CloseTimeout
	}

	return &Manager{
		sessions: make(map[string]*Session),
		config:   config,
		dial:     dialAgent,
	}
}

// Session returns the agent's session, opening one when absent or closed.
func (manager *Manager) Session(ctx context.Context, agent *a2a.Agent) (*Session, error) {
	manager.mu.Lock()
	session, ok := manager.sessions[agent.ID]
	if ok && session.State() != StateClosed && session.State() != StateClosing {
		manager.mu.Unlock()
		return session, nil
	}
	manager.mu.Unlock()

	rpc, err := manager.dial(ctx, agent)
	if err != nil {
		return nil, fmt.Errorf("cannot dial mcp agent %s: %w", agent.ID, err)
	}

	session = newSession(agent, rpc, manager.config.CloseTimeout)
	if err := session.open(ctx, manager.config.ClientName, manager.config.ClientVersion); err != nil {
		return nil, fmt.Errorf("mcp handshake with %s failed: %w", agent.ID, err)
	}

	manager.mu.Lock()
	// A concurrent open may have won; keep the first ready session.
	if existing, ok := manager.sessions[agent.ID]; ok && existing.State() == StateReady {
		manager.mu.Unlock()
		go session.Close()
		return existing, nil
	}
	manager.sessions[agent.ID] = session
	manager.mu.Unlock()

	return session, nil
}

// Close tears down one agent's session, if any.
func (manager *Manager) Close(agentID string) {
	manager.mu.Lock()
	session, ok := manager.sessions[agentID]
	delete(manager.sessions, agentID)
	manager.mu.Unlock()

	if ok {
		if err := session.Close(); err != nil {
			log.Warn("mcp session close failed", "agent_id", agentID, "error", err)
		}
	}
}

// CloseAll tears down every session. Used at shutdown.
func (manager *Manager) CloseAll() {
	manager.mu.Lock()
	sessions := manager.sessions
	manager.sessions = make(map[string]*Session)
	manager.mu.Unlock()

	for id, session := range sessions {
		if err := session.Close(); err != nil {
			log.Warn("mcp session close failed", "agent_id", id, "error", err)
		}
	}
}

// dialAgent builds the real transport from the agent record. The
// transport kind comes from metadata.mcpTransport, defaulting to SSE.
func dialAgent(ctx context.Context, agent *a2a.Agent) (rpcClient, error) {
	kind := transportKind(agent)

	switch kind {
	case TransportStdio:
		command, args, env := stdioSpec(agent)
		if command == "" {
			return nil, fmt.Errorf("stdio transport requires metadata.mcpCommand")
		}
		return client.NewStdioMCPClient(command, env, args...)

	case TransportStreamableHTTP:
		opts := []transport.StreamableHTTPCOption{}
		if agent.Bearer != "" {
			opts = append(opts, transport.WithHTTPHeaders(map[string]string{
				"Authorization": "Bearer " + agent.Bearer,
			}))
		}
		t, err := transport.NewStreamableHTTP(agent.URL, opts...)
		if err != nil {
			return nil, err
		}
		if err := t.Start(ctx); err != nil {
			return nil, err
		}
		return client.NewClient(t), nil

	default:
		opts := []transport.ClientOption{}
		if agent.Bearer != "" {
			opts = append(opts, transport.WithHeaders(map[string]string{
				"Authorization": "Bearer " + agent.Bearer,
			}))
		}
		t, err := transport.NewSSE(agent.URL, opts...)
		if err != nil {
			return nil, err
		}
		if err := t.Start(ctx); err != nil {
			return nil, err
		}
		return client.NewClient(t), nil
	}
}

func transportKind(agent *a2a.Agent) string {
	if agent.Metadata == nil {
		return TransportSSE
	}
	kind, _ := agent.Metadata["mcpTransport"].(string)
	switch strings.ToLower(kind) {
	case TransportStdio:
		return TransportStdio
	case TransportStreamableHTTP, "http":
		return TransportStreamableHTTP
	default:
		return TransportSSE
	}
}

func stdioSpec(agent *a2a.Agent) (command string, args []string, env []string) {
	command, _ = agent.Metadata["mcpCommand"].(string)

	if raw, ok := agent.Metadata["mcpArgs"].([]any); ok {
		for _, item := range raw {
			if s, ok := item.(string); ok {
				args = append(args, s)
			}
		}
	}
	if raw, ok := agent.Metadata["mcpEnv"].([]any); ok {
		for _, item := range raw {
			if s, ok := item.(string); ok {
				env = append(env, s)
			}
		}
	}

	return command, args, env
}
