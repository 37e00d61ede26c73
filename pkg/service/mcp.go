package service

import (
	"context"

	"github.com/superxlabs/superx/pkg/a2a"
	"github.com/superxlabs/superx/pkg/errors"
	"github.com/superxlabs/superx/pkg/jsonrpc"
	"github.com/superxlabs/superx/pkg/mcpsession"
	"github.com/superxlabs/superx/pkg/protocol"
)

// mcpAgentSession resolves the agent and its live session for the MCP
// tool surface.
func (gateway *Gateway) mcpAgentSession(ctx context.Context, agentID string) (*mcpsession.Session, *errors.RpcError) {
	if agentID == "" {
		return nil, errors.ErrInvalidParams.WithMessagef("agentId is required")
	}

	agent, ok := gateway.catalog.Get(agentID)
	if !ok {
		return nil, errors.ErrAgentNotFound.WithMessagef("agent %s not found", agentID)
	}
	if agent.EffectiveProtocol() != a2a.ProtocolMCP {
		return nil, errors.ErrInvalidParams.WithMessagef("agent %s speaks %s, not mcp", agentID, agent.EffectiveProtocol())
	}

	session, err := gateway.sessions.Session(ctx, agent)
	if err != nil {
		return nil, errors.ErrRemote.WithMessagef("mcp session unavailable: %v", err)
	}
	return session, nil
}

type toolParams struct {
	AgentID   string            `json:"agentId"`
	Name      string            `json:"name"`
	Arguments map[string]any    `json:"arguments"`
	URI       string            `json:"uri"`
	PromptArg map[string]string `json:"promptArguments"`
}

func (gateway *Gateway) rpcToolsList(ctx context.Context, req *jsonrpc.Request) (any, *errors.RpcError) {
	var params toolParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}

	session, rpcErr := gateway.mcpAgentSession(ctx, params.AgentID)
	if rpcErr != nil {
		return nil, rpcErr
	}

	tools, rpcErr := session.Tools(ctx)
	if rpcErr != nil {
		return nil, rpcErr
	}
	return map[string]any{"tools": tools}, nil
}

func (gateway *Gateway) rpcToolsCall(ctx context.Context, req *jsonrpc.Request) (any, *errors.RpcError) {
	var params toolParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	if params.Name == "" {
		return nil, errors.ErrInvalidParams.WithMessagef("tools.call requires a name")
	}

	session, rpcErr := gateway.mcpAgentSession(ctx, params.AgentID)
	if rpcErr != nil {
		return nil, rpcErr
	}

	return session.CallTool(ctx, params.Name, params.Arguments)
}

func (gateway *Gateway) rpcResourcesList(ctx context.Context, req *jsonrpc.Request) (any, *errors.RpcError) {
	var params toolParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}

	session, rpcErr := gateway.mcpAgentSession(ctx, params.AgentID)
	if rpcErr != nil {
		return nil, rpcErr
	}

	resources, rpcErr := session.Resources(ctx)
	if rpcErr != nil {
		return nil, rpcErr
	}
	return map[string]any{"resources": resources}, nil
}

func (gateway *Gateway) rpcResourcesRead(ctx context.Context, req *jsonrpc.Request) (any, *errors.RpcError) {
	var params toolParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	if params.URI == "" {
		return nil, errors.ErrInvalidParams.WithMessagef("resources.read requires a uri")
	}

	session, rpcErr := gateway.mcpAgentSession(ctx, params.AgentID)
	if rpcErr != nil {
		return nil, rpcErr
	}

	return session.ReadResource(ctx, params.URI)
}

func (gateway *Gateway) rpcPromptsList(ctx context.Context, req *jsonrpc.Request) (any, *errors.RpcError) {
	var params toolParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}

	session, rpcErr := gateway.mcpAgentSession(ctx, params.AgentID)
	if rpcErr != nil {
		return nil, rpcErr
	}

	prompts, rpcErr := session.Prompts(ctx)
	if rpcErr != nil {
		return nil, rpcErr
	}
	return map[string]any{"prompts": prompts}, nil
}

func (gateway *Gateway) rpcPromptsGet(ctx context.Context, req *jsonrpc.Request) (any, *errors.RpcError) {
	var params toolParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	if params.Name == "" {
		return nil, errors.ErrInvalidParams.WithMessagef("prompts.get requires a name")
	}

	session, rpcErr := gateway.mcpAgentSession(ctx, params.AgentID)
	if rpcErr != nil {
		return nil, rpcErr
	}

	return session.GetPrompt(ctx, params.Name, params.PromptArg)
}

// dispatchMCP serves MCP canonical methods arriving on the wire endpoint.
// MCP agents go through their session; A2A agents have no MCP surface.
func (gateway *Gateway) dispatchMCP(ctx context.Context, agent *a2a.Agent, env *protocol.Envelope) (any, *errors.RpcError) {
	if agent.EffectiveProtocol() != a2a.ProtocolMCP {
		return nil, errors.ErrMethodNotFound.WithMessagef("agent %s does not serve %s", agent.ID, env.Method)
	}

	session, err := gateway.sessions.Session(ctx, agent)
	if err != nil {
		return nil, errors.ErrRemote.WithMessagef("mcp session unavailable: %v", err)
	}

	switch env.Method {
	case protocol.MethodListTools:
		tools, rpcErr := session.Tools(ctx)
		if rpcErr != nil {
			return nil, rpcErr
		}
		return map[string]any{"tools": tools}, nil

	case protocol.MethodCallTool:
		name, _ := env.Payload["name"].(string)
		if name == "" {
			return nil, errors.ErrInvalidParams.WithMessagef("tools/call requires a name")
		}
		args, _ := env.Payload["arguments"].(map[string]any)
		return session.CallTool(ctx, name, args)

	case protocol.MethodListResources:
		resources, rpcErr := session.Resources(ctx)
		if rpcErr != nil {
			return nil, rpcErr
		}
		return map[string]any{"resources": resources}, nil

	case protocol.MethodReadResource:
		uri, _ := env.Payload["uri"].(string)
		if uri == "" {
			return nil, errors.ErrInvalidParams.WithMessagef("resources/read requires a uri")
		}
		return session.ReadResource(ctx, uri)

	case protocol.MethodListPrompts:
		prompts, rpcErr := session.Prompts(ctx)
		if rpcErr != nil {
			return nil, rpcErr
		}
		return map[string]any{"prompts": prompts}, nil

	case protocol.MethodGetPrompt:
		name, _ := env.Payload["name"].(string)
		if name == "" {
			return nil, errors.ErrInvalidParams.WithMessagef("prompts/get requires a name")
		}
		args := make(map[string]string)
		if raw, ok := env.Payload["arguments"].(map[string]any); ok {
			for k, v := range raw {
				if s, ok := v.(string); ok {
					args[k] = s
				}
			}
		}
		return session.GetPrompt(ctx, name, args)

	default:
		return nil, errors.ErrMethodNotFound.WithMessagef("unsupported mcp method %s", env.Method)
	}
}
