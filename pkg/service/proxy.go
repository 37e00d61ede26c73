package service

import (
	"context"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/superxlabs/superx/pkg/a2a"
	"github.com/superxlabs/superx/pkg/errors"
	"github.com/superxlabs/superx/pkg/jsonrpc"
	"github.com/superxlabs/superx/pkg/protocol"
)

// handleAgentRPC serves the per-agent wire endpoint: requests arrive in
// the agent's own dialect (A2A slash or PascalCase forms, MCP names) and
// are decoded through the agent's adapter.
func (gateway *Gateway) handleAgentRPC(ctx fiber.Ctx) error {
	agentID := ctx.Params("id")

	agent, ok := gateway.catalog.Get(agentID)
	if !ok {
		ctx.Status(fiber.StatusNotFound)
		return ctx.JSON(jsonrpc.NewErrorResponse(nil,
			errors.ErrAgentNotFound.WithMessagef("agent %s not found", agentID)))
	}

	requests, isBatch, rpcErr := jsonrpc.ParseBody(ctx.Body())
	if rpcErr != nil {
		return writeRPCError(ctx, nil, rpcErr)
	}

	adapter := gateway.registry.ForAgent(agent)

	if !isBatch && len(requests) == 1 {
		if env, err := adapter.Decode(&requests[0]); err == nil && env.Streaming() {
			env.AgentID = agent.ID
			return gateway.streamEnvelope(ctx, agent, env)
		}
	}

	responses := make([]*jsonrpc.Response, 0, len(requests))
	for i := range requests {
		req := &requests[i]

		env, err := adapter.Decode(req)
		if err != nil {
			if !req.IsNotification() {
				responses = append(responses, jsonrpc.NewErrorResponse(req.ID, errors.AsRpcError(err)))
			}
			continue
		}
		env.AgentID = agent.ID

		if env.Streaming() {
			responses = append(responses, jsonrpc.NewErrorResponse(req.ID,
				errors.ErrInvalidRequest.WithMessagef("%s cannot be part of a batch", req.Method)))
			continue
		}

		result, rpcErr := gateway.dispatchEnvelope(ctx.Context(), agent, env)

		if req.IsNotification() {
			continue
		}
		if rpcErr != nil {
			responses = append(responses, jsonrpc.NewErrorResponse(req.ID, rpcErr))
			continue
		}

		resp, err := jsonrpc.NewResponse(req.ID, result)
		if err != nil {
			resp = jsonrpc.NewErrorResponse(req.ID, errors.ErrInternal.WithMessagef("cannot encode result: %v", err))
		}
		responses = append(responses, resp)
	}

	return writeRPC(ctx, responses, isBatch)
}

// streamEnvelope routes a streaming wire method: message/stream opens an
// upstream stream, tasks/subscribe attaches to the local mirror.
func (gateway *Gateway) streamEnvelope(ctx fiber.Ctx, agent *a2a.Agent, env *protocol.Envelope) error {
	switch env.Method {
	case protocol.MethodStreamMessage:
		if env.TaskID == "" {
			env.TaskID = uuid.NewString()
		}
		return gateway.streamUpstream(ctx, agent, env)
	case protocol.MethodSubscribeTask:
		return gateway.streamTask(ctx, env.RPCID, env.TaskID)
	default:
		return writeRPCError(ctx, env.RPCID, errors.ErrMethodNotFound)
	}
}

// handleAgentCard serves the gateway-hosted agent card. A2A cards are the
// agent's own card, normalized with the URL rewritten to the gateway; MCP
// cards are synthesized from the live session.
func (gateway *Gateway) handleAgentCard(ctx fiber.Ctx) error {
	agentID := ctx.Params("id")

	agent, ok := gateway.catalog.Get(agentID)
	if !ok {
		ctx.Status(fiber.StatusNotFound)
		return ctx.JSON(fiber.Map{"error": "agent not found", "id": agentID})
	}

	card, status, rpcErr := gateway.resolveCard(ctx.Context(), agent)
	if rpcErr != nil {
		ctx.Status(status)
		return ctx.JSON(fiber.Map{"error": rpcErr.Message, "code": rpcErr.Code})
	}

	return ctx.JSON(card)
}

// resolveCard produces the externally served card for an agent. The
// returned status is the HTTP code to use when the error is non-nil.
func (gateway *Gateway) resolveCard(ctx context.Context, agent *a2a.Agent) (a2a.Card, int, *errors.RpcError) {
	if agent.EffectiveProtocol() == a2a.ProtocolMCP {
		session, err := gateway.sessions.Session(ctx, agent)
		if err != nil {
			return nil, fiber.StatusServiceUnavailable,
				errors.ErrRemote.WithMessagef("mcp session unavailable: %v", err)
		}

		card, rpcErr := session.AgentCard(ctx)
		if rpcErr != nil {
			return nil, fiber.StatusServiceUnavailable, rpcErr
		}
		return gateway.rewriteCard(card.Normalize(), agent), 0, nil
	}

	adapter := gateway.registry.ForAgent(agent)
	cardAdapter, ok := adapter.(protocol.CardAdapter)
	if !ok {
		return nil, fiber.StatusNotFound,
			errors.ErrResourceNotFound.WithMessagef("protocol %s publishes no cards", agent.EffectiveProtocol())
	}

	if cached := agent.CachedCard(); cardAdapter.ValidCard(cached) {
		return gateway.rewriteCard(cardAdapter.NormalizeCard(cached), agent), 0, nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, gateway.config.CardFetchTimeout)
	defer cancel()

	card, _, err := gateway.client.GetCard(fetchCtx, cardAdapter.ResolveCardURL(agent), nil)
	if err != nil {
		if err == errors.ErrTimeout || fetchCtx.Err() == context.DeadlineExceeded {
			return nil, fiber.StatusGatewayTimeout,
				errors.ErrTimeout.WithMessagef("card fetch for %s timed out", agent.ID)
		}
		return nil, fiber.StatusBadGateway,
			errors.ErrRemote.WithMessagef("card fetch for %s failed: %v", agent.ID, err)
	}

	if !cardAdapter.ValidCard(card) {
		return nil, fiber.StatusBadGateway,
			errors.ErrRemote.WithMessagef("agent %s served an invalid card", agent.ID)
	}

	return gateway.rewriteCard(cardAdapter.NormalizeCard(card), agent), 0, nil
}

// rewriteCard points the card's URL at the gateway so clients route their
// calls back through it.
func (gateway *Gateway) rewriteCard(card a2a.Card, agent *a2a.Agent) a2a.Card {
	card["url"] = gateway.config.PublicURL + "/agents/" + agent.ID
	return card
}
