package service

import (
	"context"
	"encoding/json"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/superxlabs/superx/pkg/a2a"
	"github.com/superxlabs/superx/pkg/errors"
	"github.com/superxlabs/superx/pkg/jsonrpc"
	"github.com/superxlabs/superx/pkg/protocol"
)

// handleRPC serves the gateway-native JSON-RPC surface. Batches are
// supported for unary methods; streaming methods must arrive alone
// because the response becomes an SSE stream.
func (gateway *Gateway) handleRPC(ctx fiber.Ctx) error {
	requests, isBatch, rpcErr := jsonrpc.ParseBody(ctx.Body())
	if rpcErr != nil {
		return writeRPCError(ctx, nil, rpcErr)
	}

	if !isBatch && len(requests) == 1 && streamingDotMethod(requests[0].Method) {
		return gateway.streamRPC(ctx, &requests[0])
	}

	responses := make([]*jsonrpc.Response, 0, len(requests))
	for i := range requests {
		req := &requests[i]

		if streamingDotMethod(req.Method) {
			responses = append(responses, jsonrpc.NewErrorResponse(req.ID,
				errors.ErrInvalidRequest.WithMessagef("%s cannot be part of a batch", req.Method)))
			continue
		}

		resp := gateway.dispatch(ctx.Context(), req)
		if resp != nil {
			responses = append(responses, resp)
		}
	}

	return writeRPC(ctx, responses, isBatch)
}

func streamingDotMethod(method string) bool {
	return method == "message.stream" || method == "tasks.subscribe"
}

// writeRPC serializes the RPC output. An error envelope makes the HTTP
// status 400; a batch keeps 200 unless every member errored.
func writeRPC(ctx fiber.Ctx, responses []*jsonrpc.Response, isBatch bool) error {
	if len(responses) == 0 {
		// Nothing but notifications gets no body.
		return ctx.SendStatus(fiber.StatusNoContent)
	}

	failed := 0
	for _, resp := range responses {
		if resp.Error != nil {
			failed++
		}
	}
	if failed == len(responses) {
		ctx.Status(fiber.StatusBadRequest)
	}

	if !isBatch {
		return ctx.JSON(responses[0])
	}
	return ctx.JSON(responses)
}

func writeRPCError(ctx fiber.Ctx, id json.RawMessage, rpcErr *errors.RpcError) error {
	ctx.Status(fiber.StatusBadRequest)
	return ctx.JSON(jsonrpc.NewErrorResponse(id, rpcErr))
}

// dispatch routes one gateway-native request. Notifications produce a nil
// response.
func (gateway *Gateway) dispatch(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	result, rpcErr := gateway.invoke(ctx, req)

	if req.IsNotification() {
		return nil
	}
	if rpcErr != nil {
		return jsonrpc.NewErrorResponse(req.ID, rpcErr)
	}

	resp, err := jsonrpc.NewResponse(req.ID, result)
	if err != nil {
		return jsonrpc.NewErrorResponse(req.ID, errors.ErrInternal.WithMessagef("cannot encode result: %v", err))
	}
	return resp
}

func (gateway *Gateway) invoke(ctx context.Context, req *jsonrpc.Request) (any, *errors.RpcError) {
	switch req.Method {
	case "agents.list":
		return map[string]any{"agents": gateway.catalog.List()}, nil
	case "agents.get":
		return gateway.rpcAgentGet(req)
	case "agents.upsert":
		return gateway.rpcAgentUpsert(req)
	case "agents.delete":
		return gateway.rpcAgentDelete(req)
	case "agents.health":
		return gateway.rpcAgentHealth(req)

	case "message.send":
		return gateway.rpcSendMessage(ctx, req)

	case "tasks.get":
		return gateway.rpcTaskGet(req)
	case "tasks.list":
		return gateway.rpcTaskList(req)
	case "tasks.cancel":
		return gateway.rpcTaskCancel(ctx, req)

	case "tasks.pushNotificationConfig.set":
		return gateway.rpcPushConfigSet(req)
	case "tasks.pushNotificationConfig.get":
		return gateway.rpcPushConfigGet(req)
	case "tasks.pushNotificationConfig.list":
		return gateway.rpcPushConfigList(req)
	case "tasks.pushNotificationConfig.delete":
		return gateway.rpcPushConfigDelete(req)

	case "tools.list":
		return gateway.rpcToolsList(ctx, req)
	case "tools.call":
		return gateway.rpcToolsCall(ctx, req)
	case "resources.list":
		return gateway.rpcResourcesList(ctx, req)
	case "resources.read":
		return gateway.rpcResourcesRead(ctx, req)
	case "prompts.list":
		return gateway.rpcPromptsList(ctx, req)
	case "prompts.get":
		return gateway.rpcPromptsGet(ctx, req)

	default:
		return nil, errors.ErrMethodNotFound.WithMessagef("unknown method %s", req.Method)
	}
}

func decodeParams(req *jsonrpc.Request, out any) *errors.RpcError {
	if len(req.Params) == 0 {
		return errors.ErrInvalidParams.WithMessagef("%s requires params", req.Method)
	}
	if err := json.Unmarshal(req.Params, out); err != nil {
		return errors.ErrInvalidParams.WithMessagef("undecodable params: %v", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Agent CRUD
// ---------------------------------------------------------------------------

type agentRefParams struct {
	ID      string `json:"id"`
	AgentID string `json:"agentId"`
}

func (params *agentRefParams) ref() string {
	if params.AgentID != "" {
		return params.AgentID
	}
	return params.ID
}

func (gateway *Gateway) rpcAgentGet(req *jsonrpc.Request) (any, *errors.RpcError) {
	var params agentRefParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}

	agent, ok := gateway.catalog.Get(params.ref())
	if !ok {
		return nil, errors.ErrAgentNotFound.WithMessagef("agent %s not found", params.ref())
	}
	return agent, nil
}

func (gateway *Gateway) rpcAgentUpsert(req *jsonrpc.Request) (any, *errors.RpcError) {
	// The agent record arrives either flat or wrapped under "agent".
	var wrapped struct {
		Agent *a2a.Agent `json:"agent"`
	}
	if rpcErr := decodeParams(req, &wrapped); rpcErr != nil {
		return nil, rpcErr
	}

	agent := wrapped.Agent
	if agent == nil {
		agent = &a2a.Agent{}
		if rpcErr := decodeParams(req, agent); rpcErr != nil {
			return nil, rpcErr
		}
	}

	if rpcErr := validateAgent(agent); rpcErr != nil {
		return nil, rpcErr
	}

	gateway.catalog.Upsert(agent)
	return agent, nil
}

func (gateway *Gateway) rpcAgentDelete(req *jsonrpc.Request) (any, *errors.RpcError) {
	var params agentRefParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}

	id := params.ref()
	gateway.catalog.Delete(id)
	gateway.pool.Remove(id)
	gateway.sessions.Close(id)

	return map[string]any{"deleted": true, "id": id}, nil
}

func (gateway *Gateway) rpcAgentHealth(req *jsonrpc.Request) (any, *errors.RpcError) {
	var params agentRefParams
	if len(req.Params) > 0 {
		if rpcErr := decodeParams(req, &params); rpcErr != nil {
			return nil, rpcErr
		}
	}

	if id := params.ref(); id != "" {
		if _, ok := gateway.catalog.Get(id); !ok {
			return nil, errors.ErrAgentNotFound.WithMessagef("agent %s not found", id)
		}
		if w, ok := gateway.pool.Get(id); ok {
			return w.Health(), nil
		}
		// No traffic yet, report a pristine worker.
		return map[string]any{"agentId": id, "state": "closed", "inFlight": 0, "recentFailures": 0}, nil
	}

	return map[string]any{"workers": gateway.pool.Health()}, nil
}

// ---------------------------------------------------------------------------
// Messaging
// ---------------------------------------------------------------------------

type sendParams struct {
	AgentID   string         `json:"agentId"`
	Message   map[string]any `json:"message"`
	TaskID    string         `json:"taskId"`
	ContextID string         `json:"contextId"`
	Metadata  map[string]any `json:"metadata"`
}

func (gateway *Gateway) rpcSendMessage(ctx context.Context, req *jsonrpc.Request) (any, *errors.RpcError) {
	var params sendParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	if params.AgentID == "" {
		return nil, errors.ErrInvalidParams.WithMessagef("message.send requires agentId")
	}
	if params.Message == nil {
		return nil, errors.ErrInvalidParams.WithMessagef("message.send requires a message")
	}

	agent, ok := gateway.catalog.Get(params.AgentID)
	if !ok {
		return nil, errors.ErrAgentNotFound.WithMessagef("agent %s not found", params.AgentID)
	}

	env := &protocol.Envelope{
		Method:    protocol.MethodSendMessage,
		TaskID:    params.TaskID,
		ContextID: params.ContextID,
		Message:   params.Message,
		Metadata:  params.Metadata,
		AgentID:   agent.ID,
		RPCID:     req.ID,
		Webhook:   protocol.WebhookFromMetadata(params.Metadata),
	}
	if env.TaskID == "" {
		env.TaskID = uuid.NewString()
	}

	result, rpcErr := gateway.sendMessage(ctx, agent, env)
	if rpcErr != nil {
		return nil, rpcErr
	}
	return json.RawMessage(result), nil
}

// ---------------------------------------------------------------------------
// Tasks
// ---------------------------------------------------------------------------

type taskParams struct {
	TaskID  string `json:"taskId"`
	ID      string `json:"id"`
	AgentID string `json:"agentId"`
	Limit   int    `json:"limit"`
}

func (params *taskParams) taskRef() string {
	if params.TaskID != "" {
		return params.TaskID
	}
	return params.ID
}

func (gateway *Gateway) rpcTaskGet(req *jsonrpc.Request) (any, *errors.RpcError) {
	var params taskParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}

	task, ok := gateway.store.Get(params.taskRef())
	if !ok {
		return nil, errors.ErrTaskNotFound.WithMessagef("task %s not found", params.taskRef())
	}
	return task, nil
}

func (gateway *Gateway) rpcTaskList(req *jsonrpc.Request) (any, *errors.RpcError) {
	var params taskParams
	if len(req.Params) > 0 {
		if rpcErr := decodeParams(req, &params); rpcErr != nil {
			return nil, rpcErr
		}
	}
	return map[string]any{"tasks": gateway.store.List(params.Limit)}, nil
}

func (gateway *Gateway) rpcTaskCancel(ctx context.Context, req *jsonrpc.Request) (any, *errors.RpcError) {
	var params taskParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}

	taskID := params.taskRef()
	if taskID == "" {
		return nil, errors.ErrInvalidParams.WithMessagef("tasks.cancel requires a taskId")
	}

	// With an agent the cancellation is forwarded upstream; the local
	// mirror is updated from the result. Without one, only the mirror
	// changes.
	if params.AgentID != "" {
		agent, ok := gateway.catalog.Get(params.AgentID)
		if !ok {
			return nil, errors.ErrAgentNotFound.WithMessagef("agent %s not found", params.AgentID)
		}

		env := &protocol.Envelope{
			Method:  protocol.MethodCancelTask,
			TaskID:  taskID,
			AgentID: agent.ID,
			RPCID:   req.ID,
		}

		result, rpcErr := gateway.pool.For(agent).Call(ctx, env)
		if rpcErr != nil {
			return nil, rpcErr
		}
		gateway.mergeResult(result, nil)
		return json.RawMessage(result), nil
	}

	task, rpcErr := gateway.store.ApplyStatusUpdate(map[string]any{
		"taskId": taskID,
		"status": map[string]any{"state": string(a2a.TaskStateCanceled)},
	})
	if rpcErr != nil {
		return nil, rpcErr
	}
	return task, nil
}

// ---------------------------------------------------------------------------
// Push notification configs
// ---------------------------------------------------------------------------

type pushConfigParams struct {
	ConfigID string         `json:"configId"`
	ID       string         `json:"id"`
	TaskID   string         `json:"taskId"`
	URL      string         `json:"url"`
	Token    string         `json:"token"`
	HMAC     string         `json:"hmacSecret"`
	JWT      string         `json:"jwtSecret"`
	Issuer   string         `json:"jwtIssuer"`
	Audience string         `json:"jwtAudience"`
	Kid      string         `json:"jwtKid"`
	Nested   map[string]any `json:"pushNotificationConfig"`
}

func (params *pushConfigParams) config() *a2a.PushConfig {
	cfg := &a2a.PushConfig{
		ID:          params.ConfigID,
		TaskID:      params.TaskID,
		URL:         params.URL,
		Token:       params.Token,
		HMACSecret:  params.HMAC,
		JWTSecret:   params.JWT,
		JWTIssuer:   params.Issuer,
		JWTAudience: params.Audience,
		JWTKid:      params.Kid,
	}

	// The A2A wire form nests the target under pushNotificationConfig.
	if params.Nested != nil {
		if url, ok := params.Nested["url"].(string); ok && cfg.URL == "" {
			cfg.URL = url
		}
		if token, ok := params.Nested["token"].(string); ok && cfg.Token == "" {
			cfg.Token = token
		}
		if id, ok := params.Nested["id"].(string); ok && cfg.ID == "" {
			cfg.ID = id
		}
	}

	return cfg
}

func (gateway *Gateway) rpcPushConfigSet(req *jsonrpc.Request) (any, *errors.RpcError) {
	var params pushConfigParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}

	cfg := params.config()
	if rpcErr := validatePushConfig(cfg); rpcErr != nil {
		return nil, rpcErr
	}

	stored, rpcErr := gateway.store.Configs().Set(cfg)
	if rpcErr != nil {
		return nil, rpcErr
	}
	return stored, nil
}

func (gateway *Gateway) rpcPushConfigGet(req *jsonrpc.Request) (any, *errors.RpcError) {
	var params pushConfigParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}

	id := params.ConfigID
	if id == "" {
		id = params.ID
	}
	return gateway.store.Configs().Get(id)
}

func (gateway *Gateway) rpcPushConfigList(req *jsonrpc.Request) (any, *errors.RpcError) {
	var params pushConfigParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	if params.TaskID == "" {
		return nil, errors.ErrInvalidParams.WithMessagef("tasks.pushNotificationConfig.list requires a taskId")
	}
	return map[string]any{"configs": gateway.store.Configs().List(params.TaskID)}, nil
}

func (gateway *Gateway) rpcPushConfigDelete(req *jsonrpc.Request) (any, *errors.RpcError) {
	var params pushConfigParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}

	id := params.ConfigID
	if id == "" {
		id = params.ID
	}
	if id == "" {
		return nil, errors.ErrInvalidParams.WithMessagef("tasks.pushNotificationConfig.delete requires a configId")
	}

	gateway.store.Configs().Delete(id)
	return map[string]any{"deleted": true, "configId": id}, nil
}
