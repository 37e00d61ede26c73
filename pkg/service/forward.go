package service

import (
	"context"
	"encoding/json"

	"github.com/charmbracelet/log"
	"github.com/superxlabs/superx/pkg/a2a"
	"github.com/superxlabs/superx/pkg/errors"
	"github.com/superxlabs/superx/pkg/protocol"
)

// sendMessage forwards a send upstream through the agent's worker and
// mirrors the result into the task store.
func (gateway *Gateway) sendMessage(ctx context.Context, agent *a2a.Agent, env *protocol.Envelope) (json.RawMessage, *errors.RpcError) {
	result, rpcErr := gateway.pool.For(agent).Call(ctx, env)
	if rpcErr != nil {
		return nil, rpcErr
	}

	gateway.mergeResult(result, env.Webhook)
	return result, nil
}

// mergeResult folds an upstream unary result into the local task mirror.
// A result shaped like a task is stored as-is; a bare message becomes a
// synthetic completed task. Anything else passes through untouched.
func (gateway *Gateway) mergeResult(result json.RawMessage, webhook *a2a.PushConfig) {
	if len(result) == 0 {
		return
	}

	var body map[string]any
	if err := json.Unmarshal(result, &body); err != nil {
		return
	}

	var task a2a.Task
	switch {
	case looksLikeTask(body):
		task = a2a.Task(body)
	case bodyKind(body) == "message":
		task = a2a.SyntheticFromMessage(body)
	case hasTaskField(body):
		task, _ = a2a.FromValue(body["task"])
	default:
		return
	}

	if rpcErr := gateway.store.Put(task); rpcErr != nil {
		log.Warn("upstream result rejected by store", "task", task.ID(), "error", rpcErr.Message)
		return
	}

	if webhook != nil {
		if webhook.TaskID == "" {
			webhook.TaskID = task.ID()
		}
		gateway.store.DispatchWebhook(map[string]any{"task": task}, webhook)
	}
}

func looksLikeTask(body map[string]any) bool {
	if bodyKind(body) == "task" {
		return true
	}
	_, hasID := body["id"].(string)
	_, hasStatus := body["status"].(map[string]any)
	return hasID && hasStatus
}

func bodyKind(body map[string]any) string {
	kind, _ := body["kind"].(string)
	return kind
}

func hasTaskField(body map[string]any) bool {
	_, ok := body["task"].(map[string]any)
	return ok
}

// dispatchEnvelope routes one decoded wire envelope arriving at
// /agents/:id. Task reads and push-config operations are served from the
// gateway's own state; everything else forwards upstream.
func (gateway *Gateway) dispatchEnvelope(ctx context.Context, agent *a2a.Agent, env *protocol.Envelope) (any, *errors.RpcError) {
	switch env.Method {
	case protocol.MethodSendMessage:
		result, rpcErr := gateway.sendMessage(ctx, agent, env)
		if rpcErr != nil {
			return nil, rpcErr
		}
		return json.RawMessage(result), nil

	case protocol.MethodGetTask:
		if task, ok := gateway.store.Get(env.TaskID); ok {
			return task, nil
		}
		return gateway.forwardCall(ctx, agent, env)

	case protocol.MethodListTasks:
		return map[string]any{"tasks": gateway.store.List(0)}, nil

	case protocol.MethodCancelTask:
		result, rpcErr := gateway.pool.For(agent).Call(ctx, env)
		if rpcErr != nil {
			return nil, rpcErr
		}
		gateway.mergeResult(result, nil)
		return json.RawMessage(result), nil

	case protocol.MethodSetPushConfig:
		cfg := pushConfigFromEnvelope(env)
		if rpcErr := validatePushConfig(cfg); rpcErr != nil {
			return nil, rpcErr
		}
		return gateway.store.Configs().Set(cfg)

	case protocol.MethodGetPushConfig:
		return gateway.store.Configs().Get(envelopeConfigID(env))

	case protocol.MethodListPushConfigs:
		return map[string]any{"configs": gateway.store.Configs().List(env.TaskID)}, nil

	case protocol.MethodDeletePushConfig:
		id := envelopeConfigID(env)
		if id == "" {
			return nil, errors.ErrInvalidParams.WithMessagef("delete requires a pushNotificationConfigId")
		}
		gateway.store.Configs().Delete(id)
		return map[string]any{"deleted": true, "configId": id}, nil

	case protocol.MethodGetAgentCard:
		card, _, rpcErr := gateway.resolveCard(ctx, agent)
		if rpcErr != nil {
			return nil, rpcErr
		}
		return card, nil

	case protocol.MethodListTools, protocol.MethodCallTool,
		protocol.MethodListResources, protocol.MethodReadResource,
		protocol.MethodListPrompts, protocol.MethodGetPrompt:
		return gateway.dispatchMCP(ctx, agent, env)

	default:
		return gateway.forwardCall(ctx, agent, env)
	}
}

// forwardCall is the pass-through path for methods with no gateway-side
// semantics.
func (gateway *Gateway) forwardCall(ctx context.Context, agent *a2a.Agent, env *protocol.Envelope) (any, *errors.RpcError) {
	result, rpcErr := gateway.pool.For(agent).Call(ctx, env)
	if rpcErr != nil {
		return nil, rpcErr
	}
	return json.RawMessage(result), nil
}

func pushConfigFromEnvelope(env *protocol.Envelope) *a2a.PushConfig {
	cfg := a2a.NewPushConfig(env.TaskID, "")

	if raw, ok := env.Payload["pushNotificationConfig"].(map[string]any); ok {
		cfg.URL, _ = raw["url"].(string)
		cfg.Token, _ = raw["token"].(string)
		if id, ok := raw["id"].(string); ok {
			cfg.ID = id
		}
	}
	if url, ok := env.Payload["url"].(string); ok && cfg.URL == "" {
		cfg.URL = url
	}

	return cfg
}

func envelopeConfigID(env *protocol.Envelope) string {
	if id, ok := env.Payload["pushNotificationConfigId"].(string); ok && id != "" {
		return id
	}
	if id, ok := env.Payload["configId"].(string); ok {
		return id
	}
	return ""
}
