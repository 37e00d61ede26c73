package service

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v3"
	fiberadaptor "github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/google/uuid"
	"github.com/superxlabs/superx/pkg/a2a"
	"github.com/superxlabs/superx/pkg/bus"
	"github.com/superxlabs/superx/pkg/errors"
	"github.com/superxlabs/superx/pkg/jsonrpc"
	"github.com/superxlabs/superx/pkg/protocol"
	"github.com/superxlabs/superx/pkg/sse"
)

// eventWriter frames JSON-RPC responses as SSE events.
type eventWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newEventWriter(w http.ResponseWriter) *eventWriter {
	flusher, _ := w.(http.Flusher)
	return &eventWriter{w: w, flusher: flusher}
}

func (ew *eventWriter) frame(resp *jsonrpc.Response) error {
	body, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(ew.w, "data: %s\n\n", body); err != nil {
		return err
	}
	ew.flush()
	return nil
}

func (ew *eventWriter) comment() {
	fmt.Fprint(ew.w, ": keep-alive\n\n")
	ew.flush()
}

func (ew *eventWriter) flush() {
	if ew.flusher != nil {
		ew.flusher.Flush()
	}
}

// streamRPC serves message.stream and tasks.subscribe at /rpc.
func (gateway *Gateway) streamRPC(ctx fiber.Ctx, req *jsonrpc.Request) error {
	switch req.Method {
	case "message.stream":
		var params sendParams
		if rpcErr := decodeParams(req, &params); rpcErr != nil {
			return writeRPCError(ctx, req.ID, rpcErr)
		}
		if params.AgentID == "" || params.Message == nil {
			return writeRPCError(ctx, req.ID,
				errors.ErrInvalidParams.WithMessagef("message.stream requires agentId and message"))
		}

		agent, ok := gateway.catalog.Get(params.AgentID)
		if !ok {
			return writeRPCError(ctx, req.ID,
				errors.ErrAgentNotFound.WithMessagef("agent %s not found", params.AgentID))
		}

		env := &protocol.Envelope{
			Method:    protocol.MethodStreamMessage,
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

		return gateway.streamUpstream(ctx, agent, env)

	case "tasks.subscribe":
		var params taskParams
		if rpcErr := decodeParams(req, &params); rpcErr != nil {
			return writeRPCError(ctx, req.ID, rpcErr)
		}
		return gateway.streamTask(ctx, req.ID, params.taskRef())

	default:
		return writeRPCError(ctx, req.ID, errors.ErrMethodNotFound)
	}
}

// streamUpstream opens an upstream stream through the agent's worker and
// relays events to the caller as SSE frames. The first frame comes from
// the consumer's init signal; the rest arrive through the task bus as the
// consumer merges upstream events into the store.
func (gateway *Gateway) streamUpstream(ctx fiber.Ctx, agent *a2a.Agent, env *protocol.Envelope) error {
	handler := func(w http.ResponseWriter, r *http.Request) {
		setSSEHeaders(w)
		writer := newEventWriter(w)

		sub := gateway.store.Bus().Subscribe(r.Context(), env.TaskID)
		defer sub.Close()

		signals := make(chan sse.Signal, 1)
		if rpcErr := gateway.pool.For(agent).Stream(r.Context(), env, signals); rpcErr != nil {
			writer.frame(jsonrpc.NewErrorResponse(env.RPCID, rpcErr))
			return
		}

		// First frame is the stream's opening event; a pre-init error
		// ends the stream with an error frame.
		select {
		case signal := <-signals:
			if signal.Kind == sse.SignalError {
				writer.frame(jsonrpc.NewErrorResponse(env.RPCID, streamSignalError(signal)))
				return
			}
			writer.frame(&jsonrpc.Response{JSONRPC: jsonrpc.Version, ID: env.RPCID, Result: signal.First})
		case <-r.Context().Done():
			return
		}

		gateway.relayTaskEvents(writer, r, env.RPCID, sub)
	}

	return fiberadaptor.HTTPHandler(http.HandlerFunc(handler))(ctx)
}

// streamTask serves a subscription to an existing task: current snapshot
// first, then live updates until the task reaches a terminal state.
func (gateway *Gateway) streamTask(ctx fiber.Ctx, rpcID json.RawMessage, taskID string) error {
	if taskID == "" {
		return writeRPCError(ctx, rpcID,
			errors.ErrInvalidParams.WithMessagef("tasks.subscribe requires a taskId"))
	}

	handler := func(w http.ResponseWriter, r *http.Request) {
		setSSEHeaders(w)
		writer := newEventWriter(w)

		sub, task := gateway.store.Subscribe(r.Context(), taskID)
		defer sub.Close()

		if task == nil {
			writer.frame(jsonrpc.NewErrorResponse(rpcID,
				errors.ErrTaskNotFound.WithMessagef("task %s not found", taskID)))
			return
		}

		if resp, err := jsonrpc.NewResponse(rpcID, task); err == nil {
			writer.frame(resp)
		}
		if task.Terminal() {
			return
		}

		gateway.relayTaskEvents(writer, r, rpcID, sub)
	}

	return fiberadaptor.HTTPHandler(http.HandlerFunc(handler))(ctx)
}

// relayTaskEvents pumps bus events to the client until the task goes
// terminal, the subscription halts, or the client disconnects. Keep-alive
// comments flow on an interval so intermediaries hold the connection.
func (gateway *Gateway) relayTaskEvents(writer *eventWriter, r *http.Request, rpcID json.RawMessage, sub *bus.Subscription) {
	keepAlive := time.NewTicker(gateway.config.KeepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-keepAlive.C:
			writer.comment()

		case event, ok := <-sub.C:
			if !ok {
				return
			}
			if event.Kind == bus.EventHalt {
				return
			}
			// Every commit broadcasts a task_update carrying the full
			// task; the finer-grained kinds duplicate it for local
			// observers and are skipped here.
			if event.Kind != bus.EventTaskUpdate {
				continue
			}

			task, ok := event.Payload.(a2a.Task)
			if !ok {
				continue
			}

			resp, err := jsonrpc.NewResponse(rpcID, task)
			if err != nil {
				continue
			}
			if err := writer.frame(resp); err != nil {
				return
			}

			if task.Terminal() {
				return
			}
		}
	}
}

func streamSignalError(signal sse.Signal) *errors.RpcError {
	if signal.Status != 0 {
		return errors.ErrRemote.WithMessagef("upstream stream returned status %d", signal.Status)
	}
	if signal.Reason != "" {
		return errors.ErrRemote.WithMessagef("upstream stream failed: %s", signal.Reason)
	}
	return errors.ErrRemote
}

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}
