// Package sse consumes upstream agent event streams and merges every
// event into the task store. The originating request is answered through
// a one-shot init signal carrying the first event.
package sse

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/superxlabs/superx/pkg/a2a"
	"github.com/superxlabs/superx/pkg/errors"
	"github.com/superxlabs/superx/pkg/httpclient"
	"github.com/superxlabs/superx/pkg/jsonrpc"
	"github.com/superxlabs/superx/pkg/telemetry"
)

// SignalKind tags consumer-to-caller notifications.
type SignalKind string

const (
	SignalInit  SignalKind = "stream_init"
	SignalError SignalKind = "stream_error"
)

// Signal is the consumer's message to the request that started the
// stream. Init carries the first event; Error carries the HTTP status or
// transport reason that ended the stream before it produced one.
type Signal struct {
	Kind   SignalKind
	RPCID  json.RawMessage
	First  json.RawMessage
	Status int
	Reason string
}

// TaskSink is the slice of the task store the consumer writes into.
type TaskSink interface {
	Put(task a2a.Task) *errors.RpcError
	ApplyStatusUpdate(update map[string]any) (a2a.Task, *errors.RpcError)
	ApplyArtifactUpdate(update map[string]any) (a2a.Task, *errors.RpcError)
}

// EventDecoder parses one SSE frame into a result payload, matching the
// protocol adapters' DecodeStreamEvent capability.
type EventDecoder interface {
	DecodeStreamEvent(line []byte) (json.RawMessage, *errors.RpcError)
}

// Consumer drives one upstream stream.
type Consumer struct {
	URL     string
	Headers map[string]string
	Request *jsonrpc.Request
	RPCID   json.RawMessage
	ReplyTo chan<- Signal

	Sink    TaskSink
	Decoder EventDecoder
	Client  *httpclient.Client

	Metrics *telemetry.StreamingMetrics

	initSent bool
}

// Run connects and consumes until end-of-stream, transport failure or
// context cancellation. Call from its own goroutine.
func (consumer *Consumer) Run(ctx context.Context) error {
	start := time.Now()

	resp, err := consumer.Client.PostStream(ctx, consumer.URL, consumer.Headers, consumer.Request)
	if err != nil {
		if consumer.Metrics != nil {
			consumer.Metrics.RecordConnection(false, time.Since(start))
		}
		consumer.signalError(0, err.Error())
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		if consumer.Metrics != nil {
			consumer.Metrics.RecordConnection(false, time.Since(start))
		}
		consumer.signalError(resp.StatusCode, "")
		return errors.ErrRemote.WithMessagef("upstream stream returned status %d", resp.StatusCode)
	}

	if consumer.Metrics != nil {
		consumer.Metrics.RecordConnection(true, time.Since(start))
	}
	telemetry.Emit(telemetry.StreamConnect, "url", consumer.URL, "status", resp.StatusCode)

	parser := &Parser{}
	buf := make([]byte, 4096)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := resp.Body.Read(buf)
		if n > 0 {
			for _, frame := range parser.Feed(buf[:n]) {
				consumer.handleFrame(frame)
			}
		}

		if err == io.EOF {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			consumer.signalError(0, err.Error())
			return err
		}
	}
}

// handleFrame decodes and dispatches one frame. Malformed frames are
// logged and skipped, never fatal.
func (consumer *Consumer) handleFrame(frame []byte) {
	if IsComment(frame) {
		return
	}

	start := time.Now()

	result, rpcErr := consumer.Decoder.DecodeStreamEvent(frame)
	if rpcErr != nil {
		if rpcErr.Code == errors.ErrParseError.Code {
			log.Warn("skipping malformed stream event", "url", consumer.URL, "error", rpcErr.Message)
			if consumer.Metrics != nil {
				consumer.Metrics.RecordEvent(true, time.Since(start))
			}
			return
		}

		// Upstream error event: surfaces to the caller when the stream
		// has not produced a first event yet, otherwise logged. Either
		// way the one-shot reply is spent.
		if !consumer.initSent {
			consumer.signalError(0, rpcErr.Message)
			consumer.initSent = true
		} else {
			log.Warn("upstream stream error event", "url", consumer.URL, "error", rpcErr.Message)
		}
		return
	}

	consumer.sendInit(result)
	consumer.dispatch(result)

	if consumer.Metrics != nil {
		consumer.Metrics.RecordEvent(false, time.Since(start))
	}
	telemetry.Emit(telemetry.StreamEvent, "url", consumer.URL)
}

// sendInit delivers the one-shot init signal on the first event.
func (consumer *Consumer) sendInit(first json.RawMessage) {
	if consumer.initSent || consumer.ReplyTo == nil {
		consumer.initSent = true
		return
	}
	consumer.initSent = true

	// Non-blocking: the reply channel's reader takes exactly one signal
	// and walks away, a blocked send here would pin the stream (and its
	// worker slot) forever.
	select {
	case consumer.ReplyTo <- Signal{
		Kind:  SignalInit,
		RPCID: consumer.RPCID,
		First: first,
	}:
	default:
		log.Debug("dropping stream init signal, reply channel abandoned", "url", consumer.URL)
	}
}

func (consumer *Consumer) signalError(status int, reason string) {
	telemetry.Emit(telemetry.StreamError, "url", consumer.URL, "status", status, "reason", reason)

	if consumer.ReplyTo == nil {
		return
	}
	select {
	case consumer.ReplyTo <- Signal{
		Kind:   SignalError,
		RPCID:  consumer.RPCID,
		Status: status,
		Reason: reason,
	}:
	default:
		log.Debug("dropping stream error signal, reply channel abandoned", "url", consumer.URL)
	}
}

// dispatch merges one event body into the task store by shape:
// statusUpdate, artifactUpdate, task, or bare message. Anything else is
// ignored.
func (consumer *Consumer) dispatch(result json.RawMessage) {
	var event map[string]any
	if err := json.Unmarshal(result, &event); err != nil {
		log.Warn("skipping undecodable stream result", "url", consumer.URL, "error", err)
		return
	}

	switch {
	case hasObject(event, "statusUpdate"):
		update := event["statusUpdate"].(map[string]any)
		if _, rpcErr := consumer.Sink.ApplyStatusUpdate(update); rpcErr != nil {
			log.Warn("status update rejected", "error", rpcErr.Message)
		}
	case hasObject(event, "artifactUpdate"):
		update := event["artifactUpdate"].(map[string]any)
		if _, rpcErr := consumer.Sink.ApplyArtifactUpdate(update); rpcErr != nil {
			log.Warn("artifact update rejected", "error", rpcErr.Message)
		}
	case hasObject(event, "task"):
		task, _ := a2a.FromValue(event["task"])
		if rpcErr := consumer.Sink.Put(task); rpcErr != nil {
			log.Warn("task put rejected", "error", rpcErr.Message)
		}
	case hasObject(event, "message"):
		message := event["message"].(map[string]any)
		if rpcErr := consumer.Sink.Put(a2a.SyntheticFromMessage(message)); rpcErr != nil {
			log.Warn("synthetic task rejected", "error", rpcErr.Message)
		}
	default:
		log.Debug("ignoring unrecognized stream event shape", "url", consumer.URL)
	}
}

func hasObject(event map[string]any, key string) bool {
	_, ok := event[key].(map[string]any)
	return ok
}
