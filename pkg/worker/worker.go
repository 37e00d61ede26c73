// Package worker supervises upstream calls per agent. Each worker owns
// an in-flight counter and a circuit breaker; admission is decided
// atomically so a burst cannot slip past either limit.
package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/superxlabs/superx/pkg/a2a"
	"github.com/superxlabs/superx/pkg/errors"
	"github.com/superxlabs/superx/pkg/httpclient"
	"github.com/superxlabs/superx/pkg/protocol"
	"github.com/superxlabs/superx/pkg/sse"
	"github.com/superxlabs/superx/pkg/telemetry"
)

// Config tunes per-agent supervision.
type Config struct {
	MaxInFlight      int
	FailureThreshold int
	FailureWindow    time.Duration
	Cooldown         time.Duration
	CallTimeout      time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxInFlight:      10,
		FailureThreshold: 5,
		FailureWindow:    30 * time.Second,
		Cooldown:         30 * time.Second,
		CallTimeout:      15 * time.Second,
	}
}

func (config Config) withDefaults() Config {
	def := DefaultConfig()
	if config.MaxInFlight <= 0 {
		config.MaxInFlight = def.MaxInFlight
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = def.FailureThreshold
	}
	if config.FailureWindow <= 0 {
		config.FailureWindow = def.FailureWindow
	}
	if config.Cooldown <= 0 {
		config.Cooldown = def.Cooldown
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = def.CallTimeout
	}
	return config
}

// Health is one worker's snapshot for the health endpoints.
type Health struct {
	AgentID        string `json:"agentId"`
	State          string `json:"state"`
	InFlight       int    `json:"inFlight"`
	RecentFailures int    `json:"recentFailures"`
}

// Worker serializes admission decisions for one agent.
type Worker struct {
	mu       sync.Mutex
	agent    *a2a.Agent
	config   Config
	breaker  breaker
	inFlight int

	registry *protocol.Registry
	client   *httpclient.Client
	sink     sse.TaskSink
	metrics  *telemetry.StreamingMetrics

	// now is swappable for tests.
	now func() time.Time
}

// NewWorker builds a worker for one agent. sink may be nil when the
// worker will never stream.
func NewWorker(agent *a2a.Agent, config Config, registry *protocol.Registry, client *httpclient.Client, sink sse.TaskSink) *Worker {
	config = config.withDefaults()
	return &Worker{
		agent:    agent,
		config:   config,
		breaker:  newBreaker(config.FailureThreshold, config.FailureWindow, config.Cooldown),
		registry: registry,
		client:   client,
		sink:     sink,
		now:      time.Now,
	}
}

// SetAgent swaps the agent record, so registry updates (URL, bearer,
// protocol) take effect on the next call without resetting the breaker.
func (w *Worker) SetAgent(agent *a2a.Agent) {
	w.mu.Lock()
	w.agent = agent
	w.mu.Unlock()
}

// admit applies the breaker and the in-flight cap in one critical
// section.
func (w *Worker) admit() *errors.RpcError {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()

	allowed, transition := w.breaker.admit(now)
	if transition == BreakerHalfOpen {
		telemetry.Emit(telemetry.BreakerHalfOpen, "agent_id", w.agent.ID)
		log.Info("circuit half-open, admitting probe", "agent_id", w.agent.ID)
	}
	if !allowed {
		telemetry.Emit(telemetry.BreakerReject, "agent_id", w.agent.ID)
		return errors.ErrCircuitOpen.WithMessagef("agent %s circuit is open", w.agent.ID)
	}

	if w.inFlight >= w.config.MaxInFlight {
		// An admitted half-open probe slot is returned, the rejection
		// must not leave the breaker waiting on a probe that never ran.
		w.breaker.probing = false
		telemetry.Emit(telemetry.BackpressureReject, "agent_id", w.agent.ID, "in_flight", w.inFlight)
		return errors.ErrAgentOverloaded.WithMessagef("agent %s has %d calls in flight", w.agent.ID, w.inFlight)
	}

	w.inFlight++
	return nil
}

// release returns the in-flight slot and feeds the breaker.
func (w *Worker) release(failed bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.inFlight--

	now := w.now()
	var transition BreakerState
	if failed {
		transition = w.breaker.failure(now)
	} else {
		transition = w.breaker.success(now)
	}

	switch transition {
	case BreakerOpen:
		telemetry.Emit(telemetry.BreakerOpen, "agent_id", w.agent.ID)
		log.Warn("circuit opened", "agent_id", w.agent.ID)
	case BreakerClosed:
		telemetry.Emit(telemetry.BreakerClosed, "agent_id", w.agent.ID)
		log.Info("circuit closed", "agent_id", w.agent.ID)
	}
}

func (w *Worker) snapshotAgent() *a2a.Agent {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.agent
}

// Call performs one unary upstream call under supervision. The returned
// result is the upstream JSON-RPC result payload.
func (w *Worker) Call(ctx context.Context, env *protocol.Envelope) (json.RawMessage, *errors.RpcError) {
	if rpcErr := w.admit(); rpcErr != nil {
		return nil, rpcErr
	}

	agent := w.snapshotAgent()
	adapter := w.registry.ForAgent(agent)

	req, err := adapter.Encode(env)
	if err != nil {
		// Encode faults are ours, the agent never saw the call.
		w.release(false)
		return nil, errors.ErrInvalidParams.WithMessagef("cannot encode %s for %s: %v", env.Method, adapter.ProtocolName(), err)
	}

	callCtx, cancel := context.WithTimeout(ctx, w.config.CallTimeout)
	defer cancel()

	start := time.Now()
	telemetry.Emit(telemetry.CallStart, "agent_id", agent.ID, "method", string(env.Method))

	resp, status, err := w.client.PostRPC(callCtx, agent.URL, httpclient.BearerHeaders(agent), req)

	telemetry.Emit(telemetry.CallStop, "agent_id", agent.ID, "method", string(env.Method), "status", status, "duration", time.Since(start))

	if err != nil {
		w.release(true)
		if rpcErr, ok := err.(*errors.RpcError); ok {
			return nil, rpcErr.WithMessagef("agent %s: %s", agent.ID, rpcErr.Message)
		}
		return nil, errors.ErrRemote.WithMessagef("agent %s transport failure: %v", agent.ID, err)
	}

	// Server faults count toward the breaker, and so does a remote
	// JSON-RPC error riding a healthy status. A 4xx means the agent is
	// up and rejecting the request, which never counts.
	serverFault := status >= http.StatusInternalServerError
	clientFault := !serverFault && status >= http.StatusBadRequest
	remoteErr := resp != nil && resp.Error != nil
	w.release(serverFault || (remoteErr && !clientFault))

	if serverFault {
		if remoteErr {
			return nil, errors.FromRemote(resp.Error.Code, resp.Error.Message, resp.Error.Data)
		}
		return nil, errors.ErrRemote.WithMessagef("agent %s returned status %d", agent.ID, status)
	}

	if remoteErr {
		return nil, errors.FromRemote(resp.Error.Code, resp.Error.Message, resp.Error.Data)
	}

	return resp.Result, nil
}

// Stream opens a supervised streaming call. The consumer runs on its own
// goroutine; the in-flight slot is held until the stream ends. Signals
// arrive on replyTo.
func (w *Worker) Stream(ctx context.Context, env *protocol.Envelope, replyTo chan<- sse.Signal) *errors.RpcError {
	if rpcErr := w.admit(); rpcErr != nil {
		return rpcErr
	}

	agent := w.snapshotAgent()
	adapter := w.registry.ForAgent(agent)

	req, err := adapter.Encode(env)
	if err != nil {
		w.release(false)
		return errors.ErrInvalidParams.WithMessagef("cannot encode %s for %s: %v", env.Method, adapter.ProtocolName(), err)
	}

	consumer := &sse.Consumer{
		URL:     agent.URL,
		Headers: httpclient.BearerHeaders(agent),
		Request: req,
		RPCID:   env.RPCID,
		ReplyTo: replyTo,
		Sink:    w.sink,
		Decoder: adapter,
		Client:  w.client,
		Metrics: w.metrics,
	}

	telemetry.Emit(telemetry.CallStart, "agent_id", agent.ID, "method", string(env.Method), "streaming", true)

	go func() {
		start := time.Now()
		err := consumer.Run(ctx)
		w.release(streamFailed(ctx, err))
		telemetry.Emit(telemetry.CallStop, "agent_id", agent.ID, "method", string(env.Method), "streaming", true, "duration", time.Since(start))
	}()

	return nil
}

// streamFailed decides whether a finished stream counts against the
// breaker. Caller-initiated cancellation never does.
func streamFailed(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if ctx.Err() != nil {
		return false
	}
	return true
}

// SetMetrics attaches streaming metrics recorded by this worker's
// consumers.
func (w *Worker) SetMetrics(metrics *telemetry.StreamingMetrics) {
	w.mu.Lock()
	w.metrics = metrics
	w.mu.Unlock()
}

// InFlight returns the current admitted call count.
func (w *Worker) InFlight() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.inFlight
}

// State returns the breaker position.
func (w *Worker) State() BreakerState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.breaker.state
}

// Health snapshots the worker for the health endpoints.
func (w *Worker) Health() Health {
	w.mu.Lock()
	defer w.mu.Unlock()

	return Health{
		AgentID:        w.agent.ID,
		State:          string(w.breaker.state),
		InFlight:       w.inFlight,
		RecentFailures: w.breaker.recentFailures(w.now()),
	}
}
