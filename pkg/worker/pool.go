package worker

import (
	"sort"
	"sync"

	"github.com/superxlabs/superx/pkg/a2a"
	"github.com/superxlabs/superx/pkg/httpclient"
	"github.com/superxlabs/superx/pkg/protocol"
	"github.com/superxlabs/superx/pkg/sse"
	"github.com/superxlabs/superx/pkg/telemetry"
)

// Pool hands out one worker per agent id. Workers are created lazily on
// first use and survive agent record updates, so breaker history is kept
// across catalog upserts.
type Pool struct {
	mu      sync.RWMutex
	workers map[string]*Worker

	config   Config
	registry *protocol.Registry
	client   *httpclient.Client
	sink     sse.TaskSink
	metrics  *telemetry.StreamingMetrics
}

// NewPool builds a pool sharing one outbound client and protocol
// registry across workers.
func NewPool(config Config, registry *protocol.Registry, client *httpclient.Client, sink sse.TaskSink) *Pool {
	return &Pool{
		workers:  make(map[string]*Worker),
		config:   config.withDefaults(),
		registry: registry,
		client:   client,
		sink:     sink,
		metrics:  telemetry.NewStreamingMetrics(),
	}
}

// For returns the agent's worker, creating it on first use and refreshing
// the agent record on subsequent calls.
func (pool *Pool) For(agent *a2a.Agent) *Worker {
	pool.mu.RLock()
	w, ok := pool.workers[agent.ID]
	pool.mu.RUnlock()

	if ok {
		w.SetAgent(agent)
		return w
	}

	pool.mu.Lock()
	defer pool.mu.Unlock()

	if w, ok := pool.workers[agent.ID]; ok {
		w.SetAgent(agent)
		return w
	}

	w = NewWorker(agent, pool.config, pool.registry, pool.client, pool.sink)
	w.SetMetrics(pool.metrics)
	pool.workers[agent.ID] = w
	return w
}

// Get returns the worker for an agent id without creating one.
func (pool *Pool) Get(agentID string) (*Worker, bool) {
	pool.mu.RLock()
	defer pool.mu.RUnlock()
	w, ok := pool.workers[agentID]
	return w, ok
}

// Remove drops the worker when its agent leaves the catalog. In-flight
// calls finish on the detached worker.
func (pool *Pool) Remove(agentID string) {
	pool.mu.Lock()
	delete(pool.workers, agentID)
	pool.mu.Unlock()
}

// Health snapshots every worker, sorted by agent id.
func (pool *Pool) Health() []Health {
	pool.mu.RLock()
	snapshots := make([]Health, 0, len(pool.workers))
	for _, w := range pool.workers {
		snapshots = append(snapshots, w.Health())
	}
	pool.mu.RUnlock()

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].AgentID < snapshots[j].AgentID
	})

	return snapshots
}

// Metrics exposes the pool's shared streaming metrics.
func (pool *Pool) Metrics() *telemetry.StreamingMetrics {
	return pool.metrics
}
