package worker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/superxlabs/superx/pkg/a2a"
	"github.com/superxlabs/superx/pkg/httpclient"
	"github.com/superxlabs/superx/pkg/protocol"
)

func testWorker(url string, config Config) *Worker {
	agent := &a2a.Agent{ID: "upstream", URL: url}
	return NewWorker(agent, config, protocol.NewRegistry(), httpclient.New(2*time.Second), nil)
}

func sendEnvelope() *protocol.Envelope {
	return &protocol.Envelope{
		Method:  protocol.MethodSendMessage,
		TaskID:  "t-1",
		Message: map[string]any{"role": "user"},
	}
}

func TestCallReturnsUpstreamResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":"1","result":{"id":"t-1","status":{"state":"completed"}}}`))
	}))
	defer server.Close()

	w := testWorker(server.URL, Config{})

	result, rpcErr := w.Call(context.Background(), sendEnvelope())
	require.Nil(t, rpcErr)
	assert.Contains(t, string(result), "completed")
	assert.Equal(t, 0, w.InFlight())
	assert.Equal(t, BreakerClosed, w.State())
}

func TestCallSurfacesUpstreamRpcError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":"1","error":{"code":-32004,"message":"no such task"}}`))
	}))
	defer server.Close()

	w := testWorker(server.URL, Config{})

	_, rpcErr := w.Call(context.Background(), sendEnvelope())
	require.NotNil(t, rpcErr)
	assert.Equal(t, -32004, rpcErr.Code)

	// An rpc-level error on HTTP 200 counts like any remote failure.
	assert.Equal(t, 1, w.Health().RecentFailures)
}

func TestRemoteRpcErrorCountsTowardBreaker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":"1","error":{"code":-32000,"message":"agent fell over"}}`))
	}))
	defer server.Close()

	w := testWorker(server.URL, Config{FailureThreshold: 2})

	for i := 0; i < 2; i++ {
		_, rpcErr := w.Call(context.Background(), sendEnvelope())
		require.NotNil(t, rpcErr)
		assert.Equal(t, -32000, rpcErr.Code)
	}

	assert.Equal(t, BreakerOpen, w.State(), "remote errors on 2xx feed the breaker")
}

func TestBreakerOpensAfterRepeated5xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	w := testWorker(server.URL, Config{FailureThreshold: 3})

	for i := 0; i < 3; i++ {
		_, rpcErr := w.Call(context.Background(), sendEnvelope())
		require.NotNil(t, rpcErr)
	}

	assert.Equal(t, BreakerOpen, w.State())

	_, rpcErr := w.Call(context.Background(), sendEnvelope())
	require.NotNil(t, rpcErr)
	assert.Equal(t, -32002, rpcErr.Code, "open circuit rejects immediately")
}

func TestBreakerRecoversThroughHalfOpenProbe(t *testing.T) {
	var healthy atomic.Bool

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"jsonrpc":"2.0","id":"1","result":{}}`))
	}))
	defer server.Close()

	w := testWorker(server.URL, Config{FailureThreshold: 1, Cooldown: 30 * time.Second})

	base := time.Now()
	w.now = func() time.Time { return base }

	_, rpcErr := w.Call(context.Background(), sendEnvelope())
	require.NotNil(t, rpcErr)
	require.Equal(t, BreakerOpen, w.State())

	// After the cooldown the probe is admitted and the recovered
	// upstream closes the breaker.
	healthy.Store(true)
	w.now = func() time.Time { return base.Add(31 * time.Second) }

	_, rpcErr = w.Call(context.Background(), sendEnvelope())
	require.Nil(t, rpcErr)
	assert.Equal(t, BreakerClosed, w.State())
}

func TestClientErrorsDoNotTripBreaker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"jsonrpc":"2.0","id":"1","error":{"code":-32601,"message":"nope"}}`))
	}))
	defer server.Close()

	w := testWorker(server.URL, Config{FailureThreshold: 2})

	for i := 0; i < 5; i++ {
		_, rpcErr := w.Call(context.Background(), sendEnvelope())
		require.NotNil(t, rpcErr)
	}

	assert.Equal(t, BreakerClosed, w.State(), "4xx responses never count toward the breaker")
}

func TestBackpressureRejectsAtCapacity(t *testing.T) {
	release := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write([]byte(`{"jsonrpc":"2.0","id":"1","result":{}}`))
	}))
	defer server.Close()

	w := testWorker(server.URL, Config{MaxInFlight: 2, CallTimeout: 10 * time.Second})

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Call(context.Background(), sendEnvelope())
		}()
	}

	require.Eventually(t, func() bool {
		return w.InFlight() == 2
	}, time.Second, 5*time.Millisecond)

	_, rpcErr := w.Call(context.Background(), sendEnvelope())
	require.NotNil(t, rpcErr)
	assert.Equal(t, -32003, rpcErr.Code)

	close(release)
	wg.Wait()
	assert.Equal(t, 0, w.InFlight())
}

func TestTransportFailureCountsTowardBreaker(t *testing.T) {
	// A closed port produces an immediate transport error.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	w := testWorker(url, Config{FailureThreshold: 2})

	for i := 0; i < 2; i++ {
		_, rpcErr := w.Call(context.Background(), sendEnvelope())
		require.NotNil(t, rpcErr)
	}

	assert.Equal(t, BreakerOpen, w.State())
}

func TestPoolReusesWorkerAcrossUpserts(t *testing.T) {
	pool := NewPool(Config{}, protocol.NewRegistry(), httpclient.New(time.Second), nil)

	first := pool.For(&a2a.Agent{ID: "a", URL: "http://one.local"})
	second := pool.For(&a2a.Agent{ID: "a", URL: "http://two.local"})

	assert.Same(t, first, second, "breaker history survives record updates")
	assert.Equal(t, "http://two.local", second.snapshotAgent().URL)

	pool.Remove("a")
	_, ok := pool.Get("a")
	assert.False(t, ok)
}

func TestPoolHealthSorted(t *testing.T) {
	pool := NewPool(Config{}, protocol.NewRegistry(), httpclient.New(time.Second), nil)

	pool.For(&a2a.Agent{ID: "zeta", URL: "http://z.local"})
	pool.For(&a2a.Agent{ID: "alpha", URL: "http://a.local"})

	health := pool.Health()
	require.Len(t, health, 2)
	assert.Equal(t, "alpha", health[0].AgentID)
	assert.Equal(t, "zeta", health[1].AgentID)
	assert.Equal(t, string(BreakerClosed), health[0].State)
}
