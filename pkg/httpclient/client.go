// Package httpclient provides the pooled outbound HTTP client used for
// upstream JSON-RPC calls, agent-card fetches and raw streaming posts.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/superxlabs/superx/pkg/a2a"
	"github.com/superxlabs/superx/pkg/errors"
	"github.com/superxlabs/superx/pkg/jsonrpc"
	"github.com/superxlabs/superx/pkg/telemetry"
)

// Client wraps two pooled http.Clients: one with a request timeout for
// unary calls, one without for streams (http.Client.Timeout also covers
// body reads, which would sever long-lived SSE connections).
type Client struct {
	unary  *http.Client
	stream *http.Client
}

// New builds a client with the given unary call timeout.
func New(timeout time.Duration) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}

	return &Client{
		unary: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		stream: &http.Client{
			Transport: transport,
		},
	}
}

// PostRPC posts a JSON-RPC request and decodes the JSON-RPC response.
// The returned status is the HTTP status code; rpc-level errors live in
// the response's Error field.
func (c *Client) PostRPC(ctx context.Context, url string, headers map[string]string, req *jsonrpc.Request) (*jsonrpc.Response, int, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, 0, err
	}

	start := time.Now()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.unary.Do(httpReq)
	if err != nil {
		telemetry.Emit(telemetry.CallError, "url", url, "reason", err.Error())
		return nil, 0, classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, classifyTransportError(ctx, err)
	}

	log.Debug("upstream rpc", "url", url, "method", req.Method, "status", resp.StatusCode, "duration", time.Since(start))

	var rpcResp jsonrpc.Response
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("undecodable upstream response: %w", err)
	}

	return &rpcResp, resp.StatusCode, nil
}

// GetCard fetches and decodes an agent-card document.
func (c *Client) GetCard(ctx context.Context, url string, headers map[string]string) (a2a.Card, int, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.unary.Do(httpReq)
	if err != nil {
		return nil, 0, classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, resp.StatusCode, fmt.Errorf("card fetch returned status %d", resp.StatusCode)
	}

	var card a2a.Card
	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("undecodable agent card: %w", err)
	}

	return card, resp.StatusCode, nil
}

// PostStream posts a JSON-RPC request and hands the raw response back to
// the caller, who owns the body. Used by the SSE consumer.
func (c *Client) PostStream(ctx context.Context, url string, headers map[string]string, req *jsonrpc.Request) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.stream.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}

	return resp, nil
}

// classifyTransportError folds context and net timeouts into the RPC
// timeout error so the worker's failure accounting can tell timeouts from
// other transport faults.
func classifyTransportError(ctx context.Context, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return errors.ErrTimeout
	}
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return errors.ErrTimeout
	}
	return err
}

// BearerHeaders builds the outbound header set for an agent, attaching its
// static bearer when configured.
func BearerHeaders(agent *a2a.Agent) map[string]string {
	if agent == nil || agent.Bearer == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + agent.Bearer}
}
