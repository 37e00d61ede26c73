package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/superxlabs/superx/pkg/a2a"
	"github.com/superxlabs/superx/pkg/errors"
	"github.com/superxlabs/superx/pkg/jsonrpc"
)

func TestPostRPCDecodesResponseAndStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Write([]byte(`{"jsonrpc":"2.0","id":"1","result":{"ok":true}}`))
	}))
	defer server.Close()

	client := New(time.Second)
	req, err := jsonrpc.NewRequest("message/send", map[string]any{}, "1")
	require.NoError(t, err)

	resp, status, err := client.PostRPC(context.Background(), server.URL,
		map[string]string{"Authorization": "Bearer tok"}, req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(resp.Result), "ok")
}

func TestPostRPCClassifiesDeadlineAsTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client := New(time.Second)
	req, err := jsonrpc.NewRequest("message/send", map[string]any{}, "1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, _, err = client.PostRPC(ctx, server.URL, nil, req)
	assert.ErrorIs(t, err, errors.ErrTimeout)
}

func TestPostRPCClientTimeoutIsTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client := New(20 * time.Millisecond)
	req, err := jsonrpc.NewRequest("message/send", map[string]any{}, "1")
	require.NoError(t, err)

	_, _, err = client.PostRPC(context.Background(), server.URL, nil, req)
	assert.ErrorIs(t, err, errors.ErrTimeout)
}

func TestGetCardRejectsNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := New(time.Second)
	_, status, err := client.GetCard(context.Background(), server.URL, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, status)
}

func TestGetCardDecodesDocument(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"name":"upstream","url":"http://up.local","version":"2.0.0"}`))
	}))
	defer server.Close()

	client := New(time.Second)
	card, status, err := client.GetCard(context.Background(), server.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "upstream", card["name"])
}

func TestPostStreamSetsEventStreamAccept(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New(time.Second)
	req, err := jsonrpc.NewRequest("message/stream", map[string]any{}, "1")
	require.NoError(t, err)

	resp, err := client.PostStream(context.Background(), server.URL, nil, req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestBearerHeaders(t *testing.T) {
	assert.Nil(t, BearerHeaders(nil))
	assert.Nil(t, BearerHeaders(&a2a.Agent{}))
	assert.Equal(t, map[string]string{"Authorization": "Bearer tok"},
		BearerHeaders(&a2a.Agent{Bearer: "tok"}))
}
