package jsonrpc

// A small, self-contained set of JSON-RPC 2.0 wire types shared by the
// intake layer, the protocol adapters and the upstream clients.

import (
	"bytes"
	"encoding/json"

	"github.com/superxlabs/superx/pkg/errors"
)

const Version = "2.0"

// Request is a JSON-RPC 2.0 request envelope. ID accepts string | number |
// null and is kept raw so it can be echoed back byte-for-byte.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response envelope.
type Response struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      json.RawMessage  `json:"id,omitempty"`
	Result  json.RawMessage  `json:"result,omitempty"`
	Error   *errors.RpcError `json:"error,omitempty"`
}

// NewRequest builds a request with the given method, params and id. Params
// are marshalled eagerly so encode failures surface at call sites.
func NewRequest(method string, params any, id any) (*Request, error) {
	req := &Request{
		JSONRPC: Version,
		Method:  method,
	}

	if id != nil {
		raw, err := json.Marshal(id)
		if err != nil {
			return nil, err
		}
		req.ID = raw
	}

	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		req.Params = raw
	}

	return req, nil
}

// NewNotification builds a request without an id. Notifications never
// receive a response.
func NewNotification(method string, params any) (*Request, error) {
	return NewRequest(method, params, nil)
}

// IsNotification reports whether the request carries no id.
func (req *Request) IsNotification() bool {
	return len(req.ID) == 0 || bytes.Equal(req.ID, []byte("null"))
}

// NewResponse wraps a result for the given id.
func NewResponse(id json.RawMessage, result any) (*Response, error) {
	resp := &Response{
		JSONRPC: Version,
		ID:      id,
	}

	if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			return nil, err
		}
		resp.Result = raw
	}

	return resp, nil
}

// NewErrorResponse wraps an RpcError for the given id. A nil error is
// normalized to ErrInternal so the mandatory code/message fields are
// always present.
func NewErrorResponse(id json.RawMessage, e *errors.RpcError) *Response {
	if e == nil {
		e = errors.ErrInternal
	}

	return &Response{
		JSONRPC: Version,
		ID:      id,
		Error:   e,
	}
}

// ParseBody splits a raw HTTP body into one or more requests, supporting
// JSON-RPC batch arrays. The second return value reports whether the body
// was a batch.
func ParseBody(body []byte) ([]Request, bool, *errors.RpcError) {
	body = bytes.TrimSpace(body)

	if len(body) == 0 {
		return nil, false, errors.ErrInvalidRequest
	}

	if body[0] == '[' {
		var batch []Request
		if err := json.Unmarshal(body, &batch); err != nil {
			return nil, true, errors.ErrParseError
		}
		return batch, true, nil
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, false, errors.ErrParseError
	}

	return []Request{req}, false, nil
}
