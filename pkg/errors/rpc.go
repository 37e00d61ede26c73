package errors

import "fmt"

/*
RpcError represents a JSON-RPC error response.
*/
type RpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

/*
Error implements the error interface for RpcError.
*/
func (e *RpcError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// Convenience errors (JSON-RPC reserved codes -32700 .. -32600) plus the
// gateway's application range. Application codes live in -32001 .. -32099.
var (
	ErrParseError     = &RpcError{Code: -32700, Message: "Parse error"}
	ErrInvalidRequest = &RpcError{Code: -32600, Message: "Invalid Request"}
	ErrMethodNotFound = &RpcError{Code: -32601, Message: "Method not found"}
	ErrInvalidParams  = &RpcError{Code: -32602, Message: "Invalid params"}
	ErrInternal       = &RpcError{Code: -32603, Message: "Internal error"}

	ErrAgentNotFound    = &RpcError{Code: -32001, Message: "Agent not found"}
	ErrCircuitOpen      = &RpcError{Code: -32002, Message: "Circuit open"}
	ErrAgentOverloaded  = &RpcError{Code: -32003, Message: "Agent overloaded"}
	ErrTaskNotFound     = &RpcError{Code: -32004, Message: "Task not found"}
	ErrTaskTerminal     = &RpcError{Code: -32005, Message: "Task is in a terminal state"}
	ErrResourceNotFound = &RpcError{Code: -32010, Message: "Resource not found"}
	ErrTimeout          = &RpcError{Code: -32098, Message: "Upstream timeout"}
	ErrRemote           = &RpcError{Code: -32099, Message: "Remote error"}
)

// WithMessagef creates a *copy* of an RpcError with a formatted message.
// It does not modify the original error variable.
func (e *RpcError) WithMessagef(format string, args ...any) *RpcError {
	newErr := *e
	newErr.Message = fmt.Sprintf(format, args...)
	return &newErr
}

// WithData creates a copy of an RpcError carrying additional data.
func (e *RpcError) WithData(data any) *RpcError {
	newErr := *e
	newErr.Data = data
	return &newErr
}

// FromRemote wraps an upstream JSON-RPC error so the original code and
// message survive the hop through the gateway.
func FromRemote(code int, message string, data any) *RpcError {
	return &RpcError{Code: code, Message: message, Data: data}
}

// AsRpcError coerces any error into an RpcError, defaulting to ErrInternal
// for errors that did not originate from the RPC layer.
func AsRpcError(err error) *RpcError {
	if err == nil {
		return nil
	}
	if rpcErr, ok := err.(*RpcError); ok {
		return rpcErr
	}
	return ErrInternal.WithMessagef("%v", err)
}
