package jsonrpc

import (
	"github.com/openagents/a2a-engine/pkg/errors"
)

type Response struct {
	JSONRPC string           `json:"jsonrpc"`
	ID      any              `json:"id,omitempty"`
	Result  any              `json:"result,omitempty"`
	Error   *errors.RpcError `json:"error,omitempty"`
}

// NewResult wraps a result payload in a success envelope for the given
// request id.
func NewResult(id any, result any) Response {
	return Response{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	}
}

// NewError wraps an RpcError in an error envelope for the given request id.
func NewError(id any, e *errors.RpcError) Response {
	if e == nil {
		e = errors.ErrInternal
	}

	return Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   e,
	}
}
