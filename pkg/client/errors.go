package client

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fortiblox/stratus-fundraiser/pkg/rpc"
)

// Client errors.
var (
	ErrNoEndpoints = errors.New("no node endpoints configured")
	ErrNotFound    = errors.New("not found")
)

// RPCError represents a JSON-RPC error response.
type RPCError struct {
	Code    int
	Message string
	Data    json.RawMessage
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// ProgramError returns the program failure attached to a transaction
// error, if any.
func (e *RPCError) ProgramError() (*rpc.ProgramErrorData, bool) {
	if e.Code != rpc.SendTransactionPreflightFailure || len(e.Data) == 0 {
		return nil, false
	}
	var data rpc.ProgramErrorData
	if err := json.Unmarshal(e.Data, &data); err != nil || data.Name == "" {
		return nil, false
	}
	return &data, true
}

// ProgramErrorCode extracts the fundraiser program error code from err.
func ProgramErrorCode(err error) (uint32, bool) {
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		return 0, false
	}
	data, ok := rpcErr.ProgramError()
	if !ok {
		return 0, false
	}
	return data.Code, true
}
