package rpc

import (
	"errors"
	"fmt"

	"github.com/fortiblox/stratus-fundraiser/pkg/fundraiser"
	"github.com/fortiblox/stratus-fundraiser/pkg/svm"
)

// JSON-RPC 2.0 standard error codes.
const (
	// ParseError indicates invalid JSON was received.
	ParseError = -32700

	// InvalidRequest indicates the JSON sent is not a valid Request object.
	InvalidRequest = -32600

	// MethodNotFound indicates the method does not exist.
	MethodNotFound = -32601

	// InvalidParams indicates invalid method parameters.
	InvalidParams = -32602

	// InternalError indicates an internal JSON-RPC error.
	InternalError = -32603
)

// Solana-compatible server error codes.
const (
	// SendTransactionPreflightFailure indicates the transaction failed to
	// execute.
	SendTransactionPreflightFailure = -32002

	// TransactionSignatureVerificationFailure indicates signature verification failed.
	TransactionSignatureVerificationFailure = -32003

	// NodeUnhealthy indicates the node is unhealthy.
	NodeUnhealthy = -32005

	// TransactionHistoryNotAvailable indicates the journal is disabled.
	TransactionHistoryNotAvailable = -32011

	// MinContextSlotNotReached indicates min context slot not yet reached.
	MinContextSlotNotReached = -32016
)

// Common errors.
var (
	ErrParseError     = NewRPCError(ParseError, "Parse error")
	ErrInvalidRequest = NewRPCError(InvalidRequest, "Invalid Request")
	ErrNodeUnhealthy  = NewRPCError(NodeUnhealthy, "Node is unhealthy")
	ErrNoHistory      = NewRPCError(TransactionHistoryNotAvailable, "Transaction history is not available from this node")
)

// NewRPCError creates a new RPC error.
func NewRPCError(code int, message string) *RPCError {
	return &RPCError{
		Code:    code,
		Message: message,
	}
}

// NewRPCErrorWithData creates a new RPC error with additional data.
func NewRPCErrorWithData(code int, message string, data interface{}) *RPCError {
	return &RPCError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("RPC error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// InvalidParamsError creates an invalid params error with a custom message.
func InvalidParamsError(msg string) *RPCError {
	return NewRPCError(InvalidParams, msg)
}

// InvalidParamsErrorf creates an invalid params error with a formatted message.
func InvalidParamsErrorf(format string, args ...interface{}) *RPCError {
	return NewRPCError(InvalidParams, fmt.Sprintf(format, args...))
}

// InternalServerErrorf creates an internal server error with a formatted message.
func InternalServerErrorf(format string, args ...interface{}) *RPCError {
	return NewRPCError(InternalError, fmt.Sprintf(format, args...))
}

// MinContextSlotError creates an error for min context slot not reached.
func MinContextSlotError(minSlot, currentSlot uint64) *RPCError {
	return NewRPCErrorWithData(MinContextSlotNotReached,
		fmt.Sprintf("Minimum context slot %d has not been reached, current slot is %d", minSlot, currentSlot),
		map[string]uint64{"minSlot": minSlot, "currentSlot": currentSlot})
}

// SubmitError maps an error that kept a transaction from running.
func SubmitError(err error) *RPCError {
	switch {
	case errors.Is(err, svm.ErrSignatureVerificationFailed):
		return NewRPCError(TransactionSignatureVerificationFailure, err.Error())
	case errors.Is(err, svm.ErrMalformedTransaction):
		return InvalidParamsErrorf("invalid transaction: %v", err)
	case errors.Is(err, svm.ErrAlreadyProcessed):
		return NewRPCError(SendTransactionPreflightFailure, "Transaction simulation failed: This transaction has already been processed")
	default:
		return InternalServerErrorf("failed to process transaction: %v", err)
	}
}

// ExecutionError maps a failed execution result. Program errors carry
// their code and name in the error data.
func ExecutionError(result *svm.ExecutionResult) *RPCError {
	msg := fmt.Sprintf("Transaction failed: %v", result.Err)
	if pe, ok := fundraiser.AsProgramError(result.Err); ok {
		return NewRPCErrorWithData(SendTransactionPreflightFailure, msg, ProgramErrorData{
			Code:   pe.ProgramCode(),
			Name:   pe.Name(),
			Detail: pe.Detail,
			Logs:   result.Logs,
		})
	}
	return NewRPCErrorWithData(SendTransactionPreflightFailure, msg, map[string]interface{}{
		"logs": result.Logs,
	})
}

func statusOf(err error) *TransactionStatus {
	if err == nil {
		return nil
	}
	status := &TransactionStatus{Err: err.Error()}
	if pe, ok := fundraiser.AsProgramError(err); ok {
		status.Code = pe.ProgramCode()
	}
	return status
}
