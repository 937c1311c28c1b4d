// Package svm is the transaction runtime: it verifies signatures, locks the
// accounts a transaction touches, runs each instruction against private
// copies of those accounts, enforces the ownership rules after every
// invocation and commits the result atomically.
package svm

import (
	"sync/atomic"

	"github.com/fortiblox/stratus-fundraiser/pkg/svm/invoke"
)

// Compute unit cost constants.
const (
	CUDefault              = uint64(200_000)   // Default CU limit per transaction
	CUMax                  = uint64(1_400_000) // Max CU limit per transaction
	CUInstructionBase      = uint64(100)       // Charged per top-level instruction
	CUInvokeBase           = uint64(1_000)     // Charged per cross-program invocation
	CUSignatureVerify      = uint64(720)       // Ed25519 signature verification
	CUCreateProgramAddress = uint64(1_500)     // Per derivation attempt
	CUWriteLock            = uint64(300)       // Per writable account
)

// CPIDepthMax is the deepest a cross-program call chain may nest.
const CPIDepthMax = 4

var (
	// ErrComputeExceeded is returned when compute units are exhausted.
	ErrComputeExceeded = invoke.ErrComputeExceeded
)

// ComputeMeter tracks compute unit consumption.
type ComputeMeter struct {
	remaining uint64
	consumed  uint64
	limit     uint64
}

// NewComputeMeter creates a new compute meter with the specified limit.
func NewComputeMeter(limit uint64) *ComputeMeter {
	if limit == 0 {
		limit = CUDefault
	}
	if limit > CUMax {
		limit = CUMax
	}
	return &ComputeMeter{
		remaining: limit,
		limit:     limit,
	}
}

// Consume attempts to consume the specified compute units.
// Returns ErrComputeExceeded if insufficient units remain.
func (cm *ComputeMeter) Consume(cost uint64) error {
	for {
		remaining := atomic.LoadUint64(&cm.remaining)
		if remaining < cost {
			atomic.AddUint64(&cm.consumed, remaining)
			atomic.StoreUint64(&cm.remaining, 0)
			return ErrComputeExceeded
		}
		if atomic.CompareAndSwapUint64(&cm.remaining, remaining, remaining-cost) {
			atomic.AddUint64(&cm.consumed, cost)
			return nil
		}
	}
}

// Remaining returns the remaining compute units.
func (cm *ComputeMeter) Remaining() uint64 {
	return atomic.LoadUint64(&cm.remaining)
}

// Consumed returns the total consumed compute units.
func (cm *ComputeMeter) Consumed() uint64 {
	return atomic.LoadUint64(&cm.consumed)
}

// Limit returns the compute unit limit.
func (cm *ComputeMeter) Limit() uint64 {
	return cm.limit
}
