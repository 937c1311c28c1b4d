package journal

import (
	"context"
	"errors"
	"fmt"

	"github.com/fortiblox/stratus-fundraiser/internal/types"
	"github.com/fortiblox/stratus-fundraiser/pkg/svm"
	"github.com/rs/zerolog"
)

// codedError is implemented by program errors that carry a numeric code.
type codedError interface {
	ProgramCode() uint32
}

// Executor runs transactions. *svm.Runtime satisfies it.
type Executor interface {
	Execute(ctx context.Context, tx *svm.Transaction) (*svm.ExecutionResult, error)
}

// Recorder executes transactions and journals every result the runtime
// produced, whether or not it committed.
type Recorder struct {
	exec  Executor
	store *Store
	clock svm.TimeSource
	log   zerolog.Logger
}

// NewRecorder creates a recorder that journals into store.
func NewRecorder(exec Executor, store *Store, clock svm.TimeSource, logger zerolog.Logger) *Recorder {
	return &Recorder{
		exec:  exec,
		store: store,
		clock: clock,
		log:   logger.With().Str("component", "journal").Logger(),
	}
}

// Process executes tx and appends its receipt. Errors that prevented
// execution are returned without journaling. A signature already in the
// journal is rejected before it reaches the runtime, so a transaction runs
// at most once across restarts.
func (r *Recorder) Process(ctx context.Context, tx *svm.Transaction) (*svm.ExecutionResult, *Receipt, error) {
	if sig := tx.ID(); r.store.Has(sig) {
		return nil, nil, fmt.Errorf("%w: %s", svm.ErrAlreadyProcessed, sig)
	}
	result, err := r.exec.Execute(ctx, tx)
	if err != nil {
		return nil, nil, err
	}

	receipt := NewReceipt(tx, result, r.clock.Now())
	if err := r.store.Append(receipt); err != nil {
		// The runtime already committed; a lost receipt only affects
		// history queries.
		r.log.Error().Err(err).Str("signature", result.Signature.String()).Msg("journal append failed")
		return result, nil, fmt.Errorf("journal %s: %w", result.Signature, err)
	}
	return result, receipt, nil
}

// NewReceipt builds the unsealed receipt of an execution result.
func NewReceipt(tx *svm.Transaction, result *svm.ExecutionResult, blockTime int64) *Receipt {
	keys := tx.Message.AccountKeys()
	r := &Receipt{
		Signature:    result.Signature,
		Slot:         result.Slot,
		BlockTime:    blockTime,
		ComputeUnits: result.ComputeUnitsUsed,
		Logs:         append([]string(nil), result.Logs...),
		Accounts:     make([]types.Pubkey, 0, len(keys)),
	}
	for _, meta := range keys {
		r.Accounts = append(r.Accounts, meta.Pubkey)
	}
	if result.Err != nil {
		r.Err = result.Err.Error()
		var coded codedError
		if errors.As(result.Err, &coded) {
			r.ErrCode = coded.ProgramCode()
		}
	}
	return r
}
