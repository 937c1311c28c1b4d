package svm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/fortiblox/stratus-fundraiser/internal/types"
	"github.com/fortiblox/stratus-fundraiser/pkg/accounts"
	"github.com/fortiblox/stratus-fundraiser/pkg/svm/invoke"
	"github.com/rs/zerolog"
)

// Config holds runtime parameters.
type Config struct {
	// ComputeLimit is the compute budget of every transaction.
	ComputeLimit uint64

	// Rent holds the rent-exemption parameters.
	Rent invoke.Rent

	// RecentSignatures bounds the duplicate-signature cache.
	RecentSignatures int
}

// DefaultConfig returns the default runtime configuration.
func DefaultConfig() Config {
	return Config{
		ComputeLimit:     CUDefault,
		Rent:             invoke.DefaultRent(),
		RecentSignatures: 100_000,
	}
}

// ExecutionResult is the outcome of one transaction.
type ExecutionResult struct {
	Signature        types.Signature
	Slot             uint64
	Err              error
	ComputeUnitsUsed uint64
	Logs             []string
	ModifiedAccounts []types.Pubkey
}

// Success reports whether the transaction committed.
func (r *ExecutionResult) Success() bool {
	return r.Err == nil
}

// Runtime executes transactions against an accounts DB.
//
// Transactions touching disjoint writable accounts run in parallel; those
// that conflict are serialized by per-account locks.
type Runtime struct {
	db       accounts.DB
	programs map[types.Pubkey]invoke.Program
	clock    TimeSource
	cfg      Config
	locks    *lockTable
	slot     atomic.Uint64
	log      zerolog.Logger

	recentMu    sync.Mutex
	recent      map[types.Signature]struct{}
	recentOrder []types.Signature
}

// NewRuntime creates a runtime over db with the given programs registered.
func NewRuntime(db accounts.DB, clock TimeSource, cfg Config, logger zerolog.Logger, programs ...invoke.Program) *Runtime {
	if clock == nil {
		clock = SystemClock{}
	}
	if cfg.ComputeLimit == 0 {
		cfg.ComputeLimit = CUDefault
	}
	if cfg.Rent == (invoke.Rent{}) {
		cfg.Rent = invoke.DefaultRent()
	}
	r := &Runtime{
		db:       db,
		programs: make(map[types.Pubkey]invoke.Program, len(programs)),
		clock:    clock,
		cfg:      cfg,
		locks:    newLockTable(),
		log:      logger.With().Str("component", "svm").Logger(),
		recent:   make(map[types.Signature]struct{}),
	}
	for _, p := range programs {
		r.programs[p.ID()] = p
	}
	r.slot.Store(db.GetSlot())
	return r
}

// IsProgram reports whether key is a registered program.
func (r *Runtime) IsProgram(key types.Pubkey) bool {
	_, ok := r.programs[key]
	return ok
}

// Rent returns the rent parameters programs run with.
func (r *Runtime) Rent() invoke.Rent {
	return r.cfg.Rent
}

// Slot returns the most recently assigned slot.
func (r *Runtime) Slot() uint64 {
	return r.slot.Load()
}

// Execute verifies, runs and commits tx. A program failure is reported in
// the result and leaves every account untouched; the returned error is
// reserved for transactions that could not be run at all or whose commit
// failed.
func (r *Runtime) Execute(ctx context.Context, tx *Transaction) (*ExecutionResult, error) {
	return r.run(ctx, tx, true)
}

// Simulate runs tx exactly as Execute would but discards the result.
func (r *Runtime) Simulate(ctx context.Context, tx *Transaction) (*ExecutionResult, error) {
	return r.run(ctx, tx, false)
}

func (r *Runtime) run(ctx context.Context, tx *Transaction, commit bool) (*ExecutionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := tx.Verify(); err != nil {
		return nil, err
	}

	sig := tx.ID()
	if commit {
		if !r.remember(sig) {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyProcessed, sig)
		}
	}

	keys := tx.Message.AccountKeys()
	reqs := make([]lockRequest, len(keys))
	for i, meta := range keys {
		reqs[i] = lockRequest{key: meta.Pubkey, writable: meta.IsWritable}
	}
	release := r.locks.acquire(reqs)
	defer release()

	tc, originals, err := r.load(keys)
	if err != nil {
		if commit {
			r.forget(sig)
		}
		return nil, err
	}

	slot := r.slot.Load() + 1
	if commit {
		slot = r.slot.Add(1)
	}
	tc.clock = invoke.Clock{Slot: slot, UnixTimestamp: r.clock.Now()}
	tc.meter = NewComputeMeter(r.cfg.ComputeLimit)

	result := &ExecutionResult{Signature: sig, Slot: slot}
	defer func() {
		result.ComputeUnitsUsed = tc.meter.Consumed()
		result.Logs = tc.logs
	}()

	base := CUSignatureVerify * uint64(len(tx.Signatures))
	for _, meta := range keys {
		if meta.IsWritable {
			base += CUWriteLock
		}
	}
	if err := tc.meter.Consume(base); err != nil {
		result.Err = err
		return result, nil
	}
	for i, ix := range tx.Message.Instructions {
		if err := tc.meter.Consume(CUInstructionBase); err != nil {
			result.Err = &InstructionError{Index: i, Err: err}
			return result, nil
		}
		if err := tc.process(ix, nil, nil); err != nil {
			result.Err = &InstructionError{Index: i, Err: err}
			r.log.Debug().Str("signature", sig.String()).Err(result.Err).Msg("transaction failed")
			return result, nil
		}
	}

	entries, err := r.collect(keys, tc, originals)
	if err != nil {
		result.Err = err
		return result, nil
	}
	for _, e := range entries {
		result.ModifiedAccounts = append(result.ModifiedAccounts, e.Pubkey)
	}

	if !commit {
		return result, nil
	}
	if err := r.db.Update(slot, entries); err != nil {
		r.forget(sig)
		return nil, fmt.Errorf("commit transaction %s: %w", sig, err)
	}

	r.log.Debug().
		Str("signature", sig.String()).
		Uint64("slot", slot).
		Int("modified", len(entries)).
		Uint64("cu", tc.meter.Consumed()).
		Msg("transaction committed")
	return result, nil
}

// load copies every referenced account out of the DB. Missing accounts are
// materialized empty and owned by the system program; registered programs
// get a synthetic executable account.
func (r *Runtime) load(keys []invoke.AccountMeta) (*txContext, map[types.Pubkey]*accounts.Account, error) {
	tc := &txContext{
		rt:       r,
		accounts: make(map[types.Pubkey]*accounts.Account, len(keys)),
	}
	originals := make(map[types.Pubkey]*accounts.Account, len(keys))

	for _, meta := range keys {
		var acc *accounts.Account
		if r.IsProgram(meta.Pubkey) {
			acc = &accounts.Account{Lamports: 1, Owner: types.SystemProgramAddr, Executable: true}
		} else {
			loaded, err := r.db.GetAccount(meta.Pubkey)
			switch {
			case errors.Is(err, accounts.ErrAccountNotFound):
				acc = &accounts.Account{Owner: types.SystemProgramAddr}
			case err != nil:
				return nil, nil, fmt.Errorf("load account %s: %w", meta.Pubkey, err)
			default:
				acc = loaded
			}
		}
		tc.accounts[meta.Pubkey] = acc
		originals[meta.Pubkey] = acc.Clone()
	}
	return tc, originals, nil
}

// collect returns the writable accounts that changed, checking that each
// one left holding data is rent exempt.
func (r *Runtime) collect(keys []invoke.AccountMeta, tc *txContext, originals map[types.Pubkey]*accounts.Account) ([]accounts.AccountEntry, error) {
	var entries []accounts.AccountEntry
	for _, meta := range keys {
		if !meta.IsWritable || r.IsProgram(meta.Pubkey) {
			continue
		}
		acc := tc.accounts[meta.Pubkey]
		if accountEqual(acc, originals[meta.Pubkey]) {
			continue
		}
		if len(acc.Data) > 0 && acc.Lamports < r.cfg.Rent.MinimumBalance(uint64(len(acc.Data))) {
			return nil, fmt.Errorf("%w: %s", ErrInsufficientFundsForRent, meta.Pubkey)
		}
		entries = append(entries, accounts.AccountEntry{Pubkey: meta.Pubkey, Account: acc.Clone()})
	}
	return entries, nil
}

func accountEqual(a, b *accounts.Account) bool {
	return a.Lamports == b.Lamports &&
		a.Owner == b.Owner &&
		a.Executable == b.Executable &&
		a.RentEpoch == b.RentEpoch &&
		bytes.Equal(a.Data, b.Data)
}

// remember records sig, returning false if it was already present.
func (r *Runtime) remember(sig types.Signature) bool {
	r.recentMu.Lock()
	defer r.recentMu.Unlock()
	if _, ok := r.recent[sig]; ok {
		return false
	}
	r.recent[sig] = struct{}{}
	r.recentOrder = append(r.recentOrder, sig)
	if limit := r.cfg.RecentSignatures; limit > 0 && len(r.recentOrder) > limit {
		evict := r.recentOrder[0]
		r.recentOrder = r.recentOrder[1:]
		delete(r.recent, evict)
	}
	return true
}

func (r *Runtime) forget(sig types.Signature) {
	r.recentMu.Lock()
	defer r.recentMu.Unlock()
	delete(r.recent, sig)
}
