// Package invoke defines the contract between the runtime and the programs
// it executes: the account views a program receives, the instructions it can
// issue to other programs, and the context it runs in.
package invoke

import (
	"errors"
	"math/bits"

	"github.com/fortiblox/stratus-fundraiser/internal/types"
	"github.com/fortiblox/stratus-fundraiser/pkg/accounts"
	"github.com/fortiblox/stratus-fundraiser/pkg/svm/pda"
)

// Errors shared by the built-in programs.
var (
	ErrInvalidInstructionData   = errors.New("invalid instruction data")
	ErrNotEnoughAccountKeys     = errors.New("not enough account keys")
	ErrMissingRequiredSignature = errors.New("missing required signature")
	ErrReadonlyAccount          = errors.New("account is not writable")
	ErrIllegalOwner             = errors.New("account owned by a different program")
	ErrInsufficientFunds        = errors.New("insufficient funds")
	ErrArithmeticOverflow       = errors.New("arithmetic overflow")
	ErrAccountAlreadyInUse      = errors.New("account already in use")
	ErrInvalidAccountData       = errors.New("invalid account data")
	ErrIncorrectProgramID       = errors.New("incorrect program id")
	ErrComputeExceeded          = errors.New("compute budget exceeded")
)

// AccountMeta describes an account referenced by an instruction.
type AccountMeta struct {
	Pubkey     types.Pubkey
	IsSigner   bool
	IsWritable bool
}

// Writable returns a meta for a writable account.
func Writable(pubkey types.Pubkey, signer bool) AccountMeta {
	return AccountMeta{Pubkey: pubkey, IsSigner: signer, IsWritable: true}
}

// ReadOnly returns a meta for a read-only account.
func ReadOnly(pubkey types.Pubkey, signer bool) AccountMeta {
	return AccountMeta{Pubkey: pubkey, IsSigner: signer}
}

// Instruction is a single program call.
type Instruction struct {
	ProgramID types.Pubkey
	Accounts  []AccountMeta
	Data      []byte
}

// AccountInfo is a program's view of one account during an invocation.
//
// The embedded Account is the transaction's working copy; every invocation
// level that references the same key shares it. IsSigner and IsWritable are
// the privileges granted at this level.
type AccountInfo struct {
	Key        types.Pubkey
	IsSigner   bool
	IsWritable bool
	*accounts.Account
}

// IsEmpty reports whether the account holds no data.
func (a *AccountInfo) IsEmpty() bool {
	return len(a.Data) == 0
}

// Meta returns the AccountMeta matching this view's privileges.
func (a *AccountInfo) Meta() AccountMeta {
	return AccountMeta{Pubkey: a.Key, IsSigner: a.IsSigner, IsWritable: a.IsWritable}
}

// Clock is the ledger clock visible to programs.
type Clock struct {
	Slot          uint64
	UnixTimestamp int64
}

// Rent parameters. Every account the runtime creates must hold at least
// MinimumBalance lamports for its data size.
type Rent struct {
	LamportsPerByteYear uint64
	ExemptionYears      uint64
}

// AccountStorageOverhead is the per-account byte overhead rent is charged on.
const AccountStorageOverhead = 128

// DefaultRent returns the network default rent parameters.
func DefaultRent() Rent {
	return Rent{LamportsPerByteYear: 3480, ExemptionYears: 2}
}

// MinimumBalance returns the rent-exempt minimum for dataLen bytes.
func (r Rent) MinimumBalance(dataLen uint64) uint64 {
	return (AccountStorageOverhead + dataLen) * r.LamportsPerByteYear * r.ExemptionYears
}

// Context is the environment a program runs in.
type Context interface {
	// ProgramID returns the address of the executing program.
	ProgramID() types.Pubkey

	// Clock returns the ledger clock for this transaction.
	Clock() Clock

	// Rent returns the rent parameters.
	Rent() Rent

	// Log appends a message to the transaction log.
	Log(format string, args ...any)

	// ConsumeCompute charges compute units against the transaction budget.
	ConsumeCompute(units uint64) error

	// FindProgramAddress derives a PDA, charging compute for the search.
	FindProgramAddress(seeds [][]byte, programID types.Pubkey) (types.Pubkey, uint8, error)

	// Invoke calls another program. Accounts referenced by ix must already
	// be part of the current invocation. Each signer proof lets the callee
	// see the PDA it derives under the calling program as a signer.
	Invoke(ix Instruction, signers ...pda.Seeds) error
}

// Program is a native program the runtime can dispatch to.
type Program interface {
	ID() types.Pubkey
	Process(ctx Context, accounts []*AccountInfo, data []byte) error
}

// AddLamports credits amount to a with overflow checking.
func AddLamports(a *AccountInfo, amount uint64) error {
	sum, carry := bits.Add64(a.Lamports, amount, 0)
	if carry != 0 {
		return ErrArithmeticOverflow
	}
	a.Lamports = sum
	return nil
}

// SubLamports debits amount from a.
func SubLamports(a *AccountInfo, amount uint64) error {
	if a.Lamports < amount {
		return ErrInsufficientFunds
	}
	a.Lamports -= amount
	return nil
}

// Close moves all of acc's lamports into dest, clears its data and returns
// it to the system program. The caller must own acc.
func Close(acc, dest *AccountInfo) error {
	if !acc.IsWritable || !dest.IsWritable {
		return ErrReadonlyAccount
	}
	if acc.Key == dest.Key {
		return ErrInvalidAccountData
	}
	if err := AddLamports(dest, acc.Lamports); err != nil {
		return err
	}
	acc.Lamports = 0
	acc.Data = nil
	acc.Owner = types.SystemProgramAddr
	return nil
}
