// Package system implements the subset of the System Program the runtime
// needs: creating, funding, assigning and allocating accounts.
package system

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fortiblox/stratus-fundraiser/internal/types"
	"github.com/fortiblox/stratus-fundraiser/pkg/accounts"
	"github.com/fortiblox/stratus-fundraiser/pkg/svm/invoke"
	"github.com/fortiblox/stratus-fundraiser/pkg/svm/pda"
)

// ProgramID is the System Program address.
var ProgramID = types.SystemProgramAddr

// Instruction discriminants (u32 little-endian).
const (
	InstructionCreateAccount uint32 = 0
	InstructionAssign        uint32 = 1
	InstructionTransfer      uint32 = 2
	InstructionAllocate      uint32 = 8
)

// CUDefault is charged for every System Program instruction.
const CUDefault = uint64(150)

var (
	ErrAccountNotRentExempt = errors.New("account not rent exempt")
	ErrAccountDataTooLarge  = errors.New("account data too large")
	ErrAccountDataTooSmall  = errors.New("account data too small")
)

// Processor executes System Program instructions.
type Processor struct{}

// NewProcessor creates a new System Program processor.
func NewProcessor() *Processor {
	return &Processor{}
}

// ID returns the System Program address.
func (p *Processor) ID() types.Pubkey {
	return ProgramID
}

// Process executes a System Program instruction.
func (p *Processor) Process(ctx invoke.Context, accts []*invoke.AccountInfo, data []byte) error {
	if err := ctx.ConsumeCompute(CUDefault); err != nil {
		return err
	}
	if len(data) < 4 {
		return invoke.ErrInvalidInstructionData
	}

	switch binary.LittleEndian.Uint32(data[:4]) {
	case InstructionCreateAccount:
		return p.processCreateAccount(ctx, accts, data[4:])
	case InstructionAssign:
		return p.processAssign(ctx, accts, data[4:])
	case InstructionTransfer:
		return p.processTransfer(ctx, accts, data[4:])
	case InstructionAllocate:
		return p.processAllocate(ctx, accts, data[4:])
	default:
		return invoke.ErrInvalidInstructionData
	}
}

// processCreateAccount funds a fresh account, sizes it and hands it to owner.
// Accounts: [0] funder (signer, writable), [1] new account (signer, writable).
func (p *Processor) processCreateAccount(ctx invoke.Context, accts []*invoke.AccountInfo, data []byte) error {
	// lamports (8) + space (8) + owner (32)
	if len(data) != 48 {
		return invoke.ErrInvalidInstructionData
	}
	if len(accts) < 2 {
		return invoke.ErrNotEnoughAccountKeys
	}
	lamports := binary.LittleEndian.Uint64(data[0:8])
	space := binary.LittleEndian.Uint64(data[8:16])
	var owner types.Pubkey
	copy(owner[:], data[16:48])

	funder, newAccount := accts[0], accts[1]
	if space > accounts.MaxDataSize {
		return ErrAccountDataTooLarge
	}
	if !funder.IsSigner || !newAccount.IsSigner {
		return invoke.ErrMissingRequiredSignature
	}
	if !funder.IsWritable || !newAccount.IsWritable {
		return invoke.ErrReadonlyAccount
	}
	if newAccount.Owner != ProgramID || len(newAccount.Data) > 0 || newAccount.Lamports > 0 {
		return fmt.Errorf("%w: %s", invoke.ErrAccountAlreadyInUse, newAccount.Key)
	}
	if lamports < ctx.Rent().MinimumBalance(space) {
		return ErrAccountNotRentExempt
	}
	if err := invoke.SubLamports(funder, lamports); err != nil {
		return err
	}

	newAccount.Lamports = lamports
	newAccount.Data = make([]byte, space)
	newAccount.Owner = owner

	ctx.Log("CreateAccount: %s space=%d owner=%s", newAccount.Key, space, owner)
	return nil
}

// processAssign hands a system account to a new owner.
// Accounts: [0] account (signer, writable).
func (p *Processor) processAssign(ctx invoke.Context, accts []*invoke.AccountInfo, data []byte) error {
	if len(data) != 32 {
		return invoke.ErrInvalidInstructionData
	}
	if len(accts) < 1 {
		return invoke.ErrNotEnoughAccountKeys
	}
	account := accts[0]
	if !account.IsSigner {
		return invoke.ErrMissingRequiredSignature
	}
	if account.Owner != ProgramID {
		return invoke.ErrIllegalOwner
	}
	copy(account.Owner[:], data)
	ctx.Log("Assign: %s owner=%s", account.Key, account.Owner)
	return nil
}

// processTransfer moves lamports between accounts.
// Accounts: [0] from (signer, writable), [1] to (writable).
func (p *Processor) processTransfer(ctx invoke.Context, accts []*invoke.AccountInfo, data []byte) error {
	if len(data) != 8 {
		return invoke.ErrInvalidInstructionData
	}
	if len(accts) < 2 {
		return invoke.ErrNotEnoughAccountKeys
	}
	lamports := binary.LittleEndian.Uint64(data)
	from, to := accts[0], accts[1]

	if !from.IsSigner {
		return invoke.ErrMissingRequiredSignature
	}
	if !from.IsWritable || !to.IsWritable {
		return invoke.ErrReadonlyAccount
	}
	if len(from.Data) > 0 {
		return fmt.Errorf("%w: transfer source must not carry data", invoke.ErrInvalidAccountData)
	}
	if from.Key == to.Key {
		return nil
	}
	if err := invoke.SubLamports(from, lamports); err != nil {
		return err
	}
	if err := invoke.AddLamports(to, lamports); err != nil {
		return err
	}

	ctx.Log("Transfer: %d lamports %s -> %s", lamports, from.Key, to.Key)
	return nil
}

// processAllocate grows a system account's data.
// Accounts: [0] account (signer, writable).
func (p *Processor) processAllocate(ctx invoke.Context, accts []*invoke.AccountInfo, data []byte) error {
	if len(data) != 8 {
		return invoke.ErrInvalidInstructionData
	}
	if len(accts) < 1 {
		return invoke.ErrNotEnoughAccountKeys
	}
	space := binary.LittleEndian.Uint64(data)
	account := accts[0]

	if space > accounts.MaxDataSize {
		return ErrAccountDataTooLarge
	}
	if !account.IsSigner {
		return invoke.ErrMissingRequiredSignature
	}
	if account.Owner != ProgramID {
		return invoke.ErrIllegalOwner
	}
	if uint64(len(account.Data)) > space {
		return ErrAccountDataTooSmall
	}
	grown := make([]byte, space)
	copy(grown, account.Data)
	account.Data = grown

	ctx.Log("Allocate: %s space=%d", account.Key, space)
	return nil
}

// CreateAccount builds a CreateAccount instruction.
func CreateAccount(funder, newAccount types.Pubkey, lamports, space uint64, owner types.Pubkey) invoke.Instruction {
	data := make([]byte, 4+48)
	binary.LittleEndian.PutUint32(data[0:], InstructionCreateAccount)
	binary.LittleEndian.PutUint64(data[4:], lamports)
	binary.LittleEndian.PutUint64(data[12:], space)
	copy(data[20:], owner[:])
	return invoke.Instruction{
		ProgramID: ProgramID,
		Accounts: []invoke.AccountMeta{
			invoke.Writable(funder, true),
			invoke.Writable(newAccount, true),
		},
		Data: data,
	}
}

// Transfer builds a Transfer instruction.
func Transfer(from, to types.Pubkey, lamports uint64) invoke.Instruction {
	data := make([]byte, 4+8)
	binary.LittleEndian.PutUint32(data[0:], InstructionTransfer)
	binary.LittleEndian.PutUint64(data[4:], lamports)
	return invoke.Instruction{
		ProgramID: ProgramID,
		Accounts: []invoke.AccountMeta{
			invoke.Writable(from, true),
			invoke.Writable(to, false),
		},
		Data: data,
	}
}

// Assign builds an Assign instruction.
func Assign(account, owner types.Pubkey) invoke.Instruction {
	data := make([]byte, 4+32)
	binary.LittleEndian.PutUint32(data[0:], InstructionAssign)
	copy(data[4:], owner[:])
	return invoke.Instruction{
		ProgramID: ProgramID,
		Accounts:  []invoke.AccountMeta{invoke.Writable(account, true)},
		Data:      data,
	}
}

// Allocate builds an Allocate instruction.
func Allocate(account types.Pubkey, space uint64) invoke.Instruction {
	data := make([]byte, 4+8)
	binary.LittleEndian.PutUint32(data[0:], InstructionAllocate)
	binary.LittleEndian.PutUint64(data[4:], space)
	return invoke.Instruction{
		ProgramID: ProgramID,
		Accounts:  []invoke.AccountMeta{invoke.Writable(account, true)},
		Data:      data,
	}
}

// CreateProgramAccount creates acc with space bytes owned by owner on behalf
// of a calling program, with signer proving acc is that program's address.
// An account that already holds lamports but was never allocated is topped
// up to the rent-exempt minimum and then allocated and assigned, so a
// transfer to the address ahead of time cannot block its creation.
func CreateProgramAccount(ctx invoke.Context, payer, acc *invoke.AccountInfo, space uint64, owner types.Pubkey, signer pda.Seeds) error {
	required := ctx.Rent().MinimumBalance(space)
	if acc.Lamports == 0 {
		return ctx.Invoke(CreateAccount(payer.Key, acc.Key, required, space, owner), signer)
	}
	if acc.Owner != ProgramID || len(acc.Data) > 0 {
		return fmt.Errorf("%w: %s", invoke.ErrAccountAlreadyInUse, acc.Key)
	}

	if acc.Lamports < required {
		if err := ctx.Invoke(Transfer(payer.Key, acc.Key, required-acc.Lamports)); err != nil {
			return err
		}
	}
	if err := ctx.Invoke(Allocate(acc.Key, space), signer); err != nil {
		return err
	}
	return ctx.Invoke(Assign(acc.Key, owner), signer)
}
