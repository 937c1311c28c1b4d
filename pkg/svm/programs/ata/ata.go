// Package ata implements the associated token account program: one
// canonical token account per (wallet, mint), living at a PDA of this
// program.
package ata

import (
	"errors"
	"fmt"

	"github.com/fortiblox/stratus-fundraiser/internal/types"
	"github.com/fortiblox/stratus-fundraiser/pkg/svm/invoke"
	"github.com/fortiblox/stratus-fundraiser/pkg/svm/pda"
	"github.com/fortiblox/stratus-fundraiser/pkg/svm/programs/system"
	"github.com/fortiblox/stratus-fundraiser/pkg/svm/programs/token"
)

// ProgramID is the associated token account program address.
var ProgramID = types.AssociatedTokenProgramAddr

// Instruction tags.
const (
	InstructionCreate           uint8 = 0
	InstructionCreateIdempotent uint8 = 1
)

// CUDefault is charged for every instruction.
const CUDefault = uint64(1_500)

var (
	// ErrInvalidSeeds is returned when the target is not the derived address.
	ErrInvalidSeeds = errors.New("ata: address does not match derivation")

	// ErrInvalidOwner is returned when an existing account is bound to
	// another wallet or mint.
	ErrInvalidOwner = errors.New("ata: existing account has wrong owner or mint")
)

// FindAddress returns the associated token address of wallet for mint.
func FindAddress(wallet, mint types.Pubkey) (types.Pubkey, uint8, error) {
	return pda.FindProgramAddress(AddressSeeds(wallet, mint), ProgramID)
}

// AddressSeeds returns the seeds the associated token address of wallet for
// mint is derived from under ProgramID.
func AddressSeeds(wallet, mint types.Pubkey) [][]byte {
	return [][]byte{wallet[:], token.ProgramID[:], mint[:]}
}

// Processor executes associated token account instructions.
type Processor struct{}

// NewProcessor creates a new processor.
func NewProcessor() *Processor {
	return &Processor{}
}

// ID returns the program address.
func (p *Processor) ID() types.Pubkey {
	return ProgramID
}

// Process creates the associated token account.
// Accounts: [0] payer (signer, writable), [1] ata (writable), [2] wallet,
// [3] mint, [4] system program, [5] token program.
func (p *Processor) Process(ctx invoke.Context, accts []*invoke.AccountInfo, data []byte) error {
	if err := ctx.ConsumeCompute(CUDefault); err != nil {
		return err
	}

	idempotent := false
	switch {
	case len(data) == 0 || (len(data) == 1 && data[0] == InstructionCreate):
	case len(data) == 1 && data[0] == InstructionCreateIdempotent:
		idempotent = true
	default:
		return invoke.ErrInvalidInstructionData
	}
	if len(accts) < 4 {
		return invoke.ErrNotEnoughAccountKeys
	}
	payer, assoc, wallet, mint := accts[0], accts[1], accts[2], accts[3]

	addr, bump, err := ctx.FindProgramAddress(AddressSeeds(wallet.Key, mint.Key), ProgramID)
	if err != nil {
		return err
	}
	if addr != assoc.Key {
		return fmt.Errorf("%w: want %s, got %s", ErrInvalidSeeds, addr, assoc.Key)
	}

	if idempotent && assoc.Owner == token.ProgramID {
		existing, err := token.UnpackAccount(assoc.Data)
		if err != nil {
			return err
		}
		if existing.Owner != wallet.Key || existing.Mint != mint.Key {
			return ErrInvalidOwner
		}
		return nil
	}
	if assoc.Owner != system.ProgramID || len(assoc.Data) > 0 {
		return invoke.ErrAccountAlreadyInUse
	}

	signer := pda.NewSeeds(bump, wallet.Key[:], token.ProgramID[:], mint.Key[:])
	if err := system.CreateProgramAccount(ctx, payer, assoc, token.AccountSize, token.ProgramID, signer); err != nil {
		return fmt.Errorf("create associated account: %w", err)
	}

	if err := ctx.Invoke(token.InitializeAccount3(assoc.Key, mint.Key, wallet.Key)); err != nil {
		return fmt.Errorf("initialize associated account: %w", err)
	}

	ctx.Log("CreateAssociatedTokenAccount: %s wallet=%s mint=%s", assoc.Key, wallet.Key, mint.Key)
	return nil
}

// Create builds a Create instruction.
func Create(payer, wallet, mint types.Pubkey) (invoke.Instruction, error) {
	return build(InstructionCreate, payer, wallet, mint)
}

// CreateIdempotent builds a CreateIdempotent instruction.
func CreateIdempotent(payer, wallet, mint types.Pubkey) (invoke.Instruction, error) {
	return build(InstructionCreateIdempotent, payer, wallet, mint)
}

func build(tag uint8, payer, wallet, mint types.Pubkey) (invoke.Instruction, error) {
	addr, _, err := FindAddress(wallet, mint)
	if err != nil {
		return invoke.Instruction{}, err
	}
	return invoke.Instruction{
		ProgramID: ProgramID,
		Accounts: []invoke.AccountMeta{
			invoke.Writable(payer, true),
			invoke.Writable(addr, false),
			invoke.ReadOnly(wallet, false),
			invoke.ReadOnly(mint, false),
			invoke.ReadOnly(system.ProgramID, false),
			invoke.ReadOnly(token.ProgramID, false),
		},
		Data: []byte{tag},
	}, nil
}
