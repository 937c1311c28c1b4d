// Package token implements the token program operations the fundraiser
// relies on: mints, token accounts, transfers, minting and closing.
//
// State layouts and instruction encodings match SPL Token, so account data
// produced here is byte-compatible with SPL tooling.
package token

import (
	"encoding/binary"
	"errors"
	"math/bits"

	"github.com/fortiblox/stratus-fundraiser/internal/types"
	"github.com/fortiblox/stratus-fundraiser/pkg/svm/invoke"
)

// ProgramID is the token program address.
var ProgramID = types.TokenProgramAddr

// Instruction tags.
const (
	InstructionTransfer           uint8 = 3
	InstructionMintTo             uint8 = 7
	InstructionCloseAccount       uint8 = 9
	InstructionTransferChecked    uint8 = 12
	InstructionInitializeAccount3 uint8 = 18
	InstructionInitializeMint2    uint8 = 20
)

// CUDefault is charged for every token instruction.
const CUDefault = uint64(2_000)

var (
	ErrInsufficientFunds      = errors.New("token: insufficient funds")
	ErrInvalidMint            = errors.New("token: invalid mint")
	ErrMintMismatch           = errors.New("token: account not associated with this mint")
	ErrOwnerMismatch          = errors.New("token: owner does not match")
	ErrAlreadyInUse           = errors.New("token: account or mint already initialized")
	ErrUninitializedState     = errors.New("token: state is uninitialized")
	ErrInvalidState           = errors.New("token: invalid state")
	ErrNotRentExempt          = errors.New("token: lamport balance below rent-exempt threshold")
	ErrNonNativeHasBalance    = errors.New("token: non-native account can only be closed if its balance is zero")
	ErrMintDecimalsMismatch   = errors.New("token: mint decimals mismatch")
	ErrAccountFrozen          = errors.New("token: account is frozen")
	ErrFixedSupply            = errors.New("token: mint has no mint authority")
	ErrUnsupportedInstruction = errors.New("token: unsupported instruction")
)

// Processor executes token program instructions.
type Processor struct{}

// NewProcessor creates a new token program processor.
func NewProcessor() *Processor {
	return &Processor{}
}

// ID returns the token program address.
func (p *Processor) ID() types.Pubkey {
	return ProgramID
}

// Process executes a token instruction.
func (p *Processor) Process(ctx invoke.Context, accts []*invoke.AccountInfo, data []byte) error {
	if err := ctx.ConsumeCompute(CUDefault); err != nil {
		return err
	}
	if len(data) == 0 {
		return invoke.ErrInvalidInstructionData
	}

	args := data[1:]
	switch data[0] {
	case InstructionInitializeMint2:
		return p.processInitializeMint(ctx, accts, args)
	case InstructionInitializeAccount3:
		return p.processInitializeAccount(ctx, accts, args)
	case InstructionTransfer:
		if len(args) != 8 {
			return invoke.ErrInvalidInstructionData
		}
		return p.processTransfer(ctx, accts, binary.LittleEndian.Uint64(args), nil)
	case InstructionTransferChecked:
		if len(args) != 9 {
			return invoke.ErrInvalidInstructionData
		}
		decimals := args[8]
		return p.processTransfer(ctx, accts, binary.LittleEndian.Uint64(args), &decimals)
	case InstructionMintTo:
		return p.processMintTo(ctx, accts, args)
	case InstructionCloseAccount:
		return p.processCloseAccount(ctx, accts, args)
	default:
		return ErrUnsupportedInstruction
	}
}

// processInitializeMint sets up a mint.
// Accounts: [0] mint (writable).
// Data: decimals u8, mint_authority Pubkey, freeze_authority option u8 + Pubkey.
func (p *Processor) processInitializeMint(ctx invoke.Context, accts []*invoke.AccountInfo, args []byte) error {
	if len(args) != 1+32+1 && len(args) != 1+32+1+32 {
		return invoke.ErrInvalidInstructionData
	}
	if len(accts) < 1 {
		return invoke.ErrNotEnoughAccountKeys
	}
	mintAcc := accts[0]
	if err := requireTokenOwned(mintAcc); err != nil {
		return err
	}

	m, err := unpackMintUnchecked(mintAcc.Data)
	if err != nil {
		return err
	}
	if m.IsInitialized {
		return ErrAlreadyInUse
	}
	if mintAcc.Lamports < ctx.Rent().MinimumBalance(MintSize) {
		return ErrNotRentExempt
	}

	m.Decimals = args[0]
	var authority types.Pubkey
	copy(authority[:], args[1:33])
	m.MintAuthority = SomePubkey(authority)
	m.FreezeAuthority = OptionalPubkey{}
	switch args[33] {
	case 0:
	case 1:
		if len(args) != 66 {
			return invoke.ErrInvalidInstructionData
		}
		var freeze types.Pubkey
		copy(freeze[:], args[34:66])
		m.FreezeAuthority = SomePubkey(freeze)
	default:
		return invoke.ErrInvalidInstructionData
	}
	m.IsInitialized = true

	ctx.Log("InitializeMint: %s decimals=%d", mintAcc.Key, m.Decimals)
	return m.Pack(mintAcc.Data)
}

// processInitializeAccount binds a token account to a mint and an owner.
// Accounts: [0] account (writable), [1] mint. Data: owner Pubkey.
func (p *Processor) processInitializeAccount(ctx invoke.Context, accts []*invoke.AccountInfo, args []byte) error {
	if len(args) != 32 {
		return invoke.ErrInvalidInstructionData
	}
	if len(accts) < 2 {
		return invoke.ErrNotEnoughAccountKeys
	}
	acc, mintAcc := accts[0], accts[1]
	if err := requireTokenOwned(acc); err != nil {
		return err
	}
	if err := requireTokenOwned(mintAcc); err != nil {
		return ErrInvalidMint
	}

	state, err := unpackAccountUnchecked(acc.Data)
	if err != nil {
		return err
	}
	if state.State != AccountStateUninitialized {
		return ErrAlreadyInUse
	}
	if acc.Lamports < ctx.Rent().MinimumBalance(AccountSize) {
		return ErrNotRentExempt
	}
	if _, err := UnpackMint(mintAcc.Data); err != nil {
		return ErrInvalidMint
	}

	state.Mint = mintAcc.Key
	copy(state.Owner[:], args)
	state.State = AccountStateInitialized

	ctx.Log("InitializeAccount: %s mint=%s owner=%s", acc.Key, state.Mint, state.Owner)
	return state.Pack(acc.Data)
}

// processTransfer moves tokens between two accounts of the same mint.
// Accounts (unchecked): [0] source, [1] destination, [2] authority.
// Accounts (checked):   [0] source, [1] mint, [2] destination, [3] authority.
func (p *Processor) processTransfer(ctx invoke.Context, accts []*invoke.AccountInfo, amount uint64, decimals *uint8) error {
	var srcAcc, mintAcc, dstAcc, authority *invoke.AccountInfo
	if decimals == nil {
		if len(accts) < 3 {
			return invoke.ErrNotEnoughAccountKeys
		}
		srcAcc, dstAcc, authority = accts[0], accts[1], accts[2]
	} else {
		if len(accts) < 4 {
			return invoke.ErrNotEnoughAccountKeys
		}
		srcAcc, mintAcc, dstAcc, authority = accts[0], accts[1], accts[2], accts[3]
	}

	if err := requireTokenOwned(srcAcc); err != nil {
		return err
	}
	if err := requireTokenOwned(dstAcc); err != nil {
		return err
	}
	if !srcAcc.IsWritable || !dstAcc.IsWritable {
		return invoke.ErrReadonlyAccount
	}

	src, err := UnpackAccount(srcAcc.Data)
	if err != nil {
		return err
	}
	dst, err := UnpackAccount(dstAcc.Data)
	if err != nil {
		return err
	}
	if src.IsFrozen() || dst.IsFrozen() {
		return ErrAccountFrozen
	}
	if src.Amount < amount {
		return ErrInsufficientFunds
	}
	if src.Mint != dst.Mint {
		return ErrMintMismatch
	}

	if mintAcc != nil {
		if mintAcc.Key != src.Mint {
			return ErrMintMismatch
		}
		if err := requireTokenOwned(mintAcc); err != nil {
			return ErrInvalidMint
		}
		m, err := UnpackMint(mintAcc.Data)
		if err != nil {
			return ErrInvalidMint
		}
		if m.Decimals != *decimals {
			return ErrMintDecimalsMismatch
		}
	}

	if err := validateOwner(src.Owner, authority); err != nil {
		return err
	}

	if srcAcc.Key == dstAcc.Key {
		return nil
	}

	src.Amount -= amount
	sum, carry := bits.Add64(dst.Amount, amount, 0)
	if carry != 0 {
		return invoke.ErrArithmeticOverflow
	}
	dst.Amount = sum

	if err := src.Pack(srcAcc.Data); err != nil {
		return err
	}
	ctx.Log("Transfer: %d %s -> %s", amount, srcAcc.Key, dstAcc.Key)
	return dst.Pack(dstAcc.Data)
}

// processMintTo issues new tokens.
// Accounts: [0] mint (writable), [1] destination (writable), [2] mint authority.
func (p *Processor) processMintTo(ctx invoke.Context, accts []*invoke.AccountInfo, args []byte) error {
	if len(args) != 8 {
		return invoke.ErrInvalidInstructionData
	}
	if len(accts) < 3 {
		return invoke.ErrNotEnoughAccountKeys
	}
	amount := binary.LittleEndian.Uint64(args)
	mintAcc, dstAcc, authority := accts[0], accts[1], accts[2]

	if err := requireTokenOwned(mintAcc); err != nil {
		return err
	}
	if err := requireTokenOwned(dstAcc); err != nil {
		return err
	}
	if !mintAcc.IsWritable || !dstAcc.IsWritable {
		return invoke.ErrReadonlyAccount
	}

	dst, err := UnpackAccount(dstAcc.Data)
	if err != nil {
		return err
	}
	if dst.IsFrozen() {
		return ErrAccountFrozen
	}
	if dst.Mint != mintAcc.Key {
		return ErrMintMismatch
	}
	m, err := UnpackMint(mintAcc.Data)
	if err != nil {
		return err
	}
	if !m.MintAuthority.Some {
		return ErrFixedSupply
	}
	if err := validateOwner(m.MintAuthority.Key, authority); err != nil {
		return err
	}

	supply, carry := bits.Add64(m.Supply, amount, 0)
	if carry != 0 {
		return invoke.ErrArithmeticOverflow
	}
	balance, carry := bits.Add64(dst.Amount, amount, 0)
	if carry != 0 {
		return invoke.ErrArithmeticOverflow
	}
	m.Supply = supply
	dst.Amount = balance

	if err := m.Pack(mintAcc.Data); err != nil {
		return err
	}
	ctx.Log("MintTo: %d -> %s", amount, dstAcc.Key)
	return dst.Pack(dstAcc.Data)
}

// processCloseAccount closes an empty token account and reclaims its rent.
// Accounts: [0] account (writable), [1] destination (writable), [2] authority.
func (p *Processor) processCloseAccount(ctx invoke.Context, accts []*invoke.AccountInfo, args []byte) error {
	if len(args) != 0 {
		return invoke.ErrInvalidInstructionData
	}
	if len(accts) < 3 {
		return invoke.ErrNotEnoughAccountKeys
	}
	acc, dest, authority := accts[0], accts[1], accts[2]

	if err := requireTokenOwned(acc); err != nil {
		return err
	}
	state, err := UnpackAccount(acc.Data)
	if err != nil {
		return err
	}
	if !state.IsNative && state.Amount != 0 {
		return ErrNonNativeHasBalance
	}

	closer := state.Owner
	if state.CloseAuthority.Some {
		closer = state.CloseAuthority.Key
	}
	if err := validateOwner(closer, authority); err != nil {
		return err
	}

	if err := invoke.Close(acc, dest); err != nil {
		return err
	}
	ctx.Log("CloseAccount: %s -> %s", acc.Key, dest.Key)
	return nil
}

func requireTokenOwned(acc *invoke.AccountInfo) error {
	if acc.Owner != ProgramID {
		return invoke.ErrIllegalOwner
	}
	return nil
}

// validateOwner checks that authority is the expected owner and signed.
func validateOwner(expected types.Pubkey, authority *invoke.AccountInfo) error {
	if authority.Key != expected {
		return ErrOwnerMismatch
	}
	if !authority.IsSigner {
		return invoke.ErrMissingRequiredSignature
	}
	return nil
}
