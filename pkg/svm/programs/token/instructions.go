package token

import (
	"encoding/binary"

	"github.com/fortiblox/stratus-fundraiser/internal/types"
	"github.com/fortiblox/stratus-fundraiser/pkg/svm/invoke"
)

// InitializeMint2 builds an InitializeMint2 instruction without a freeze
// authority.
func InitializeMint2(mint types.Pubkey, decimals uint8, authority types.Pubkey) invoke.Instruction {
	data := make([]byte, 1+1+32+1)
	data[0] = InstructionInitializeMint2
	data[1] = decimals
	copy(data[2:34], authority[:])
	return invoke.Instruction{
		ProgramID: ProgramID,
		Accounts:  []invoke.AccountMeta{invoke.Writable(mint, false)},
		Data:      data,
	}
}

// InitializeAccount3 builds an InitializeAccount3 instruction.
func InitializeAccount3(account, mint, owner types.Pubkey) invoke.Instruction {
	data := make([]byte, 1+32)
	data[0] = InstructionInitializeAccount3
	copy(data[1:], owner[:])
	return invoke.Instruction{
		ProgramID: ProgramID,
		Accounts: []invoke.AccountMeta{
			invoke.Writable(account, false),
			invoke.ReadOnly(mint, false),
		},
		Data: data,
	}
}

// Transfer builds an unchecked Transfer instruction.
func Transfer(source, destination, authority types.Pubkey, amount uint64) invoke.Instruction {
	data := make([]byte, 1+8)
	data[0] = InstructionTransfer
	binary.LittleEndian.PutUint64(data[1:], amount)
	return invoke.Instruction{
		ProgramID: ProgramID,
		Accounts: []invoke.AccountMeta{
			invoke.Writable(source, false),
			invoke.Writable(destination, false),
			invoke.ReadOnly(authority, true),
		},
		Data: data,
	}
}

// TransferChecked builds a TransferChecked instruction.
func TransferChecked(source, mint, destination, authority types.Pubkey, amount uint64, decimals uint8) invoke.Instruction {
	data := make([]byte, 1+8+1)
	data[0] = InstructionTransferChecked
	binary.LittleEndian.PutUint64(data[1:], amount)
	data[9] = decimals
	return invoke.Instruction{
		ProgramID: ProgramID,
		Accounts: []invoke.AccountMeta{
			invoke.Writable(source, false),
			invoke.ReadOnly(mint, false),
			invoke.Writable(destination, false),
			invoke.ReadOnly(authority, true),
		},
		Data: data,
	}
}

// MintTo builds a MintTo instruction.
func MintTo(mint, destination, authority types.Pubkey, amount uint64) invoke.Instruction {
	data := make([]byte, 1+8)
	data[0] = InstructionMintTo
	binary.LittleEndian.PutUint64(data[1:], amount)
	return invoke.Instruction{
		ProgramID: ProgramID,
		Accounts: []invoke.AccountMeta{
			invoke.Writable(mint, false),
			invoke.Writable(destination, false),
			invoke.ReadOnly(authority, true),
		},
		Data: data,
	}
}

// CloseAccount builds a CloseAccount instruction.
func CloseAccount(account, destination, authority types.Pubkey) invoke.Instruction {
	return invoke.Instruction{
		ProgramID: ProgramID,
		Accounts: []invoke.AccountMeta{
			invoke.Writable(account, false),
			invoke.Writable(destination, false),
			invoke.ReadOnly(authority, true),
		},
		Data: []byte{InstructionCloseAccount},
	}
}
