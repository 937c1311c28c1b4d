package fundraiser

import (
	"encoding/binary"
	"fmt"

	"github.com/fortiblox/stratus-fundraiser/internal/types"
	"github.com/fortiblox/stratus-fundraiser/pkg/svm/invoke"
	"github.com/fortiblox/stratus-fundraiser/pkg/svm/programs/ata"
	"github.com/fortiblox/stratus-fundraiser/pkg/svm/programs/system"
	"github.com/fortiblox/stratus-fundraiser/pkg/svm/programs/token"
)

// Discriminator is the first byte of every instruction payload.
type Discriminator uint8

const (
	DiscriminatorInitialize Discriminator = 0
	DiscriminatorContribute Discriminator = 1
	DiscriminatorRefund     Discriminator = 2
	DiscriminatorFinalize   Discriminator = 3
)

func (d Discriminator) String() string {
	switch d {
	case DiscriminatorInitialize:
		return "Initialize"
	case DiscriminatorContribute:
		return "Contribute"
	case DiscriminatorRefund:
		return "Refund"
	case DiscriminatorFinalize:
		return "Finalize"
	default:
		return fmt.Sprintf("Discriminator(%d)", uint8(d))
	}
}

// Argument payload sizes, excluding the discriminator.
const (
	InitializeArgsSize = 16
	ContributeArgsSize = 16
)

// InitializeArgs opens a campaign.
//
// Layout: goal u64 | duration_days u8 | fundraiser_bump u8 | padding [6].
type InitializeArgs struct {
	Goal           uint64
	DurationDays   uint8
	FundraiserBump uint8
}

// ContributeArgs deposits into a campaign.
//
// Layout: amount u64 | contributor_bump u8 | fundraiser_bump u8 | padding [6].
type ContributeArgs struct {
	Amount          uint64
	ContributorBump uint8
	FundraiserBump  uint8
}

func decodeInitializeArgs(data []byte) (InitializeArgs, error) {
	if len(data) != InitializeArgsSize {
		return InitializeArgs{}, newError(CodeMalformedInstruction, "initialize payload is %d bytes, want %d", len(data), InitializeArgsSize)
	}
	return InitializeArgs{
		Goal:           binary.LittleEndian.Uint64(data[0:8]),
		DurationDays:   data[8],
		FundraiserBump: data[9],
	}, nil
}

func (a InitializeArgs) encode() []byte {
	buf := make([]byte, 1+InitializeArgsSize)
	buf[0] = byte(DiscriminatorInitialize)
	binary.LittleEndian.PutUint64(buf[1:9], a.Goal)
	buf[9] = a.DurationDays
	buf[10] = a.FundraiserBump
	return buf
}

func decodeContributeArgs(data []byte) (ContributeArgs, error) {
	if len(data) != ContributeArgsSize {
		return ContributeArgs{}, newError(CodeMalformedInstruction, "contribute payload is %d bytes, want %d", len(data), ContributeArgsSize)
	}
	return ContributeArgs{
		Amount:          binary.LittleEndian.Uint64(data[0:8]),
		ContributorBump: data[8],
		FundraiserBump:  data[9],
	}, nil
}

func (a ContributeArgs) encode() []byte {
	buf := make([]byte, 1+ContributeArgsSize)
	buf[0] = byte(DiscriminatorContribute)
	binary.LittleEndian.PutUint64(buf[1:9], a.Amount)
	buf[9] = a.ContributorBump
	buf[10] = a.FundraiserBump
	return buf
}

func decodeEmptyArgs(d Discriminator, data []byte) error {
	if len(data) != 0 {
		return newError(CodeMalformedInstruction, "%s takes no arguments, got %d bytes", d, len(data))
	}
	return nil
}

// Addresses are the derived accounts of one campaign.
type Addresses struct {
	Fundraiser     types.Pubkey
	FundraiserBump uint8
	Vault          types.Pubkey
}

// CampaignAddresses derives the campaign and vault addresses of maker for
// mint.
func CampaignAddresses(maker, mint types.Pubkey) (Addresses, error) {
	fundraiser, bump, err := FindFundraiserAddress(maker)
	if err != nil {
		return Addresses{}, err
	}
	vault, _, err := ata.FindAddress(fundraiser, mint)
	if err != nil {
		return Addresses{}, err
	}
	return Addresses{Fundraiser: fundraiser, FundraiserBump: bump, Vault: vault}, nil
}

// NewInitializeInstruction builds an Initialize instruction.
func NewInitializeInstruction(maker, mint types.Pubkey, goal uint64, durationDays uint8) (invoke.Instruction, error) {
	addrs, err := CampaignAddresses(maker, mint)
	if err != nil {
		return invoke.Instruction{}, err
	}
	args := InitializeArgs{Goal: goal, DurationDays: durationDays, FundraiserBump: addrs.FundraiserBump}
	return invoke.Instruction{
		ProgramID: ProgramID,
		Accounts: []invoke.AccountMeta{
			invoke.Writable(maker, true),
			invoke.ReadOnly(mint, false),
			invoke.Writable(addrs.Fundraiser, false),
			invoke.Writable(addrs.Vault, false),
			invoke.ReadOnly(system.ProgramID, false),
			invoke.ReadOnly(token.ProgramID, false),
			invoke.ReadOnly(ata.ProgramID, false),
		},
		Data: args.encode(),
	}, nil
}

// NewContributeInstruction builds a Contribute instruction moving amount
// from source, a token account of contributor, into maker's campaign.
func NewContributeInstruction(contributor, maker, mint, source types.Pubkey, amount uint64) (invoke.Instruction, error) {
	addrs, err := CampaignAddresses(maker, mint)
	if err != nil {
		return invoke.Instruction{}, err
	}
	record, recordBump, err := FindContributorAddress(addrs.Fundraiser, contributor)
	if err != nil {
		return invoke.Instruction{}, err
	}
	args := ContributeArgs{Amount: amount, ContributorBump: recordBump, FundraiserBump: addrs.FundraiserBump}
	return invoke.Instruction{
		ProgramID: ProgramID,
		Accounts: []invoke.AccountMeta{
			invoke.Writable(contributor, true),
			invoke.ReadOnly(mint, false),
			invoke.Writable(addrs.Fundraiser, false),
			invoke.Writable(record, false),
			invoke.Writable(source, false),
			invoke.Writable(addrs.Vault, false),
			invoke.ReadOnly(system.ProgramID, false),
			invoke.ReadOnly(token.ProgramID, false),
		},
		Data: args.encode(),
	}, nil
}

// NewRefundInstruction builds a Refund instruction returning contributor's
// deposit to destination.
func NewRefundInstruction(contributor, maker, mint, destination types.Pubkey) (invoke.Instruction, error) {
	addrs, err := CampaignAddresses(maker, mint)
	if err != nil {
		return invoke.Instruction{}, err
	}
	record, _, err := FindContributorAddress(addrs.Fundraiser, contributor)
	if err != nil {
		return invoke.Instruction{}, err
	}
	return invoke.Instruction{
		ProgramID: ProgramID,
		Accounts: []invoke.AccountMeta{
			invoke.Writable(contributor, true),
			invoke.ReadOnly(maker, false),
			invoke.ReadOnly(mint, false),
			invoke.Writable(addrs.Fundraiser, false),
			invoke.Writable(record, false),
			invoke.Writable(destination, false),
			invoke.Writable(addrs.Vault, false),
			invoke.ReadOnly(token.ProgramID, false),
		},
		Data: []byte{byte(DiscriminatorRefund)},
	}, nil
}

// NewFinalizeInstruction builds a Finalize instruction sweeping the vault
// into destination.
func NewFinalizeInstruction(maker, mint, destination types.Pubkey) (invoke.Instruction, error) {
	addrs, err := CampaignAddresses(maker, mint)
	if err != nil {
		return invoke.Instruction{}, err
	}
	return invoke.Instruction{
		ProgramID: ProgramID,
		Accounts: []invoke.AccountMeta{
			invoke.Writable(maker, true),
			invoke.ReadOnly(mint, false),
			invoke.Writable(addrs.Fundraiser, false),
			invoke.Writable(addrs.Vault, false),
			invoke.Writable(destination, false),
			invoke.ReadOnly(token.ProgramID, false),
		},
		Data: []byte{byte(DiscriminatorFinalize)},
	}, nil
}
