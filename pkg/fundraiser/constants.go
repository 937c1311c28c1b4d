// Package fundraiser is the crowdfunding escrow program. A maker opens a
// campaign with a goal and a deadline, contributors deposit tokens into a
// vault owned by the campaign's derived address, and the campaign ends with
// either the maker sweeping a funded vault or each contributor reclaiming
// their own deposit.
package fundraiser

import (
	"github.com/fortiblox/stratus-fundraiser/internal/types"
	"github.com/fortiblox/stratus-fundraiser/pkg/svm/pda"
)

// ProgramID is the fundraiser program address.
var ProgramID = types.FundraiserProgramAddr

// Campaign parameters.
const (
	// MinAmountToRaise is the smallest goal, in whole tokens.
	MinAmountToRaise = 3

	SecondsPerDay = 86_400

	// MaxContributionPercentage caps one contributor's cumulative deposit
	// as a share of the goal.
	MaxContributionPercentage = 10
	PercentageScaler          = 100

	// MinContributionPrecision sets the smallest deposit to one
	// 10^-6 fraction of a whole token, never less than one base unit.
	MinContributionPrecision = 6
)

// PDA seed prefixes.
var (
	FundraiserSeed  = []byte("fundraiser")
	ContributorSeed = []byte("contributor")
)

// CUDefault is charged for every fundraiser instruction.
const CUDefault = uint64(5_000)

// FindFundraiserAddress returns the campaign address of maker.
func FindFundraiserAddress(maker types.Pubkey) (types.Pubkey, uint8, error) {
	return pda.FindProgramAddress(fundraiserSeeds(maker), ProgramID)
}

// FindContributorAddress returns the ledger address of contributor within
// the campaign at fundraiser.
func FindContributorAddress(fundraiser, contributor types.Pubkey) (types.Pubkey, uint8, error) {
	return pda.FindProgramAddress(contributorSeeds(fundraiser, contributor), ProgramID)
}

func fundraiserSeeds(maker types.Pubkey) [][]byte {
	return [][]byte{FundraiserSeed, maker[:]}
}

func contributorSeeds(fundraiser, contributor types.Pubkey) [][]byte {
	return [][]byte{ContributorSeed, fundraiser[:], contributor[:]}
}
