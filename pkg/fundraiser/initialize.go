package fundraiser

import (
	"math/bits"

	"github.com/fortiblox/stratus-fundraiser/pkg/svm/invoke"
	"github.com/fortiblox/stratus-fundraiser/pkg/svm/pda"
	"github.com/fortiblox/stratus-fundraiser/pkg/svm/programs/ata"
)

// processInitialize opens a campaign.
// Accounts: [0] maker (signer, writable), [1] mint, [2] fundraiser
// (writable), [3] vault (writable), [4] system program, [5] token program,
// [6] associated token program.
func processInitialize(ctx invoke.Context, accts []*invoke.AccountInfo, data []byte) error {
	if len(accts) < 7 {
		return newError(CodeNotEnoughAccountKeys, "initialize needs 7 accounts, got %d", len(accts))
	}
	maker, mintAcc, fundraiserAcc, vault := accts[0], accts[1], accts[2], accts[3]

	if err := check(maker, "maker").signer().writable().err(); err != nil {
		return err
	}
	if err := check(vault, "vault").empty().err(); err != nil {
		return err
	}
	if err := check(fundraiserAcc, "fundraiser").empty().err(); err != nil {
		return err
	}

	args, err := decodeInitializeArgs(data)
	if err != nil {
		return err
	}
	if args.DurationDays == 0 {
		return newError(CodeInvalidDuration, "duration must be at least one day")
	}

	mint, err := loadMint(mintAcc)
	if err != nil {
		return err
	}
	unit, ok := pow10(mint.Decimals)
	if !ok {
		return newError(CodeArithmeticOverflow, "10^%d overflows", mint.Decimals)
	}
	hi, minGoal := bits.Mul64(MinAmountToRaise, unit)
	if hi != 0 {
		return newError(CodeArithmeticOverflow, "minimum goal overflows")
	}
	if args.Goal < minGoal {
		return newError(CodeGoalBelowMinimum, "goal %d is below minimum %d", args.Goal, minGoal)
	}

	addr, bump, err := derive(ctx, fundraiserSeeds(maker.Key))
	if err != nil {
		return err
	}
	if err := check(fundraiserAcc, "fundraiser").address(addr).err(); err != nil {
		return err
	}
	if args.FundraiserBump != bump {
		return newError(CodeInvalidSeeds, "fundraiser bump %d is not canonical bump %d", args.FundraiserBump, bump)
	}

	vaultAddr, _, err := ctx.FindProgramAddress(ata.AddressSeeds(fundraiserAcc.Key, mintAcc.Key), ata.ProgramID)
	if err != nil {
		return wrapError(CodeInvalidSeeds, err, "derive vault")
	}
	if err := check(vault, "vault").address(vaultAddr).writable().err(); err != nil {
		return err
	}
	if err := check(fundraiserAcc, "fundraiser").writable().err(); err != nil {
		return err
	}

	signer := pda.NewSeeds(bump, FundraiserSeed, maker.Key[:])
	if err := createAccount(ctx, maker, fundraiserAcc, FundraiserSize, signer); err != nil {
		return err
	}
	campaign := &Fundraiser{
		Maker:         maker.Key,
		Mint:          mintAcc.Key,
		AmountToRaise: args.Goal,
		StartTime:     ctx.Clock().UnixTimestamp,
		DurationDays:  args.DurationDays,
		Bump:          bump,
	}
	if err := campaign.Store(fundraiserAcc.Data); err != nil {
		return err
	}

	create, err := ata.Create(maker.Key, fundraiserAcc.Key, mintAcc.Key)
	if err != nil {
		return wrapError(CodeInvalidSeeds, err, "derive vault")
	}
	if err := ctx.Invoke(create); err != nil {
		return mapInvokeError(err, "create vault")
	}

	ctx.Log("Initialize: fundraiser=%s goal=%d days=%d mint=%s decimals=%d",
		fundraiserAcc.Key, args.Goal, args.DurationDays, mintAcc.Key, mint.Decimals)
	return nil
}
