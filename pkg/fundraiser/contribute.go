package fundraiser

import (
	"math/bits"

	"github.com/fortiblox/stratus-fundraiser/pkg/svm/invoke"
	"github.com/fortiblox/stratus-fundraiser/pkg/svm/pda"
)

// processContribute deposits into a campaign and credits the contributor's
// ledger entry.
// Accounts: [0] contributor (signer, writable), [1] mint, [2] fundraiser
// (writable), [3] contributor record (writable), [4] source token account
// (writable), [5] vault (writable), [6] system program, [7] token program.
func processContribute(ctx invoke.Context, accts []*invoke.AccountInfo, data []byte) error {
	if len(accts) < 8 {
		return newError(CodeNotEnoughAccountKeys, "contribute needs 8 accounts, got %d", len(accts))
	}
	contributor, mintAcc, fundraiserAcc := accts[0], accts[1], accts[2]
	record, source, vault := accts[3], accts[4], accts[5]

	if err := check(contributor, "contributor").signer().writable().err(); err != nil {
		return err
	}
	args, err := decodeContributeArgs(data)
	if err != nil {
		return err
	}

	if err := check(fundraiserAcc, "fundraiser").nonEmpty().writable().ownedBy(ctx.ProgramID()).err(); err != nil {
		return err
	}
	campaign, err := LoadFundraiser(fundraiserAcc.Data)
	if err != nil {
		return err
	}
	addr, err := deriveCanonical(ctx, fundraiserSeeds(campaign.Maker), args.FundraiserBump)
	if err != nil {
		return err
	}
	if addr != fundraiserAcc.Key {
		return newError(CodeInvalidSeeds, "fundraiser %s does not derive from maker %s", fundraiserAcc.Key, campaign.Maker)
	}

	decimals, err := checkMint(mintAcc, campaign)
	if err != nil {
		return err
	}

	recordAddr, recordBump, err := derive(ctx, contributorSeeds(fundraiserAcc.Key, contributor.Key))
	if err != nil {
		return err
	}
	if err := check(record, "contributor record").writable().address(recordAddr).err(); err != nil {
		return err
	}
	if args.ContributorBump != recordBump {
		return newError(CodeInvalidSeeds, "contributor bump %d is not canonical bump %d", args.ContributorBump, recordBump)
	}

	src, err := loadTokenAccount(source, "source", campaign.Mint)
	if err != nil {
		return err
	}
	if _, err := loadVault(ctx, vault, fundraiserAcc.Key, campaign.Mint); err != nil {
		return err
	}

	if minimum := minContribution(decimals); args.Amount < minimum {
		return newError(CodeBelowMinimumContribution, "amount %d is below minimum %d", args.Amount, minimum)
	}

	entry := &Contributor{}
	fresh := len(record.Data) == 0
	if !fresh {
		if err := check(record, "contributor record").ownedBy(ctx.ProgramID()).err(); err != nil {
			return err
		}
		if entry, err = LoadContributor(record.Data); err != nil {
			return err
		}
	}

	limit, err := contributionCap(campaign.AmountToRaise)
	if err != nil {
		return err
	}
	total, carry := bits.Add64(entry.Amount, args.Amount, 0)
	if carry != 0 {
		return newError(CodeArithmeticOverflow, "contributor total overflows")
	}
	if total > limit {
		return newError(CodeContributionExceedsCap, "total %d exceeds cap %d", total, limit)
	}

	if now := ctx.Clock().UnixTimestamp; campaign.Expired(now) {
		return newError(CodeCampaignExpired, "deadline %d passed at %d", campaign.Deadline(), now)
	}
	if src.Amount < args.Amount {
		return newError(CodeInsufficientFunds, "source holds %d, need %d", src.Amount, args.Amount)
	}

	if fresh {
		signer := pda.NewSeeds(recordBump, ContributorSeed, fundraiserAcc.Key[:], contributor.Key[:])
		if err := createAccount(ctx, contributor, record, ContributorSize, signer); err != nil {
			return err
		}
	}
	if err := transferTokens(ctx, source, mintAcc, vault, contributor, args.Amount, decimals); err != nil {
		return err
	}

	entry.Amount = total
	if err := entry.Store(record.Data); err != nil {
		return err
	}
	campaign.CurrentAmount = saturatingAdd(campaign.CurrentAmount, args.Amount)
	if err := campaign.Store(fundraiserAcc.Data); err != nil {
		return err
	}

	ctx.Log("Contribute: %d from %s, total %d", args.Amount, contributor.Key, total)
	return nil
}

func saturatingAdd(a, b uint64) uint64 {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return ^uint64(0)
	}
	return sum
}

func saturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}
