package fundraiser

import (
	"github.com/fortiblox/stratus-fundraiser/pkg/svm/invoke"
	"github.com/fortiblox/stratus-fundraiser/pkg/svm/pda"
)

// processRefund returns a contributor's whole deposit once a campaign has
// ended short of its goal, then closes their ledger entry so the same
// deposit cannot be claimed twice.
// Accounts: [0] contributor (signer, writable), [1] maker, [2] mint,
// [3] fundraiser (writable), [4] contributor record (writable),
// [5] destination token account (writable), [6] vault (writable),
// [7] token program.
func processRefund(ctx invoke.Context, accts []*invoke.AccountInfo, data []byte) error {
	if err := decodeEmptyArgs(DiscriminatorRefund, data); err != nil {
		return err
	}
	if len(accts) < 8 {
		return newError(CodeNotEnoughAccountKeys, "refund needs 8 accounts, got %d", len(accts))
	}
	contributor, maker, mintAcc, fundraiserAcc := accts[0], accts[1], accts[2], accts[3]
	record, destination, vault := accts[4], accts[5], accts[6]

	if err := check(contributor, "contributor").signer().writable().err(); err != nil {
		return err
	}
	campaign, err := loadCampaign(ctx, fundraiserAcc, maker.Key)
	if err != nil {
		return err
	}

	recordAddr, _, err := derive(ctx, contributorSeeds(fundraiserAcc.Key, contributor.Key))
	if err != nil {
		return err
	}
	if err := check(record, "contributor record").nonEmpty().writable().ownedBy(ctx.ProgramID()).address(recordAddr).err(); err != nil {
		return err
	}
	entry, err := LoadContributor(record.Data)
	if err != nil {
		return err
	}

	decimals, err := checkMint(mintAcc, campaign)
	if err != nil {
		return err
	}
	if _, err := loadTokenAccount(destination, "destination", campaign.Mint); err != nil {
		return err
	}
	vaultState, err := loadVault(ctx, vault, fundraiserAcc.Key, campaign.Mint)
	if err != nil {
		return err
	}

	if now := ctx.Clock().UnixTimestamp; !campaign.Expired(now) {
		return newError(CodeCampaignActive, "campaign runs until %d, now %d", campaign.Deadline(), now)
	}
	if vaultState.Amount >= campaign.AmountToRaise {
		return newError(CodeGoalReached, "vault holds %d of goal %d", vaultState.Amount, campaign.AmountToRaise)
	}

	if entry.Amount > 0 {
		signer := pda.NewSeeds(campaign.Bump, FundraiserSeed, maker.Key[:])
		if err := transferTokens(ctx, vault, mintAcc, destination, fundraiserAcc, entry.Amount, decimals, signer); err != nil {
			return err
		}
	}

	if err := invoke.Close(record, contributor); err != nil {
		return wrapError(CodeImmutableAccount, err, "close contributor record")
	}
	campaign.CurrentAmount = saturatingSub(campaign.CurrentAmount, entry.Amount)
	if err := campaign.Store(fundraiserAcc.Data); err != nil {
		return err
	}

	ctx.Log("Refund: %d to %s", entry.Amount, contributor.Key)
	return nil
}
