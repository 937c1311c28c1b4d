package fundraiser

import (
	"github.com/fortiblox/stratus-fundraiser/pkg/svm/invoke"
	"github.com/fortiblox/stratus-fundraiser/pkg/svm/pda"
)

// processFinalize sweeps a funded vault to the maker and closes the
// campaign.
// Accounts: [0] maker (signer, writable), [1] mint, [2] fundraiser
// (writable), [3] vault (writable), [4] maker destination token account
// (writable), [5] token program.
func processFinalize(ctx invoke.Context, accts []*invoke.AccountInfo, data []byte) error {
	if err := decodeEmptyArgs(DiscriminatorFinalize, data); err != nil {
		return err
	}
	if len(accts) < 6 {
		return newError(CodeNotEnoughAccountKeys, "finalize needs 6 accounts, got %d", len(accts))
	}
	maker, mintAcc, fundraiserAcc, vault, destination := accts[0], accts[1], accts[2], accts[3], accts[4]

	if err := check(maker, "maker").signer().writable().err(); err != nil {
		return err
	}
	campaign, err := loadCampaign(ctx, fundraiserAcc, maker.Key)
	if err != nil {
		return err
	}
	decimals, err := checkMint(mintAcc, campaign)
	if err != nil {
		return err
	}
	vaultState, err := loadVault(ctx, vault, fundraiserAcc.Key, campaign.Mint)
	if err != nil {
		return err
	}
	if _, err := loadTokenAccount(destination, "destination", campaign.Mint); err != nil {
		return err
	}

	if vaultState.Amount < campaign.AmountToRaise {
		return newError(CodeInsufficientRaise, "vault holds %d of goal %d", vaultState.Amount, campaign.AmountToRaise)
	}

	signer := pda.NewSeeds(campaign.Bump, FundraiserSeed, maker.Key[:])
	if err := transferTokens(ctx, vault, mintAcc, destination, fundraiserAcc, vaultState.Amount, decimals, signer); err != nil {
		return err
	}
	if err := closeTokenAccount(ctx, vault, maker, fundraiserAcc, signer); err != nil {
		return err
	}
	if err := invoke.Close(fundraiserAcc, maker); err != nil {
		return wrapError(CodeImmutableAccount, err, "close fundraiser")
	}

	ctx.Log("Finalize: %d swept to %s", vaultState.Amount, destination.Key)
	return nil
}
