package fundraiser

import (
	"math/bits"

	"github.com/fortiblox/stratus-fundraiser/internal/types"
	"github.com/fortiblox/stratus-fundraiser/pkg/svm/invoke"
	"github.com/fortiblox/stratus-fundraiser/pkg/svm/programs/ata"
	"github.com/fortiblox/stratus-fundraiser/pkg/svm/programs/token"
)

// accountCheck runs structural checks on one account in the order they are
// chained. The first failure sticks and later checks are skipped.
type accountCheck struct {
	acc  *invoke.AccountInfo
	name string
	fail error
}

func check(acc *invoke.AccountInfo, name string) *accountCheck {
	return &accountCheck{acc: acc, name: name}
}

func (c *accountCheck) signer() *accountCheck {
	if c.fail == nil && !c.acc.IsSigner {
		c.fail = newError(CodeNotSigner, "%s %s must sign", c.name, c.acc.Key)
	}
	return c
}

func (c *accountCheck) writable() *accountCheck {
	if c.fail == nil && !c.acc.IsWritable {
		c.fail = newError(CodeImmutableAccount, "%s %s must be writable", c.name, c.acc.Key)
	}
	return c
}

// empty requires an account that was never created.
func (c *accountCheck) empty() *accountCheck {
	if c.fail == nil && (len(c.acc.Data) > 0 || c.acc.Owner != types.SystemProgramAddr) {
		c.fail = newError(CodeAlreadyInitialized, "%s %s already exists", c.name, c.acc.Key)
	}
	return c
}

func (c *accountCheck) nonEmpty() *accountCheck {
	if c.fail == nil && len(c.acc.Data) == 0 {
		c.fail = newError(CodeUninitializedAccount, "%s %s is not initialized", c.name, c.acc.Key)
	}
	return c
}

func (c *accountCheck) ownedBy(owner types.Pubkey) *accountCheck {
	if c.fail == nil && c.acc.Owner != owner {
		c.fail = newError(CodeIllegalOwner, "%s %s is owned by %s, want %s", c.name, c.acc.Key, c.acc.Owner, owner)
	}
	return c
}

func (c *accountCheck) address(want types.Pubkey) *accountCheck {
	if c.fail == nil && c.acc.Key != want {
		c.fail = newError(CodeAddressMismatch, "%s is %s, want %s", c.name, c.acc.Key, want)
	}
	return c
}

func (c *accountCheck) err() error {
	return c.fail
}

// deriveCanonical derives the program address for seeds and requires bump
// to be the canonical one.
func deriveCanonical(ctx invoke.Context, seeds [][]byte, bump uint8) (types.Pubkey, error) {
	addr, canonical, err := ctx.FindProgramAddress(seeds, ctx.ProgramID())
	if err != nil {
		return types.Pubkey{}, wrapError(CodeInvalidSeeds, err, "derive address")
	}
	if bump != canonical {
		return types.Pubkey{}, newError(CodeInvalidSeeds, "bump %d is not canonical bump %d", bump, canonical)
	}
	return addr, nil
}

// derive returns the canonical program address for seeds.
func derive(ctx invoke.Context, seeds [][]byte) (types.Pubkey, uint8, error) {
	addr, bump, err := ctx.FindProgramAddress(seeds, ctx.ProgramID())
	if err != nil {
		return types.Pubkey{}, 0, wrapError(CodeInvalidSeeds, err, "derive address")
	}
	return addr, bump, nil
}

// loadMint validates and decodes a mint account.
func loadMint(acc *invoke.AccountInfo) (*token.Mint, error) {
	if acc.Owner != token.ProgramID {
		return nil, newError(CodeInvalidMint, "mint %s is not a token program account", acc.Key)
	}
	m, err := token.UnpackMint(acc.Data)
	if err != nil {
		return nil, wrapError(CodeInvalidMint, err, "mint "+acc.Key.String())
	}
	return m, nil
}

// loadTokenAccount validates and decodes a writable token account of mint.
func loadTokenAccount(acc *invoke.AccountInfo, name string, mint types.Pubkey) (*token.Account, error) {
	if err := check(acc, name).writable().nonEmpty().ownedBy(token.ProgramID).err(); err != nil {
		return nil, err
	}
	state, err := token.UnpackAccount(acc.Data)
	if err != nil {
		return nil, wrapError(CodeUninitializedAccount, err, name+" "+acc.Key.String())
	}
	if state.Mint != mint {
		return nil, newError(CodeMintMismatch, "%s %s holds mint %s, want %s", name, acc.Key, state.Mint, mint)
	}
	return state, nil
}

// pow10 returns 10^exp, reporting overflow.
func pow10(exp uint8) (uint64, bool) {
	v := uint64(1)
	for i := uint8(0); i < exp; i++ {
		if v > ^uint64(0)/10 {
			return 0, false
		}
		v *= 10
	}
	return v, true
}

// minContribution is the smallest deposit for a mint with decimals.
func minContribution(decimals uint8) uint64 {
	if decimals <= MinContributionPrecision {
		return 1
	}
	v, ok := pow10(decimals - MinContributionPrecision)
	if !ok {
		return ^uint64(0)
	}
	return v
}

// contributionCap is the most one contributor may deposit in total.
func contributionCap(goal uint64) (uint64, error) {
	hi, lo := bits.Mul64(goal, MaxContributionPercentage)
	if hi != 0 {
		return 0, newError(CodeArithmeticOverflow, "cap of goal %d overflows", goal)
	}
	return lo / PercentageScaler, nil
}

// loadVault checks that vault is the campaign's associated token account
// for mint and decodes it.
func loadVault(ctx invoke.Context, vault *invoke.AccountInfo, fundraiser, mint types.Pubkey) (*token.Account, error) {
	addr, _, err := ctx.FindProgramAddress(ata.AddressSeeds(fundraiser, mint), ata.ProgramID)
	if err != nil {
		return nil, wrapError(CodeInvalidSeeds, err, "derive vault")
	}
	if err := check(vault, "vault").address(addr).err(); err != nil {
		return nil, err
	}
	return loadTokenAccount(vault, "vault", mint)
}

// loadCampaign checks that acc is maker's live campaign record and decodes
// it.
func loadCampaign(ctx invoke.Context, acc *invoke.AccountInfo, maker types.Pubkey) (*Fundraiser, error) {
	addr, bump, err := derive(ctx, fundraiserSeeds(maker))
	if err != nil {
		return nil, err
	}
	if err := check(acc, "fundraiser").address(addr).writable().nonEmpty().ownedBy(ctx.ProgramID()).err(); err != nil {
		return nil, err
	}
	campaign, err := LoadFundraiser(acc.Data)
	if err != nil {
		return nil, err
	}
	if campaign.Maker != maker {
		return nil, newError(CodeAddressMismatch, "fundraiser maker is %s, want %s", campaign.Maker, maker)
	}
	if campaign.Bump != bump {
		return nil, newError(CodeInvalidSeeds, "stored bump %d is not canonical bump %d", campaign.Bump, bump)
	}
	return campaign, nil
}

// checkMint requires acc to be the campaign's mint and returns its decimals.
func checkMint(acc *invoke.AccountInfo, campaign *Fundraiser) (uint8, error) {
	if acc.Key != campaign.Mint {
		return 0, newError(CodeMintMismatch, "mint is %s, campaign uses %s", acc.Key, campaign.Mint)
	}
	m, err := loadMint(acc)
	if err != nil {
		return 0, err
	}
	return m.Decimals, nil
}
