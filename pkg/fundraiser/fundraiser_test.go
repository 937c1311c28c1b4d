package fundraiser

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/stratus-fundraiser/internal/types"
	"github.com/fortiblox/stratus-fundraiser/pkg/accounts"
	"github.com/fortiblox/stratus-fundraiser/pkg/svm"
	"github.com/fortiblox/stratus-fundraiser/pkg/svm/invoke"
	"github.com/fortiblox/stratus-fundraiser/pkg/svm/pda"
	"github.com/fortiblox/stratus-fundraiser/pkg/svm/programs/ata"
	"github.com/fortiblox/stratus-fundraiser/pkg/svm/programs/system"
	"github.com/fortiblox/stratus-fundraiser/pkg/svm/programs/token"
)

const (
	startTime = int64(1_700_000_000)
	goal      = uint64(1_000_000)
	decimals  = uint8(2)
	sol       = uint64(1_000_000_000)
)

// env is a ledger with a 2-decimal mint, a funded maker and the maker's
// token account.
type env struct {
	t         *testing.T
	db        *accounts.MemoryDB
	clock     *svm.ManualClock
	rt        *svm.Runtime
	authority types.Keypair
	mint      types.Pubkey
	maker     types.Keypair
	makerATA  types.Pubkey
	n         int
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		t:     t,
		db:    accounts.NewMemoryDB(),
		clock: svm.NewManualClock(startTime),
	}
	e.rt = svm.NewRuntime(e.db, e.clock, svm.DefaultConfig(), zerolog.Nop(),
		system.NewProcessor(), token.NewProcessor(), ata.NewProcessor(), NewProcessor())

	e.authority = e.keypair(10 * sol)
	mint := e.keypair(0)
	e.mint = mint.Pubkey()
	rent := invoke.DefaultRent()
	e.mustExec([]invoke.Instruction{
		system.CreateAccount(e.authority.Pubkey(), e.mint, rent.MinimumBalance(token.MintSize), token.MintSize, token.ProgramID),
		token.InitializeMint2(e.mint, decimals, e.authority.Pubkey()),
	}, e.authority, mint)

	e.maker = e.keypair(10 * sol)
	e.makerATA = e.tokenAccountFor(e.maker, 0)
	return e
}

func (e *env) keypair(lamports uint64) types.Keypair {
	e.t.Helper()
	kp, err := types.NewKeypair()
	require.NoError(e.t, err)
	if lamports > 0 {
		require.NoError(e.t, e.db.SetAccount(kp.Pubkey(), &accounts.Account{Lamports: lamports, Owner: types.SystemProgramAddr}))
	}
	return kp
}

// tokenAccountFor creates owner's associated token account holding amount.
func (e *env) tokenAccountFor(owner types.Keypair, amount uint64) types.Pubkey {
	e.t.Helper()
	create, err := ata.Create(owner.Pubkey(), owner.Pubkey(), e.mint)
	require.NoError(e.t, err)
	addr, _, err := ata.FindAddress(owner.Pubkey(), e.mint)
	require.NoError(e.t, err)
	ixs := []invoke.Instruction{create}
	if amount > 0 {
		ixs = append(ixs, token.MintTo(e.mint, addr, e.authority.Pubkey(), amount))
	}
	e.mustExec(ixs, owner, e.authority)
	return addr
}

// contributorWallet returns a funded contributor and its token account.
func (e *env) contributorWallet(tokens uint64) (types.Keypair, types.Pubkey) {
	e.t.Helper()
	kp := e.keypair(sol)
	return kp, e.tokenAccountFor(kp, tokens)
}

func (e *env) exec(ixs []invoke.Instruction, signers ...types.Keypair) error {
	e.t.Helper()
	e.n++
	tx, err := svm.NewTransaction(types.ComputeHash([]byte(fmt.Sprintf("bh-%d", e.n))), ixs, signers...)
	require.NoError(e.t, err)
	res, err := e.rt.Execute(context.Background(), tx)
	require.NoError(e.t, err)
	return res.Err
}

func (e *env) mustExec(ixs []invoke.Instruction, signers ...types.Keypair) {
	e.t.Helper()
	require.NoError(e.t, e.exec(ixs, signers...))
}

func (e *env) initialize(goal uint64, days uint8) error {
	e.t.Helper()
	ix, err := NewInitializeInstruction(e.maker.Pubkey(), e.mint, goal, days)
	require.NoError(e.t, err)
	return e.exec([]invoke.Instruction{ix}, e.maker)
}

func (e *env) contribute(who types.Keypair, source types.Pubkey, amount uint64) error {
	e.t.Helper()
	ix, err := NewContributeInstruction(who.Pubkey(), e.maker.Pubkey(), e.mint, source, amount)
	require.NoError(e.t, err)
	return e.exec([]invoke.Instruction{ix}, who)
}

func (e *env) refund(who types.Keypair, destination types.Pubkey) error {
	e.t.Helper()
	ix, err := NewRefundInstruction(who.Pubkey(), e.maker.Pubkey(), e.mint, destination)
	require.NoError(e.t, err)
	return e.exec([]invoke.Instruction{ix}, who)
}

func (e *env) finalize() error {
	e.t.Helper()
	ix, err := NewFinalizeInstruction(e.maker.Pubkey(), e.mint, e.makerATA)
	require.NoError(e.t, err)
	return e.exec([]invoke.Instruction{ix}, e.maker)
}

func (e *env) addrs() Addresses {
	e.t.Helper()
	a, err := CampaignAddresses(e.maker.Pubkey(), e.mint)
	require.NoError(e.t, err)
	return a
}

func (e *env) campaign() *Fundraiser {
	e.t.Helper()
	acc, err := e.db.GetAccount(e.addrs().Fundraiser)
	require.NoError(e.t, err)
	f, err := LoadFundraiser(acc.Data)
	require.NoError(e.t, err)
	return f
}

func (e *env) contributed(who types.Keypair) (uint64, bool) {
	e.t.Helper()
	addr, _, err := FindContributorAddress(e.addrs().Fundraiser, who.Pubkey())
	require.NoError(e.t, err)
	acc, err := e.db.GetAccount(addr)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return 0, false
	}
	require.NoError(e.t, err)
	c, err := LoadContributor(acc.Data)
	require.NoError(e.t, err)
	return c.Amount, true
}

func (e *env) balance(tokenAccount types.Pubkey) uint64 {
	e.t.Helper()
	acc, err := e.db.GetAccount(tokenAccount)
	require.NoError(e.t, err)
	state, err := token.UnpackAccount(acc.Data)
	require.NoError(e.t, err)
	return state.Amount
}

func (e *env) lamports(pk types.Pubkey) uint64 {
	e.t.Helper()
	acc, err := e.db.GetAccount(pk)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return 0
	}
	require.NoError(e.t, err)
	return acc.Lamports
}

func (e *env) exists(pk types.Pubkey) bool {
	e.t.Helper()
	ok, err := e.db.HasAccount(pk)
	require.NoError(e.t, err)
	return ok
}

func TestDerivationIsDeterministic(t *testing.T) {
	maker := types.Pubkey(types.ComputeHash([]byte("maker")))
	a1, b1, err := FindFundraiserAddress(maker)
	require.NoError(t, err)
	a2, b2, err := FindFundraiserAddress(maker)
	require.NoError(t, err)
	assert.Equal(t, a1, a2)
	assert.Equal(t, b1, b2)
	assert.False(t, pda.IsOnCurve(a1))
	require.NoError(t, pda.VerifyBump([][]byte{FundraiserSeed, maker[:]}, b1, ProgramID, a1))

	alice := types.Pubkey(types.ComputeHash([]byte("alice")))
	bob := types.Pubkey(types.ComputeHash([]byte("bob")))
	ca, _, err := FindContributorAddress(a1, alice)
	require.NoError(t, err)
	cb, _, err := FindContributorAddress(a1, bob)
	require.NoError(t, err)
	assert.NotEqual(t, ca, cb)
	assert.NotEqual(t, a1, ca)
}

func TestInitialize(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.initialize(goal, 7))

	addrs := e.addrs()
	f := e.campaign()
	assert.Equal(t, e.maker.Pubkey(), f.Maker)
	assert.Equal(t, e.mint, f.Mint)
	assert.Equal(t, goal, f.AmountToRaise)
	assert.Equal(t, uint64(0), f.CurrentAmount)
	assert.Equal(t, startTime, f.StartTime)
	assert.Equal(t, uint8(7), f.DurationDays)
	assert.Equal(t, addrs.FundraiserBump, f.Bump)

	acc, err := e.db.GetAccount(addrs.Fundraiser)
	require.NoError(t, err)
	assert.Equal(t, ProgramID, acc.Owner)
	assert.Equal(t, invoke.DefaultRent().MinimumBalance(FundraiserSize), acc.Lamports)

	vaultAcc, err := e.db.GetAccount(addrs.Vault)
	require.NoError(t, err)
	vault, err := token.UnpackAccount(vaultAcc.Data)
	require.NoError(t, err)
	assert.Equal(t, addrs.Fundraiser, vault.Owner)
	assert.Equal(t, e.mint, vault.Mint)
	assert.Zero(t, vault.Amount)

	err = e.initialize(goal, 7)
	assert.ErrorIs(t, err, ErrAlreadyInitialized)
}

func TestInitializeRejects(t *testing.T) {
	e := newEnv(t)
	addrs := e.addrs()
	stranger := e.keypair(sol)
	otherMint := e.keypair(sol).Pubkey()

	build := func(mutate func(ix *invoke.Instruction)) invoke.Instruction {
		ix, err := NewInitializeInstruction(e.maker.Pubkey(), e.mint, goal, 7)
		require.NoError(t, err)
		ix.Accounts = append(ix.Accounts, invoke.ReadOnly(stranger.Pubkey(), true))
		if mutate != nil {
			mutate(&ix)
		}
		return ix
	}

	cases := []struct {
		name   string
		mutate func(ix *invoke.Instruction)
		want   error
	}{
		{"maker not signer", func(ix *invoke.Instruction) { ix.Accounts[0].IsSigner = false }, ErrNotSigner},
		{"zero duration", func(ix *invoke.Instruction) { ix.Data[9] = 0 }, ErrInvalidDuration},
		{"goal below minimum", func(ix *invoke.Instruction) { ix.Data[1], ix.Data[2], ix.Data[3] = 43, 1, 0 }, ErrGoalBelowMinimum},
		{"non canonical bump", func(ix *invoke.Instruction) { ix.Data[10] = addrs.FundraiserBump - 1 }, ErrInvalidSeeds},
		{"wrong fundraiser", func(ix *invoke.Instruction) { ix.Accounts[2].Pubkey = stranger.Pubkey() }, ErrAddressMismatch},
		{"wrong vault", func(ix *invoke.Instruction) { ix.Accounts[3].Pubkey = types.Pubkey(types.ComputeHash([]byte("vault"))) }, ErrAddressMismatch},
		{"invalid mint", func(ix *invoke.Instruction) { ix.Accounts[1].Pubkey = otherMint }, ErrInvalidMint},
		{"truncated payload", func(ix *invoke.Instruction) { ix.Data = ix.Data[:8] }, ErrMalformedInstruction},
		{"fundraiser read-only", func(ix *invoke.Instruction) { ix.Accounts[2].IsWritable = false }, ErrImmutableAccount},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := e.exec([]invoke.Instruction{build(tc.mutate)}, e.maker, stranger)
			assert.ErrorIs(t, err, tc.want)
			assert.False(t, e.exists(addrs.Fundraiser))
			assert.False(t, e.exists(addrs.Vault))
		})
	}
}

func TestInitializeOverPrefundedAddresses(t *testing.T) {
	e := newEnv(t)
	addrs := e.addrs()
	rent := invoke.DefaultRent()
	mallory := e.keypair(2 * sol)

	// One address below the rent minimum, the other above it.
	e.mustExec([]invoke.Instruction{
		system.Transfer(mallory.Pubkey(), addrs.Fundraiser, 1),
		system.Transfer(mallory.Pubkey(), addrs.Vault, sol),
	}, mallory)

	require.NoError(t, e.initialize(goal, 7))

	acc, err := e.db.GetAccount(addrs.Fundraiser)
	require.NoError(t, err)
	assert.Equal(t, ProgramID, acc.Owner)
	assert.Len(t, acc.Data, FundraiserSize)
	assert.Equal(t, rent.MinimumBalance(FundraiserSize), acc.Lamports)
	assert.Equal(t, e.maker.Pubkey(), e.campaign().Maker)

	vaultAcc, err := e.db.GetAccount(addrs.Vault)
	require.NoError(t, err)
	assert.Equal(t, token.ProgramID, vaultAcc.Owner)
	assert.Equal(t, sol, vaultAcc.Lamports)
	vault, err := token.UnpackAccount(vaultAcc.Data)
	require.NoError(t, err)
	assert.Equal(t, addrs.Fundraiser, vault.Owner)

	assert.ErrorIs(t, e.initialize(goal, 7), ErrAlreadyInitialized)
}

func TestContributeOverPrefundedRecord(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.initialize(goal, 7))
	alice, aliceATA := e.contributorWallet(100_000)
	mallory := e.keypair(sol)

	record, _, err := FindContributorAddress(e.addrs().Fundraiser, alice.Pubkey())
	require.NoError(t, err)
	e.mustExec([]invoke.Instruction{system.Transfer(mallory.Pubkey(), record, 1)}, mallory)

	require.NoError(t, e.contribute(alice, aliceATA, 40_000))
	amount, ok := e.contributed(alice)
	require.True(t, ok)
	assert.Equal(t, uint64(40_000), amount)
	assert.Equal(t, invoke.DefaultRent().MinimumBalance(ContributorSize), e.lamports(record))

	require.NoError(t, e.contribute(alice, aliceATA, 10_000))
	amount, _ = e.contributed(alice)
	assert.Equal(t, uint64(50_000), amount)
}

func TestComputeExhaustionIsReported(t *testing.T) {
	for _, limit := range []uint64{5_000, 12_000} {
		t.Run(fmt.Sprint(limit), func(t *testing.T) {
			e := newEnv(t)
			require.NoError(t, e.initialize(goal, 7))
			alice, aliceATA := e.contributorWallet(100_000)

			cfg := svm.DefaultConfig()
			cfg.ComputeLimit = limit
			e.rt = svm.NewRuntime(e.db, e.clock, cfg, zerolog.Nop(),
				system.NewProcessor(), token.NewProcessor(), ata.NewProcessor(), NewProcessor())

			err := e.contribute(alice, aliceATA, 40_000)
			assert.ErrorIs(t, err, ErrComputeBudgetExceeded)
			assert.ErrorIs(t, err, svm.ErrComputeExceeded)
			_, ok := e.contributed(alice)
			assert.False(t, ok)
			assert.Equal(t, uint64(100_000), e.balance(aliceATA))
		})
	}
}

func TestContributeCap(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.initialize(goal, 7))

	alice, aliceATA := e.contributorWallet(200_000)
	bob, bobATA := e.contributorWallet(200_000)

	require.NoError(t, e.contribute(alice, aliceATA, 100_000))
	assert.ErrorIs(t, e.contribute(bob, bobATA, 100_001), ErrContributionExceedsCap)

	// The cap is cumulative.
	assert.ErrorIs(t, e.contribute(alice, aliceATA, 1), ErrContributionExceedsCap)
	require.NoError(t, e.contribute(bob, bobATA, 60_000))
	require.NoError(t, e.contribute(bob, bobATA, 40_000))

	amount, ok := e.contributed(alice)
	require.True(t, ok)
	assert.Equal(t, uint64(100_000), amount)
	amount, ok = e.contributed(bob)
	require.True(t, ok)
	assert.Equal(t, uint64(100_000), amount)
	assert.Equal(t, uint64(200_000), e.balance(e.addrs().Vault))
	assert.Equal(t, uint64(200_000), e.campaign().CurrentAmount)
}

func TestContributeDeadline(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.initialize(goal, 7))
	alice, aliceATA := e.contributorWallet(1_000)
	deadline := startTime + 7*SecondsPerDay

	e.clock.Set(deadline - 1)
	require.NoError(t, e.contribute(alice, aliceATA, 10))

	e.clock.Set(deadline)
	require.NoError(t, e.contribute(alice, aliceATA, 10))

	e.clock.Set(deadline + 1)
	assert.ErrorIs(t, e.contribute(alice, aliceATA, 10), ErrCampaignExpired)

	amount, _ := e.contributed(alice)
	assert.Equal(t, uint64(20), amount)
}

func TestContributeBelowMinimum(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.initialize(goal, 7))
	alice, aliceATA := e.contributorWallet(1_000)

	assert.ErrorIs(t, e.contribute(alice, aliceATA, 0), ErrBelowMinimumContribution)
	_, ok := e.contributed(alice)
	assert.False(t, ok)
}

func TestMinContribution(t *testing.T) {
	assert.Equal(t, uint64(1), minContribution(0))
	assert.Equal(t, uint64(1), minContribution(6))
	assert.Equal(t, uint64(100), minContribution(8))
	assert.Equal(t, uint64(1_000), minContribution(9))
	assert.Equal(t, ^uint64(0), minContribution(40))

	c, err := contributionCap(goal)
	require.NoError(t, err)
	assert.Equal(t, uint64(100_000), c)
	_, err = contributionCap(^uint64(0))
	assert.ErrorIs(t, err, ErrArithmeticOverflow)
}

func TestContributeInsufficientFundsLeavesStateUnchanged(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.initialize(goal, 7))
	vault := e.addrs().Vault

	alice, aliceATA := e.contributorWallet(50)
	require.NoError(t, e.contribute(alice, aliceATA, 20))

	assert.ErrorIs(t, e.contribute(alice, aliceATA, 40), ErrInsufficientFunds)
	amount, _ := e.contributed(alice)
	assert.Equal(t, uint64(20), amount)
	assert.Equal(t, uint64(20), e.balance(vault))
	assert.Equal(t, uint64(30), e.balance(aliceATA))

	// A first-time contributor does not get a record either.
	bob, bobATA := e.contributorWallet(5)
	lamportsBefore := e.lamports(bob.Pubkey())
	assert.ErrorIs(t, e.contribute(bob, bobATA, 6), ErrInsufficientFunds)
	_, ok := e.contributed(bob)
	assert.False(t, ok)
	assert.Equal(t, lamportsBefore, e.lamports(bob.Pubkey()))
}

func TestContributeRejects(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.initialize(goal, 7))
	alice, aliceATA := e.contributorWallet(1_000)

	build := func(mutate func(ix *invoke.Instruction)) invoke.Instruction {
		ix, err := NewContributeInstruction(alice.Pubkey(), e.maker.Pubkey(), e.mint, aliceATA, 10)
		require.NoError(t, err)
		mutate(&ix)
		return ix
	}

	cases := []struct {
		name   string
		mutate func(ix *invoke.Instruction)
		want   error
	}{
		{"wrong mint", func(ix *invoke.Instruction) { ix.Accounts[1].Pubkey = e.maker.Pubkey() }, ErrMintMismatch},
		{"non canonical fundraiser bump", func(ix *invoke.Instruction) { ix.Data[10]-- }, ErrInvalidSeeds},
		{"non canonical contributor bump", func(ix *invoke.Instruction) { ix.Data[9]-- }, ErrInvalidSeeds},
		{"wrong record", func(ix *invoke.Instruction) { ix.Accounts[3].Pubkey = types.Pubkey(types.ComputeHash([]byte("record"))) }, ErrAddressMismatch},
		{"wrong vault", func(ix *invoke.Instruction) { ix.Accounts[5].Pubkey = e.makerATA }, ErrAddressMismatch},
		{"source owned by another program", func(ix *invoke.Instruction) { ix.Accounts[4].Pubkey = e.addrs().Fundraiser }, ErrIllegalOwner},
		{"fundraiser not initialized", func(ix *invoke.Instruction) { ix.Accounts[2].Pubkey = alice.Pubkey() }, ErrUninitializedAccount},
		{"short payload", func(ix *invoke.Instruction) { ix.Data = ix.Data[:5] }, ErrMalformedInstruction},
		{"vault read-only", func(ix *invoke.Instruction) { ix.Accounts[5].IsWritable = false }, ErrImmutableAccount},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := e.exec([]invoke.Instruction{build(tc.mutate)}, alice)
			assert.ErrorIs(t, err, tc.want)
			_, ok := e.contributed(alice)
			assert.False(t, ok)
			assert.Equal(t, uint64(1_000), e.balance(aliceATA))
		})
	}
}

func TestFinalize(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.initialize(goal, 7))
	addrs := e.addrs()

	for i := 0; i < 9; i++ {
		kp, src := e.contributorWallet(100_000)
		require.NoError(t, e.contribute(kp, src, 100_000))
	}
	last, lastATA := e.contributorWallet(100_000)
	require.NoError(t, e.contribute(last, lastATA, 99_999))
	require.Equal(t, goal-1, e.balance(addrs.Vault))

	assert.ErrorIs(t, e.finalize(), ErrInsufficientRaise)

	require.NoError(t, e.contribute(last, lastATA, 1))
	require.Equal(t, goal, e.balance(addrs.Vault))

	rent := invoke.DefaultRent()
	lamportsBefore := e.lamports(e.maker.Pubkey())
	require.NoError(t, e.finalize())

	assert.Equal(t, goal, e.balance(e.makerATA))
	assert.False(t, e.exists(addrs.Fundraiser))
	assert.False(t, e.exists(addrs.Vault))
	assert.Equal(t, lamportsBefore+rent.MinimumBalance(FundraiserSize)+rent.MinimumBalance(token.AccountSize),
		e.lamports(e.maker.Pubkey()))

	// The campaign is gone; a second sweep finds nothing.
	assert.ErrorIs(t, e.finalize(), ErrUninitializedAccount)
}

func TestFinalizeRequiresMaker(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.initialize(goal, 7))
	mallory, malloryATA := e.contributorWallet(0)

	ix, err := NewFinalizeInstruction(e.maker.Pubkey(), e.mint, malloryATA)
	require.NoError(t, err)
	ix.Accounts[0] = invoke.Writable(mallory.Pubkey(), true)

	assert.ErrorIs(t, e.exec([]invoke.Instruction{ix}, mallory), ErrAddressMismatch)
	assert.True(t, e.exists(e.addrs().Fundraiser))
}

func TestRefund(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.initialize(goal, 7))
	vault := e.addrs().Vault

	alice, aliceATA := e.contributorWallet(1_000)
	bob, bobATA := e.contributorWallet(1_000)
	require.NoError(t, e.contribute(alice, aliceATA, 100))
	require.NoError(t, e.contribute(alice, aliceATA, 150))
	require.NoError(t, e.contribute(bob, bobATA, 300))
	require.Equal(t, uint64(550), e.balance(vault))

	assert.ErrorIs(t, e.refund(alice, aliceATA), ErrCampaignActive)

	e.clock.Set(startTime + 7*SecondsPerDay + 1)
	lamportsBefore := e.lamports(alice.Pubkey())
	require.NoError(t, e.refund(alice, aliceATA))

	assert.Equal(t, uint64(1_000), e.balance(aliceATA))
	assert.Equal(t, uint64(300), e.balance(vault))
	_, ok := e.contributed(alice)
	assert.False(t, ok)
	assert.Equal(t, lamportsBefore+invoke.DefaultRent().MinimumBalance(ContributorSize), e.lamports(alice.Pubkey()))
	assert.Equal(t, uint64(300), e.campaign().CurrentAmount)

	// The record is closed, so the stake cannot be claimed twice.
	assert.ErrorIs(t, e.refund(alice, aliceATA), ErrUninitializedAccount)
	assert.Equal(t, uint64(300), e.balance(vault))

	require.NoError(t, e.refund(bob, bobATA))
	assert.Zero(t, e.balance(vault))
}

func TestRefundAfterGoalReached(t *testing.T) {
	e := newEnv(t)
	const smallGoal = uint64(300)
	require.NoError(t, e.initialize(smallGoal, 1))

	var last types.Keypair
	var lastATA types.Pubkey
	for i := 0; i < 10; i++ {
		last, lastATA = e.contributorWallet(100)
		require.NoError(t, e.contribute(last, lastATA, smallGoal/10))
	}
	require.Equal(t, smallGoal, e.balance(e.addrs().Vault))

	e.clock.Set(startTime + SecondsPerDay + 1)
	assert.ErrorIs(t, e.refund(last, lastATA), ErrGoalReached)
	amount, ok := e.contributed(last)
	require.True(t, ok)
	assert.Equal(t, smallGoal/10, amount)
}

func TestDispatcher(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.initialize(goal, 7))
	alice, aliceATA := e.contributorWallet(100)

	call := func(data []byte, metas ...invoke.AccountMeta) error {
		metas = append([]invoke.AccountMeta{invoke.Writable(alice.Pubkey(), true)}, metas...)
		return e.exec([]invoke.Instruction{{ProgramID: ProgramID, Accounts: metas, Data: data}}, alice)
	}

	assert.ErrorIs(t, call(nil), ErrMalformedInstruction)
	assert.ErrorIs(t, call([]byte{9}), ErrUnknownInstruction)
	assert.ErrorIs(t, call([]byte{byte(DiscriminatorContribute), 1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}), ErrNotEnoughAccountKeys)

	refund, err := NewRefundInstruction(alice.Pubkey(), e.maker.Pubkey(), e.mint, aliceATA)
	require.NoError(t, err)
	refund.Data = append(refund.Data, 0)
	assert.ErrorIs(t, e.exec([]invoke.Instruction{refund}, alice), ErrMalformedInstruction)

	var ixErr *svm.InstructionError
	err = call([]byte{9})
	require.ErrorAs(t, err, &ixErr)
	pe, ok := AsProgramError(err)
	require.True(t, ok)
	assert.Equal(t, CodeUnknownInstruction, pe.Code)
	assert.Equal(t, "UnknownInstruction", pe.Name())
}

func TestProgramError(t *testing.T) {
	err := newError(CodeCampaignExpired, "deadline %d", 5)
	assert.ErrorIs(t, err, ErrCampaignExpired)
	assert.NotErrorIs(t, err, ErrCampaignActive)
	assert.Equal(t, "fundraiser error 12 (CampaignExpired): deadline 5", err.Error())

	cause := errors.New("boom")
	wrapped := fmt.Errorf("outer: %w", wrapError(CodeTransferFailed, cause, "transfer"))
	assert.ErrorIs(t, wrapped, ErrTransferFailed)
	assert.ErrorIs(t, wrapped, cause)

	assert.Equal(t, "ErrorCode(99)", ErrorCode(99).String())
	for code := CodeNotSigner; code <= CodeComputeBudgetExceeded; code++ {
		assert.NotContains(t, code.String(), "ErrorCode(", "code %d has no name", code)
	}
}

func TestRecordCodec(t *testing.T) {
	f := &Fundraiser{
		Maker:         types.Pubkey{1},
		Mint:          types.Pubkey{2},
		AmountToRaise: goal,
		CurrentAmount: 42,
		StartTime:     startTime,
		DurationDays:  7,
		Bump:          254,
	}
	buf := make([]byte, FundraiserSize)
	for i := range buf {
		buf[i] = 0xee
	}
	require.NoError(t, f.Store(buf))
	assert.Equal(t, make([]byte, 6), buf[90:], "padding is zeroed")

	got, err := LoadFundraiser(buf)
	require.NoError(t, err)
	assert.Equal(t, f, got)
	assert.Equal(t, startTime+7*SecondsPerDay, got.Deadline())

	_, err = LoadFundraiser(buf[:95])
	assert.ErrorIs(t, err, ErrMalformedRecord)
	assert.ErrorIs(t, f.Store(make([]byte, 97)), ErrMalformedRecord)
	_, err = LoadContributor(make([]byte, 9))
	assert.ErrorIs(t, err, ErrMalformedRecord)
}
