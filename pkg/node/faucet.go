package node

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/fortiblox/stratus-fundraiser/internal/types"
	"github.com/fortiblox/stratus-fundraiser/pkg/accounts"
	"github.com/fortiblox/stratus-fundraiser/pkg/rpc"
	"github.com/fortiblox/stratus-fundraiser/pkg/svm"
	"github.com/fortiblox/stratus-fundraiser/pkg/svm/invoke"
	"github.com/fortiblox/stratus-fundraiser/pkg/svm/programs/system"
)

// Faucet errors.
var (
	ErrAirdropTooLarge = errors.New("airdrop exceeds faucet limit")
	ErrAirdropFailed   = errors.New("airdrop transaction failed")
)

// Faucet funds accounts with system transfers signed by its own keypair.
// Airdrops go through the runtime and journal like any other transaction.
type Faucet struct {
	keypair   types.Keypair
	submitter rpc.Submitter
	max       uint64
	nonce     atomic.Uint64
	log       zerolog.Logger
}

// NewFaucet creates a faucet that signs with keypair and submits through s.
func NewFaucet(keypair types.Keypair, s rpc.Submitter, maxLamports uint64, logger zerolog.Logger) *Faucet {
	return &Faucet{
		keypair:   keypair,
		submitter: s,
		max:       maxLamports,
		log:       logger.With().Str("component", "faucet").Logger(),
	}
}

// Pubkey returns the faucet account address.
func (f *Faucet) Pubkey() types.Pubkey {
	return f.keypair.Pubkey()
}

// Fund mints supply lamports into the faucet account if it does not exist.
func (f *Faucet) Fund(db accounts.DB, supply uint64) error {
	ok, err := db.HasAccount(f.Pubkey())
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	f.log.Info().Str("address", f.Pubkey().String()).Uint64("lamports", supply).Msg("funding faucet")
	return db.SetAccount(f.Pubkey(), &accounts.Account{Lamports: supply, Owner: system.ProgramID})
}

// Airdrop transfers lamports from the faucet to to.
func (f *Faucet) Airdrop(ctx context.Context, to types.Pubkey, lamports uint64) (types.Signature, error) {
	if lamports > f.max {
		return types.Signature{}, fmt.Errorf("%w: %d > %d", ErrAirdropTooLarge, lamports, f.max)
	}

	// Every airdrop needs a distinct message, so the blockhash carries a
	// counter.
	var seed [8]byte
	binary.LittleEndian.PutUint64(seed[:], f.nonce.Add(1))
	blockhash := types.ComputeHash(append(to[:], seed[:]...))

	tx, err := svm.NewTransaction(blockhash, []invoke.Instruction{system.Transfer(f.Pubkey(), to, lamports)}, f.keypair)
	if err != nil {
		return types.Signature{}, err
	}
	result, _, err := f.submitter.Process(ctx, tx)
	if err != nil {
		return types.Signature{}, err
	}
	if result.Err != nil {
		return result.Signature, fmt.Errorf("%w: %v", ErrAirdropFailed, result.Err)
	}

	f.log.Debug().Str("to", to.String()).Uint64("lamports", lamports).Msg("airdrop")
	return result.Signature, nil
}

// loadOrCreateKeypair reads a base58 keypair from path, generating and
// writing a new one if the file does not exist.
func loadOrCreateKeypair(path string) (types.Keypair, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return types.KeypairFromBase58(strings.TrimSpace(string(data)))
	}
	if !os.IsNotExist(err) {
		return types.Keypair{}, err
	}

	kp, err := types.NewKeypair()
	if err != nil {
		return types.Keypair{}, err
	}
	if err := os.WriteFile(path, []byte(kp.String()+"\n"), 0600); err != nil {
		return types.Keypair{}, fmt.Errorf("write keypair: %w", err)
	}
	return kp, nil
}
