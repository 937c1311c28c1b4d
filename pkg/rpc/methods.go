package rpc

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/fortiblox/stratus-fundraiser/internal/types"
	"github.com/fortiblox/stratus-fundraiser/pkg/accounts"
	"github.com/fortiblox/stratus-fundraiser/pkg/fundraiser"
	"github.com/fortiblox/stratus-fundraiser/pkg/journal"
	"github.com/fortiblox/stratus-fundraiser/pkg/svm"
	"github.com/fortiblox/stratus-fundraiser/pkg/svm/programs/token"
)

// Version information.
const (
	SolanaCore = "stratus-fundraiser-1.0.0"
	FeatureSet = 0
)

// MaxMultipleAccounts bounds getMultipleAccounts.
const MaxMultipleAccounts = 100

// Cluster methods

func (s *Server) getHealth(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	if !s.IsHealthy() {
		return nil, ErrNodeUnhealthy
	}
	return "ok", nil
}

func (s *Server) getVersion(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	return Version{Core: SolanaCore, FeatureSet: FeatureSet}, nil
}

func (s *Server) getSlot(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	return s.backend.Runtime.Slot(), nil
}

func (s *Server) getIdentity(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	return Identity{Identity: s.config.Identity.String()}, nil
}

// Account methods

// getAccountInfo retrieves account information.
func (s *Server) getAccountInfo(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	pubkey, rpcErr := parsePubkey(args[0], "pubkey")
	if rpcErr != nil {
		return nil, rpcErr
	}
	var config AccountInfoConfig
	if rpcErr := parseConfig(args, 1, &config); rpcErr != nil {
		return nil, rpcErr
	}

	slot := s.backend.Runtime.Slot()
	if config.MinContextSlot != nil && *config.MinContextSlot > slot {
		return nil, MinContextSlotError(*config.MinContextSlot, slot)
	}

	account, rpcErr := s.loadAccount(pubkey)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if account == nil {
		return ResponseWithContext{Context: Context{Slot: slot}, Value: nil}, nil
	}
	info, rpcErr := accountToInfo(account, config.Encoding, config.DataSlice)
	if rpcErr != nil {
		return nil, rpcErr
	}
	return ResponseWithContext{Context: Context{Slot: slot}, Value: info}, nil
}

// getBalance retrieves an account's lamports.
func (s *Server) getBalance(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	pubkey, rpcErr := parsePubkey(args[0], "pubkey")
	if rpcErr != nil {
		return nil, rpcErr
	}

	slot := s.backend.Runtime.Slot()
	account, rpcErr := s.loadAccount(pubkey)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var lamports uint64
	if account != nil {
		lamports = account.Lamports
	}
	return ResponseWithContext{Context: Context{Slot: slot}, Value: lamports}, nil
}

// getMultipleAccounts retrieves up to MaxMultipleAccounts accounts.
func (s *Server) getMultipleAccounts(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var keys []string
	if err := json.Unmarshal(args[0], &keys); err != nil {
		return nil, InvalidParamsError("invalid pubkeys array")
	}
	if len(keys) > MaxMultipleAccounts {
		return nil, InvalidParamsErrorf("too many accounts requested, maximum %d", MaxMultipleAccounts)
	}
	var config AccountInfoConfig
	if rpcErr := parseConfig(args, 1, &config); rpcErr != nil {
		return nil, rpcErr
	}

	slot := s.backend.Runtime.Slot()
	values := make([]interface{}, len(keys))
	for i, k := range keys {
		pubkey, err := types.PubkeyFromBase58(k)
		if err != nil {
			return nil, InvalidParamsErrorf("invalid pubkey at index %d", i)
		}
		account, rpcErr := s.loadAccount(pubkey)
		if rpcErr != nil {
			return nil, rpcErr
		}
		if account == nil {
			continue
		}
		info, rpcErr := accountToInfo(account, config.Encoding, config.DataSlice)
		if rpcErr != nil {
			return nil, rpcErr
		}
		values[i] = info
	}
	return ResponseWithContext{Context: Context{Slot: slot}, Value: values}, nil
}

func (s *Server) getMinimumBalanceForRentExemption(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var size uint64
	if err := json.Unmarshal(args[0], &size); err != nil {
		return nil, InvalidParamsError("invalid data size")
	}
	return s.backend.Runtime.Rent().MinimumBalance(size), nil
}

// Fundraiser methods

// getFundraiser decodes a campaign. The key may be the fundraiser address
// itself or its maker.
func (s *Server) getFundraiser(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	key, rpcErr := parsePubkey(args[0], "pubkey")
	if rpcErr != nil {
		return nil, rpcErr
	}
	slot := s.backend.Runtime.Slot()

	address := key
	account, rpcErr := s.loadAccount(key)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if account == nil || account.Owner != fundraiser.ProgramID {
		derived, _, err := fundraiser.FindFundraiserAddress(key)
		if err != nil {
			return nil, InternalServerErrorf("derive fundraiser address: %v", err)
		}
		address = derived
		if account, rpcErr = s.loadAccount(derived); rpcErr != nil {
			return nil, rpcErr
		}
	}
	if account == nil || account.Owner != fundraiser.ProgramID {
		return ResponseWithContext{Context: Context{Slot: slot}, Value: nil}, nil
	}

	record, err := fundraiser.LoadFundraiser(account.Data)
	if err != nil {
		return nil, InvalidParamsErrorf("account %s is not a fundraiser: %v", address, err)
	}
	addrs, err := fundraiser.CampaignAddresses(record.Maker, record.Mint)
	if err != nil {
		return nil, InternalServerErrorf("derive campaign addresses: %v", err)
	}
	if addrs.Fundraiser != address {
		return nil, InvalidParamsErrorf("account %s does not derive from maker %s", address, record.Maker)
	}

	info := FundraiserInfo{
		Address:       address.String(),
		Bump:          record.Bump,
		Maker:         record.Maker.String(),
		Mint:          record.Mint.String(),
		AmountToRaise: record.AmountToRaise,
		CurrentAmount: record.CurrentAmount,
		TimeStarted:   record.StartTime,
		Duration:      record.DurationDays,
		Deadline:      record.Deadline(),
		Expired:       record.Expired(s.now()),
		Vault:         addrs.Vault.String(),
	}
	vault, rpcErr := s.loadAccount(addrs.Vault)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if vault != nil && vault.Owner == token.ProgramID {
		if state, err := token.UnpackAccount(vault.Data); err == nil {
			info.VaultBalance = state.Amount
		}
	}
	return ResponseWithContext{Context: Context{Slot: slot}, Value: info}, nil
}

// getContributor decodes the ledger entry of contributor in a campaign.
func (s *Server) getContributor(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	args, rpcErr := parseArgs(params, 2)
	if rpcErr != nil {
		return nil, rpcErr
	}
	fundraiserAddr, rpcErr := parsePubkey(args[0], "fundraiser")
	if rpcErr != nil {
		return nil, rpcErr
	}
	contributor, rpcErr := parsePubkey(args[1], "contributor")
	if rpcErr != nil {
		return nil, rpcErr
	}
	slot := s.backend.Runtime.Slot()

	address, bump, err := fundraiser.FindContributorAddress(fundraiserAddr, contributor)
	if err != nil {
		return nil, InternalServerErrorf("derive contributor address: %v", err)
	}
	account, rpcErr := s.loadAccount(address)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if account == nil || account.Owner != fundraiser.ProgramID {
		return ResponseWithContext{Context: Context{Slot: slot}, Value: nil}, nil
	}
	record, err := fundraiser.LoadContributor(account.Data)
	if err != nil {
		return nil, InternalServerErrorf("decode contributor %s: %v", address, err)
	}
	return ResponseWithContext{Context: Context{Slot: slot}, Value: ContributorInfo{
		Address:     address.String(),
		Bump:        bump,
		Fundraiser:  fundraiserAddr.String(),
		Contributor: contributor.String(),
		Amount:      record.Amount,
	}}, nil
}

// Transaction methods

// sendTransaction executes a signed transaction and returns its signature.
func (s *Server) sendTransaction(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	tx, rpcErr := parseTransaction(params)
	if rpcErr != nil {
		return nil, rpcErr
	}

	result, _, err := s.backend.Submitter.Process(ctx, tx)
	if err != nil {
		if result == nil {
			return nil, SubmitError(err)
		}
		// Executed but not journaled; the signature is still valid.
		s.log.Warn().Err(err).Str("signature", result.Signature.String()).Msg("transaction not journaled")
	}
	if !result.Success() {
		return nil, ExecutionError(result)
	}
	return result.Signature.String(), nil
}

// simulateTransaction runs a transaction without committing it.
func (s *Server) simulateTransaction(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	tx, rpcErr := parseTransaction(params)
	if rpcErr != nil {
		return nil, rpcErr
	}

	result, err := s.backend.Runtime.Simulate(ctx, tx)
	if err != nil {
		return nil, SubmitError(err)
	}
	modified := make([]string, len(result.ModifiedAccounts))
	for i, k := range result.ModifiedAccounts {
		modified[i] = k.String()
	}
	return ResponseWithContext{
		Context: Context{Slot: s.backend.Runtime.Slot()},
		Value: SimulateResult{
			Err:           statusOf(result.Err),
			Logs:          result.Logs,
			UnitsConsumed: result.ComputeUnitsUsed,
			Accounts:      modified,
		},
	}, nil
}

// getTransaction returns the journal receipt of a signature, or null.
func (s *Server) getTransaction(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	if s.backend.History == nil {
		return nil, ErrNoHistory
	}
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	sig, rpcErr := parseSignature(args[0])
	if rpcErr != nil {
		return nil, rpcErr
	}

	receipt, err := s.backend.History.Get(sig)
	if errors.Is(err, journal.ErrTransactionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, InternalServerErrorf("failed to get transaction: %v", err)
	}
	return receiptToInfo(receipt), nil
}

// getSignaturesForAddress lists the signatures that touched an address,
// newest first.
func (s *Server) getSignaturesForAddress(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	if s.backend.History == nil {
		return nil, ErrNoHistory
	}
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	address, rpcErr := parsePubkey(args[0], "address")
	if rpcErr != nil {
		return nil, rpcErr
	}
	var config SignaturesConfig
	if rpcErr := parseConfig(args, 1, &config); rpcErr != nil {
		return nil, rpcErr
	}
	if config.Limit > journal.DefaultSignatureLimit {
		return nil, InvalidParamsErrorf("limit must be at most %d", journal.DefaultSignatureLimit)
	}
	var before *types.Signature
	if config.Before != "" {
		sig, err := types.SignatureFromBase58(config.Before)
		if err != nil {
			return nil, InvalidParamsError("invalid before signature")
		}
		before = &sig
	}

	infos, err := s.backend.History.SignaturesForAddress(address, config.Limit, before)
	if errors.Is(err, journal.ErrTransactionNotFound) {
		return nil, InvalidParamsError("before signature not found")
	}
	if err != nil {
		return nil, InternalServerErrorf("failed to get signatures: %v", err)
	}

	out := make([]SignatureInfo, len(infos))
	for i, info := range infos {
		out[i] = SignatureInfo{
			Signature: info.Signature.String(),
			Slot:      info.Slot,
			BlockTime: info.BlockTime,
		}
		if info.Err != "" {
			out[i].Err = info.Err
		}
	}
	return out, nil
}

// requestAirdrop funds an account from the node faucet.
func (s *Server) requestAirdrop(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	if s.backend.Faucet == nil {
		return nil, NewRPCError(InvalidRequest, "airdrop is disabled on this node")
	}
	args, rpcErr := parseArgs(params, 2)
	if rpcErr != nil {
		return nil, rpcErr
	}
	to, rpcErr := parsePubkey(args[0], "pubkey")
	if rpcErr != nil {
		return nil, rpcErr
	}
	var lamports uint64
	if err := json.Unmarshal(args[1], &lamports); err != nil || lamports == 0 {
		return nil, InvalidParamsError("invalid lamports")
	}

	sig, err := s.backend.Faucet.Airdrop(ctx, to, lamports)
	if err != nil {
		return nil, InternalServerErrorf("airdrop failed: %v", err)
	}
	return sig.String(), nil
}

// Helpers

func (s *Server) loadAccount(pubkey types.Pubkey) (*accounts.Account, *RPCError) {
	account, err := s.backend.Accounts.GetAccount(pubkey)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, InternalServerErrorf("failed to get account: %v", err)
	}
	return account, nil
}

func (s *Server) now() int64 {
	if s.backend.Clock != nil {
		return s.backend.Clock.Now()
	}
	return svm.SystemClock{}.Now()
}

func accountToInfo(account *accounts.Account, encoding Encoding, slice *DataSlice) (*AccountInfo, *RPCError) {
	data, err := EncodeAccountData(ApplyDataSlice(account.Data, slice), ParseEncoding(string(encoding)))
	if err != nil {
		return nil, InternalServerErrorf("failed to encode account data: %v", err)
	}
	return &AccountInfo{
		Lamports:   account.Lamports,
		Owner:      account.Owner.String(),
		Data:       data,
		Executable: account.Executable,
		RentEpoch:  account.RentEpoch,
		Space:      uint64(len(account.Data)),
	}, nil
}

func receiptToInfo(r *journal.Receipt) *TransactionInfo {
	info := &TransactionInfo{
		Signature:       r.Signature.String(),
		Slot:            r.Slot,
		BlockTime:       r.BlockTime,
		ComputeUnits:    r.ComputeUnits,
		LogMessages:     r.Logs,
		AccountKeys:     make([]string, len(r.Accounts)),
		ReceiptHash:     r.Hash.String(),
		PrevReceiptHash: r.PrevHash.String(),
	}
	if !r.Success() {
		info.Err = &TransactionStatus{Err: r.Err, Code: r.ErrCode}
	}
	for i, k := range r.Accounts {
		info.AccountKeys[i] = k.String()
	}
	return info
}

func parseArgs(params json.RawMessage, required int) ([]json.RawMessage, *RPCError) {
	var args []json.RawMessage
	if len(params) > 0 {
		if err := json.Unmarshal(params, &args); err != nil {
			return nil, InvalidParamsError("invalid params")
		}
	}
	if len(args) < required {
		return nil, InvalidParamsErrorf("expected at least %d params, got %d", required, len(args))
	}
	return args, nil
}

func parseConfig(args []json.RawMessage, i int, v interface{}) *RPCError {
	if len(args) <= i || string(args[i]) == "null" {
		return nil
	}
	if err := json.Unmarshal(args[i], v); err != nil {
		return InvalidParamsError("invalid config")
	}
	return nil
}

func parsePubkey(raw json.RawMessage, name string) (types.Pubkey, *RPCError) {
	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		return types.Pubkey{}, InvalidParamsErrorf("invalid %s", name)
	}
	pubkey, err := types.PubkeyFromBase58(str)
	if err != nil {
		return types.Pubkey{}, InvalidParamsErrorf("invalid %s format", name)
	}
	return pubkey, nil
}

func parseSignature(raw json.RawMessage) (types.Signature, *RPCError) {
	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		return types.Signature{}, InvalidParamsError("invalid signature")
	}
	sig, err := types.SignatureFromBase58(str)
	if err != nil {
		return types.Signature{}, InvalidParamsError("invalid signature format")
	}
	return sig, nil
}

func parseTransaction(params json.RawMessage) (*svm.Transaction, *RPCError) {
	args, rpcErr := parseArgs(params, 1)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var encoded string
	if err := json.Unmarshal(args[0], &encoded); err != nil {
		return nil, InvalidParamsError("invalid transaction")
	}
	var config SendTransactionConfig
	if rpcErr := parseConfig(args, 1, &config); rpcErr != nil {
		return nil, rpcErr
	}
	tx, err := DecodeTransaction(encoded, config.Encoding)
	if err != nil {
		return nil, InvalidParamsErrorf("invalid transaction: %v", err)
	}
	return tx, nil
}
