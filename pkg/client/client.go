package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/fortiblox/stratus-fundraiser/internal/types"
	"github.com/fortiblox/stratus-fundraiser/pkg/accounts"
	"github.com/fortiblox/stratus-fundraiser/pkg/rpc"
	"github.com/fortiblox/stratus-fundraiser/pkg/svm"
)

// Client sends JSON-RPC requests to fundraiser nodes.
type Client struct {
	httpClient *http.Client
	pool       Pool
	nextID     atomic.Int64
}

// New creates a client over pool.
func New(pool Pool, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		pool: pool,
	}
}

// Dial creates a client over a round-robin pool of urls.
func Dial(timeout time.Duration, urls ...string) *Client {
	return New(NewRoundRobinPool(urls), timeout)
}

// rpcRequest represents a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

// rpcResponse represents a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

// rpcError represents a JSON-RPC error.
type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// contextResponse is a result wrapped with the slot it was read at.
type contextResponse struct {
	Context rpc.Context     `json:"context"`
	Value   json.RawMessage `json:"value"`
}

// call makes a JSON-RPC call to an endpoint from the pool.
func (c *Client) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	endpoint, err := c.pool.GetEndpoint(ctx)
	if err != nil {
		return fmt.Errorf("get endpoint: %w", err)
	}

	start := time.Now()

	if params == nil {
		params = []interface{}{}
	}
	req := rpcRequest{
		JSONRPC: rpc.JSONRPCVersion,
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.pool.MarkUnhealthy(endpoint.URL, err)
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.pool.MarkUnhealthy(endpoint.URL, err)
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.pool.MarkUnhealthy(endpoint.URL, fmt.Errorf("status %d", resp.StatusCode))
		return fmt.Errorf("http status %d: %s", resp.StatusCode, string(respBody))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		c.pool.MarkUnhealthy(endpoint.URL, err)
		return fmt.Errorf("unmarshal response: %w", err)
	}
	c.pool.MarkHealthy(endpoint.URL, time.Since(start))

	if rpcResp.Error != nil {
		// RPC errors are not endpoint health issues
		return &RPCError{
			Code:    rpcResp.Error.Code,
			Message: rpcResp.Error.Message,
			Data:    rpcResp.Error.Data,
		}
	}

	if result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("unmarshal result: %w", err)
		}
	}
	return nil
}

// callContext calls a method whose result is wrapped in a context. It
// returns ErrNotFound when the value is null.
func (c *Client) callContext(ctx context.Context, method string, params []interface{}, value interface{}) (uint64, error) {
	var resp contextResponse
	if err := c.call(ctx, method, params, &resp); err != nil {
		return 0, err
	}
	if isNull(resp.Value) {
		return resp.Context.Slot, ErrNotFound
	}
	if err := json.Unmarshal(resp.Value, value); err != nil {
		return resp.Context.Slot, fmt.Errorf("unmarshal value: %w", err)
	}
	return resp.Context.Slot, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

// Cluster methods

// GetHealth returns nil when the node reports itself healthy.
func (c *Client) GetHealth(ctx context.Context) error {
	var status string
	if err := c.call(ctx, "getHealth", nil, &status); err != nil {
		return err
	}
	if status != "ok" {
		return fmt.Errorf("node health: %s", status)
	}
	return nil
}

// GetSlot fetches the slot of the last committed transaction.
func (c *Client) GetSlot(ctx context.Context) (uint64, error) {
	var slot uint64
	if err := c.call(ctx, "getSlot", nil, &slot); err != nil {
		return 0, err
	}
	return slot, nil
}

// GetVersion fetches the node version.
func (c *Client) GetVersion(ctx context.Context) (*rpc.Version, error) {
	var version rpc.Version
	if err := c.call(ctx, "getVersion", nil, &version); err != nil {
		return nil, err
	}
	return &version, nil
}

// GetIdentity fetches the node identity pubkey.
func (c *Client) GetIdentity(ctx context.Context) (types.Pubkey, error) {
	var identity rpc.Identity
	if err := c.call(ctx, "getIdentity", nil, &identity); err != nil {
		return types.Pubkey{}, err
	}
	return types.PubkeyFromBase58(identity.Identity)
}

// Account methods

// GetBalance fetches the lamport balance of an account.
func (c *Client) GetBalance(ctx context.Context, pubkey types.Pubkey) (uint64, error) {
	var lamports uint64
	if _, err := c.callContext(ctx, "getBalance", []interface{}{pubkey.String()}, &lamports); err != nil {
		return 0, err
	}
	return lamports, nil
}

// GetAccountInfo fetches an account. Data is transferred zstd compressed.
func (c *Client) GetAccountInfo(ctx context.Context, pubkey types.Pubkey) (*accounts.Account, error) {
	params := []interface{}{
		pubkey.String(),
		rpc.AccountInfoConfig{Encoding: rpc.EncodingBase64Zstd},
	}

	var info struct {
		Lamports   uint64    `json:"lamports"`
		Owner      string    `json:"owner"`
		Data       [2]string `json:"data"`
		Executable bool      `json:"executable"`
		RentEpoch  uint64    `json:"rentEpoch"`
	}
	if _, err := c.callContext(ctx, "getAccountInfo", params, &info); err != nil {
		return nil, err
	}

	owner, err := types.PubkeyFromBase58(info.Owner)
	if err != nil {
		return nil, fmt.Errorf("parse owner: %w", err)
	}
	data, err := rpc.DecodeAccountData(info.Data[0], rpc.ParseEncoding(info.Data[1]))
	if err != nil {
		return nil, fmt.Errorf("decode data: %w", err)
	}
	return &accounts.Account{
		Lamports:   info.Lamports,
		Owner:      owner,
		Data:       data,
		Executable: info.Executable,
		RentEpoch:  info.RentEpoch,
	}, nil
}

// GetMinimumBalanceForRentExemption returns the rent-exempt balance for
// size bytes of data.
func (c *Client) GetMinimumBalanceForRentExemption(ctx context.Context, size uint64) (uint64, error) {
	var lamports uint64
	if err := c.call(ctx, "getMinimumBalanceForRentExemption", []interface{}{size}, &lamports); err != nil {
		return 0, err
	}
	return lamports, nil
}

// Fundraiser methods

// GetFundraiser fetches a campaign by its address or its maker.
func (c *Client) GetFundraiser(ctx context.Context, key types.Pubkey) (*rpc.FundraiserInfo, error) {
	var info rpc.FundraiserInfo
	if _, err := c.callContext(ctx, "getFundraiser", []interface{}{key.String()}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetContributor fetches the contribution record of contributor.
func (c *Client) GetContributor(ctx context.Context, fundraiser, contributor types.Pubkey) (*rpc.ContributorInfo, error) {
	var info rpc.ContributorInfo
	params := []interface{}{fundraiser.String(), contributor.String()}
	if _, err := c.callContext(ctx, "getContributor", params, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Transaction methods

// SendTransaction submits a signed transaction and waits for it to
// execute. Program failures come back as an *RPCError; see
// ProgramErrorCode.
func (c *Client) SendTransaction(ctx context.Context, tx *svm.Transaction) (types.Signature, error) {
	params := []interface{}{
		rpc.EncodeTransaction(tx, rpc.EncodingBase64),
		rpc.SendTransactionConfig{Encoding: rpc.EncodingBase64},
	}

	var sig string
	if err := c.call(ctx, "sendTransaction", params, &sig); err != nil {
		return types.Signature{}, err
	}
	return types.SignatureFromBase58(sig)
}

// SimulateTransaction executes tx without committing it.
func (c *Client) SimulateTransaction(ctx context.Context, tx *svm.Transaction) (*rpc.SimulateResult, error) {
	params := []interface{}{
		rpc.EncodeTransaction(tx, rpc.EncodingBase64),
		rpc.SendTransactionConfig{Encoding: rpc.EncodingBase64},
	}

	var result rpc.SimulateResult
	if _, err := c.callContext(ctx, "simulateTransaction", params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetTransaction fetches the journal receipt of a signature.
func (c *Client) GetTransaction(ctx context.Context, sig types.Signature) (*rpc.TransactionInfo, error) {
	var raw json.RawMessage
	if err := c.call(ctx, "getTransaction", []interface{}{sig.String()}, &raw); err != nil {
		return nil, err
	}
	if isNull(raw) {
		return nil, ErrNotFound
	}
	var info rpc.TransactionInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("unmarshal transaction: %w", err)
	}
	return &info, nil
}

// GetSignaturesForAddress lists signatures touching address, newest first.
// A zero before starts from the newest.
func (c *Client) GetSignaturesForAddress(ctx context.Context, address types.Pubkey, limit int, before types.Signature) ([]rpc.SignatureInfo, error) {
	config := rpc.SignaturesConfig{Limit: limit}
	if !before.IsZero() {
		config.Before = before.String()
	}

	var infos []rpc.SignatureInfo
	if err := c.call(ctx, "getSignaturesForAddress", []interface{}{address.String(), config}, &infos); err != nil {
		return nil, err
	}
	return infos, nil
}

// RequestAirdrop asks the node faucet for lamports.
func (c *Client) RequestAirdrop(ctx context.Context, to types.Pubkey, lamports uint64) (types.Signature, error) {
	var sig string
	if err := c.call(ctx, "requestAirdrop", []interface{}{to.String(), lamports}, &sig); err != nil {
		return types.Signature{}, err
	}
	return types.SignatureFromBase58(sig)
}
