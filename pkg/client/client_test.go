package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/fortiblox/stratus-fundraiser/internal/types"
	"github.com/fortiblox/stratus-fundraiser/pkg/fundraiser"
	"github.com/fortiblox/stratus-fundraiser/pkg/node"
	"github.com/fortiblox/stratus-fundraiser/pkg/svm"
	"github.com/fortiblox/stratus-fundraiser/pkg/svm/invoke"
	"github.com/fortiblox/stratus-fundraiser/pkg/svm/programs/ata"
	"github.com/fortiblox/stratus-fundraiser/pkg/svm/programs/system"
	"github.com/fortiblox/stratus-fundraiser/pkg/svm/programs/token"
)

const sol = uint64(1_000_000_000)

// mockRPCServer creates a mock RPC server for testing.
func mockRPCServer(t *testing.T, handler func(method string, params []interface{}) (interface{}, *rpcError)) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			JSONRPC string        `json:"jsonrpc"`
			ID      int64         `json:"id"`
			Method  string        `json:"method"`
			Params  []interface{} `json:"params"`
		}

		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
			http.Error(w, "Bad request", http.StatusBadRequest)
			return
		}

		result, rpcErr := handler(req.Method, req.Params)

		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
		}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestRoundRobinPool(t *testing.T) {
	urls := []string{"http://a:8899", "http://b:8899", "http://c:8899"}
	pool := NewRoundRobinPool(urls)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		ep, err := pool.GetEndpoint(ctx)
		if err != nil {
			t.Fatalf("GetEndpoint failed: %v", err)
		}
		if want := urls[i%3]; ep.URL != want {
			t.Errorf("call %d: expected %s, got %s", i, want, ep.URL)
		}
	}

	pool.MarkUnhealthy(urls[1], errors.New("down"))
	if got := pool.GetHealthyCount(); got != 2 {
		t.Errorf("expected 2 healthy endpoints, got %d", got)
	}
	for i := 0; i < 4; i++ {
		ep, _ := pool.GetEndpoint(ctx)
		if ep.URL == urls[1] {
			t.Fatal("unhealthy endpoint was returned")
		}
	}

	pool.MarkUnhealthy(urls[0], errors.New("down"))
	pool.MarkUnhealthy(urls[2], errors.New("down"))
	ep, err := pool.GetEndpoint(ctx)
	if err != nil {
		t.Fatalf("GetEndpoint with no healthy endpoints: %v", err)
	}
	if ep.URL != urls[0] {
		t.Errorf("expected fallback to first endpoint, got %s", ep.URL)
	}

	pool.MarkHealthy(urls[1], 5*time.Millisecond)
	for _, ep := range pool.Endpoints() {
		if ep.URL == urls[1] && (!ep.Healthy || ep.LastError != nil || ep.Latency != 5*time.Millisecond) {
			t.Errorf("endpoint not restored: %+v", ep)
		}
	}

	if _, err := NewRoundRobinPool(nil).GetEndpoint(ctx); !errors.Is(err, ErrNoEndpoints) {
		t.Errorf("expected ErrNoEndpoints, got %v", err)
	}
}

func TestClient_GetSlot(t *testing.T) {
	server := mockRPCServer(t, func(method string, params []interface{}) (interface{}, *rpcError) {
		if method != "getSlot" {
			t.Errorf("Unexpected method: %s", method)
		}
		return 42, nil
	})
	defer server.Close()

	slot, err := Dial(5*time.Second, server.URL).GetSlot(context.Background())
	if err != nil {
		t.Fatalf("GetSlot failed: %v", err)
	}
	if slot != 42 {
		t.Errorf("Expected slot 42, got %d", slot)
	}
}

func TestClient_Failover(t *testing.T) {
	live := mockRPCServer(t, func(method string, params []interface{}) (interface{}, *rpcError) {
		return "ok", nil
	})
	defer live.Close()

	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	pool := NewRoundRobinPool([]string{deadURL, live.URL})
	c := New(pool, 2*time.Second)
	ctx := context.Background()

	if err := c.GetHealth(ctx); err == nil {
		t.Fatal("expected transport error from closed endpoint")
	}
	if got := pool.GetHealthyCount(); got != 1 {
		t.Fatalf("expected 1 healthy endpoint, got %d", got)
	}
	for i := 0; i < 3; i++ {
		if err := c.GetHealth(ctx); err != nil {
			t.Fatalf("call %d after failover: %v", i, err)
		}
	}
}

func TestClient_RPCErrors(t *testing.T) {
	server := mockRPCServer(t, func(method string, params []interface{}) (interface{}, *rpcError) {
		switch method {
		case "sendTransaction":
			return nil, &rpcError{
				Code:    -32002,
				Message: "Transaction failed: invalid mint",
				Data:    json.RawMessage(`{"code":19,"name":"InvalidMint"}`),
			}
		case "getFundraiser":
			return map[string]interface{}{"context": map[string]uint64{"slot": 3}, "value": nil}, nil
		case "getTransaction":
			return nil, nil
		default:
			return nil, &rpcError{Code: -32601, Message: "Method not found"}
		}
	})
	defer server.Close()

	pool := NewRoundRobinPool([]string{server.URL})
	c := New(pool, 5*time.Second)
	ctx := context.Background()

	kp, err := types.NewKeypair()
	if err != nil {
		t.Fatal(err)
	}
	tx, err := svm.NewTransaction(types.Hash{}, []invoke.Instruction{system.Transfer(kp.Pubkey(), types.Pubkey{1}, 1)}, kp)
	if err != nil {
		t.Fatal(err)
	}

	_, err = c.SendTransaction(ctx, tx)
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected *RPCError, got %v", err)
	}
	code, ok := ProgramErrorCode(err)
	if !ok || code != 19 {
		t.Errorf("ProgramErrorCode = %d, %v; want 19, true", code, ok)
	}
	if pool.GetHealthyCount() != 1 {
		t.Error("RPC errors must not mark the endpoint unhealthy")
	}

	if _, err := c.GetFundraiser(ctx, types.Pubkey{5}); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetFundraiser: expected ErrNotFound, got %v", err)
	}
	if _, err := c.GetTransaction(ctx, types.Signature{5}); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetTransaction: expected ErrNotFound, got %v", err)
	}

	_, err = c.GetVersion(ctx)
	if !errors.As(err, &rpcErr) || rpcErr.Code != -32601 {
		t.Errorf("expected method not found, got %v", err)
	}
	if _, ok := ProgramErrorCode(err); ok {
		t.Error("method errors carry no program code")
	}
}

// liveNode starts a real node on loopback and returns a client for it.
func liveNode(t *testing.T) (*node.Node, *Client, *svm.ManualClock) {
	t.Helper()

	cfg := node.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.RPCAddr = "127.0.0.1:0"
	cfg.GRPCAddr = ""
	cfg.NoSync = true
	cfg.GCInterval = 0
	cfg.FaucetMaxLamports = 100 * sol

	n, err := node.New(&cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("node.New: %v", err)
	}
	clock := svm.NewManualClock(1_700_000_000)
	n.SetClock(clock)
	if err := n.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { n.Stop() })

	return n, Dial(10*time.Second, "http://"+n.Status().RPCAddr), clock
}

func TestClient_CampaignAgainstNode(t *testing.T) {
	n, c, clock := liveNode(t)
	ctx := context.Background()

	if err := c.GetHealth(ctx); err != nil {
		t.Fatalf("GetHealth: %v", err)
	}
	identity, err := c.GetIdentity(ctx)
	if err != nil {
		t.Fatalf("GetIdentity: %v", err)
	}
	if identity != n.Status().Identity {
		t.Errorf("identity = %s, want %s", identity, n.Status().Identity)
	}

	blockhashes := 0
	send := func(ixs []invoke.Instruction, signers ...types.Keypair) (types.Signature, error) {
		t.Helper()
		blockhashes++
		tx, err := svm.NewTransaction(types.ComputeHash([]byte(fmt.Sprintf("client-%d", blockhashes))), ixs, signers...)
		if err != nil {
			t.Fatal(err)
		}
		return c.SendTransaction(ctx, tx)
	}
	funded := func(lamports uint64) types.Keypair {
		t.Helper()
		kp, err := types.NewKeypair()
		if err != nil {
			t.Fatal(err)
		}
		if _, err := c.RequestAirdrop(ctx, kp.Pubkey(), lamports); err != nil {
			t.Fatalf("RequestAirdrop: %v", err)
		}
		return kp
	}

	authority := funded(10 * sol)
	maker := funded(10 * sol)
	contributor := funded(sol)
	mint, err := types.NewKeypair()
	if err != nil {
		t.Fatal(err)
	}

	balance, err := c.GetBalance(ctx, maker.Pubkey())
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if balance != 10*sol {
		t.Errorf("maker balance = %d", balance)
	}

	rentMint, err := c.GetMinimumBalanceForRentExemption(ctx, token.MintSize)
	if err != nil {
		t.Fatalf("GetMinimumBalanceForRentExemption: %v", err)
	}
	if _, err := send([]invoke.Instruction{
		system.CreateAccount(authority.Pubkey(), mint.Pubkey(), rentMint, token.MintSize, token.ProgramID),
		token.InitializeMint2(mint.Pubkey(), 2, authority.Pubkey()),
	}, authority, mint); err != nil {
		t.Fatalf("create mint: %v", err)
	}

	mintAcct, err := c.GetAccountInfo(ctx, mint.Pubkey())
	if err != nil {
		t.Fatalf("GetAccountInfo: %v", err)
	}
	if mintAcct.Owner != token.ProgramID || len(mintAcct.Data) != token.MintSize {
		t.Errorf("unexpected mint account: owner=%s len=%d", mintAcct.Owner, len(mintAcct.Data))
	}

	initialize, err := fundraiser.NewInitializeInstruction(maker.Pubkey(), mint.Pubkey(), 1_000_000, 7)
	if err != nil {
		t.Fatal(err)
	}
	initSig, err := send([]invoke.Instruction{initialize}, maker)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}

	create, err := ata.Create(contributor.Pubkey(), contributor.Pubkey(), mint.Pubkey())
	if err != nil {
		t.Fatal(err)
	}
	source, _, err := ata.FindAddress(contributor.Pubkey(), mint.Pubkey())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := send([]invoke.Instruction{
		create,
		token.MintTo(mint.Pubkey(), source, authority.Pubkey(), 50_000),
	}, contributor, authority); err != nil {
		t.Fatalf("fund contributor: %v", err)
	}

	contribute, err := fundraiser.NewContributeInstruction(contributor.Pubkey(), maker.Pubkey(), mint.Pubkey(), source, 40_000)
	if err != nil {
		t.Fatal(err)
	}

	sim, err := c.SimulateTransaction(ctx, mustTx(t, "simulate", []invoke.Instruction{contribute}, contributor))
	if err != nil {
		t.Fatalf("SimulateTransaction: %v", err)
	}
	if sim.Err != nil {
		t.Fatalf("simulated contribute failed: %+v", sim.Err)
	}

	if _, err := send([]invoke.Instruction{contribute}, contributor); err != nil {
		t.Fatalf("contribute: %v", err)
	}

	info, err := c.GetFundraiser(ctx, maker.Pubkey())
	if err != nil {
		t.Fatalf("GetFundraiser: %v", err)
	}
	if info.CurrentAmount != 40_000 || info.VaultBalance != 40_000 {
		t.Errorf("campaign amounts: current=%d vault=%d", info.CurrentAmount, info.VaultBalance)
	}
	if info.Deadline != clock.Now()+7*fundraiser.SecondsPerDay {
		t.Errorf("deadline = %d", info.Deadline)
	}

	fundraiserAddr, err := types.PubkeyFromBase58(info.Address)
	if err != nil {
		t.Fatal(err)
	}
	entry, err := c.GetContributor(ctx, fundraiserAddr, contributor.Pubkey())
	if err != nil {
		t.Fatalf("GetContributor: %v", err)
	}
	if entry.Amount != 40_000 {
		t.Errorf("contributor amount = %d", entry.Amount)
	}

	// Refunds are only possible once the campaign has ended.
	refund, err := fundraiser.NewRefundInstruction(contributor.Pubkey(), maker.Pubkey(), mint.Pubkey(), source)
	if err != nil {
		t.Fatal(err)
	}
	_, err = send([]invoke.Instruction{refund}, contributor)
	if _, ok := ProgramErrorCode(err); !ok {
		t.Fatalf("expected a program error for early refund, got %v", err)
	}

	receipt, err := c.GetTransaction(ctx, initSig)
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if receipt.Err != nil {
		t.Errorf("initialize receipt has error %+v", receipt.Err)
	}

	history, err := c.GetSignaturesForAddress(ctx, maker.Pubkey(), 10, types.Signature{})
	if err != nil {
		t.Fatalf("GetSignaturesForAddress: %v", err)
	}
	// airdrop, initialize
	if len(history) != 2 || history[0].Signature != initSig.String() {
		t.Errorf("unexpected maker history: %+v", history)
	}

	clock.Set(info.Deadline + 1)
	if _, err := send([]invoke.Instruction{refund}, contributor); err != nil {
		t.Fatalf("refund after deadline: %v", err)
	}
	if _, err := c.GetContributor(ctx, fundraiserAddr, contributor.Pubkey()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected contributor record closed, got %v", err)
	}
}

func mustTx(t *testing.T, seed string, ixs []invoke.Instruction, signers ...types.Keypair) *svm.Transaction {
	t.Helper()
	tx, err := svm.NewTransaction(types.ComputeHash([]byte(seed)), ixs, signers...)
	if err != nil {
		t.Fatal(err)
	}
	return tx
}
