package node

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/fortiblox/stratus-fundraiser/internal/types"
	"github.com/fortiblox/stratus-fundraiser/pkg/accounts"
	"github.com/fortiblox/stratus-fundraiser/pkg/svm"
	"github.com/fortiblox/stratus-fundraiser/pkg/svm/invoke"
	"github.com/fortiblox/stratus-fundraiser/pkg/svm/programs/system"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.DataDir != "./data" {
		t.Errorf("expected DataDir './data', got %q", cfg.DataDir)
	}
	if cfg.RPCAddr != ":8899" {
		t.Errorf("expected RPCAddr ':8899', got %q", cfg.RPCAddr)
	}
	if cfg.ComputeLimit != svm.CUDefault {
		t.Errorf("expected ComputeLimit %d, got %d", svm.CUDefault, cfg.ComputeLimit)
	}
	if !cfg.FaucetEnabled {
		t.Error("expected FaucetEnabled to be true")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{name: "valid", modify: func(c *Config) {}},
		{name: "missing data dir", modify: func(c *Config) { c.DataDir = "" }, wantErr: true},
		{name: "missing rpc addr", modify: func(c *Config) { c.RPCAddr = "" }, wantErr: true},
		{name: "compute limit too high", modify: func(c *Config) { c.ComputeLimit = svm.CUMax + 1 }, wantErr: true},
		{name: "faucet without limit", modify: func(c *Config) { c.FaucetMaxLamports = 0 }, wantErr: true},
		{name: "faucet disabled without limit", modify: func(c *Config) {
			c.FaucetEnabled = false
			c.FaucetMaxLamports = 0
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrConfigInvalid) {
				t.Errorf("expected ErrConfigInvalid, got %v", err)
			}
		})
	}
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("FUNDRAISER_DATA_DIR", "/var/lib/fundraiser")
	t.Setenv("FUNDRAISER_RPC_ADDR", "127.0.0.1:9999")
	t.Setenv("FUNDRAISER_FAUCET", "false")
	t.Setenv("FUNDRAISER_RPC_ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("FUNDRAISER_GC_INTERVAL", "1m")

	cfg, err := LoadEnv()
	if err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if cfg.DataDir != "/var/lib/fundraiser" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.RPCAddr != "127.0.0.1:9999" {
		t.Errorf("RPCAddr = %q", cfg.RPCAddr)
	}
	if cfg.FaucetEnabled {
		t.Error("expected faucet disabled")
	}
	if len(cfg.RPCAllowedOrigins) != 2 {
		t.Errorf("expected 2 origins, got %v", cfg.RPCAllowedOrigins)
	}
	if cfg.GCInterval.Minutes() != 1 {
		t.Errorf("GCInterval = %v", cfg.GCInterval)
	}
	// Unset variables keep their defaults.
	if cfg.ComputeLimit != svm.CUDefault {
		t.Errorf("ComputeLimit = %d", cfg.ComputeLimit)
	}
}

func TestLoadEnvInvalid(t *testing.T) {
	t.Setenv("FUNDRAISER_COMPUTE_LIMIT", "lots")
	if _, err := LoadEnv(); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestNewNode(t *testing.T) {
	t.Run("nil config uses defaults", func(t *testing.T) {
		n, err := New(nil, zerolog.Nop())
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if n.config.DataDir != DefaultConfig().DataDir {
			t.Errorf("DataDir = %q", n.config.DataDir)
		}
		if n.config.ComputeLimit != svm.CUDefault {
			t.Errorf("ComputeLimit = %d", n.config.ComputeLimit)
		}
	})

	t.Run("invalid config", func(t *testing.T) {
		_, err := New(&Config{ComputeLimit: svm.CUMax + 1}, zerolog.Nop())
		if !errors.Is(err, ErrConfigInvalid) {
			t.Fatalf("expected ErrConfigInvalid, got %v", err)
		}
	})
}

func TestNodeNotRunningErrors(t *testing.T) {
	n, err := New(&Config{DataDir: t.TempDir()}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := n.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Stop: expected ErrNotRunning, got %v", err)
	}
	if _, err := n.GetAccount(types.Pubkey{}); !errors.Is(err, ErrNotRunning) {
		t.Errorf("GetAccount: expected ErrNotRunning, got %v", err)
	}
	if _, _, err := n.Submit(context.Background(), nil); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Submit: expected ErrNotRunning, got %v", err)
	}

	status := n.Status()
	if status.IsRunning {
		t.Error("expected IsRunning false")
	}
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.RPCAddr = "127.0.0.1:0"
	cfg.GRPCAddr = "127.0.0.1:0"
	cfg.NoSync = true
	cfg.GCInterval = 0
	cfg.FaucetSupply = 1_000_000_000_000
	cfg.FaucetMaxLamports = 5_000_000_000
	return &cfg
}

func startNode(t *testing.T, cfg *Config) *Node {
	t.Helper()
	n, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	n.SetClock(svm.NewManualClock(1_700_000_000))
	if err := n.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return n
}

func TestNodeLifecycle(t *testing.T) {
	cfg := testConfig(t)
	n := startNode(t, cfg)

	if err := n.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start: expected ErrAlreadyRunning, got %v", err)
	}

	status := n.Status()
	if !status.IsRunning {
		t.Error("expected IsRunning true")
	}
	if status.RPCAddr == "" || status.GRPCAddr == "" {
		t.Errorf("expected bound addresses, got rpc=%q grpc=%q", status.RPCAddr, status.GRPCAddr)
	}
	if status.Faucet.IsZero() {
		t.Error("expected faucet address")
	}
	if status.Identity.IsZero() {
		t.Error("expected identity")
	}

	faucetAcct, err := n.GetAccount(status.Faucet)
	if err != nil {
		t.Fatalf("GetAccount(faucet): %v", err)
	}
	if faucetAcct.Lamports != cfg.FaucetSupply {
		t.Errorf("faucet lamports = %d, want %d", faucetAcct.Lamports, cfg.FaucetSupply)
	}

	if err := n.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if n.Status().IsRunning {
		t.Error("expected IsRunning false after Stop")
	}
	if err := n.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("second Stop: expected ErrNotRunning, got %v", err)
	}
}

func TestNodeAirdropIsJournaled(t *testing.T) {
	cfg := testConfig(t)
	n := startNode(t, cfg)

	recipient, err := types.NewKeypair()
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	sig, err := n.faucet.Airdrop(ctx, recipient.Pubkey(), 2_000_000_000)
	if err != nil {
		t.Fatalf("Airdrop: %v", err)
	}
	if _, err := n.faucet.Airdrop(ctx, recipient.Pubkey(), 2_000_000_000); err != nil {
		t.Fatalf("repeated Airdrop: %v", err)
	}
	if _, err := n.faucet.Airdrop(ctx, recipient.Pubkey(), cfg.FaucetMaxLamports+1); !errors.Is(err, ErrAirdropTooLarge) {
		t.Errorf("expected ErrAirdropTooLarge, got %v", err)
	}

	acct, err := n.GetAccount(recipient.Pubkey())
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if acct.Lamports != 4_000_000_000 {
		t.Errorf("recipient lamports = %d, want 4000000000", acct.Lamports)
	}

	receipt, err := n.journal.Get(sig)
	if err != nil {
		t.Fatalf("journal Get: %v", err)
	}
	if !receipt.Success() {
		t.Errorf("expected successful receipt, got %q", receipt.Err)
	}

	status := n.Status()
	if status.JournalCount != 2 {
		t.Errorf("JournalCount = %d, want 2", status.JournalCount)
	}
	if status.Slot != 2 {
		t.Errorf("Slot = %d, want 2", status.Slot)
	}
	head := status.JournalHead

	if err := n.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	// Restart over the same data directory: state and history survive and
	// the faucet is not minted twice.
	n = startNode(t, cfg)
	defer n.Stop()

	status = n.Status()
	if status.JournalCount != 2 || status.JournalHead != head {
		t.Errorf("journal not restored: count=%d head=%s", status.JournalCount, status.JournalHead)
	}
	if status.Slot != 2 {
		t.Errorf("Slot after restart = %d, want 2", status.Slot)
	}
	faucetAcct, err := n.GetAccount(status.Faucet)
	if err != nil {
		t.Fatalf("GetAccount(faucet): %v", err)
	}
	if faucetAcct.Lamports != cfg.FaucetSupply-4_000_000_000 {
		t.Errorf("faucet lamports = %d", faucetAcct.Lamports)
	}
}

func TestNodeSubmit(t *testing.T) {
	n := startNode(t, testConfig(t))
	defer n.Stop()

	payer, err := types.NewKeypair()
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if _, err := n.faucet.Airdrop(ctx, payer.Pubkey(), 1_000_000_000); err != nil {
		t.Fatalf("Airdrop: %v", err)
	}

	dest, err := types.NewKeypair()
	if err != nil {
		t.Fatal(err)
	}
	tx, err := svm.NewTransaction(types.ComputeHash([]byte("submit")),
		[]invoke.Instruction{system.Transfer(payer.Pubkey(), dest.Pubkey(), 1234)}, payer)
	if err != nil {
		t.Fatal(err)
	}
	result, receipt, err := n.Submit(ctx, tx)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !result.Success() {
		t.Fatalf("transfer failed: %v", result.Err)
	}
	if receipt == nil || receipt.Seq != 2 {
		t.Errorf("expected receipt with seq 2, got %+v", receipt)
	}
}

func TestNodeSnapshotRestore(t *testing.T) {
	dir := t.TempDir()
	snapPath := filepath.Join(dir, "genesis.frsnap")

	src := accounts.NewMemoryDB()
	funded := types.Pubkey{7}
	if err := src.Update(42, []accounts.AccountEntry{{
		Pubkey:  funded,
		Account: &accounts.Account{Lamports: 77, Owner: system.ProgramID},
	}}); err != nil {
		t.Fatal(err)
	}
	if _, err := accounts.CreateSnapshot(src, snapPath); err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}

	cfg := testConfig(t)
	cfg.SnapshotPath = snapPath
	cfg.FaucetEnabled = false
	n := startNode(t, cfg)
	defer n.Stop()

	acct, err := n.GetAccount(funded)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if acct.Lamports != 77 {
		t.Errorf("lamports = %d, want 77", acct.Lamports)
	}
	if slot := n.Status().Slot; slot != 42 {
		t.Errorf("slot = %d, want 42", slot)
	}
	if !n.Status().Faucet.IsZero() {
		t.Error("expected no faucet")
	}
}

func TestNodeStartFailsOnBadSnapshot(t *testing.T) {
	cfg := testConfig(t)
	cfg.SnapshotPath = filepath.Join(t.TempDir(), "missing.frsnap")

	n, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := n.Start(context.Background()); !errors.Is(err, ErrInitFailed) {
		t.Fatalf("expected ErrInitFailed, got %v", err)
	}
	if n.Status().IsRunning {
		t.Error("expected node not running after failed start")
	}
}

func TestLoadOrCreateKeypair(t *testing.T) {
	path := filepath.Join(t.TempDir(), "id.key")

	first, err := loadOrCreateKeypair(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := loadOrCreateKeypair(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if first.Pubkey() != second.Pubkey() {
		t.Error("expected the stored keypair to be reused")
	}

	if err := os.WriteFile(path, []byte("not a key"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := loadOrCreateKeypair(path); err == nil {
		t.Error("expected error for corrupt keypair file")
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		level string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"warn", zerolog.WarnLevel},
		{"", zerolog.InfoLevel},
		{"bogus", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := NewLogger(tt.level, false).GetLevel(); got != tt.want {
			t.Errorf("NewLogger(%q) level = %v, want %v", tt.level, got, tt.want)
		}
	}
}
