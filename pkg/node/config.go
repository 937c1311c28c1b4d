package node

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/fortiblox/stratus-fundraiser/pkg/svm"
)

// Config holds node configuration.
type Config struct {
	// DataDir is the root directory for all node data.
	// Subdirectories will be created for accounts and the journal.
	DataDir string `env:"FUNDRAISER_DATA_DIR"`

	// SnapshotPath is an optional snapshot to restore before serving.
	// It is only applied to an empty accounts database.
	SnapshotPath string `env:"FUNDRAISER_SNAPSHOT"`

	// RPCAddr is the listen address for the JSON-RPC server.
	RPCAddr string `env:"FUNDRAISER_RPC_ADDR"`

	// RPCLogRequests enables logging of RPC requests.
	RPCLogRequests bool `env:"FUNDRAISER_RPC_LOG_REQUESTS"`

	// RPCAllowedOrigins restricts CORS origins (empty means all).
	RPCAllowedOrigins []string `env:"FUNDRAISER_RPC_ALLOWED_ORIGINS" envSeparator:","`

	// GRPCAddr is the listen address for the gRPC health service.
	// Empty disables it.
	GRPCAddr string `env:"FUNDRAISER_GRPC_ADDR"`

	// ComputeLimit is the per-transaction compute budget.
	ComputeLimit uint64 `env:"FUNDRAISER_COMPUTE_LIMIT"`

	// NoSync disables fsync on journal commits.
	NoSync bool `env:"FUNDRAISER_NO_SYNC"`

	// FaucetEnabled turns on requestAirdrop.
	FaucetEnabled bool `env:"FUNDRAISER_FAUCET"`

	// FaucetSupply is the balance minted to the faucet account when it
	// does not exist yet.
	FaucetSupply uint64 `env:"FUNDRAISER_FAUCET_SUPPLY"`

	// FaucetMaxLamports caps a single airdrop.
	FaucetMaxLamports uint64 `env:"FUNDRAISER_FAUCET_MAX_LAMPORTS"`

	// GCInterval is how often the accounts database is garbage collected.
	GCInterval time.Duration `env:"FUNDRAISER_GC_INTERVAL"`

	// LogLevel is a zerolog level name.
	LogLevel string `env:"FUNDRAISER_LOG_LEVEL"`

	// LogPretty switches to the human readable console writer.
	LogPretty bool `env:"FUNDRAISER_LOG_PRETTY"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DataDir:           "./data",
		RPCAddr:           ":8899",
		GRPCAddr:          ":8900",
		ComputeLimit:      svm.CUDefault,
		FaucetEnabled:     true,
		FaucetSupply:      1_000_000_000 * 1_000_000_000,
		FaucetMaxLamports: 10 * 1_000_000_000,
		GCInterval:        10 * time.Minute,
		LogLevel:          "info",
	}
}

// LoadEnv overlays FUNDRAISER_* environment variables on top of the
// defaults.
func LoadEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("%w: data directory is required", ErrConfigInvalid)
	}
	if c.RPCAddr == "" {
		return fmt.Errorf("%w: rpc address is required", ErrConfigInvalid)
	}
	if c.ComputeLimit > svm.CUMax {
		return fmt.Errorf("%w: compute limit %d exceeds %d", ErrConfigInvalid, c.ComputeLimit, svm.CUMax)
	}
	if c.FaucetEnabled && c.FaucetMaxLamports == 0 {
		return fmt.Errorf("%w: faucet max lamports must be positive", ErrConfigInvalid)
	}
	return nil
}
