// Package node provides the orchestrator for a fundraiser node.
//
// The Node ties together all components:
// - AccountsDB (badger) for account state
// - Runtime for executing transactions against the registered programs
// - Journal for the hash-chained history of executed transactions
// - JSON-RPC server for clients and a gRPC health service for supervisors
//
// The node manages the lifecycle of these components and reports their
// status.
package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/fortiblox/stratus-fundraiser/internal/types"
	"github.com/fortiblox/stratus-fundraiser/pkg/accounts"
	"github.com/fortiblox/stratus-fundraiser/pkg/fundraiser"
	"github.com/fortiblox/stratus-fundraiser/pkg/journal"
	"github.com/fortiblox/stratus-fundraiser/pkg/rpc"
	"github.com/fortiblox/stratus-fundraiser/pkg/svm"
	"github.com/fortiblox/stratus-fundraiser/pkg/svm/programs/ata"
	"github.com/fortiblox/stratus-fundraiser/pkg/svm/programs/system"
	"github.com/fortiblox/stratus-fundraiser/pkg/svm/programs/token"
)

// Node errors.
var (
	ErrAlreadyRunning = errors.New("node is already running")
	ErrNotRunning     = errors.New("node is not running")
	ErrConfigInvalid  = errors.New("invalid node configuration")
	ErrInitFailed     = errors.New("node initialization failed")
)

const (
	identityFile = "identity.key"
	faucetFile   = "faucet.key"
)

// Node represents a complete fundraiser node.
type Node struct {
	config Config
	logger zerolog.Logger
	log    zerolog.Logger
	clock  svm.TimeSource

	// Core components
	accounts  *accounts.BadgerDB
	journal   *journal.Store
	runtime   *svm.Runtime
	recorder  *journal.Recorder
	faucet    *Faucet
	identity  types.Pubkey
	rpcServer *rpc.Server
	health    *rpc.HealthServer

	rpcListener  net.Listener
	grpcListener net.Listener

	// State management
	running     atomic.Bool
	startTime   time.Time
	lastError   error
	lastErrorMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new node with the given configuration.
// The node is not started until Start() is called.
func New(config *Config, logger zerolog.Logger) (*Node, error) {
	if config == nil {
		config = &Config{}
	}

	// Apply defaults
	defaults := DefaultConfig()
	if config.DataDir == "" {
		config.DataDir = defaults.DataDir
	}
	if config.RPCAddr == "" {
		config.RPCAddr = defaults.RPCAddr
	}
	if config.ComputeLimit == 0 {
		config.ComputeLimit = defaults.ComputeLimit
	}
	if config.FaucetSupply == 0 {
		config.FaucetSupply = defaults.FaucetSupply
	}
	if config.FaucetMaxLamports == 0 {
		config.FaucetMaxLamports = defaults.FaucetMaxLamports
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &Node{
		config: *config,
		logger: logger,
		log:    logger.With().Str("component", "node").Logger(),
		clock:  svm.SystemClock{},
	}, nil
}

// SetClock replaces the wall clock used by the runtime and journal. It
// must be called before Start.
func (n *Node) SetClock(clock svm.TimeSource) {
	n.clock = clock
}

// Start initializes all components and begins serving. It returns once
// the listeners are bound; serving continues until ctx is cancelled or
// Stop is called.
func (n *Node) Start(ctx context.Context) error {
	if n.running.Swap(true) {
		return ErrAlreadyRunning
	}

	n.ctx, n.cancel = context.WithCancel(ctx)
	n.startTime = time.Now()

	if err := n.initialize(); err != nil {
		n.cancel()
		n.closeStorage()
		n.running.Store(false)
		return fmt.Errorf("%w: %v", ErrInitFailed, err)
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.rpcServer.Serve(n.ctx, n.rpcListener); err != nil {
			n.setLastError(fmt.Errorf("RPC server error: %w", err))
			n.log.Error().Err(err).Msg("rpc server stopped")
		}
	}()

	if n.health != nil {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			if err := n.health.Serve(n.ctx, n.grpcListener); err != nil {
				n.setLastError(fmt.Errorf("health server error: %w", err))
				n.log.Error().Err(err).Msg("health server stopped")
			}
		}()
		n.health.SetServing(true)
	}

	if n.config.GCInterval > 0 {
		n.wg.Add(1)
		go n.gcLoop()
	}

	n.log.Info().
		Str("rpc", n.rpcListener.Addr().String()).
		Uint64("slot", n.runtime.Slot()).
		Uint64("journal", n.journal.Count()).
		Msg("node started")
	return nil
}

// initialize sets up all storage backends and components.
func (n *Node) initialize() error {
	if err := os.MkdirAll(n.config.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	identity, err := loadOrCreateKeypair(filepath.Join(n.config.DataDir, identityFile))
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}
	n.identity = identity.Pubkey()

	accts, err := accounts.NewBadgerDB(accounts.DefaultBadgerDBConfig(filepath.Join(n.config.DataDir, "accounts")))
	if err != nil {
		return fmt.Errorf("open accounts database: %w", err)
	}
	n.accounts = accts

	if err := n.loadInitialSnapshot(accts); err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}

	journalConfig := journal.DefaultConfig(filepath.Join(n.config.DataDir, "journal", "journal.db"))
	journalConfig.NoSync = n.config.NoSync
	store, err := journal.Open(journalConfig)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	n.journal = store

	if n.config.FaucetEnabled {
		kp, err := loadOrCreateKeypair(filepath.Join(n.config.DataDir, faucetFile))
		if err != nil {
			return fmt.Errorf("load faucet keypair: %w", err)
		}
		n.faucet = NewFaucet(kp, nil, n.config.FaucetMaxLamports, n.logger)
		if err := n.faucet.Fund(accts, n.config.FaucetSupply); err != nil {
			return fmt.Errorf("fund faucet: %w", err)
		}
	}

	rtConfig := svm.DefaultConfig()
	rtConfig.ComputeLimit = n.config.ComputeLimit
	n.runtime = svm.NewRuntime(accts, n.clock, rtConfig, n.logger,
		system.NewProcessor(),
		token.NewProcessor(),
		ata.NewProcessor(),
		fundraiser.NewProcessor(),
	)
	n.recorder = journal.NewRecorder(n.runtime, store, n.clock, n.logger)

	backend := rpc.Backend{
		Accounts:  accts,
		Runtime:   n.runtime,
		Submitter: n.recorder,
		History:   store,
		Clock:     n.clock,
	}
	if n.faucet != nil {
		n.faucet.submitter = n.recorder
		backend.Faucet = n.faucet
	}

	rpcConfig := rpc.DefaultConfig()
	rpcConfig.Addr = n.config.RPCAddr
	rpcConfig.LogRequests = n.config.RPCLogRequests
	rpcConfig.AllowedOrigins = n.config.RPCAllowedOrigins
	rpcConfig.Identity = identity.Pubkey()
	n.rpcServer = rpc.New(rpcConfig, backend, n.logger)

	n.rpcListener, err = net.Listen("tcp", n.config.RPCAddr)
	if err != nil {
		return fmt.Errorf("listen rpc: %w", err)
	}

	if n.config.GRPCAddr != "" {
		n.grpcListener, err = net.Listen("tcp", n.config.GRPCAddr)
		if err != nil {
			n.rpcListener.Close()
			return fmt.Errorf("listen grpc: %w", err)
		}
		n.health = rpc.NewHealthServer(n.logger)
	}

	return nil
}

// loadInitialSnapshot restores the configured snapshot into an empty
// accounts database.
func (n *Node) loadInitialSnapshot(accts accounts.DB) error {
	if n.config.SnapshotPath == "" {
		return nil
	}

	count, err := accts.AccountsCount()
	if err != nil {
		return err
	}
	if count > 0 {
		n.log.Info().Uint64("accounts", count).Msg("accounts database not empty, skipping snapshot")
		return nil
	}

	start := time.Now()
	header, err := accounts.LoadSnapshot(accts, n.config.SnapshotPath)
	if err != nil {
		return err
	}
	n.log.Info().
		Str("path", n.config.SnapshotPath).
		Uint64("slot", header.Slot).
		Uint64("accounts", header.AccountsCount).
		Str("state_hash", header.StateHash.String()).
		Dur("took", time.Since(start)).
		Msg("snapshot restored")
	return nil
}

func (n *Node) gcLoop() {
	defer n.wg.Done()

	ticker := time.NewTicker(n.config.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			if err := n.accounts.RunGC(); err != nil {
				n.log.Warn().Err(err).Msg("accounts gc")
			}
		}
	}
}

// closeStorage closes the databases that are open.
func (n *Node) closeStorage() {
	if n.journal != nil {
		n.journal.Close()
		n.journal = nil
	}
	if n.accounts != nil {
		n.accounts.Close()
		n.accounts = nil
	}
}

// Stop gracefully stops the node.
func (n *Node) Stop() error {
	if !n.running.Load() {
		return ErrNotRunning
	}

	if n.health != nil {
		n.health.SetServing(false)
	}
	n.cancel()
	n.wg.Wait()

	if n.journal != nil {
		if err := n.journal.Sync(); err != nil {
			n.log.Warn().Err(err).Msg("journal sync")
		}
	}
	n.closeStorage()

	n.running.Store(false)
	n.log.Info().Msg("node stopped")
	return nil
}

// Status contains the current node status.
type Status struct {
	// IsRunning indicates if the node is running.
	IsRunning bool

	// Slot is the slot of the last committed transaction.
	Slot uint64

	// AccountsCount is the total number of accounts in the database.
	AccountsCount uint64

	// JournalCount is the number of journaled transactions.
	JournalCount uint64

	// JournalHead is the hash of the newest journal receipt.
	JournalHead types.Hash

	// Uptime is how long the node has been running.
	Uptime time.Duration

	// Identity is the node identity pubkey.
	Identity types.Pubkey

	// Faucet is the faucet address, zero when disabled.
	Faucet types.Pubkey

	// RPCAddr is the bound RPC address.
	RPCAddr string

	// GRPCAddr is the bound health service address.
	GRPCAddr string

	// LastError is the most recent error encountered.
	LastError error
}

// Status returns the current node status.
func (n *Node) Status() *Status {
	status := &Status{
		IsRunning: n.running.Load(),
		Identity:  n.identity,
		LastError: n.getLastError(),
	}
	if !status.IsRunning {
		return status
	}

	status.Uptime = time.Since(n.startTime)
	status.Slot = n.runtime.Slot()
	status.AccountsCount, _ = n.accounts.AccountsCount()
	status.JournalCount = n.journal.Count()
	status.JournalHead = n.journal.Head()
	status.RPCAddr = n.rpcListener.Addr().String()
	if n.grpcListener != nil {
		status.GRPCAddr = n.grpcListener.Addr().String()
	}
	if n.faucet != nil {
		status.Faucet = n.faucet.Pubkey()
	}
	return status
}

// GetAccount retrieves an account by pubkey from the accounts database.
func (n *Node) GetAccount(pubkey types.Pubkey) (*accounts.Account, error) {
	if !n.running.Load() {
		return nil, ErrNotRunning
	}
	return n.accounts.GetAccount(pubkey)
}

// Submit executes tx and records it in the journal.
func (n *Node) Submit(ctx context.Context, tx *svm.Transaction) (*svm.ExecutionResult, *journal.Receipt, error) {
	if !n.running.Load() {
		return nil, nil, ErrNotRunning
	}
	return n.recorder.Process(ctx, tx)
}

// setLastError safely sets the last error.
func (n *Node) setLastError(err error) {
	n.lastErrorMu.Lock()
	n.lastError = err
	n.lastErrorMu.Unlock()
}

// getLastError safely gets the last error.
func (n *Node) getLastError() error {
	n.lastErrorMu.RLock()
	defer n.lastErrorMu.RUnlock()
	return n.lastError
}
