// fundraiserd runs a fundraiser node and offers a few offline helpers.
//
// Usage:
//
//	fundraiserd serve    [flags]   run the node
//	fundraiserd pda      [flags]   derive fundraiser, vault and contributor addresses
//	fundraiserd snapshot [flags]   write a snapshot of a stopped node's accounts
//	fundraiserd keygen   [flags]   generate a keypair
//	fundraiserd status   [flags]   query a running node
//	fundraiserd airdrop  [flags]   request lamports from a node faucet
//	fundraiserd show     [flags]   print a campaign held by a node
//	fundraiserd version
//
// Configuration is read from FUNDRAISER_* environment variables (a .env
// file is loaded first if present) and may be overridden by flags.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/fortiblox/stratus-fundraiser/internal/types"
	"github.com/fortiblox/stratus-fundraiser/pkg/accounts"
	"github.com/fortiblox/stratus-fundraiser/pkg/client"
	"github.com/fortiblox/stratus-fundraiser/pkg/fundraiser"
	"github.com/fortiblox/stratus-fundraiser/pkg/node"
)

// loadDotenv loads each file that exists into the environment. Missing
// files are skipped; unreadable or malformed ones are reported.
func loadDotenv(paths ...string) error {
	var errs []error
	for _, path := range paths {
		err := godotenv.Load(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("load %s: %w", path, err))
		}
	}
	return errors.Join(errs...)
}

// Version information
var (
	Version   = "0.1.0"
	GitCommit = "dev"
)

func main() {
	if err := loadDotenv(".env", ".env.local"); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(os.Args[2:])
	case "pda":
		err = runPDA(os.Args[2:])
	case "snapshot":
		err = runSnapshot(os.Args[2:])
	case "keygen":
		err = runKeygen(os.Args[2:])
	case "status":
		err = runStatus(os.Args[2:])
	case "airdrop":
		err = runAirdrop(os.Args[2:])
	case "show":
		err = runShow(os.Args[2:])
	case "version", "-version", "--version":
		fmt.Printf("fundraiserd %s (%s)\n", Version, GitCommit)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "fundraiserd %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: fundraiserd <command> [flags]

commands:
  serve      run the node
  pda        derive program addresses
  snapshot   snapshot the accounts database
  keygen     generate a keypair
  status     query a running node
  airdrop    request lamports from a node faucet
  show       print a campaign held by a node
  version    print version`)
}

func runServe(args []string) error {
	cfg, err := node.LoadEnv()
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	fs.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "Data directory for accounts and journal")
	fs.StringVar(&cfg.RPCAddr, "rpc-addr", cfg.RPCAddr, "JSON-RPC listen address")
	fs.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "gRPC health listen address (empty disables)")
	fs.StringVar(&cfg.SnapshotPath, "snapshot", cfg.SnapshotPath, "Snapshot to restore into an empty accounts database")
	fs.Uint64Var(&cfg.ComputeLimit, "compute-limit", cfg.ComputeLimit, "Per-transaction compute budget")
	fs.BoolVar(&cfg.FaucetEnabled, "faucet", cfg.FaucetEnabled, "Enable requestAirdrop")
	fs.Uint64Var(&cfg.FaucetMaxLamports, "faucet-max", cfg.FaucetMaxLamports, "Largest single airdrop in lamports")
	fs.BoolVar(&cfg.RPCLogRequests, "log-requests", cfg.RPCLogRequests, "Log every RPC request at debug level")
	fs.BoolVar(&cfg.NoSync, "no-sync", cfg.NoSync, "Skip fsync on journal commits")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	fs.BoolVar(&cfg.LogPretty, "log-pretty", cfg.LogPretty, "Human readable log output")
	fs.Parse(args)

	logger := node.NewLogger(cfg.LogLevel, cfg.LogPretty)
	logger.Info().Str("version", Version).Str("commit", GitCommit).Msg("starting fundraiserd")

	n, err := node.New(&cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := n.Start(ctx); err != nil {
		return err
	}

	statusTicker := time.NewTicker(time.Minute)
	defer statusTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down")
			return n.Stop()
		case <-statusTicker.C:
			logStatus(logger, n.Status())
		}
	}
}

func logStatus(logger zerolog.Logger, s *node.Status) {
	ev := logger.Info().
		Uint64("slot", s.Slot).
		Uint64("accounts", s.AccountsCount).
		Uint64("journal", s.JournalCount).
		Str("journal_head", s.JournalHead.String()).
		Dur("uptime", s.Uptime)
	if s.LastError != nil {
		ev = ev.AnErr("last_error", s.LastError)
	}
	ev.Msg("status")
}

func runPDA(args []string) error {
	fs := flag.NewFlagSet("pda", flag.ExitOnError)
	makerStr := fs.String("maker", "", "Maker pubkey (required)")
	mintStr := fs.String("mint", "", "Mint pubkey, prints the vault when set")
	contributorStr := fs.String("contributor", "", "Contributor pubkey, prints the contributor record when set")
	fs.Parse(args)

	if *makerStr == "" {
		return errors.New("-maker is required")
	}
	maker, err := types.PubkeyFromBase58(*makerStr)
	if err != nil {
		return fmt.Errorf("maker: %w", err)
	}

	fmt.Printf("program:     %s\n", fundraiser.ProgramID)

	addr, bump, err := fundraiser.FindFundraiserAddress(maker)
	if err != nil {
		return err
	}
	fmt.Printf("fundraiser:  %s (bump %d)\n", addr, bump)

	if *mintStr != "" {
		mint, err := types.PubkeyFromBase58(*mintStr)
		if err != nil {
			return fmt.Errorf("mint: %w", err)
		}
		campaign, err := fundraiser.CampaignAddresses(maker, mint)
		if err != nil {
			return err
		}
		fmt.Printf("vault:       %s\n", campaign.Vault)
	}

	if *contributorStr != "" {
		contributor, err := types.PubkeyFromBase58(*contributorStr)
		if err != nil {
			return fmt.Errorf("contributor: %w", err)
		}
		record, bump, err := fundraiser.FindContributorAddress(addr, contributor)
		if err != nil {
			return err
		}
		fmt.Printf("contributor: %s (bump %d)\n", record, bump)
	}
	return nil
}

func runSnapshot(args []string) error {
	cfg, err := node.LoadEnv()
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	fs.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "Data directory of a stopped node")
	outDir := fs.String("out", ".", "Directory to write the snapshot to")
	fs.Parse(args)

	db, err := accounts.NewBadgerDB(accounts.DefaultBadgerDBConfig(filepath.Join(cfg.DataDir, "accounts")))
	if err != nil {
		return fmt.Errorf("open accounts database: %w", err)
	}
	defer db.Close()

	if err := os.MkdirAll(*outDir, 0755); err != nil {
		return err
	}

	// The final name embeds the state hash, which is only known once the
	// snapshot is written.
	tmp := filepath.Join(*outDir, fmt.Sprintf(".snapshot-%d.tmp", time.Now().UnixNano()))
	header, err := accounts.CreateSnapshot(db, tmp)
	if err != nil {
		os.Remove(tmp)
		return err
	}
	final := filepath.Join(*outDir, accounts.SnapshotFilename(header.Slot, header.StateHash))
	if err := os.Rename(tmp, final); err != nil {
		return err
	}

	fmt.Printf("wrote %s\n  slot:       %d\n  accounts:   %d\n  state hash: %s\n",
		final, header.Slot, header.AccountsCount, header.StateHash)
	return nil
}

func runKeygen(args []string) error {
	fs := flag.NewFlagSet("keygen", flag.ExitOnError)
	outfile := fs.String("outfile", "", "Write the private key here instead of stdout")
	fs.Parse(args)

	kp, err := types.NewKeypair()
	if err != nil {
		return err
	}

	if *outfile == "" {
		fmt.Printf("pubkey: %s\nsecret: %s\n", kp.Pubkey(), kp)
		return nil
	}
	if err := os.WriteFile(*outfile, []byte(kp.String()+"\n"), 0600); err != nil {
		return err
	}
	fmt.Printf("pubkey: %s\n", kp.Pubkey())
	return nil
}

// nodeFlags registers the flags shared by the commands that talk to a
// running node.
func nodeFlags(fs *flag.FlagSet) (urls *string, timeout *time.Duration) {
	urls = fs.String("url", "http://127.0.0.1:8899", "Comma separated node RPC URLs")
	timeout = fs.Duration("timeout", 10*time.Second, "Request timeout")
	return urls, timeout
}

func dialNodes(urls string, timeout time.Duration) *client.Client {
	return client.Dial(timeout, strings.Split(urls, ",")...)
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	urls, timeout := nodeFlags(fs)
	fs.Parse(args)

	c := dialNodes(*urls, *timeout)
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	version, err := c.GetVersion(ctx)
	if err != nil {
		return err
	}
	identity, err := c.GetIdentity(ctx)
	if err != nil {
		return err
	}
	slot, err := c.GetSlot(ctx)
	if err != nil {
		return err
	}
	health := "ok"
	if err := c.GetHealth(ctx); err != nil {
		health = err.Error()
	}

	fmt.Printf("version:  %s\nidentity: %s\nslot:     %d\nhealth:   %s\n", version.Core, identity, slot, health)
	return nil
}

func runAirdrop(args []string) error {
	fs := flag.NewFlagSet("airdrop", flag.ExitOnError)
	urls, timeout := nodeFlags(fs)
	toStr := fs.String("to", "", "Recipient pubkey (required)")
	lamports := fs.Uint64("lamports", 1_000_000_000, "Amount in lamports")
	fs.Parse(args)

	if *toStr == "" {
		return errors.New("-to is required")
	}
	to, err := types.PubkeyFromBase58(*toStr)
	if err != nil {
		return fmt.Errorf("to: %w", err)
	}

	c := dialNodes(*urls, *timeout)
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	sig, err := c.RequestAirdrop(ctx, to, *lamports)
	if err != nil {
		return err
	}
	balance, err := c.GetBalance(ctx, to)
	if err != nil {
		return err
	}
	fmt.Printf("signature: %s\nbalance:   %d\n", sig, balance)
	return nil
}

func runShow(args []string) error {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	urls, timeout := nodeFlags(fs)
	keyStr := fs.String("campaign", "", "Fundraiser address or maker pubkey (required)")
	contributorStr := fs.String("contributor", "", "Also print this contributor's record")
	fs.Parse(args)

	if *keyStr == "" {
		return errors.New("-campaign is required")
	}
	key, err := types.PubkeyFromBase58(*keyStr)
	if err != nil {
		return fmt.Errorf("campaign: %w", err)
	}

	c := dialNodes(*urls, *timeout)
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	info, err := c.GetFundraiser(ctx, key)
	if errors.Is(err, client.ErrNotFound) {
		return fmt.Errorf("no campaign found for %s", key)
	}
	if err != nil {
		return err
	}

	fmt.Printf("fundraiser: %s (bump %d)\n", info.Address, info.Bump)
	fmt.Printf("maker:      %s\n", info.Maker)
	fmt.Printf("mint:       %s\n", info.Mint)
	fmt.Printf("vault:      %s\n", info.Vault)
	fmt.Printf("raised:     %d / %d (vault %d)\n", info.CurrentAmount, info.AmountToRaise, info.VaultBalance)
	fmt.Printf("deadline:   %s (expired: %v)\n", time.Unix(info.Deadline, 0).UTC().Format(time.RFC3339), info.Expired)

	if *contributorStr != "" {
		contributor, err := types.PubkeyFromBase58(*contributorStr)
		if err != nil {
			return fmt.Errorf("contributor: %w", err)
		}
		fundraiserAddr, err := types.PubkeyFromBase58(info.Address)
		if err != nil {
			return err
		}
		entry, err := c.GetContributor(ctx, fundraiserAddr, contributor)
		if errors.Is(err, client.ErrNotFound) {
			fmt.Printf("contributor %s has no record\n", contributor)
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Printf("contributor: %s contributed %d\n", entry.Address, entry.Amount)
	}
	return nil
}
