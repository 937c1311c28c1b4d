package accounts

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/fortiblox/stratus-fundraiser/internal/types"
)

// Key prefixes for BadgerDB storage.
var (
	// prefixAccount + pubkey (32 bytes)
	prefixAccount = []byte{0x01}

	// prefixMeta + key name
	prefixMeta = []byte{0x02}

	metaSlot          = append(append([]byte{}, prefixMeta...), []byte("slot")...)
	metaAccountsCount = append(append([]byte{}, prefixMeta...), []byte("count")...)
)

// BadgerDBConfig contains configuration for BadgerDB.
type BadgerDBConfig struct {
	// Path is the directory path for the database.
	Path string

	// InMemory runs the database in memory (for testing).
	InMemory bool

	// SyncWrites ensures every committed transaction is fsynced.
	SyncWrites bool

	// NumCompactors is the number of compaction workers.
	NumCompactors int

	// NumMemtables is the number of memtables.
	NumMemtables int

	// ValueLogFileSize is the size of each value log file.
	ValueLogFileSize int64

	// Logger is an optional logger. Set to nil to disable logging.
	Logger badger.Logger
}

// DefaultBadgerDBConfig returns default configuration.
func DefaultBadgerDBConfig(path string) BadgerDBConfig {
	return BadgerDBConfig{
		Path:             path,
		SyncWrites:       true,
		NumCompactors:    2,
		NumMemtables:     3,
		ValueLogFileSize: 64 << 20,
	}
}

// BadgerDB is a BadgerDB-backed implementation of the accounts database.
//
// Accounts live under prefixAccount keyed by pubkey, so a prefix iteration
// yields them in pubkey order. The slot and account count are stored under
// prefixMeta and written in the same transaction as the accounts they
// describe.
type BadgerDB struct {
	db *badger.DB

	slot          atomic.Uint64
	accountsCount atomic.Uint64

	// mu serializes writers so count bookkeeping never races.
	mu sync.Mutex

	closed atomic.Bool
}

// NewBadgerDB opens a BadgerDB-backed accounts database.
func NewBadgerDB(cfg BadgerDBConfig) (*BadgerDB, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = opts.WithInMemory(true).WithDir("").WithValueDir("")
	}
	if cfg.NumCompactors > 0 {
		opts = opts.WithNumCompactors(cfg.NumCompactors)
	}
	if cfg.NumMemtables > 0 {
		opts = opts.WithNumMemtables(cfg.NumMemtables)
	}
	if cfg.ValueLogFileSize > 0 {
		opts = opts.WithValueLogFileSize(cfg.ValueLogFileSize)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithLogger(cfg.Logger)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	bdb := &BadgerDB{db: db}
	if err := bdb.loadMetadata(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load metadata: %w", err)
	}
	return bdb, nil
}

func (b *BadgerDB) loadMetadata() error {
	return b.db.View(func(txn *badger.Txn) error {
		slot, err := readUint64(txn, metaSlot)
		if err != nil {
			return err
		}
		count, err := readUint64(txn, metaAccountsCount)
		if err != nil {
			return err
		}
		b.slot.Store(slot)
		b.accountsCount.Store(count)
		return nil
	})
}

func readUint64(txn *badger.Txn, key []byte) (uint64, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var v uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return ErrInvalidData
		}
		v = binary.LittleEndian.Uint64(val)
		return nil
	})
	return v, err
}

func putUint64(txn *badger.Txn, key []byte, v uint64) error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	return txn.Set(key, buf)
}

func accountKey(pubkey types.Pubkey) []byte {
	key := make([]byte, 1+types.PubkeySize)
	key[0] = prefixAccount[0]
	copy(key[1:], pubkey[:])
	return key
}

// GetAccount retrieves an account by public key.
func (b *BadgerDB) GetAccount(pubkey types.Pubkey) (*Account, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	var account *Account
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(accountKey(pubkey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrAccountNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			acc, err := DeserializeAccount(val)
			if err != nil {
				return err
			}
			account = acc
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

// HasAccount checks if an account exists.
func (b *BadgerDB) HasAccount(pubkey types.Pubkey) (bool, error) {
	if b.closed.Load() {
		return false, ErrClosed
	}
	var exists bool
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		exists, err = hasKey(txn, accountKey(pubkey))
		return err
	})
	return exists, err
}

func hasKey(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SetAccount stores an account at the current slot.
func (b *BadgerDB) SetAccount(pubkey types.Pubkey, account *Account) error {
	return b.Update(b.slot.Load(), []AccountEntry{{Pubkey: pubkey, Account: account}})
}

// Update writes every entry, the slot and the new account count in one
// badger transaction.
func (b *BadgerDB) Update(slot uint64, entries []AccountEntry) error {
	if b.closed.Load() {
		return ErrClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if slot < b.slot.Load() {
		slot = b.slot.Load()
	}

	count := b.accountsCount.Load()
	err := b.db.Update(func(txn *badger.Txn) error {
		for _, e := range entries {
			if e.Account == nil {
				return ErrInvalidData
			}
			key := accountKey(e.Pubkey)
			exists, err := hasKey(txn, key)
			if err != nil {
				return err
			}
			if e.Account.IsZero() {
				if exists {
					if err := txn.Delete(key); err != nil {
						return err
					}
					count--
				}
				continue
			}
			if err := txn.Set(key, e.Account.Serialize()); err != nil {
				return err
			}
			if !exists {
				count++
			}
		}
		if err := putUint64(txn, metaSlot, slot); err != nil {
			return err
		}
		return putUint64(txn, metaAccountsCount, count)
	})
	if err != nil {
		return fmt.Errorf("commit accounts: %w", err)
	}

	b.slot.Store(slot)
	b.accountsCount.Store(count)
	return nil
}

// ForEach iterates over all accounts in sorted pubkey order.
func (b *BadgerDB) ForEach(fn func(pubkey types.Pubkey, account *Account) error) error {
	if b.closed.Load() {
		return ErrClosed
	}

	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefixAccount
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := item.Key()
			if len(key) != 1+types.PubkeySize {
				continue
			}
			var pubkey types.Pubkey
			copy(pubkey[:], key[1:])

			err := item.Value(func(val []byte) error {
				account, err := DeserializeAccount(val)
				if err != nil {
					return err
				}
				return fn(pubkey, account)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// GetSlot returns the current slot.
func (b *BadgerDB) GetSlot() uint64 {
	return b.slot.Load()
}

// AccountsCount returns the total number of accounts.
func (b *BadgerDB) AccountsCount() (uint64, error) {
	if b.closed.Load() {
		return 0, ErrClosed
	}
	return b.accountsCount.Load(), nil
}

// RunGC runs garbage collection on the value log.
func (b *BadgerDB) RunGC() error {
	if b.closed.Load() {
		return ErrClosed
	}
	err := b.db.RunValueLogGC(0.5)
	if errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	return err
}

// Close closes the database.
func (b *BadgerDB) Close() error {
	if b.closed.Swap(true) {
		return ErrClosed
	}
	return b.db.Close()
}

var _ DB = (*BadgerDB)(nil)
