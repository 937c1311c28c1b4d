// Package accounts implements the account model and the accounts database
// that every program in the runtime reads from and writes to.
//
// An account is a balance in lamports, an opaque data buffer and the address
// of the program that owns it. Only the owner may change an account's data
// or debit its balance; the runtime enforces that after every instruction.
//
// Two DB implementations are provided:
//   - MemoryDB for tests and ephemeral nodes
//   - BadgerDB for persistent nodes
//
// Both apply a batch of account writes atomically through Update, which is
// how the runtime commits a transaction: every modified account lands, or
// none does.
package accounts

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/fortiblox/stratus-fundraiser/internal/types"
)

var (
	// ErrAccountNotFound is returned when an account doesn't exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrClosed is returned when operating on a closed database.
	ErrClosed = errors.New("database closed")

	// ErrInvalidData is returned when account data is malformed.
	ErrInvalidData = errors.New("invalid account data")

	// ErrSnapshotNotFound is returned when a snapshot doesn't exist.
	ErrSnapshotNotFound = errors.New("snapshot not found")
)

// MaxDataSize is the largest data buffer an account may hold.
const MaxDataSize = 10 * 1024 * 1024

// Account represents a single account in the state.
type Account struct {
	// Lamports is the account balance.
	Lamports uint64

	// Data is the account data, interpreted only by the owner program.
	Data []byte

	// Owner is the program that owns this account.
	Owner types.Pubkey

	// Executable marks program accounts. Their data is immutable.
	Executable bool

	// RentEpoch is kept for layout compatibility; every account created by
	// the runtime is rent exempt.
	RentEpoch uint64
}

// Clone creates a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	dataCopy := make([]byte, len(a.Data))
	copy(dataCopy, a.Data)
	return &Account{
		Lamports:   a.Lamports,
		Data:       dataCopy,
		Owner:      a.Owner,
		Executable: a.Executable,
		RentEpoch:  a.RentEpoch,
	}
}

// IsZero returns true if the account has no lamports and no data.
// Zero accounts are deleted from storage.
func (a *Account) IsZero() bool {
	return a.Lamports == 0 && len(a.Data) == 0
}

// Size returns the total serialized size of the account.
func (a *Account) Size() int {
	// 8 (lamports) + 8 (data_len) + data + 32 (owner) + 1 (executable) + 8 (rent_epoch)
	return 8 + 8 + len(a.Data) + 32 + 1 + 8
}

// Serialize encodes the account to bytes for storage.
// Format: lamports (8) + data_len (8) + data + owner (32) + executable (1) + rent_epoch (8)
func (a *Account) Serialize() []byte {
	buf := make([]byte, a.Size())
	binary.LittleEndian.PutUint64(buf[0:], a.Lamports)
	binary.LittleEndian.PutUint64(buf[8:], uint64(len(a.Data)))
	offset := 16 + copy(buf[16:], a.Data)
	offset += copy(buf[offset:], a.Owner[:])
	if a.Executable {
		buf[offset] = 1
	}
	binary.LittleEndian.PutUint64(buf[offset+1:], a.RentEpoch)
	return buf
}

// DeserializeAccount decodes an account from bytes.
func DeserializeAccount(data []byte) (*Account, error) {
	if len(data) < 57 { // 8 + 8 + 0 + 32 + 1 + 8
		return nil, ErrInvalidData
	}

	dataLen := binary.LittleEndian.Uint64(data[8:])
	if dataLen > MaxDataSize || uint64(len(data)) != 57+dataLen {
		return nil, ErrInvalidData
	}

	acc := &Account{
		Lamports: binary.LittleEndian.Uint64(data[0:]),
		Data:     make([]byte, dataLen),
	}
	offset := 16 + copy(acc.Data, data[16:16+dataLen])
	offset += copy(acc.Owner[:], data[offset:offset+32])
	acc.Executable = data[offset] != 0
	acc.RentEpoch = binary.LittleEndian.Uint64(data[offset+1:])
	return acc, nil
}

// AccountEntry pairs a pubkey with its account.
type AccountEntry struct {
	Pubkey  types.Pubkey
	Account *Account
}

// DB is the accounts database interface.
// Implementations must be safe for concurrent use.
type DB interface {
	// GetAccount retrieves a copy of an account by public key.
	// Returns ErrAccountNotFound if the account doesn't exist.
	GetAccount(pubkey types.Pubkey) (*Account, error)

	// HasAccount checks if an account exists.
	HasAccount(pubkey types.Pubkey) (bool, error)

	// SetAccount stores a single account at the current slot.
	// Zero accounts are deleted.
	SetAccount(pubkey types.Pubkey, account *Account) error

	// Update atomically writes every entry and advances the slot.
	// Zero accounts are deleted. Either all entries land or none do.
	Update(slot uint64, entries []AccountEntry) error

	// ForEach visits every account in ascending pubkey order.
	// Returning an error from fn stops the walk.
	ForEach(fn func(pubkey types.Pubkey, account *Account) error) error

	// GetSlot returns the slot of the last Update.
	GetSlot() uint64

	// AccountsCount returns the total number of accounts.
	AccountsCount() (uint64, error)

	// Close closes the database.
	Close() error
}

// MemoryDB is an in-memory implementation of DB.
type MemoryDB struct {
	mu       sync.RWMutex
	accounts map[types.Pubkey]*Account
	slot     uint64
	closed   bool
}

// NewMemoryDB creates a new in-memory accounts database.
func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		accounts: make(map[types.Pubkey]*Account),
	}
}

// GetAccount retrieves an account.
func (m *MemoryDB) GetAccount(pubkey types.Pubkey) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	acc, ok := m.accounts[pubkey]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return acc.Clone(), nil
}

// HasAccount checks if an account exists.
func (m *MemoryDB) HasAccount(pubkey types.Pubkey) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false, ErrClosed
	}
	_, ok := m.accounts[pubkey]
	return ok, nil
}

// SetAccount stores an account.
func (m *MemoryDB) SetAccount(pubkey types.Pubkey, account *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.putLocked(pubkey, account)
	return nil
}

// Update applies all entries under a single lock hold.
func (m *MemoryDB) Update(slot uint64, entries []AccountEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for _, e := range entries {
		if e.Account == nil {
			return ErrInvalidData
		}
	}
	for _, e := range entries {
		m.putLocked(e.Pubkey, e.Account)
	}
	if slot > m.slot {
		m.slot = slot
	}
	return nil
}

func (m *MemoryDB) putLocked(pubkey types.Pubkey, account *Account) {
	if account.IsZero() {
		delete(m.accounts, pubkey)
		return
	}
	m.accounts[pubkey] = account.Clone()
}

// ForEach visits accounts in pubkey order.
func (m *MemoryDB) ForEach(fn func(pubkey types.Pubkey, account *Account) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	entries := make([]AccountEntry, 0, len(m.accounts))
	for k, v := range m.accounts {
		entries = append(entries, AccountEntry{Pubkey: k, Account: v.Clone()})
	}
	m.mu.RUnlock()

	SortEntries(entries)
	for _, e := range entries {
		if err := fn(e.Pubkey, e.Account); err != nil {
			return err
		}
	}
	return nil
}

// GetSlot returns the current slot.
func (m *MemoryDB) GetSlot() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.slot
}

// AccountsCount returns the number of accounts.
func (m *MemoryDB) AccountsCount() (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrClosed
	}
	return uint64(len(m.accounts)), nil
}

// Close closes the database.
func (m *MemoryDB) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.accounts = nil
	return nil
}

var _ DB = (*MemoryDB)(nil)
