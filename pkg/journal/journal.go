// Package journal provides persistent storage for transaction receipts.
//
// Every executed transaction, committed or not, is appended as a Receipt.
// Receipts are indexed by signature and by each account key the transaction
// referenced, and each receipt's hash commits to the one before it.
package journal

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fortiblox/stratus-fundraiser/internal/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// ErrTransactionNotFound is returned when a receipt doesn't exist.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrDuplicate is returned when a signature was already journaled.
	ErrDuplicate = errors.New("transaction already journaled")

	// ErrClosed is returned when operating on a closed journal.
	ErrClosed = errors.New("journal closed")

	// ErrChainBroken is returned by Verify when a receipt does not hash
	// to its recorded value.
	ErrChainBroken = errors.New("receipt chain broken")
)

// Bucket names for BoltDB.
var (
	// bucketReceipts stores receipts keyed by signature.
	bucketReceipts = []byte("receipts")

	// bucketSequence maps the append sequence number to a signature.
	bucketSequence = []byte("sequence")

	// bucketAddressSignatures indexes signatures by address+sequence.
	bucketAddressSignatures = []byte("addr_sigs")

	// bucketMetadata stores journal metadata.
	bucketMetadata = []byte("metadata")
)

// Metadata keys.
var (
	keyCount    = []byte("count")
	keyHeadHash = []byte("head_hash")
)

// DefaultSignatureLimit bounds SignaturesForAddress when no limit is given.
const DefaultSignatureLimit = 1000

// Config holds journal configuration options.
type Config struct {
	// Path is the file path of the journal database.
	Path string

	// NoSync disables fsync after each write (faster but less durable).
	NoSync bool

	// ReadOnly opens the database in read-only mode.
	ReadOnly bool
}

// DefaultConfig returns the default journal configuration.
func DefaultConfig(path string) Config {
	return Config{Path: path}
}

// Receipt is the journaled outcome of one transaction.
type Receipt struct {
	Signature types.Signature

	// Seq is the append position, starting at 1.
	Seq uint64

	// Slot is the slot assigned by the runtime.
	Slot      uint64
	BlockTime int64

	// Err is empty for committed transactions. ErrCode carries the
	// program error code when the failure came from a program.
	Err     string
	ErrCode uint32

	ComputeUnits uint64
	Logs         []string

	// Accounts lists every account key the transaction referenced.
	Accounts []types.Pubkey

	PrevHash types.Hash
	Hash     types.Hash
}

// Success reports whether the transaction committed.
func (r *Receipt) Success() bool {
	return r.Err == ""
}

// SignatureInfo is one entry of an address history.
type SignatureInfo struct {
	Signature types.Signature
	Slot      uint64
	BlockTime int64
	Err       string
}

// Stats contains journal statistics.
type Stats struct {
	Count        uint64
	HeadHash     types.Hash
	DatabaseSize int64
}

// Store is a BoltDB-backed receipt journal.
type Store struct {
	db     *bolt.DB
	config Config

	// Cached values for fast reads. Append holds mu for writing so the
	// chain head never forks.
	mu     sync.RWMutex
	count  uint64
	head   types.Hash
	closed bool
}

// Open creates or opens a journal at the configured path.
func Open(config Config) (*Store, error) {
	dir := filepath.Dir(config.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	opts := &bolt.Options{
		Timeout:  5 * time.Second,
		NoSync:   config.NoSync,
		ReadOnly: config.ReadOnly,
	}
	db, err := bolt.Open(config.Path, 0600, opts)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db, config: config}
	if !config.ReadOnly {
		if err := s.initBuckets(); err != nil {
			db.Close()
			return nil, fmt.Errorf("init buckets: %w", err)
		}
	}
	if err := s.loadCachedValues(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load cached values: %w", err)
	}
	return s, nil
}

func (s *Store) initBuckets() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketReceipts, bucketSequence, bucketAddressSignatures, bucketMetadata} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

func (s *Store) loadCachedValues() error {
	return s.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMetadata)
		if meta == nil {
			return nil // Empty database.
		}
		if v := meta.Get(keyCount); v != nil {
			s.count = decodeSeq(v)
		}
		if v := meta.Get(keyHeadHash); v != nil {
			copy(s.head[:], v)
		}
		return nil
	})
}

// Append assigns the receipt its sequence number and chain hashes, then
// stores it along with its index entries in one BoltDB transaction.
func (s *Store) Append(r *Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	rec := *r
	rec.Seq = s.count + 1
	rec.PrevHash = s.head
	rec.Hash = Digest(&rec)

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&rec); err != nil {
		return fmt.Errorf("encode receipt: %w", err)
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		receipts := tx.Bucket(bucketReceipts)
		if receipts.Get(rec.Signature[:]) != nil {
			return ErrDuplicate
		}
		if err := receipts.Put(rec.Signature[:], buf.Bytes()); err != nil {
			return err
		}

		seqKey := encodeSeq(rec.Seq)
		if err := tx.Bucket(bucketSequence).Put(seqKey, rec.Signature[:]); err != nil {
			return err
		}

		addrSigs := tx.Bucket(bucketAddressSignatures)
		for _, addr := range uniqueKeys(rec.Accounts) {
			if err := addrSigs.Put(encodeAddressSeqKey(addr, rec.Seq), rec.Signature[:]); err != nil {
				return err
			}
		}

		meta := tx.Bucket(bucketMetadata)
		if err := meta.Put(keyCount, seqKey); err != nil {
			return err
		}
		return meta.Put(keyHeadHash, rec.Hash[:])
	})
	if err != nil {
		return err
	}

	s.count = rec.Seq
	s.head = rec.Hash
	*r = rec
	return nil
}

// Get retrieves a receipt by signature.
func (s *Store) Get(sig types.Signature) (*Receipt, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var rec *Receipt
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		rec, err = getReceipt(tx, sig)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Has reports whether sig has been journaled.
func (s *Store) Has(sig types.Signature) bool {
	if s.checkOpen() != nil {
		return false
	}
	found := false
	s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReceipts)
		found = b != nil && b.Get(sig[:]) != nil
		return nil
	})
	return found
}

// SignaturesForAddress returns the transactions that referenced address,
// newest first. A non-positive limit means DefaultSignatureLimit. When
// before is set, results start strictly after that signature.
func (s *Store) SignaturesForAddress(address types.Pubkey, limit int, before *types.Signature) ([]SignatureInfo, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > DefaultSignatureLimit {
		limit = DefaultSignatureLimit
	}

	var results []SignatureInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAddressSignatures)
		if b == nil {
			return nil
		}

		start := ^uint64(0)
		if before != nil {
			rec, err := getReceipt(tx, *before)
			if err != nil {
				return err
			}
			if rec.Seq == 0 {
				return nil
			}
			start = rec.Seq - 1
		}

		c := b.Cursor()
		prefix := address[:]
		k, v := c.Seek(encodeAddressSeqKey(address, start))
		if k == nil || !bytes.Equal(k, encodeAddressSeqKey(address, start)) {
			// Seek lands on the first key >= start; step back to the
			// newest entry at or below it.
			if k == nil {
				k, v = c.Last()
			} else {
				k, v = c.Prev()
			}
		}

		for ; k != nil && bytes.HasPrefix(k, prefix) && len(results) < limit; k, v = c.Prev() {
			sig, err := types.SignatureFromBytes(v)
			if err != nil {
				return fmt.Errorf("corrupt index entry: %w", err)
			}
			rec, err := getReceipt(tx, sig)
			if err != nil {
				return err
			}
			results = append(results, SignatureInfo{
				Signature: rec.Signature,
				Slot:      rec.Slot,
				BlockTime: rec.BlockTime,
				Err:       rec.Err,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Verify walks the journal in append order and recomputes every hash.
// It returns the number of receipts checked.
func (s *Store) Verify() (uint64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	var checked uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		seq := tx.Bucket(bucketSequence)
		if seq == nil {
			return nil
		}
		var prev types.Hash
		return seq.ForEach(func(k, v []byte) error {
			sig, err := types.SignatureFromBytes(v)
			if err != nil {
				return fmt.Errorf("corrupt sequence entry: %w", err)
			}
			rec, err := getReceipt(tx, sig)
			if err != nil {
				return err
			}
			if rec.Seq != decodeSeq(k) || rec.PrevHash != prev || Digest(rec) != rec.Hash {
				return fmt.Errorf("%w at seq %d (%s)", ErrChainBroken, decodeSeq(k), sig)
			}
			prev = rec.Hash
			checked++
			return nil
		})
	})
	return checked, err
}

// Count returns the number of journaled receipts.
func (s *Store) Count() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Head returns the hash of the newest receipt.
func (s *Store) Head() types.Hash {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.head
}

// GetStats returns journal statistics.
func (s *Store) GetStats() (*Stats, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	stats := &Stats{Count: s.Count(), HeadHash: s.Head()}
	if info, err := os.Stat(s.config.Path); err == nil {
		stats.DatabaseSize = info.Size()
	}
	return stats, nil
}

// Sync forces a sync to disk.
func (s *Store) Sync() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	return s.db.Sync()
}

// Close closes the journal.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func getReceipt(tx *bolt.Tx, sig types.Signature) (*Receipt, error) {
	b := tx.Bucket(bucketReceipts)
	if b == nil {
		return nil, ErrTransactionNotFound
	}
	data := b.Get(sig[:])
	if data == nil {
		return nil, ErrTransactionNotFound
	}
	var rec Receipt
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode receipt: %w", err)
	}
	return &rec, nil
}

func uniqueKeys(keys []types.Pubkey) []types.Pubkey {
	seen := make(map[types.Pubkey]struct{}, len(keys))
	out := make([]types.Pubkey, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// encodeSeq encodes a sequence number as a big-endian 8-byte key so
// BoltDB iterates in append order.
func encodeSeq(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

func decodeSeq(key []byte) uint64 {
	if len(key) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(key)
}

// encodeAddressSeqKey encodes an address+sequence composite key.
// Format: [32-byte address][8-byte sequence big-endian]
func encodeAddressSeqKey(addr types.Pubkey, seq uint64) []byte {
	key := make([]byte, 40)
	copy(key[:32], addr[:])
	binary.BigEndian.PutUint64(key[32:], seq)
	return key
}
