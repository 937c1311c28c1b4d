package accounts

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fortiblox/stratus-fundraiser/internal/types"
	"github.com/klauspost/compress/zstd"
)

const snapshotVersion uint32 = 1

var snapshotMagic = []byte{'F', 'R', 'S', 'N'}

// snapshotLoadBatch bounds how many accounts go into one Update while
// restoring, keeping each badger transaction well under its size limit.
const snapshotLoadBatch = 1000

// ErrSnapshotHashMismatch is returned when restored accounts do not hash to
// the value recorded in the snapshot header.
var ErrSnapshotHashMismatch = errors.New("snapshot accounts hash mismatch")

// SnapshotHeader contains metadata about a snapshot.
type SnapshotHeader struct {
	Version       uint32
	Slot          uint64
	AccountsCount uint64
	StateHash     types.Hash
}

// SnapshotWriter writes accounts to a snapshot file.
//
// Format:
//   - Magic (4 bytes): "FRSN"
//   - Version (4), Slot (8), AccountsCount (8), StateHash (32)
//   - zstd stream of: Pubkey (32) + AccountSize (4) + serialized account
type SnapshotWriter struct {
	file   *os.File
	enc    *zstd.Encoder
	writer *bufio.Writer
	header SnapshotHeader
	count  uint64
}

// NewSnapshotWriter creates a new snapshot writer.
func NewSnapshotWriter(path string, slot uint64, stateHash types.Hash) (*SnapshotWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create snapshot file: %w", err)
	}

	sw := &SnapshotWriter{
		file: file,
		header: SnapshotHeader{
			Version:   snapshotVersion,
			Slot:      slot,
			StateHash: stateHash,
		},
	}

	// Placeholder header, rewritten with the final count on Close.
	if err := sw.writeHeader(); err != nil {
		file.Close()
		os.Remove(path)
		return nil, err
	}

	sw.enc, err = zstd.NewWriter(file)
	if err != nil {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("init zstd writer: %w", err)
	}
	sw.writer = bufio.NewWriter(sw.enc)
	return sw, nil
}

func (sw *SnapshotWriter) writeHeader() error {
	buf := make([]byte, 4+52)
	copy(buf, snapshotMagic)
	binary.LittleEndian.PutUint32(buf[4:], sw.header.Version)
	binary.LittleEndian.PutUint64(buf[8:], sw.header.Slot)
	binary.LittleEndian.PutUint64(buf[16:], sw.header.AccountsCount)
	copy(buf[24:], sw.header.StateHash[:])
	_, err := sw.file.Write(buf)
	return err
}

// WriteAccount writes a single account to the snapshot.
func (sw *SnapshotWriter) WriteAccount(pubkey types.Pubkey, account *Account) error {
	data := account.Serialize()
	var prefix [types.PubkeySize + 4]byte
	copy(prefix[:], pubkey[:])
	binary.LittleEndian.PutUint32(prefix[types.PubkeySize:], uint32(len(data)))

	if _, err := sw.writer.Write(prefix[:]); err != nil {
		return err
	}
	if _, err := sw.writer.Write(data); err != nil {
		return err
	}
	sw.count++
	return nil
}

// Close finalizes and closes the snapshot.
func (sw *SnapshotWriter) Close() error {
	if err := sw.writer.Flush(); err != nil {
		sw.file.Close()
		return err
	}
	if err := sw.enc.Close(); err != nil {
		sw.file.Close()
		return err
	}

	sw.header.AccountsCount = sw.count
	if _, err := sw.file.Seek(0, io.SeekStart); err != nil {
		sw.file.Close()
		return err
	}
	if err := sw.writeHeader(); err != nil {
		sw.file.Close()
		return err
	}
	return sw.file.Close()
}

// SnapshotReader reads accounts from a snapshot file.
type SnapshotReader struct {
	file   *os.File
	dec    *zstd.Decoder
	reader *bufio.Reader
	Header SnapshotHeader
	read   uint64
}

// OpenSnapshot opens a snapshot file for reading.
func OpenSnapshot(path string) (*SnapshotReader, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("open snapshot: %w", err)
	}

	sr := &SnapshotReader{file: file}
	if err := sr.readHeader(); err != nil {
		file.Close()
		return nil, err
	}

	sr.dec, err = zstd.NewReader(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("init zstd reader: %w", err)
	}
	sr.reader = bufio.NewReader(sr.dec)
	return sr, nil
}

func (sr *SnapshotReader) readHeader() error {
	buf := make([]byte, 4+52)
	if _, err := io.ReadFull(sr.file, buf); err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	if string(buf[:4]) != string(snapshotMagic) {
		return fmt.Errorf("invalid snapshot magic: %q", buf[:4])
	}
	sr.Header.Version = binary.LittleEndian.Uint32(buf[4:])
	if sr.Header.Version != snapshotVersion {
		return fmt.Errorf("unsupported snapshot version: %d", sr.Header.Version)
	}
	sr.Header.Slot = binary.LittleEndian.Uint64(buf[8:])
	sr.Header.AccountsCount = binary.LittleEndian.Uint64(buf[16:])
	copy(sr.Header.StateHash[:], buf[24:])
	return nil
}

// ReadAccount reads the next account from the snapshot.
// Returns io.EOF when all accounts have been read.
func (sr *SnapshotReader) ReadAccount() (types.Pubkey, *Account, error) {
	if sr.read >= sr.Header.AccountsCount {
		return types.Pubkey{}, nil, io.EOF
	}

	var prefix [types.PubkeySize + 4]byte
	if _, err := io.ReadFull(sr.reader, prefix[:]); err != nil {
		return types.Pubkey{}, nil, fmt.Errorf("read entry prefix: %w", err)
	}
	var pubkey types.Pubkey
	copy(pubkey[:], prefix[:types.PubkeySize])

	size := binary.LittleEndian.Uint32(prefix[types.PubkeySize:])
	const maxSerialized = MaxDataSize + 57
	if size > maxSerialized {
		return types.Pubkey{}, nil, fmt.Errorf("account size %d exceeds maximum %d", size, maxSerialized)
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(sr.reader, data); err != nil {
		return types.Pubkey{}, nil, fmt.Errorf("read account data: %w", err)
	}
	account, err := DeserializeAccount(data)
	if err != nil {
		return types.Pubkey{}, nil, fmt.Errorf("deserialize account: %w", err)
	}

	sr.read++
	return pubkey, account, nil
}

// Close closes the snapshot reader.
func (sr *SnapshotReader) Close() error {
	if sr.dec != nil {
		sr.dec.Close()
	}
	return sr.file.Close()
}

// CreateSnapshot writes every account in db to path.
func CreateSnapshot(db DB, path string) (SnapshotHeader, error) {
	stateHash, err := ComputeStateHash(db)
	if err != nil {
		return SnapshotHeader{}, fmt.Errorf("compute state hash: %w", err)
	}

	writer, err := NewSnapshotWriter(path, db.GetSlot(), stateHash)
	if err != nil {
		return SnapshotHeader{}, err
	}

	err = db.ForEach(func(pubkey types.Pubkey, account *Account) error {
		return writer.WriteAccount(pubkey, account)
	})
	if err != nil {
		writer.Close()
		os.Remove(path)
		return SnapshotHeader{}, fmt.Errorf("write accounts: %w", err)
	}
	if err := writer.Close(); err != nil {
		return SnapshotHeader{}, fmt.Errorf("finalize snapshot: %w", err)
	}
	writer.header.AccountsCount = writer.count
	return writer.header, nil
}

// LoadSnapshot restores the accounts in path into db. The snapshot is fully
// read and its state hash verified before anything is written.
func LoadSnapshot(db DB, path string) (SnapshotHeader, error) {
	reader, err := OpenSnapshot(path)
	if err != nil {
		return SnapshotHeader{}, err
	}
	defer reader.Close()

	var entries []AccountEntry
	var hashes []types.Hash
	for {
		pubkey, account, err := reader.ReadAccount()
		if err == io.EOF {
			break
		}
		if err != nil {
			return SnapshotHeader{}, fmt.Errorf("read account: %w", err)
		}
		entries = append(entries, AccountEntry{Pubkey: pubkey, Account: account})
		hashes = append(hashes, ComputeAccountHash(pubkey, account))
	}

	if got := ComputeMerkleRoot(hashes); got != reader.Header.StateHash {
		return SnapshotHeader{}, fmt.Errorf("%w: expected %s, got %s",
			ErrSnapshotHashMismatch, reader.Header.StateHash, got)
	}

	for start := 0; start < len(entries); start += snapshotLoadBatch {
		end := start + snapshotLoadBatch
		if end > len(entries) {
			end = len(entries)
		}
		if err := db.Update(reader.Header.Slot, entries[start:end]); err != nil {
			return SnapshotHeader{}, fmt.Errorf("restore accounts: %w", err)
		}
	}
	if len(entries) == 0 {
		if err := db.Update(reader.Header.Slot, nil); err != nil {
			return SnapshotHeader{}, fmt.Errorf("restore slot: %w", err)
		}
	}
	return reader.Header, nil
}

// SnapshotFilename returns the standard filename for a snapshot.
func SnapshotFilename(slot uint64, hash types.Hash) string {
	return fmt.Sprintf("snapshot-%d-%s.frsnap", slot, hash.String()[:16])
}
