package accounts

import (
	"crypto/sha256"
	"encoding/binary"
	"sort"

	"github.com/fortiblox/stratus-fundraiser/internal/types"
)

// ComputeAccountHash computes the hash of a single account:
// SHA256(lamports || rent_epoch || data || executable || owner || pubkey)
func ComputeAccountHash(pubkey types.Pubkey, account *Account) types.Hash {
	size := 8 + 8 + len(account.Data) + 1 + 32 + 32
	buf := make([]byte, size)

	binary.LittleEndian.PutUint64(buf[0:], account.Lamports)
	binary.LittleEndian.PutUint64(buf[8:], account.RentEpoch)
	offset := 16 + copy(buf[16:], account.Data)
	if account.Executable {
		buf[offset] = 1
	}
	offset++
	offset += copy(buf[offset:], account.Owner[:])
	copy(buf[offset:], pubkey[:])

	return sha256.Sum256(buf)
}

// ComputeStateHash returns the Merkle root over every account in db, taken
// in pubkey order. Two databases holding the same accounts hash equal.
func ComputeStateHash(db DB) (types.Hash, error) {
	var hashes []types.Hash
	err := db.ForEach(func(pubkey types.Pubkey, account *Account) error {
		hashes = append(hashes, ComputeAccountHash(pubkey, account))
		return nil
	})
	if err != nil {
		return types.Hash{}, err
	}
	return ComputeMerkleRoot(hashes), nil
}

// ComputeDeltaHash hashes the given entries (sorted by pubkey first).
// Deleted accounts contribute a zero hash.
func ComputeDeltaHash(entries []AccountEntry) types.Hash {
	if len(entries) == 0 {
		return types.Hash{}
	}
	sorted := make([]AccountEntry, len(entries))
	copy(sorted, entries)
	SortEntries(sorted)

	hashes := make([]types.Hash, len(sorted))
	for i, e := range sorted {
		if e.Account == nil || e.Account.IsZero() {
			continue
		}
		hashes[i] = ComputeAccountHash(e.Pubkey, e.Account)
	}
	return ComputeMerkleRoot(hashes)
}

// ComputeMerkleRoot computes a binary Merkle root over hashes.
//
// Tree structure:
//   - Leaf: SHA256(0x00 || hash)
//   - Node: SHA256(0x01 || left || right)
//   - An odd node out is paired with the zero hash
func ComputeMerkleRoot(hashes []types.Hash) types.Hash {
	if len(hashes) == 0 {
		return types.Hash{}
	}

	level := make([]types.Hash, len(hashes))
	for i, h := range hashes {
		level[i] = computeLeafHash(h)
	}

	for len(level) > 1 {
		next := make([]types.Hash, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			var right types.Hash
			if i+1 < len(level) {
				right = level[i+1]
			}
			next[i/2] = computeNodeHash(level[i], right)
		}
		level = next
	}
	return level[0]
}

func computeLeafHash(data types.Hash) types.Hash {
	buf := make([]byte, 1+32)
	buf[0] = 0x00
	copy(buf[1:], data[:])
	return sha256.Sum256(buf)
}

func computeNodeHash(left, right types.Hash) types.Hash {
	buf := make([]byte, 1+32+32)
	buf[0] = 0x01
	copy(buf[1:], left[:])
	copy(buf[33:], right[:])
	return sha256.Sum256(buf)
}

// SortPubkeys sorts a slice of pubkeys in ascending order.
func SortPubkeys(pubkeys []types.Pubkey) {
	sort.Slice(pubkeys, func(i, j int) bool {
		return pubkeys[i].Compare(pubkeys[j]) < 0
	})
}

// SortEntries sorts entries by pubkey in ascending order.
func SortEntries(entries []AccountEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Pubkey.Compare(entries[j].Pubkey) < 0
	})
}
