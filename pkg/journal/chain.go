package journal

import (
	"encoding/binary"

	"github.com/fortiblox/stratus-fundraiser/internal/types"
	"github.com/zeebo/blake3"
)

// Digest computes the chain hash of a receipt: blake3 over the previous
// hash followed by the receipt's fields in a fixed layout. Hash itself is
// not covered.
func Digest(r *Receipt) types.Hash {
	h := blake3.New()
	var scratch [8]byte

	u64 := func(v uint64) {
		binary.LittleEndian.PutUint64(scratch[:], v)
		h.Write(scratch[:])
	}
	str := func(s string) {
		u64(uint64(len(s)))
		h.Write([]byte(s))
	}

	h.Write(r.PrevHash[:])
	h.Write(r.Signature[:])
	u64(r.Seq)
	u64(r.Slot)
	u64(uint64(r.BlockTime))
	str(r.Err)
	u64(uint64(r.ErrCode))
	u64(r.ComputeUnits)
	u64(uint64(len(r.Logs)))
	for _, line := range r.Logs {
		str(line)
	}
	u64(uint64(len(r.Accounts)))
	for _, k := range r.Accounts {
		h.Write(k[:])
	}

	var out types.Hash
	copy(out[:], h.Sum(nil))
	return out
}
