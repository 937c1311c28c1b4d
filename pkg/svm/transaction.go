package svm

import (
	"encoding/binary"
	"fmt"

	"github.com/fortiblox/stratus-fundraiser/internal/types"
	"github.com/fortiblox/stratus-fundraiser/pkg/svm/invoke"
)

// Wire format limits.
const (
	MaxInstructions        = 64
	MaxInstructionAccounts = 64
	MaxInstructionData     = 10 * 1024
	MaxSignatures          = 32
)

const (
	flagSigner   = 1 << 0
	flagWritable = 1 << 1
)

// Message is the signed part of a transaction.
//
// Wire format:
//
//	recent_blockhash [32]
//	ix_count         u16
//	per instruction:
//	  program_id     [32]
//	  account_count  u16
//	  per account:   pubkey [32] | flags u8 (bit0 signer, bit1 writable)
//	  data_len       u32
//	  data           [data_len]
type Message struct {
	RecentBlockhash types.Hash
	Instructions    []invoke.Instruction
}

// Serialize encodes the message.
func (m *Message) Serialize() []byte {
	size := 32 + 2
	for _, ix := range m.Instructions {
		size += 32 + 2 + len(ix.Accounts)*33 + 4 + len(ix.Data)
	}
	buf := make([]byte, size)

	off := copy(buf, m.RecentBlockhash[:])
	binary.LittleEndian.PutUint16(buf[off:], uint16(len(m.Instructions)))
	off += 2
	for _, ix := range m.Instructions {
		off += copy(buf[off:], ix.ProgramID[:])
		binary.LittleEndian.PutUint16(buf[off:], uint16(len(ix.Accounts)))
		off += 2
		for _, meta := range ix.Accounts {
			off += copy(buf[off:], meta.Pubkey[:])
			var flags byte
			if meta.IsSigner {
				flags |= flagSigner
			}
			if meta.IsWritable {
				flags |= flagWritable
			}
			buf[off] = flags
			off++
		}
		binary.LittleEndian.PutUint32(buf[off:], uint32(len(ix.Data)))
		off += 4
		off += copy(buf[off:], ix.Data)
	}
	return buf
}

// DeserializeMessage decodes a message. Trailing bytes are rejected.
func DeserializeMessage(data []byte) (*Message, error) {
	r := &reader{buf: data}
	m := &Message{}
	copy(m.RecentBlockhash[:], r.next(32))

	count := r.u16()
	if count == 0 || count > MaxInstructions {
		return nil, fmt.Errorf("%w: instruction count %d", ErrMalformedTransaction, count)
	}
	m.Instructions = make([]invoke.Instruction, 0, count)
	for i := 0; i < int(count) && r.err == nil; i++ {
		var ix invoke.Instruction
		copy(ix.ProgramID[:], r.next(32))

		n := r.u16()
		if n > MaxInstructionAccounts {
			return nil, fmt.Errorf("%w: instruction %d has %d accounts", ErrMalformedTransaction, i, n)
		}
		ix.Accounts = make([]invoke.AccountMeta, 0, n)
		for j := 0; j < int(n) && r.err == nil; j++ {
			var meta invoke.AccountMeta
			copy(meta.Pubkey[:], r.next(32))
			flags := r.u8()
			if flags&^(flagSigner|flagWritable) != 0 {
				return nil, fmt.Errorf("%w: unknown account flags %#x", ErrMalformedTransaction, flags)
			}
			meta.IsSigner = flags&flagSigner != 0
			meta.IsWritable = flags&flagWritable != 0
			ix.Accounts = append(ix.Accounts, meta)
		}

		dataLen := r.u32()
		if dataLen > MaxInstructionData {
			return nil, fmt.Errorf("%w: instruction %d data length %d", ErrMalformedTransaction, i, dataLen)
		}
		ix.Data = append([]byte(nil), r.next(int(dataLen))...)
		m.Instructions = append(m.Instructions, ix)
	}
	if r.err != nil {
		return nil, r.err
	}
	if r.off != len(data) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedTransaction, len(data)-r.off)
	}
	return m, nil
}

// Signers returns the distinct signer keys in order of first appearance.
func (m *Message) Signers() []types.Pubkey {
	seen := make(map[types.Pubkey]bool)
	var out []types.Pubkey
	for _, ix := range m.Instructions {
		for _, meta := range ix.Accounts {
			if meta.IsSigner && !seen[meta.Pubkey] {
				seen[meta.Pubkey] = true
				out = append(out, meta.Pubkey)
			}
		}
	}
	return out
}

// AccountKeys returns every key the message references with its merged
// privileges. Program IDs are included read-only.
func (m *Message) AccountKeys() []invoke.AccountMeta {
	index := make(map[types.Pubkey]int)
	var out []invoke.AccountMeta
	add := func(meta invoke.AccountMeta) {
		if i, ok := index[meta.Pubkey]; ok {
			out[i].IsSigner = out[i].IsSigner || meta.IsSigner
			out[i].IsWritable = out[i].IsWritable || meta.IsWritable
			return
		}
		index[meta.Pubkey] = len(out)
		out = append(out, meta)
	}
	for _, ix := range m.Instructions {
		for _, meta := range ix.Accounts {
			add(meta)
		}
		add(invoke.AccountMeta{Pubkey: ix.ProgramID})
	}
	return out
}

// Transaction is a message plus one signature per required signer.
//
// Wire format: sig_count u8 | signatures [64 * sig_count] | message.
type Transaction struct {
	Signatures []types.Signature
	Message    Message
}

// NewTransaction builds and signs a transaction. Every signer the
// instructions require must have a keypair in signers.
func NewTransaction(blockhash types.Hash, instructions []invoke.Instruction, signers ...types.Keypair) (*Transaction, error) {
	tx := &Transaction{
		Message: Message{RecentBlockhash: blockhash, Instructions: instructions},
	}
	if err := tx.Sign(signers...); err != nil {
		return nil, err
	}
	return tx, nil
}

// Sign (re)computes every required signature from the given keypairs.
func (tx *Transaction) Sign(signers ...types.Keypair) error {
	keys := make(map[types.Pubkey]types.Keypair, len(signers))
	for _, kp := range signers {
		keys[kp.Pubkey()] = kp
	}

	msg := tx.Message.Serialize()
	required := tx.Message.Signers()
	tx.Signatures = make([]types.Signature, len(required))
	for i, pk := range required {
		kp, ok := keys[pk]
		if !ok {
			return fmt.Errorf("%w: no keypair for signer %s", ErrSignatureVerificationFailed, pk)
		}
		tx.Signatures[i] = kp.Sign(msg)
	}
	return nil
}

// ID returns the transaction's first signature, which identifies it.
func (tx *Transaction) ID() types.Signature {
	if len(tx.Signatures) == 0 {
		return types.Signature{}
	}
	return tx.Signatures[0]
}

// Verify checks that every required signer signed the message.
func (tx *Transaction) Verify() error {
	required := tx.Message.Signers()
	if len(required) == 0 {
		return fmt.Errorf("%w: no signers", ErrSignatureVerificationFailed)
	}
	if len(tx.Signatures) != len(required) {
		return fmt.Errorf("%w: want %d signatures, got %d",
			ErrSignatureVerificationFailed, len(required), len(tx.Signatures))
	}
	msg := tx.Message.Serialize()
	for i, pk := range required {
		if !tx.Signatures[i].Verify(pk, msg) {
			return fmt.Errorf("%w: signer %s", ErrSignatureVerificationFailed, pk)
		}
	}
	return nil
}

// Serialize encodes the transaction.
func (tx *Transaction) Serialize() []byte {
	msg := tx.Message.Serialize()
	buf := make([]byte, 1+len(tx.Signatures)*types.SignatureSize+len(msg))
	buf[0] = byte(len(tx.Signatures))
	off := 1
	for _, sig := range tx.Signatures {
		off += copy(buf[off:], sig[:])
	}
	copy(buf[off:], msg)
	return buf
}

// DeserializeTransaction decodes a transaction.
func DeserializeTransaction(data []byte) (*Transaction, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("%w: empty", ErrMalformedTransaction)
	}
	count := int(data[0])
	if count > MaxSignatures {
		return nil, fmt.Errorf("%w: %d signatures", ErrMalformedTransaction, count)
	}
	sigEnd := 1 + count*types.SignatureSize
	if len(data) < sigEnd {
		return nil, fmt.Errorf("%w: truncated signatures", ErrMalformedTransaction)
	}

	tx := &Transaction{Signatures: make([]types.Signature, count)}
	for i := range tx.Signatures {
		copy(tx.Signatures[i][:], data[1+i*types.SignatureSize:])
	}
	msg, err := DeserializeMessage(data[sigEnd:])
	if err != nil {
		return nil, err
	}
	tx.Message = *msg
	return tx, nil
}

// reader is a bounds-checked cursor. After the first short read every
// accessor returns zero values and err is set.
type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) next(n int) []byte {
	if r.err != nil {
		return make([]byte, n)
	}
	if n < 0 || r.off+n > len(r.buf) {
		r.err = fmt.Errorf("%w: truncated at offset %d", ErrMalformedTransaction, r.off)
		return make([]byte, n)
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u8() uint8   { return r.next(1)[0] }
func (r *reader) u16() uint16 { return binary.LittleEndian.Uint16(r.next(2)) }
func (r *reader) u32() uint32 { return binary.LittleEndian.Uint32(r.next(4)) }
