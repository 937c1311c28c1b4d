package token

import (
	"encoding/binary"

	"github.com/fortiblox/stratus-fundraiser/internal/types"
)

// Packed sizes of token program state.
const (
	MintSize    = 82
	AccountSize = 165
)

// AccountState is the lifecycle state of a token account.
type AccountState uint8

const (
	AccountStateUninitialized AccountState = 0
	AccountStateInitialized   AccountState = 1
	AccountStateFrozen        AccountState = 2
)

// OptionalPubkey is a C-style optional: a u32 tag followed by the key.
type OptionalPubkey struct {
	Some bool
	Key  types.Pubkey
}

// SomePubkey returns a populated OptionalPubkey.
func SomePubkey(k types.Pubkey) OptionalPubkey {
	return OptionalPubkey{Some: true, Key: k}
}

func (o OptionalPubkey) pack(dst []byte) {
	if o.Some {
		binary.LittleEndian.PutUint32(dst, 1)
		copy(dst[4:36], o.Key[:])
		return
	}
	binary.LittleEndian.PutUint32(dst, 0)
	clear(dst[4:36])
}

func unpackOptionalPubkey(src []byte) (OptionalPubkey, error) {
	switch binary.LittleEndian.Uint32(src) {
	case 0:
		return OptionalPubkey{}, nil
	case 1:
		var o OptionalPubkey
		o.Some = true
		copy(o.Key[:], src[4:36])
		return o, nil
	default:
		return OptionalPubkey{}, ErrInvalidState
	}
}

// Mint is the state of a token mint.
//
// Layout (82 bytes):
//
//	0   mint_authority   COption<Pubkey> (36)
//	36  supply           u64
//	44  decimals         u8
//	45  is_initialized   u8
//	46  freeze_authority COption<Pubkey> (36)
type Mint struct {
	MintAuthority   OptionalPubkey
	Supply          uint64
	Decimals        uint8
	IsInitialized   bool
	FreezeAuthority OptionalPubkey
}

// UnpackMint decodes an initialized mint. The buffer must be exactly
// MintSize bytes.
func UnpackMint(data []byte) (*Mint, error) {
	m, err := unpackMintUnchecked(data)
	if err != nil {
		return nil, err
	}
	if !m.IsInitialized {
		return nil, ErrUninitializedState
	}
	return m, nil
}

func unpackMintUnchecked(data []byte) (*Mint, error) {
	if len(data) != MintSize {
		return nil, ErrInvalidState
	}
	mintAuthority, err := unpackOptionalPubkey(data[0:36])
	if err != nil {
		return nil, err
	}
	freezeAuthority, err := unpackOptionalPubkey(data[46:82])
	if err != nil {
		return nil, err
	}
	if data[45] > 1 {
		return nil, ErrInvalidState
	}
	return &Mint{
		MintAuthority:   mintAuthority,
		Supply:          binary.LittleEndian.Uint64(data[36:44]),
		Decimals:        data[44],
		IsInitialized:   data[45] == 1,
		FreezeAuthority: freezeAuthority,
	}, nil
}

// Pack encodes the mint into dst, which must be exactly MintSize bytes.
func (m *Mint) Pack(dst []byte) error {
	if len(dst) != MintSize {
		return ErrInvalidState
	}
	m.MintAuthority.pack(dst[0:36])
	binary.LittleEndian.PutUint64(dst[36:44], m.Supply)
	dst[44] = m.Decimals
	dst[45] = 0
	if m.IsInitialized {
		dst[45] = 1
	}
	m.FreezeAuthority.pack(dst[46:82])
	return nil
}

// Account is the state of a token account.
//
// Layout (165 bytes):
//
//	0    mint             Pubkey
//	32   owner            Pubkey
//	64   amount           u64
//	72   delegate         COption<Pubkey> (36)
//	108  state            u8
//	109  is_native        COption<u64> (12)
//	121  delegated_amount u64
//	129  close_authority  COption<Pubkey> (36)
type Account struct {
	Mint            types.Pubkey
	Owner           types.Pubkey
	Amount          uint64
	Delegate        OptionalPubkey
	State           AccountState
	IsNative        bool
	NativeReserve   uint64
	DelegatedAmount uint64
	CloseAuthority  OptionalPubkey
}

// UnpackAccount decodes an initialized token account. The buffer must be
// exactly AccountSize bytes.
func UnpackAccount(data []byte) (*Account, error) {
	a, err := unpackAccountUnchecked(data)
	if err != nil {
		return nil, err
	}
	if a.State == AccountStateUninitialized {
		return nil, ErrUninitializedState
	}
	return a, nil
}

func unpackAccountUnchecked(data []byte) (*Account, error) {
	if len(data) != AccountSize {
		return nil, ErrInvalidState
	}
	delegate, err := unpackOptionalPubkey(data[72:108])
	if err != nil {
		return nil, err
	}
	closeAuthority, err := unpackOptionalPubkey(data[129:165])
	if err != nil {
		return nil, err
	}
	state := AccountState(data[108])
	if state > AccountStateFrozen {
		return nil, ErrInvalidState
	}

	a := &Account{
		Amount:          binary.LittleEndian.Uint64(data[64:72]),
		Delegate:        delegate,
		State:           state,
		DelegatedAmount: binary.LittleEndian.Uint64(data[121:129]),
		CloseAuthority:  closeAuthority,
	}
	copy(a.Mint[:], data[0:32])
	copy(a.Owner[:], data[32:64])
	switch binary.LittleEndian.Uint32(data[109:113]) {
	case 0:
	case 1:
		a.IsNative = true
		a.NativeReserve = binary.LittleEndian.Uint64(data[113:121])
	default:
		return nil, ErrInvalidState
	}
	return a, nil
}

// Pack encodes the account into dst, which must be exactly AccountSize bytes.
func (a *Account) Pack(dst []byte) error {
	if len(dst) != AccountSize {
		return ErrInvalidState
	}
	copy(dst[0:32], a.Mint[:])
	copy(dst[32:64], a.Owner[:])
	binary.LittleEndian.PutUint64(dst[64:72], a.Amount)
	a.Delegate.pack(dst[72:108])
	dst[108] = byte(a.State)
	if a.IsNative {
		binary.LittleEndian.PutUint32(dst[109:113], 1)
		binary.LittleEndian.PutUint64(dst[113:121], a.NativeReserve)
	} else {
		clear(dst[109:121])
	}
	binary.LittleEndian.PutUint64(dst[121:129], a.DelegatedAmount)
	a.CloseAuthority.pack(dst[129:165])
	return nil
}

// IsFrozen reports whether the account is frozen.
func (a *Account) IsFrozen() bool {
	return a.State == AccountStateFrozen
}
