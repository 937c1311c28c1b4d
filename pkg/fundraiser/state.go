package fundraiser

import (
	"encoding/binary"

	"github.com/fortiblox/stratus-fundraiser/internal/types"
)

// Record sizes.
const (
	FundraiserSize  = 96
	ContributorSize = 8
)

// Fundraiser is the campaign record.
//
// Layout (little-endian):
//
//	maker           [0:32]
//	mint            [32:64]
//	amount_to_raise [64:72]
//	current_amount  [72:80]
//	start_time      [80:88]  i64 unix seconds
//	duration_days   [88]
//	bump            [89]
//	padding         [90:96]
type Fundraiser struct {
	Maker         types.Pubkey
	Mint          types.Pubkey
	AmountToRaise uint64
	// CurrentAmount tracks deposits net of refunds. Goal checks read the
	// vault balance instead.
	CurrentAmount uint64
	StartTime     int64
	DurationDays  uint8
	Bump          uint8
}

// Deadline returns the last unix second at which deposits are accepted.
func (f *Fundraiser) Deadline() int64 {
	return f.StartTime + int64(f.DurationDays)*SecondsPerDay
}

// Expired reports whether now is past the deadline.
func (f *Fundraiser) Expired(now int64) bool {
	return now > f.Deadline()
}

// LoadFundraiser decodes a campaign record.
func LoadFundraiser(data []byte) (*Fundraiser, error) {
	if len(data) != FundraiserSize {
		return nil, newError(CodeMalformedRecord, "fundraiser record is %d bytes, want %d", len(data), FundraiserSize)
	}
	f := &Fundraiser{
		AmountToRaise: binary.LittleEndian.Uint64(data[64:72]),
		CurrentAmount: binary.LittleEndian.Uint64(data[72:80]),
		StartTime:     int64(binary.LittleEndian.Uint64(data[80:88])),
		DurationDays:  data[88],
		Bump:          data[89],
	}
	copy(f.Maker[:], data[0:32])
	copy(f.Mint[:], data[32:64])
	return f, nil
}

// Store encodes the record into data in place.
func (f *Fundraiser) Store(data []byte) error {
	if len(data) != FundraiserSize {
		return newError(CodeMalformedRecord, "fundraiser record is %d bytes, want %d", len(data), FundraiserSize)
	}
	copy(data[0:32], f.Maker[:])
	copy(data[32:64], f.Mint[:])
	binary.LittleEndian.PutUint64(data[64:72], f.AmountToRaise)
	binary.LittleEndian.PutUint64(data[72:80], f.CurrentAmount)
	binary.LittleEndian.PutUint64(data[80:88], uint64(f.StartTime))
	data[88] = f.DurationDays
	data[89] = f.Bump
	clear(data[90:])
	return nil
}

// Contributor is one contributor's ledger entry within a campaign.
type Contributor struct {
	Amount uint64
}

// LoadContributor decodes a contributor record.
func LoadContributor(data []byte) (*Contributor, error) {
	if len(data) != ContributorSize {
		return nil, newError(CodeMalformedRecord, "contributor record is %d bytes, want %d", len(data), ContributorSize)
	}
	return &Contributor{Amount: binary.LittleEndian.Uint64(data)}, nil
}

// Store encodes the record into data in place.
func (c *Contributor) Store(data []byte) error {
	if len(data) != ContributorSize {
		return newError(CodeMalformedRecord, "contributor record is %d bytes, want %d", len(data), ContributorSize)
	}
	binary.LittleEndian.PutUint64(data, c.Amount)
	return nil
}
