// Package pda derives program derived addresses (PDAs).
//
// A PDA is SHA256(seeds... || programID || "ProgramDerivedAddress") with the
// extra requirement that the result is not a valid ed25519 point, so no
// private key can ever sign for it. The owning program proves authority over
// a PDA by presenting the seeds (Seeds) that reproduce it; the runtime checks
// that proof before treating the address as a signer in a cross-program call.
package pda

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/fortiblox/stratus-fundraiser/internal/types"
)

// Derivation limits.
const (
	MaxSeeds   = 16
	MaxSeedLen = 32
)

var marker = []byte("ProgramDerivedAddress")

var (
	// ErrMaxSeedsExceeded is returned when more than MaxSeeds seeds are given.
	ErrMaxSeedsExceeded = errors.New("max seeds exceeded")

	// ErrMaxSeedLengthExceeded is returned when a seed is longer than MaxSeedLen.
	ErrMaxSeedLengthExceeded = errors.New("max seed length exceeded")

	// ErrOnCurve is returned when the derived hash is a valid curve point.
	ErrOnCurve = errors.New("derived address is on curve")

	// ErrNoViableBump is returned when no bump in [0, 255] yields an
	// off-curve address.
	ErrNoViableBump = errors.New("unable to find a viable program address bump seed")

	// ErrAddressMismatch is returned when seeds do not reproduce an address.
	ErrAddressMismatch = errors.New("seeds do not derive the expected address")

	// ErrNonCanonicalBump is returned when a bump reproduces an address that
	// is not the canonical one for the seeds.
	ErrNonCanonicalBump = errors.New("bump is not canonical")
)

// CreateProgramAddress derives the address for seeds (the bump, if any, is
// already the last seed) under programID.
func CreateProgramAddress(seeds [][]byte, programID types.Pubkey) (types.Pubkey, error) {
	if len(seeds) > MaxSeeds {
		return types.Pubkey{}, ErrMaxSeedsExceeded
	}

	h := sha256.New()
	for _, seed := range seeds {
		if len(seed) > MaxSeedLen {
			return types.Pubkey{}, ErrMaxSeedLengthExceeded
		}
		h.Write(seed)
	}
	h.Write(programID[:])
	h.Write(marker)

	var out types.Pubkey
	copy(out[:], h.Sum(nil))
	if IsOnCurve(out) {
		return types.Pubkey{}, ErrOnCurve
	}
	return out, nil
}

// FindProgramAddress searches bumps from 255 down and returns the first
// off-curve address together with its bump.
func FindProgramAddress(seeds [][]byte, programID types.Pubkey) (types.Pubkey, uint8, error) {
	if len(seeds) > MaxSeeds-1 {
		return types.Pubkey{}, 0, ErrMaxSeedsExceeded
	}

	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)
	bump := []byte{255}
	withBump[len(seeds)] = bump

	for {
		addr, err := CreateProgramAddress(withBump, programID)
		if err == nil {
			return addr, bump[0], nil
		}
		if !errors.Is(err, ErrOnCurve) {
			return types.Pubkey{}, 0, err
		}
		if bump[0] == 0 {
			return types.Pubkey{}, 0, ErrNoViableBump
		}
		bump[0]--
	}
}

// IsOnCurve reports whether p decodes to a valid ed25519 point.
func IsOnCurve(p types.Pubkey) bool {
	_, err := new(edwards25519.Point).SetBytes(p[:])
	return err == nil
}

// VerifyBump checks that seeds plus bump derive addr and that bump is the
// canonical (highest viable) bump for those seeds.
func VerifyBump(seeds [][]byte, bump uint8, programID, addr types.Pubkey) error {
	canonical, canonicalBump, err := FindProgramAddress(seeds, programID)
	if err != nil {
		return err
	}
	if canonical != addr {
		return fmt.Errorf("%w: want %s, got %s", ErrAddressMismatch, canonical, addr)
	}
	if bump != canonicalBump {
		return fmt.Errorf("%w: want %d, got %d", ErrNonCanonicalBump, canonicalBump, bump)
	}
	return nil
}

// Seeds is a seed tuple plus its bump: the proof a program presents to sign
// for the PDA it derives.
type Seeds struct {
	parts [][]byte
	bump  uint8
}

// NewSeeds builds a signer proof from the seed parts and a bump.
func NewSeeds(bump uint8, parts ...[]byte) Seeds {
	cp := make([][]byte, len(parts))
	for i, p := range parts {
		cp[i] = append([]byte(nil), p...)
	}
	return Seeds{parts: cp, bump: bump}
}

// Bump returns the bump seed.
func (s Seeds) Bump() uint8 {
	return s.bump
}

// Slices returns the full seed list with the bump appended.
func (s Seeds) Slices() [][]byte {
	out := make([][]byte, len(s.parts)+1)
	copy(out, s.parts)
	out[len(s.parts)] = []byte{s.bump}
	return out
}

// Address derives the PDA these seeds prove under programID.
func (s Seeds) Address(programID types.Pubkey) (types.Pubkey, error) {
	return CreateProgramAddress(s.Slices(), programID)
}

// Verify reports an error unless the seeds derive addr under programID.
func (s Seeds) Verify(programID, addr types.Pubkey) error {
	derived, err := s.Address(programID)
	if err != nil {
		return err
	}
	if derived != addr {
		return fmt.Errorf("%w: want %s, got %s", ErrAddressMismatch, addr, derived)
	}
	return nil
}
