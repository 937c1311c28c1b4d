package types

// Native program addresses.
var (
	// SystemProgramAddr is the System Program address.
	SystemProgramAddr = MustPubkeyFromBase58("11111111111111111111111111111111")

	// TokenProgramAddr is the SPL Token program address.
	TokenProgramAddr = MustPubkeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")

	// AssociatedTokenProgramAddr is the Associated Token Account program address.
	AssociatedTokenProgramAddr = MustPubkeyFromBase58("ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL")

	// FundraiserProgramAddr is the default address the fundraiser program is
	// deployed at.
	FundraiserProgramAddr = MustPubkeyFromBase58("HAV1KKoQW1ckwgvUP8fCXRfjZ4gGfHeu7VhfMej8Bw8i")
)

// Sysvar addresses.
var (
	// SysvarClockAddr is the Clock sysvar address.
	SysvarClockAddr = MustPubkeyFromBase58("SysvarC1ock11111111111111111111111111111111")

	// SysvarRentAddr is the Rent sysvar address.
	SysvarRentAddr = MustPubkeyFromBase58("SysvarRent111111111111111111111111111111111")
)

// IsNativeProgram returns true if the pubkey is one of the built-in programs.
func IsNativeProgram(p Pubkey) bool {
	switch p {
	case SystemProgramAddr,
		TokenProgramAddr,
		AssociatedTokenProgramAddr:
		return true
	default:
		return false
	}
}

// IsSysvar returns true if the pubkey is a sysvar.
func IsSysvar(p Pubkey) bool {
	switch p {
	case SysvarClockAddr, SysvarRentAddr:
		return true
	default:
		return false
	}
}
