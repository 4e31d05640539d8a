package common

import (
	"regexp"

	"github.com/gagliardetto/solana-go"
)

// classic XRPL addresses: base58 with the ripple alphabet, 'r' prefix
var xrplAddressRe = regexp.MustCompile(`^r[rpshnaf39wBUDNEGHJKLM4PQRST7VWXYZ2bcdeCg65jkm8oFqi1tuvAxyz]{24,34}$`)

// IsPlausibleXRPLAddress reports whether addr looks like a classic XRPL
// address. It checks shape only, not the checksum.
func IsPlausibleXRPLAddress(addr string) bool {
	return xrplAddressRe.MatchString(addr)
}

// IsPlausibleSolanaAddress reports whether addr is a base58-encoded 32-byte
// solana public key. Shape alone is not enough: an XRPL address is also
// base58 of a plausible length, but never decodes to 32 bytes.
func IsPlausibleSolanaAddress(addr string) bool {
	_, err := solana.PublicKeyFromBase58(addr)
	return err == nil
}
