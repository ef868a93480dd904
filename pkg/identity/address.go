// Package identity holds helpers for blockchain account identifiers.
package identity

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/sha3"
)

const addressHexLen = 40

// IsHexAddress reports whether s is a 20-byte hex address with an optional
// 0x prefix. Case is not checked.
func IsHexAddress(s string) bool {
	s = strip0x(s)
	if len(s) != addressHexLen {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// ChecksumAddress returns the EIP-55 mixed-case form of a hex address. Input
// that is not a hex address is returned unchanged.
func ChecksumAddress(s string) string {
	if !IsHexAddress(s) {
		return s
	}
	lower := strings.ToLower(strip0x(s))

	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(lower))
	digest := h.Sum(nil)

	out := make([]byte, 0, addressHexLen+2)
	out = append(out, '0', 'x')
	for i := 0; i < addressHexLen; i++ {
		c := lower[i]
		if c >= 'a' && c <= 'f' {
			nibble := digest[i/2]
			if i%2 == 0 {
				nibble >>= 4
			}
			if nibble&0x0f >= 8 {
				c -= 'a' - 'A'
			}
		}
		out = append(out, c)
	}
	return string(out)
}

// NormalizeAddress lowercases a hex address and ensures the 0x prefix, which
// is the form identities are registered under on the network.
func NormalizeAddress(s string) string {
	if !IsHexAddress(s) {
		return s
	}
	return "0x" + strings.ToLower(strip0x(s))
}

func strip0x(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
