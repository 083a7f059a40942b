// Package identity implements the base-26 address encoding used on the Qubic
// ledger. A 32-byte public key is split into four little-endian uint64
// fragments; each fragment encodes to 14 uppercase letters, and a 4-letter
// checksum derived from a digest of the public key closes the 60-character
// identity. The all-zero public key encodes to the canonical burn address,
// used both as mint source and burn sink.
package identity

import (
	"encoding/binary"
	"fmt"
	"regexp"

	"golang.org/x/crypto/sha3"
)

const (
	// IdentityLength is the fixed length of an encoded address.
	IdentityLength = 60

	fragmentChars = 14
	checksumChars = 4
	checksumMask  = 0x3FFFF
)

// BurnAddress is the identity of the all-zero public key. Transfers from it
// denote minting; transfers to it denote burning.
var BurnAddress = FromPubKey([32]byte{})

var identityPattern = regexp.MustCompile(`^[A-Z]{60}$`)

// FromPubKey encodes a 32-byte public key as a 60-character identity.
func FromPubKey(pub [32]byte) string {
	var out [IdentityLength]byte

	for i := 0; i < 4; i++ {
		frag := binary.LittleEndian.Uint64(pub[i*8 : i*8+8])
		for j := 0; j < fragmentChars; j++ {
			out[i*fragmentChars+j] = byte('A' + frag%26)
			frag /= 26
		}
	}

	check := checksum(pub)
	for j := 0; j < checksumChars; j++ {
		out[4*fragmentChars+j] = byte('A' + check%26)
		check /= 26
	}

	return string(out[:])
}

// ToPubKey decodes an identity back to its 32-byte public key, validating the
// length, the character set and the trailing checksum.
func ToPubKey(id string) ([32]byte, error) {
	var pub [32]byte

	if !identityPattern.MatchString(id) {
		return pub, fmt.Errorf("identity must be %d uppercase letters, got %q", IdentityLength, id)
	}

	for i := 0; i < 4; i++ {
		var frag uint64
		for j := fragmentChars - 1; j >= 0; j-- {
			frag = frag*26 + uint64(id[i*fragmentChars+j]-'A')
		}
		binary.LittleEndian.PutUint64(pub[i*8:i*8+8], frag)
	}

	want := checksum(pub)
	var got uint32
	mul := uint32(1)
	for j := 0; j < checksumChars; j++ {
		got += uint32(id[4*fragmentChars+j]-'A') * mul
		mul *= 26
	}
	if got != want {
		return pub, fmt.Errorf("identity checksum mismatch for %q", id)
	}

	return pub, nil
}

// IsBurnAddress reports whether the identity is the all-zero burn address.
func IsBurnAddress(id string) bool {
	return id == BurnAddress
}

// Sanitize strips trailing non-uppercase garbage from an address and
// validates the result. The upstream computor list is known to carry stray
// non-ASCII bytes after the 60 payload characters.
func Sanitize(raw string) (string, error) {
	end := 0
	for end < len(raw) && raw[end] >= 'A' && raw[end] <= 'Z' {
		end++
	}
	clean := raw[:end]
	if len(clean) != IdentityLength {
		return "", fmt.Errorf("address %q sanitizes to %d characters, want %d", raw, len(clean), IdentityLength)
	}
	return clean, nil
}

// checksum folds a digest of the public key into the 18 bits the 4-letter
// suffix can carry.
func checksum(pub [32]byte) uint32 {
	digest := sha3.Sum256(pub[:])
	return binary.LittleEndian.Uint32(digest[:4]) & checksumMask
}
