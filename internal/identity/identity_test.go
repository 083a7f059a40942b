package identity

import (
	"strings"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	var pub [32]byte
	for i := range pub {
		pub[i] = byte(i*7 + 3)
	}

	id := FromPubKey(pub)
	if len(id) != IdentityLength {
		t.Fatalf("encoded identity has length %d, want %d", len(id), IdentityLength)
	}
	for _, c := range id {
		if c < 'A' || c > 'Z' {
			t.Fatalf("identity contains non-uppercase character %q: %s", c, id)
		}
	}

	decoded, err := ToPubKey(id)
	if err != nil {
		t.Fatalf("ToPubKey(%s) failed: %v", id, err)
	}
	if decoded != pub {
		t.Fatalf("roundtrip mismatch: got %x, want %x", decoded, pub)
	}
}

func TestChecksumRejected(t *testing.T) {
	var pub [32]byte
	pub[0] = 0xAB
	id := FromPubKey(pub)

	// Corrupt one checksum character.
	last := id[IdentityLength-1]
	replacement := byte('A')
	if last == 'A' {
		replacement = 'B'
	}
	corrupted := id[:IdentityLength-1] + string(replacement)

	if _, err := ToPubKey(corrupted); err == nil {
		t.Fatal("expected checksum mismatch error, got nil")
	}
}

func TestToPubKeyRejectsMalformed(t *testing.T) {
	cases := []string{
		"",
		"SHORT",
		strings.Repeat("A", 59),
		strings.Repeat("A", 61),
		strings.Repeat("a", 60),
		strings.Repeat("A", 59) + "1",
	}
	for _, id := range cases {
		if _, err := ToPubKey(id); err == nil {
			t.Errorf("ToPubKey(%q) accepted a malformed identity", id)
		}
	}
}

func TestBurnAddress(t *testing.T) {
	if len(BurnAddress) != IdentityLength {
		t.Fatalf("burn address has length %d, want %d", len(BurnAddress), IdentityLength)
	}
	if !IsBurnAddress(BurnAddress) {
		t.Fatal("IsBurnAddress(BurnAddress) = false")
	}

	pub, err := ToPubKey(BurnAddress)
	if err != nil {
		t.Fatalf("burn address does not decode: %v", err)
	}
	if pub != ([32]byte{}) {
		t.Fatalf("burn address decodes to non-zero key %x", pub)
	}

	// The first 56 characters encode the zero key directly.
	if prefix := strings.Repeat("A", 56); !strings.HasPrefix(BurnAddress, prefix) {
		t.Fatalf("burn address %s does not start with 56 'A's", BurnAddress)
	}
}

func TestSanitize(t *testing.T) {
	var pub [32]byte
	pub[5] = 0x42
	id := FromPubKey(pub)

	got, err := Sanitize(id + "\x00\xEF garbage")
	if err != nil {
		t.Fatalf("Sanitize failed: %v", err)
	}
	if got != id {
		t.Fatalf("Sanitize = %s, want %s", got, id)
	}

	if _, err := Sanitize(id[:40] + "\x00"); err == nil {
		t.Fatal("expected error for truncated address, got nil")
	}
	if _, err := Sanitize(id); err != nil {
		t.Fatalf("Sanitize rejected a clean address: %v", err)
	}
}
