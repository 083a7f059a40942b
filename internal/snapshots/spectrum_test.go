package snapshots

import (
	"encoding/binary"
	"testing"

	"github.com/rawblock/qubic-flow-engine/internal/identity"
)

func spectrumRecord(pub [32]byte, incoming, outgoing int64, nIn, nOut, latestIn, latestOut uint32) []byte {
	rec := make([]byte, spectrumRecordSize)
	copy(rec[:32], pub[:])
	binary.LittleEndian.PutUint64(rec[32:40], uint64(incoming))
	binary.LittleEndian.PutUint64(rec[40:48], uint64(outgoing))
	binary.LittleEndian.PutUint32(rec[48:52], nIn)
	binary.LittleEndian.PutUint32(rec[52:56], nOut)
	binary.LittleEndian.PutUint32(rec[56:60], latestIn)
	binary.LittleEndian.PutUint32(rec[60:64], latestOut)
	return rec
}

func TestParseSpectrum(t *testing.T) {
	var pubA, pubB [32]byte
	pubA[0] = 1
	pubB[0] = 2

	var data []byte
	data = append(data, spectrumRecord(pubA, 1000, 400, 3, 1, 120, 110)...)
	data = append(data, spectrumRecord([32]byte{}, 50, 0, 1, 0, 10, 0)...) // empty slot
	data = append(data, spectrumRecord(pubB, 700, 700, 2, 2, 90, 95)...)  // real zero balance

	rows, err := ParseSpectrum(data, 150)
	if err != nil {
		t.Fatalf("ParseSpectrum failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2 (empty slot must be skipped)", len(rows))
	}

	a := rows[0]
	if a.Address != identity.FromPubKey(pubA) {
		t.Fatalf("row 0 address = %s, want encoding of pubA", a.Address)
	}
	if a.Epoch != 150 || a.Balance != 600 || a.IncomingAmount != 1000 || a.OutgoingAmount != 400 {
		t.Fatalf("row 0 amounts wrong: %+v", a)
	}
	if a.NumIncoming != 3 || a.NumOutgoing != 1 || a.LatestIncomingTick != 120 || a.LatestOutgoingTick != 110 {
		t.Fatalf("row 0 counters wrong: %+v", a)
	}

	b := rows[1]
	if b.Balance != 0 {
		t.Fatalf("row 1 balance = %d, want 0", b.Balance)
	}
	if b.Address != identity.FromPubKey(pubB) {
		t.Fatalf("row 1 address = %s, want encoding of pubB", b.Address)
	}
}

func TestParseSpectrumRejectsBadLength(t *testing.T) {
	if _, err := ParseSpectrum(make([]byte, spectrumRecordSize+1), 1); err == nil {
		t.Fatal("expected error for truncated file, got nil")
	}
}

func TestParseSpectrumEmpty(t *testing.T) {
	rows, err := ParseSpectrum(nil, 1)
	if err != nil {
		t.Fatalf("ParseSpectrum(nil) failed: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("got %d rows from empty file, want 0", len(rows))
	}
}
