package snapshots

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/rawblock/qubic-flow-engine/internal/identity"
	"github.com/rawblock/qubic-flow-engine/pkg/models"
)

// spectrumRecordSize is the fixed width of one spectrum entry:
// pubkey(32) | incoming i64 | outgoing i64 | n_in u32 | n_out u32 |
// latest_in u32 | latest_out u32.
const spectrumRecordSize = 64

// ParseSpectrum decodes the spectrum file into balance snapshot rows.
// Records with an all-zero public key are empty slots and are discarded; a
// record whose incoming equals its outgoing is a real zero-balance account
// and is kept.
func ParseSpectrum(data []byte, epoch uint32) ([]models.BalanceSnapshot, error) {
	if len(data)%spectrumRecordSize != 0 {
		return nil, fmt.Errorf("spectrum file size %d is not a multiple of %d", len(data), spectrumRecordSize)
	}

	var rows []models.BalanceSnapshot
	for off := 0; off < len(data); off += spectrumRecordSize {
		rec := data[off : off+spectrumRecordSize]

		var pub [32]byte
		copy(pub[:], rec[:32])
		if pub == ([32]byte{}) {
			continue
		}

		incoming := int64(binary.LittleEndian.Uint64(rec[32:40]))
		outgoing := int64(binary.LittleEndian.Uint64(rec[40:48]))

		rows = append(rows, models.BalanceSnapshot{
			Epoch:              epoch,
			Address:            identity.FromPubKey(pub),
			Balance:            incoming - outgoing,
			IncomingAmount:     incoming,
			OutgoingAmount:     outgoing,
			NumIncoming:        binary.LittleEndian.Uint32(rec[48:52]),
			NumOutgoing:        binary.LittleEndian.Uint32(rec[52:56]),
			LatestIncomingTick: binary.LittleEndian.Uint32(rec[56:60]),
			LatestOutgoingTick: binary.LittleEndian.Uint32(rec[60:64]),
		})
	}
	return rows, nil
}

// SpectrumStore is the store slice the spectrum importer needs.
type SpectrumStore interface {
	ReplaceBalanceSnapshots(ctx context.Context, epoch uint32, rows []models.BalanceSnapshot) error
	MarkSpectrumImport(ctx context.Context, m models.ImportMarker) error
	HasSpectrumImport(ctx context.Context, epoch uint32) (bool, error)
}

// ImportSpectrum downloads, parses and persists the spectrum snapshot of an
// epoch, anchored at the epoch's initial tick.
func ImportSpectrum(ctx context.Context, store SpectrumStore, baseURL string, epoch uint32, initialTick uint64) error {
	started := time.Now()

	client := &http.Client{Timeout: spectrumTimeout}
	data, fileSize, err := fetchArchiveEntry(ctx, client, baseURL, epoch, "spectrum.")
	if err != nil {
		return err
	}

	rows, err := ParseSpectrum(data, epoch)
	if err != nil {
		return err
	}

	if err := store.ReplaceBalanceSnapshots(ctx, epoch, rows); err != nil {
		return fmt.Errorf("persist balance snapshots: %w", err)
	}

	marker := models.ImportMarker{
		Epoch:       epoch,
		TickNumber:  initialTick,
		RecordCount: uint64(len(rows)),
		FileSize:    fileSize,
		DurationMS:  time.Since(started).Milliseconds(),
		ImportedAt:  time.Now().UTC(),
	}
	if err := store.MarkSpectrumImport(ctx, marker); err != nil {
		return fmt.Errorf("mark spectrum import: %w", err)
	}

	log.Printf("[SpectrumImport] Epoch %d: %d accounts imported in %dms (%d bytes)",
		epoch, len(rows), marker.DurationMS, fileSize)
	return nil
}
