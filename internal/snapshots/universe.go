package snapshots

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/rawblock/qubic-flow-engine/internal/identity"
	"github.com/rawblock/qubic-flow-engine/pkg/models"
)

// universeRecordSize is the fixed width of one universe entry:
// pubkey(32) | type u8 | 15-byte type-dependent payload.
const universeRecordSize = 48

// Universe record discriminators.
const (
	universeTypeIssuance   = 1
	universeTypeOwnership  = 2
	universeTypePossession = 3
)

type rawIssuance struct {
	issuer   string
	name     string
	decimals int8
}

type rawOwnership struct {
	holder        string
	contractIndex uint16
	issuanceIndex uint32
	shares        int64
}

type rawPossession struct {
	holder         string
	contractIndex  uint16
	ownershipIndex uint32
	shares         int64
}

// ParseUniverse decodes the universe file into resolved asset snapshot rows.
// Resolution is three-pass: records are first collected by their position
// index in the file, then ownerships resolve to issuances, then possessions
// resolve through their ownership to the issuance. Records with dangling
// references are silently dropped.
func ParseUniverse(data []byte, epoch uint32) ([]models.AssetSnapshot, error) {
	if len(data)%universeRecordSize != 0 {
		return nil, fmt.Errorf("universe file size %d is not a multiple of %d", len(data), universeRecordSize)
	}

	// Pass 1: collect raw records keyed by file position.
	issuances := make(map[uint32]rawIssuance)
	ownerships := make(map[uint32]rawOwnership)
	possessions := make(map[uint32]rawPossession)

	for off := 0; off < len(data); off += universeRecordSize {
		rec := data[off : off+universeRecordSize]
		index := uint32(off / universeRecordSize)

		var pub [32]byte
		copy(pub[:], rec[:32])
		if pub == ([32]byte{}) {
			continue
		}
		addr := identity.FromPubKey(pub)

		switch rec[32] {
		case universeTypeIssuance:
			name := strings.TrimRight(string(rec[33:40]), "\x00")
			issuances[index] = rawIssuance{
				issuer:   addr,
				name:     name,
				decimals: int8(rec[40]),
			}
		case universeTypeOwnership:
			ownerships[index] = rawOwnership{
				holder:        addr,
				contractIndex: binary.LittleEndian.Uint16(rec[34:36]),
				issuanceIndex: binary.LittleEndian.Uint32(rec[36:40]),
				shares:        int64(binary.LittleEndian.Uint64(rec[40:48])),
			}
		case universeTypePossession:
			possessions[index] = rawPossession{
				holder:         addr,
				contractIndex:  binary.LittleEndian.Uint16(rec[34:36]),
				ownershipIndex: binary.LittleEndian.Uint32(rec[36:40]),
				shares:         int64(binary.LittleEndian.Uint64(rec[40:48])),
			}
		}
	}

	var rows []models.AssetSnapshot
	for _, iss := range issuances {
		rows = append(rows, models.AssetSnapshot{
			Epoch:                 epoch,
			Issuer:                iss.issuer,
			AssetName:             iss.name,
			Holder:                iss.issuer,
			RecordType:            models.AssetRecordIssuance,
			NumberOfShares:        0,
			NumberOfDecimalPlaces: iss.decimals,
		})
	}

	// Pass 2: ownership -> issuance.
	for _, own := range ownerships {
		iss, ok := issuances[own.issuanceIndex]
		if !ok {
			continue
		}
		rows = append(rows, models.AssetSnapshot{
			Epoch:                 epoch,
			Issuer:                iss.issuer,
			AssetName:             iss.name,
			Holder:                own.holder,
			RecordType:            models.AssetRecordOwnership,
			ManagingContractIndex: own.contractIndex,
			NumberOfShares:        own.shares,
			NumberOfDecimalPlaces: iss.decimals,
		})
	}

	// Pass 3: possession -> ownership -> issuance.
	for _, pos := range possessions {
		own, ok := ownerships[pos.ownershipIndex]
		if !ok {
			continue
		}
		iss, ok := issuances[own.issuanceIndex]
		if !ok {
			continue
		}
		rows = append(rows, models.AssetSnapshot{
			Epoch:                 epoch,
			Issuer:                iss.issuer,
			AssetName:             iss.name,
			Holder:                pos.holder,
			RecordType:            models.AssetRecordPossession,
			ManagingContractIndex: pos.contractIndex,
			NumberOfShares:        pos.shares,
			NumberOfDecimalPlaces: iss.decimals,
		})
	}

	return rows, nil
}

// UniverseStore is the store slice the universe importer needs.
type UniverseStore interface {
	ReplaceAssetSnapshots(ctx context.Context, epoch uint32, rows []models.AssetSnapshot) error
	MarkUniverseImport(ctx context.Context, m models.ImportMarker) error
	HasUniverseImport(ctx context.Context, epoch uint32) (bool, error)
}

// ImportUniverse downloads, parses and persists the universe snapshot of an
// epoch.
func ImportUniverse(ctx context.Context, store UniverseStore, baseURL string, epoch uint32, initialTick uint64) error {
	started := time.Now()

	client := &http.Client{Timeout: universeTimeout}
	data, fileSize, err := fetchArchiveEntry(ctx, client, baseURL, epoch, "universe.")
	if err != nil {
		return err
	}

	rows, err := ParseUniverse(data, epoch)
	if err != nil {
		return err
	}

	if err := store.ReplaceAssetSnapshots(ctx, epoch, rows); err != nil {
		return fmt.Errorf("persist asset snapshots: %w", err)
	}

	marker := models.ImportMarker{
		Epoch:       epoch,
		TickNumber:  initialTick,
		RecordCount: uint64(len(rows)),
		FileSize:    fileSize,
		DurationMS:  time.Since(started).Milliseconds(),
		ImportedAt:  time.Now().UTC(),
	}
	if err := store.MarkUniverseImport(ctx, marker); err != nil {
		return fmt.Errorf("mark universe import: %w", err)
	}

	log.Printf("[UniverseImport] Epoch %d: %d asset records imported in %dms (%d bytes)",
		epoch, len(rows), marker.DurationMS, fileSize)
	return nil
}
