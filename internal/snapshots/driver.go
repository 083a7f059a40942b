package snapshots

import (
	"context"
	"log"
	"time"

	"github.com/rawblock/qubic-flow-engine/pkg/models"
)

const (
	drivePeriod       = 5 * time.Minute
	driveErrorBackoff = 15 * time.Minute
	epochLookback     = 10
	maxImportsPerRun  = 5
)

// DriverStore is the store slice the auto-import driver needs.
type DriverStore interface {
	SpectrumStore
	UniverseStore
	CompletedEpochs(ctx context.Context, limit int) ([]models.EpochMeta, error)
}

// Driver is the auto-import worker: each cycle it looks at the most recent
// completed epochs and imports whichever spectrum/universe archives are not
// yet marked imported, out-of-band of the live ingestion path.
type Driver struct {
	store   DriverStore
	baseURL string
}

// NewDriver builds the auto-import driver.
func NewDriver(store DriverStore, baseURL string) *Driver {
	return &Driver{store: store, baseURL: baseURL}
}

// Run drives the import loop until cancelled, backing off after a cycle that
// hit an error.
func (d *Driver) Run(ctx context.Context) {
	log.Println("[SnapshotDriver] Starting snapshot auto-import driver")

	period := drivePeriod
	for {
		select {
		case <-ctx.Done():
			log.Println("[SnapshotDriver] Stopping")
			return
		case <-time.After(period):
		}

		if err := d.runCycle(ctx); err != nil {
			log.Printf("[SnapshotDriver] Cycle failed: %v (backing off %s)", err, driveErrorBackoff)
			period = driveErrorBackoff
		} else {
			period = drivePeriod
		}
	}
}

func (d *Driver) runCycle(ctx context.Context) error {
	epochs, err := d.store.CompletedEpochs(ctx, epochLookback)
	if err != nil {
		return err
	}

	imports := 0
	for _, meta := range epochs {
		if imports >= maxImportsPerRun {
			return nil
		}

		hasSpectrum, err := d.store.HasSpectrumImport(ctx, meta.Epoch)
		if err != nil {
			return err
		}
		if !hasSpectrum {
			if err := ImportSpectrum(ctx, d.store, d.baseURL, meta.Epoch, meta.InitialTick); err != nil {
				return err
			}
			imports++
		}

		if imports >= maxImportsPerRun {
			return nil
		}

		hasUniverse, err := d.store.HasUniverseImport(ctx, meta.Epoch)
		if err != nil {
			return err
		}
		if !hasUniverse {
			if err := ImportUniverse(ctx, d.store, d.baseURL, meta.Epoch, meta.InitialTick); err != nil {
				return err
			}
			imports++
		}
	}
	return nil
}
