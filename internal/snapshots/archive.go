// Package snapshots downloads and parses the per-epoch spectrum and universe
// binary archives published at epoch boundaries, and hosts the auto-import
// driver that backfills recent completed epochs.
package snapshots

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	spectrumTimeout = 10 * time.Minute
	universeTimeout = 15 * time.Minute
)

// archiveURL builds the templated snapshot location for an epoch.
func archiveURL(baseURL string, epoch uint32) string {
	return fmt.Sprintf("%s/%d/ep%d-bob.zip", strings.TrimRight(baseURL, "/"), epoch, epoch)
}

// fetchArchiveEntry downloads the epoch archive and extracts the entry whose
// name starts with the given prefix ("spectrum." or "universe."). The whole
// archive is held in memory; record parsing needs random access anyway.
func fetchArchiveEntry(ctx context.Context, client *http.Client, baseURL string, epoch uint32, prefix string) ([]byte, int64, error) {
	url := archiveURL(baseURL, epoch)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("download %s: unexpected status %s", url, resp.Status)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("download %s: %w", url, err)
	}

	reader, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, 0, fmt.Errorf("open archive %s: %w", url, err)
	}

	for _, entry := range reader.File {
		if !strings.HasPrefix(entry.Name, prefix) {
			continue
		}
		rc, err := entry.Open()
		if err != nil {
			return nil, 0, fmt.Errorf("open entry %s: %w", entry.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, 0, fmt.Errorf("read entry %s: %w", entry.Name, err)
		}
		return data, int64(len(raw)), nil
	}

	return nil, 0, fmt.Errorf("archive %s has no %s* entry", url, prefix)
}
