// Package dataset downloads and caches the published evaluation datasets
// from Zenodo, extracts their archives under the data directory and indexes
// the images in SQLite so later runs resolve categories without touching the
// network.
package dataset

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Record identifies a Zenodo deposit.
type Record struct {
	Name string
	ID   int64
}

var (
	// SCA2023 holds natural and synthetic test images plus measured PSF banks.
	SCA2023 = Record{Name: "SCA-2023", ID: 7848576}
	// CVD holds the color-vision-deficiency experiment images.
	CVD = Record{Name: "CVD", ID: 13881170}
)

// DefaultAPIBase is the Zenodo records API root.
const DefaultAPIBase = "https://zenodo.org/api/records"

// RecordFile is one downloadable file of a record.
type RecordFile struct {
	Key      string
	Size     int64
	Checksum string
	URL      string
}

// recordResponse mirrors the subset of the Zenodo API response we need.
type recordResponse struct {
	Files []struct {
		Key      string `json:"key"`
		Size     int64  `json:"size"`
		Checksum string `json:"checksum"`
		Links    struct {
			Self string `json:"self"`
		} `json:"links"`
	} `json:"files"`
}

// FetchRecordFiles resolves the file listing of a record.
func FetchRecordFiles(ctx context.Context, client *http.Client, apiBase string, id int64) ([]RecordFile, error) {
	if client == nil {
		client = http.DefaultClient
	}
	if apiBase == "" {
		apiBase = DefaultAPIBase
	}
	url := fmt.Sprintf("%s/%d", apiBase, id)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query record %d: %w", id, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("record %d: bad status %s", id, resp.Status)
	}

	var rec recordResponse
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return nil, fmt.Errorf("record %d: %w", id, err)
	}
	if len(rec.Files) == 0 {
		return nil, fmt.Errorf("record %d has no files", id)
	}

	files := make([]RecordFile, 0, len(rec.Files))
	for _, f := range rec.Files {
		if f.Links.Self == "" {
			return nil, fmt.Errorf("record %d: file %q has no download link", id, f.Key)
		}
		files = append(files, RecordFile{
			Key:      f.Key,
			Size:     f.Size,
			Checksum: f.Checksum,
			URL:      f.Links.Self,
		})
	}
	return files, nil
}
