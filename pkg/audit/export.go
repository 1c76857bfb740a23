package audit

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTimeRange is returned when the export window ends before it starts.
var ErrInvalidTimeRange = errors.New("audit: start time must be before end time")

// maxExportEntries bounds a single export.
const maxExportEntries = 100_000

// ExportRequest selects the window to export. Zero times are unbounded.
type ExportRequest struct {
	Start time.Time
	End   time.Time
}

// Exporter bundles action logs into a zip archive with a manifest.
type Exporter struct {
	logs *SQLLogger
	now  func() time.Time
}

func NewExporter(logs *SQLLogger) *Exporter {
	return &Exporter{logs: logs, now: time.Now}
}

// Export returns the zip bytes and their SHA-256 checksum in hex.
func (e *Exporter) Export(ctx context.Context, req ExportRequest) ([]byte, string, error) {
	if !req.Start.IsZero() && !req.End.IsZero() && req.Start.After(req.End) {
		return nil, "", ErrInvalidTimeRange
	}

	entries, err := e.logs.List(ctx, Query{From: req.Start, To: req.End, Limit: maxExportEntries})
	if err != nil {
		return nil, "", err
	}
	if entries == nil {
		entries = []Entry{}
	}

	entriesJSON, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("audit: marshal entries: %w", err)
	}
	sum := sha256.Sum256(entriesJSON)

	generated := e.now().UTC()
	manifest := map[string]any{
		"generated_at":   generated,
		"entry_count":    len(entries),
		"entries_sha256": hex.EncodeToString(sum[:]),
		"period": map[string]any{
			"start": req.Start,
			"end":   req.End,
		},
	}
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, "", fmt.Errorf("audit: marshal manifest: %w", err)
	}

	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)
	files := []struct {
		name string
		body []byte
	}{
		{"action_logs.json", entriesJSON},
		{"manifest.json", manifestJSON},
	}
	for _, f := range files {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: f.name, Method: zip.Deflate, Modified: generated})
		if err != nil {
			return nil, "", fmt.Errorf("audit: zip %s: %w", f.name, err)
		}
		if _, err := w.Write(f.body); err != nil {
			return nil, "", fmt.Errorf("audit: zip %s: %w", f.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, "", fmt.Errorf("audit: close zip: %w", err)
	}

	zipBytes := buf.Bytes()
	hash := sha256.Sum256(zipBytes)
	return zipBytes, hex.EncodeToString(hash[:]), nil
}
