// Package table persists extracted records as delimiter-separated tables.
// The header is the union of all record field keys with url always first;
// missing cells are written empty. Files are rewritten wholesale through a
// temp file + rename so a crashed run never leaves a half-written table.
package table

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/adubovik/freshscrape/internal/pipeline"
)

// fetchErrColumn is pinned to the end of the header when present; downstream
// consumers of the original datasets expect it there.
const fetchErrColumn = "fetchErr"

// Load reads records from a CSV file. A missing file is an empty table, not
// an error. The first column must be "url".
func Load(path string) ([]pipeline.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open table %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read table %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	header := rows[0]
	urlIdx := -1
	for i, col := range header {
		if col == "url" {
			urlIdx = i
			break
		}
	}
	if urlIdx == -1 {
		return nil, fmt.Errorf("table %s has no url column", path)
	}

	records := make([]pipeline.Record, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rec := pipeline.Record{Fields: make(map[string]string, len(header))}
		for i, cell := range row {
			if i >= len(header) {
				break
			}
			if i == urlIdx {
				rec.URL = cell
				continue
			}
			if cell != "" {
				rec.Fields[header[i]] = cell
			}
		}
		records = append(records, rec)
	}

	return records, nil
}

// Save writes records to path atomically, deduplicating by url (first
// occurrence wins). Header: url, then remaining field keys sorted, with
// fetchErr last when present.
func Save(path string, records []pipeline.Record) error {
	seen := make(map[string]bool, len(records))
	deduped := make([]pipeline.Record, 0, len(records))
	for _, rec := range records {
		if seen[rec.URL] {
			continue
		}
		seen[rec.URL] = true
		deduped = append(deduped, rec)
	}

	header := Header(deduped)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create table directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp table file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	writer := csv.NewWriter(tmp)
	if err := writer.Write(header); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write table header: %w", err)
	}

	row := make([]string, len(header))
	for _, rec := range deduped {
		for i, col := range header {
			if col == "url" {
				row[i] = rec.URL
			} else {
				row[i] = rec.Fields[col]
			}
		}
		if err := writer.Write(row); err != nil {
			tmp.Close()
			return fmt.Errorf("failed to write table row for %s: %w", rec.URL, err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to flush table: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp table file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to replace table %s: %w", path, err)
	}

	return nil
}

// Header computes the column list for a record set: url first, other keys
// sorted, fetchErr pinned last when any record carries it.
func Header(records []pipeline.Record) []string {
	keys := make(map[string]bool)
	for _, rec := range records {
		for k := range rec.Fields {
			keys[k] = true
		}
	}
	delete(keys, "url")

	hasFetchErr := keys[fetchErrColumn]
	delete(keys, fetchErrColumn)

	middle := make([]string, 0, len(keys))
	for k := range keys {
		middle = append(middle, k)
	}
	sort.Strings(middle)

	header := append([]string{"url"}, middle...)
	if hasFetchErr {
		header = append(header, fetchErrColumn)
	}
	return header
}

// LoadWorkItems reads a URL table as work items: the url column becomes the
// identity, every other column becomes metadata. Missing file means no work.
func LoadWorkItems(path string) ([]pipeline.WorkItem, error) {
	records, err := Load(path)
	if err != nil {
		return nil, err
	}
	items := make([]pipeline.WorkItem, 0, len(records))
	for _, rec := range records {
		items = append(items, pipeline.WorkItem{URL: rec.URL, Metadata: rec.Fields})
	}
	return items, nil
}

// SaveWorkItems persists work items as a URL table, one row per unique url.
func SaveWorkItems(path string, items []pipeline.WorkItem) error {
	deduped := pipeline.DedupeWorkItems(items)
	records := make([]pipeline.Record, 0, len(deduped))
	for _, item := range deduped {
		records = append(records, pipeline.Record{URL: item.URL, Fields: item.Metadata})
	}
	return Save(path, records)
}
