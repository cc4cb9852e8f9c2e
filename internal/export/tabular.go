// Package export renders transformed records into the destination file
// formats: comma separated tables and the structured JSON document read by
// the visualization platform.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"dams-sync/internal/models"
)

// EncodeTabular renders record as CSV with a header row and no index column
func EncodeTabular(record *models.TabularRecord) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(record.Columns); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	if err := w.WriteAll(record.Rows); err != nil {
		return nil, fmt.Errorf("write csv rows: %w", err)
	}

	return buf.Bytes(), nil
}

// WriteTabular stores record as a CSV file at path
func WriteTabular(path string, record *models.TabularRecord) error {
	data, err := EncodeTabular(record)
	if err != nil {
		return err
	}
	return writeFile(path, data)
}

// writeFile replaces path with data through a temporary sibling, so readers
// and later runs never see a partially written destination file.
func writeFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temporary file for %s: %w", path, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("move %s into place: %w", path, err)
	}
	return nil
}
