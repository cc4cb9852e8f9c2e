package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"dams-sync/internal/models"
)

// Accepted layouts of the tabular time column
var timeLayouts = []string{models.TabularTimeLayout, "2006-01-02"}

// StructuredColumns are the tabular columns the structured document is built from
var StructuredColumns = []string{models.ColumnCode, models.ColumnTime, models.ColumnData}

// ToStructured converts a tabular record into one structured entry per site.
// Times become Unix epoch seconds (UTC) and values carry two decimals. Rows
// sharing a site code are gathered into the same entry, in record order.
func ToStructured(record *models.TabularRecord) ([]models.StructuredEntry, error) {
	for _, name := range StructuredColumns {
		if record.ColumnIndex(name) < 0 {
			return nil, &models.ValidationError{
				Field:   "fields",
				Value:   name,
				Message: fmt.Sprintf("structured output needs the %q column", name),
			}
		}
	}
	codeIdx := record.ColumnIndex(models.ColumnCode)
	timeIdx := record.ColumnIndex(models.ColumnTime)
	dataIdx := record.ColumnIndex(models.ColumnData)

	entries := make([]models.StructuredEntry, 0, len(record.Rows))
	position := make(map[string]int, len(record.Rows))

	for _, row := range record.Rows {
		epoch, err := EpochSeconds(row[timeIdx])
		if err != nil {
			return nil, err
		}
		value, err := FormatValue(row[dataIdx])
		if err != nil {
			return nil, err
		}

		point := models.SeriesPoint{DateTime: epoch, Value: value}
		code := row[codeIdx]
		if i, ok := position[code]; ok {
			entries[i].Serie = append(entries[i].Serie, point)
			continue
		}
		position[code] = len(entries)
		entries = append(entries, models.StructuredEntry{SectionID: code, Serie: []models.SeriesPoint{point}})
	}

	return entries, nil
}

// EpochSeconds parses a full date-time or a date-only string in UTC and
// returns its Unix time as a decimal string
func EpochSeconds(s string) (string, error) {
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return strconv.FormatInt(t.Unix(), 10), nil
		}
	}
	return "", &models.ValidationError{
		Field:   models.ColumnTime,
		Value:   s,
		Message: fmt.Sprintf("unparseable time value %q", s),
	}
}

// FormatValue renders a numeric string with exactly two decimals
func FormatValue(s string) (string, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return "", &models.ValidationError{
			Field:   models.ColumnData,
			Value:   s,
			Message: fmt.Sprintf("non numeric data value %q", s),
		}
	}
	return strconv.FormatFloat(v, 'f', 2, 64), nil
}

// EncodeStructured renders entries with four space indentation, ", " and
// ": " separators, keys in declaration order and non-ASCII text unescaped.
func EncodeStructured(entries []models.StructuredEntry) ([]byte, error) {
	if entries == nil {
		entries = []models.StructuredEntry{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(entries); err != nil {
		return nil, fmt.Errorf("encode structured record: %w", err)
	}

	// Encoded strings never hold a raw newline, so every ",\n" is an item
	// separator.
	out := bytes.ReplaceAll(bytes.TrimSuffix(buf.Bytes(), []byte("\n")), []byte(",\n"), []byte(", \n"))
	return out, nil
}

// WriteStructured stores entries as a JSON document at path
func WriteStructured(path string, entries []models.StructuredEntry) error {
	data, err := EncodeStructured(entries)
	if err != nil {
		return err
	}
	return writeFile(path, data)
}
