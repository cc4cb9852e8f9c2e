package models

import (
	"fmt"
	"strconv"
	"time"
)

// TimeMode controls how a timestep is expanded into a source query window
// and how samples inside that window are reduced to one value per dam.
type TimeMode string

const (
	TimeModeInstantaneous TimeMode = "instantaneous"
	TimeModeHourly        TimeMode = "hourly"
	TimeModeDaily         TimeMode = "daily"
)

// Valid reports whether m is a known time mode
func (m TimeMode) Valid() bool {
	switch m {
	case TimeModeInstantaneous, TimeModeHourly, TimeModeDaily:
		return true
	}
	return false
}

// ValueRange is an inclusive [Min, Max] validity interval
type ValueRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether v lies inside the range
func (r ValueRange) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// VariableSpec describes one configured variable. A nil Tag disables it.
type VariableSpec struct {
	Name        string
	Tag         *string
	Download    bool
	TimeMode    TimeMode
	Units       string
	ValidRange  ValueRange
	MinCount    int
	ScaleFactor float64
}

// Enabled reports whether the variable is mapped to a source tag
func (v VariableSpec) Enabled() bool {
	return v.Tag != nil
}

// SourceTag returns the tag or an empty string for disabled variables
func (v VariableSpec) SourceTag() string {
	if v.Tag == nil {
		return ""
	}
	return *v.Tag
}

// Dam is a registry entry for a monitored reservoir
type Dam struct {
	Code      string
	Name      string
	Latitude  float64
	Longitude float64
}

// SourceRow is a single observation returned by the data source
type SourceRow struct {
	DamCode    string    `db:"dam_code" msgpack:"dam_code"`
	ObservedAt time.Time `db:"observed_at" msgpack:"observed_at"`
	Value      float64   `db:"value" msgpack:"value"`
}

// AncillaryRecord is the raw payload cached per variable and timestep
type AncillaryRecord struct {
	Tag  string      `msgpack:"tag"`
	From time.Time   `msgpack:"from"`
	To   time.Time   `msgpack:"to"`
	Rows []SourceRow `msgpack:"rows"`
}

// Len returns the number of cached rows
func (r *AncillaryRecord) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}

// Tabular column names
const (
	ColumnCode      = "code"
	ColumnName      = "name"
	ColumnTag       = "tag"
	ColumnTime      = "time"
	ColumnData      = "data"
	ColumnUnits     = "units"
	ColumnCount     = "count"
	ColumnLatitude  = "latitude"
	ColumnLongitude = "longitude"
)

// AllColumns lists every column a TabularRow can render
var AllColumns = []string{
	ColumnCode, ColumnName, ColumnTag, ColumnTime, ColumnData,
	ColumnUnits, ColumnCount, ColumnLatitude, ColumnLongitude,
}

// DefaultFields is the column order used when none is configured
var DefaultFields = []string{ColumnCode, ColumnName, ColumnTag, ColumnTime, ColumnData, ColumnUnits}

// TabularTimeLayout is the layout of the time column
const TabularTimeLayout = "2006-01-02 15:04:05"

// TabularRow is one dam's reduced value for a timestep
type TabularRow struct {
	Code      string
	Name      string
	Tag       string
	Time      time.Time
	Data      float64
	Units     string
	Count     int
	Latitude  *float64
	Longitude *float64
}

// Field renders the named column of the row
func (r TabularRow) Field(name string) (string, bool) {
	switch name {
	case ColumnCode:
		return r.Code, true
	case ColumnName:
		return r.Name, true
	case ColumnTag:
		return r.Tag, true
	case ColumnTime:
		return r.Time.UTC().Format(TabularTimeLayout), true
	case ColumnData:
		return strconv.FormatFloat(r.Data, 'f', -1, 64), true
	case ColumnUnits:
		return r.Units, true
	case ColumnCount:
		return strconv.Itoa(r.Count), true
	case ColumnLatitude:
		return formatOptional(r.Latitude), true
	case ColumnLongitude:
		return formatOptional(r.Longitude), true
	}
	return "", false
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// TabularRecord is the per-timestep table written to the tabular destination
type TabularRecord struct {
	Columns []string
	Rows    [][]string
}

// Len returns the number of rows
func (t *TabularRecord) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// ColumnIndex returns the position of a column or -1
func (t *TabularRecord) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// NewTabularRecord renders rows into a table holding every known column
func NewTabularRecord(rows []TabularRow) *TabularRecord {
	record := &TabularRecord{
		Columns: append([]string(nil), AllColumns...),
		Rows:    make([][]string, 0, len(rows)),
	}

	for _, row := range rows {
		cells := make([]string, len(AllColumns))
		for i, column := range AllColumns {
			cells[i], _ = row.Field(column)
		}
		record.Rows = append(record.Rows, cells)
	}

	return record
}

// Reorder returns a copy restricted to fields, in that order. Columns not
// listed are dropped; a listed column the record lacks is an error.
func (t *TabularRecord) Reorder(fields []string) (*TabularRecord, error) {
	index := make([]int, len(fields))
	for i, field := range fields {
		index[i] = t.ColumnIndex(field)
		if index[i] < 0 {
			return nil, &ValidationError{
				Field:   "fields",
				Value:   field,
				Message: fmt.Sprintf("expected column %q is missing from the tabular record", field),
			}
		}
	}

	ordered := &TabularRecord{
		Columns: append([]string(nil), fields...),
		Rows:    make([][]string, 0, len(t.Rows)),
	}
	for _, row := range t.Rows {
		cells := make([]string, len(index))
		for i, src := range index {
			cells[i] = row[src]
		}
		ordered.Rows = append(ordered.Rows, cells)
	}

	return ordered, nil
}

// SeriesPoint is one reading in a structured entry
type SeriesPoint struct {
	DateTime string `json:"dateTime"`
	Value    string `json:"value"`
}

// StructuredEntry is the per-site object of the structured destination
type StructuredEntry struct {
	SectionID string        `json:"sectionId"`
	Serie     []SeriesPoint `json:"serie"`
}
