package repository

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"dams-sync/internal/models"
)

// DamRegistry is the static collection of monitored dams, keyed by code
type DamRegistry struct {
	dams  map[string]models.Dam
	order []string
}

// NewDamRegistry builds a registry from dams, keeping the first entry of a
// duplicated code
func NewDamRegistry(dams []models.Dam) *DamRegistry {
	r := &DamRegistry{dams: make(map[string]models.Dam, len(dams))}
	for _, dam := range dams {
		if _, ok := r.dams[dam.Code]; ok {
			continue
		}
		r.dams[dam.Code] = dam
		r.order = append(r.order, dam.Code)
	}
	return r
}

// Lookup returns the dam registered under code
func (r *DamRegistry) Lookup(code string) (models.Dam, bool) {
	if r == nil {
		return models.Dam{}, false
	}
	dam, ok := r.dams[code]
	return dam, ok
}

// Len returns the number of registered dams
func (r *DamRegistry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.order)
}

// Dams returns the registered dams in file order
func (r *DamRegistry) Dams() []models.Dam {
	out := make([]models.Dam, 0, r.Len())
	if r == nil {
		return out
	}
	for _, code := range r.order {
		out = append(out, r.dams[code])
	}
	return out
}

// LoadDamRegistry reads a comma separated registry with a header row holding
// at least the code, name, latitude and longitude columns.
func LoadDamRegistry(path string) (*DamRegistry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dam registry: %w", err)
	}
	defer file.Close()

	return ReadDamRegistry(file)
}

// ReadDamRegistry parses a registry from r
func ReadDamRegistry(r io.Reader) (*DamRegistry, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read dam registry header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"code", "name", "latitude", "longitude"} {
		if _, ok := index[required]; !ok {
			return nil, &models.ValidationError{
				Field:   "registry",
				Value:   required,
				Message: fmt.Sprintf("dam registry is missing the %q column", required),
			}
		}
	}

	var dams []models.Dam
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read dam registry line %d: %w", line, err)
		}

		lat, err := strconv.ParseFloat(strings.TrimSpace(record[index["latitude"]]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid latitude on dam registry line %d: %w", line, err)
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(record[index["longitude"]]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid longitude on dam registry line %d: %w", line, err)
		}

		dams = append(dams, models.Dam{
			Code:      strings.TrimSpace(record[index["code"]]),
			Name:      strings.TrimSpace(record[index["name"]]),
			Latitude:  lat,
			Longitude: lon,
		})
	}

	return NewDamRegistry(dams), nil
}
