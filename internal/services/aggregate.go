package services

import (
	"time"

	"dams-sync/internal/models"
	"dams-sync/internal/repository"
)

// FilterStats counts the dams dropped while reducing a timestep
type FilterStats struct {
	BelowMinCount int
	OutOfRange    int
	Unregistered  int
}

// Dropped returns the total number of dropped dams
func (f FilterStats) Dropped() int {
	return f.BelowMinCount + f.OutOfRange + f.Unregistered
}

// ReduceObservations turns the raw rows of one timestep into one tabular row
// per dam, in order of first appearance. Instantaneous variables keep the
// latest sample, hourly and daily ones the mean. The reduced value is scaled
// once, then checked against the valid range; dams with fewer samples than
// MinCount are dropped. When registry holds dams, unknown codes are dropped
// and the known ones carry the registry name and coordinates.
func ReduceObservations(step time.Time, rows []models.SourceRow, variable models.VariableSpec,
	registry *repository.DamRegistry) ([]models.TabularRow, FilterStats) {

	type group struct {
		sum    float64
		count  int
		latest models.SourceRow
	}

	groups := make(map[string]*group)
	var order []string
	for _, row := range rows {
		g, ok := groups[row.DamCode]
		if !ok {
			g = &group{latest: row}
			groups[row.DamCode] = g
			order = append(order, row.DamCode)
		}
		g.sum += row.Value
		g.count++
		if !row.ObservedAt.Before(g.latest.ObservedAt) {
			g.latest = row
		}
	}

	var (
		out   []models.TabularRow
		stats FilterStats
	)
	for _, code := range order {
		g := groups[code]

		if g.count < variable.MinCount {
			stats.BelowMinCount++
			continue
		}

		value := g.latest.Value
		if variable.TimeMode != models.TimeModeInstantaneous {
			value = g.sum / float64(g.count)
		}
		value *= variable.ScaleFactor

		if !variable.ValidRange.Contains(value) {
			stats.OutOfRange++
			continue
		}

		row := models.TabularRow{
			Code:  code,
			Name:  code,
			Tag:   variable.SourceTag(),
			Time:  step.UTC(),
			Data:  value,
			Units: variable.Units,
			Count: g.count,
		}

		if registry.Len() > 0 {
			dam, ok := registry.Lookup(code)
			if !ok {
				stats.Unregistered++
				continue
			}
			lat, lon := dam.Latitude, dam.Longitude
			row.Name = dam.Name
			row.Latitude = &lat
			row.Longitude = &lon
		}

		out = append(out, row)
	}

	return out, stats
}
