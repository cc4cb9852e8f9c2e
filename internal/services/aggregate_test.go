package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dams-sync/internal/models"
	"dams-sync/internal/repository"
)

func TestReduceObservations_Filters(t *testing.T) {
	step := ts("2021-11-16 08:00")
	variable := models.VariableSpec{
		Name:        "dams_level",
		Tag:         strPtr("LIV"),
		TimeMode:    models.TimeModeHourly,
		Units:       "m",
		ValidRange:  models.ValueRange{Min: 0, Max: 40},
		MinCount:    2,
		ScaleFactor: 2,
	}
	rows := []models.SourceRow{
		{DamCode: "D1", ObservedAt: ts("2021-11-16 07:10"), Value: 10},
		{DamCode: "D1", ObservedAt: ts("2021-11-16 07:40"), Value: 20},
		{DamCode: "D2", ObservedAt: ts("2021-11-16 07:40"), Value: 5},
		{DamCode: "D3", ObservedAt: ts("2021-11-16 07:10"), Value: 100},
		{DamCode: "D3", ObservedAt: ts("2021-11-16 07:40"), Value: 100},
	}

	out, stats := ReduceObservations(step, rows, variable, nil)

	// D1: mean 15 scaled once to 30, inside [0, 40]
	require.Len(t, out, 1)
	assert.Equal(t, "D1", out[0].Code)
	assert.Equal(t, "D1", out[0].Name)
	assert.Equal(t, 30.0, out[0].Data)
	assert.Equal(t, 2, out[0].Count)
	assert.Equal(t, "LIV", out[0].Tag)
	assert.Equal(t, "m", out[0].Units)
	assert.Equal(t, step, out[0].Time)

	assert.Equal(t, FilterStats{BelowMinCount: 1, OutOfRange: 1}, stats)
	assert.Equal(t, 2, stats.Dropped())
}

func TestReduceObservations_InstantaneousKeepsLatest(t *testing.T) {
	variable := models.VariableSpec{Tag: strPtr("LIV"), TimeMode: models.TimeModeInstantaneous, ValidRange: anyRange, ScaleFactor: 1}
	rows := []models.SourceRow{
		{DamCode: "D1", ObservedAt: ts("2021-11-16 07:50"), Value: 3},
		{DamCode: "D1", ObservedAt: ts("2021-11-16 07:10"), Value: 1},
		{DamCode: "D1", ObservedAt: ts("2021-11-16 07:30"), Value: 2},
	}

	out, _ := ReduceObservations(ts("2021-11-16 08:00"), rows, variable, nil)

	require.Len(t, out, 1)
	assert.Equal(t, 3.0, out[0].Data)
	assert.Equal(t, 3, out[0].Count)
}

func TestReduceObservations_Registry(t *testing.T) {
	registry := repository.NewDamRegistry([]models.Dam{
		{Code: "D1", Name: "Ridracoli", Latitude: 43.88, Longitude: 11.83},
	})
	variable := models.VariableSpec{Tag: strPtr("LIV"), TimeMode: models.TimeModeInstantaneous, ValidRange: anyRange, ScaleFactor: 1}
	rows := []models.SourceRow{
		{DamCode: "D1", ObservedAt: ts("2021-11-16 07:50"), Value: 3},
		{DamCode: "D9", ObservedAt: ts("2021-11-16 07:50"), Value: 4},
	}

	out, stats := ReduceObservations(ts("2021-11-16 08:00"), rows, variable, registry)

	require.Len(t, out, 1)
	assert.Equal(t, "Ridracoli", out[0].Name)
	require.NotNil(t, out[0].Latitude)
	assert.Equal(t, 43.88, *out[0].Latitude)
	assert.Equal(t, 1, stats.Unregistered)
}

func TestReduceObservations_AllFiltered(t *testing.T) {
	variable := models.VariableSpec{Tag: strPtr("LIV"), TimeMode: models.TimeModeInstantaneous,
		ValidRange: models.ValueRange{Min: 0, Max: 1}, ScaleFactor: 1}
	rows := []models.SourceRow{{DamCode: "D1", ObservedAt: ts("2021-11-16 07:50"), Value: 3}}

	out, stats := ReduceObservations(ts("2021-11-16 08:00"), rows, variable, nil)

	assert.Empty(t, out)
	assert.Equal(t, 1, stats.OutOfRange)
}
