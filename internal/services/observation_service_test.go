package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dams-sync/internal/models"
	"dams-sync/internal/repository"
)

func TestObservationService_GetObservations(t *testing.T) {
	repo := newFakeRepo()
	repo.rows["LIV"] = levelRows()
	logger, collector := testDeps()
	svc := NewObservationService(repo, nil, logger, collector)

	rows, err := svc.GetObservations(context.Background(), "LIV", ts("2021-11-16 07:00"), ts("2021-11-16 08:00"))
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Empty(t, svc.GetDams())
	assert.NoError(t, svc.HealthCheck(context.Background()))
}

func TestObservationService_RejectsBadRanges(t *testing.T) {
	logger, collector := testDeps()
	svc := NewObservationService(newFakeRepo(), nil, logger, collector)
	from := ts("2021-11-16 00:00")

	tests := []struct {
		name  string
		tag   string
		to    time.Time
		field string
	}{
		{"missing tag", "", from.Add(time.Hour), "tag"},
		{"reversed", "LIV", from.Add(-time.Hour), "to"},
		{"too wide", "LIV", from.Add(MaxObservationSpan + time.Hour), "from"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.GetObservations(context.Background(), tt.tag, from, tt.to)
			var vErr *models.ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
		})
	}
}

func TestObservationService_Dams(t *testing.T) {
	registry := repository.NewDamRegistry([]models.Dam{{Code: "D2", Name: "Bilancino"}, {Code: "D1", Name: "Ridracoli"}})
	logger, collector := testDeps()
	svc := NewObservationService(newFakeRepo(), registry, logger, collector)

	dams := svc.GetDams()
	require.Len(t, dams, 2)
	assert.Equal(t, "D2", dams[0].Code)
}
