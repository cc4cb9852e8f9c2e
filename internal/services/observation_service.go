package services

import (
	"context"
	"fmt"
	"time"

	"dams-sync/internal/models"
	"dams-sync/internal/repository"
	"dams-sync/pkg/logging"
	"dams-sync/pkg/metrics"
)

// MaxObservationSpan bounds the range a single observation query may cover
const MaxObservationSpan = 31 * 24 * time.Hour

// ObservationService exposes read access to the source observations
type ObservationService struct {
	repo     repository.ObservationRepository
	registry *repository.DamRegistry
	logger   *logging.StructuredLogger
	metrics  *metrics.Collector
}

// NewObservationService creates a new observation service
func NewObservationService(repo repository.ObservationRepository, registry *repository.DamRegistry,
	logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *ObservationService {
	return &ObservationService{
		repo:     repo,
		registry: registry,
		logger:   logger,
		metrics:  metricsCollector,
	}
}

// GetObservations returns the raw rows recorded under tag within [from, to]
func (s *ObservationService) GetObservations(ctx context.Context, tag string, from, to time.Time) ([]models.SourceRow, error) {
	if tag == "" {
		return nil, &models.ValidationError{Field: "tag", Message: "tag is required"}
	}
	if to.Before(from) {
		return nil, &models.ValidationError{Field: "to", Value: to.Format(time.RFC3339), Message: "to must not precede from"}
	}
	if to.Sub(from) > MaxObservationSpan {
		return nil, &models.ValidationError{
			Field:   "from",
			Value:   from.Format(time.RFC3339),
			Message: fmt.Sprintf("range exceeds %s", MaxObservationSpan),
		}
	}
	return s.repo.GetObservations(ctx, tag, from.UTC(), to.UTC())
}

// GetDams returns the registered dams, in registry order
func (s *ObservationService) GetDams() []models.Dam {
	return s.registry.Dams()
}

// HealthCheck reports whether the source database is reachable
func (s *ObservationService) HealthCheck(ctx context.Context) error {
	return s.repo.HealthCheck(ctx)
}
