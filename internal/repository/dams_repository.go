package repository

import (
	"context"
	"fmt"
	"time"

	"dams-sync/internal/models"
	"dams-sync/pkg/database"
	"dams-sync/pkg/logging"
	"dams-sync/pkg/metrics"
)

// ObservationRepository provides data access for dam observations
type ObservationRepository interface {
	// GetObservations returns the rows recorded for tag inside [from, to],
	// ordered by dam code and observation time. No rows is not an error.
	GetObservations(ctx context.Context, tag string, from, to time.Time) ([]models.SourceRow, error)

	// CreateObservationsBatch upserts rows for tag in a single transaction
	CreateObservationsBatch(ctx context.Context, tag string, rows []models.SourceRow) error

	HealthCheck(ctx context.Context) error
}

// observationRepository implements ObservationRepository
type observationRepository struct {
	db      *database.DB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewObservationRepository creates a new observation repository
func NewObservationRepository(db *database.DB, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) ObservationRepository {
	return &observationRepository{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// GetObservations retrieves the observations of one variable tag in a time range
func (r *observationRepository) GetObservations(ctx context.Context, tag string, from, to time.Time) ([]models.SourceRow, error) {
	query := `
		SELECT dam_code, observed_at, value
		FROM dam_observations
		WHERE variable_tag = ?
		  AND observed_at BETWEEN ? AND ?
		ORDER BY dam_code, observed_at
	`

	var rows []models.SourceRow
	err := r.db.SelectContext(ctx, "get_observations", &rows, query, tag, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to get observations for tag %s: %w", tag, err)
	}

	for i := range rows {
		rows[i].ObservedAt = rows[i].ObservedAt.UTC()
	}
	r.metrics.DBRowsFetched.Add(float64(len(rows)))

	r.logger.Debug(ctx, "[REPO_GET_OBSERVATIONS] Observations fetched", logging.Fields{
		"tag":       tag,
		"time_from": from.UTC().Format(time.RFC3339),
		"time_to":   to.UTC().Format(time.RFC3339),
		"rows":      len(rows),
	})

	return rows, nil
}

// CreateObservationsBatch creates or updates multiple observations in a single transaction
func (r *observationRepository) CreateObservationsBatch(ctx context.Context, tag string, rows []models.SourceRow) error {
	if len(rows) == 0 {
		return nil
	}

	timer := time.Now()
	defer func() {
		r.logger.Debug(ctx, "[REPO_BATCH_INSERT] Batch insert completed", logging.Fields{
			"tag":         tag,
			"count":       len(rows),
			"duration_ms": time.Since(timer).Milliseconds(),
		})
	}()

	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, tx.Rebind(`
		INSERT INTO dam_observations (variable_tag, dam_code, observed_at, value)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (variable_tag, dam_code, observed_at) DO UPDATE SET
			value = excluded.value
	`))
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, tag, row.DamCode, row.ObservedAt.UTC(), row.Value); err != nil {
			return fmt.Errorf("failed to insert observation: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.metrics.IngestionRecordsTotal.Add(float64(len(rows)))

	return nil
}

// HealthCheck performs a repository health check
func (r *observationRepository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}
