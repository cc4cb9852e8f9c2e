package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"dams-sync/internal/export"
	"dams-sync/internal/models"
	"dams-sync/internal/repository"
	"dams-sync/pkg/logging"
	"dams-sync/pkg/metrics"
	"dams-sync/pkg/objectfile"
)

// TransformService turns cached ancillary payloads into destination files
type TransformService struct {
	registry *repository.DamRegistry
	logger   *logging.ContextLogger
	metrics  *metrics.Collector
}

// NewTransformService creates a new transform service. registry may be nil.
func NewTransformService(registry *repository.DamRegistry, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *TransformService {
	return &TransformService{
		registry: registry,
		logger:   logger.WithFields(logging.Fields{"stage": StageTransform}),
		metrics:  metricsCollector,
	}
}

type unitPaths struct {
	ancillary  string
	tabular    string
	structured string
}

// Run visits every (variable, timestep) unit of plan and writes the
// destination files of the units that are fetched but not yet transformed.
func (s *TransformService) Run(ctx context.Context, plan *Plan, flags models.RunFlags) (*StageReport, error) {
	report := NewStageReport(StageTransform)

	s.logger.Info(ctx, "[TRANSFORM_START] Organize datasets", logging.Fields{
		"variables":   len(plan.Variables),
		"time_steps":  len(plan.Window),
		"tabular":     plan.Output.Tabular,
		"structured":  plan.Output.Structured,
		"update_dest": flags.UpdateDestination,
	})

	for _, variable := range plan.Variables {
		vctx := logging.WithVariable(ctx, variable.Name)

		if !variable.Enabled() {
			s.logger.Info(vctx, "[TRANSFORM_SKIP_VARIABLE] Variable tag is null", logging.Fields{})
			s.recordUnits(report, models.StatusDisabled, len(plan.Window))
			continue
		}

		for i, step := range plan.Window {
			if err := ctx.Err(); err != nil {
				return report, err
			}

			paths, err := plan.unitPaths(variable.Name, i)
			if err != nil {
				return report, err
			}

			status, err := s.processUnit(vctx, plan, variable, step, paths, flags)
			if err != nil {
				return report, fmt.Errorf("transform %s at %s: %w", variable.Name, step.Format(time.RFC3339), err)
			}
			s.recordUnits(report, status, 1)
		}

		s.logger.Info(vctx, "[TRANSFORM_VARIABLE_DONE] Variable organized", logging.Fields{})
	}

	s.logger.Info(ctx, "[TRANSFORM_COMPLETE] Organize datasets completed", logging.Fields{
		"transformed":      report.Count(models.StatusTransformed),
		"skipped_empty":    report.Count(models.StatusSkippedEmpty),
		"skipped_filtered": report.Count(models.StatusSkippedFiltered),
	})

	return report, nil
}

func (s *TransformService) recordUnits(report *StageReport, status models.UnitStatus, n int) {
	report.add(status, n)
	for i := 0; i < n; i++ {
		s.metrics.RecordUnit(StageTransform, status.String())
	}
}

func (s *TransformService) processUnit(ctx context.Context, plan *Plan, variable models.VariableSpec, step time.Time,
	paths unitPaths, flags models.RunFlags) (models.UnitStatus, error) {

	fields := logging.Fields{
		"time_step":    step.Format(time.RFC3339),
		"tabular_path": paths.tabular,
	}

	if flags.UpdateDestination {
		removed, err := removeIfExists(paths.tabular)
		if err != nil {
			return models.StatusFetched, err
		}
		if removed {
			s.metrics.RecordFileRemoved(RoleTabular)
		}
	}

	ancExists, err := fileExists(paths.ancillary)
	if err != nil {
		return models.StatusPending, err
	}
	dstExists, err := fileExists(paths.tabular)
	if err != nil {
		return models.StatusPending, err
	}

	switch status := models.StatusFromFiles(ancExists, dstExists); status {
	case models.StatusFetched:
		return s.transform(ctx, plan, variable, step, paths, fields)

	case models.StatusTransformed:
		s.logger.Info(ctx, "[TRANSFORM_SKIP] Destination file already exists", fields)
		return status, nil

	case models.StatusPending:
		s.logger.Info(ctx, "[TRANSFORM_SKIP] Variable is not activated or source dataset is empty", fields)
		return status, nil

	default:
		// Both files present: the destination was kept from an earlier run
		// and the ancillary file is waiting for cleanup.
		s.logger.Warn(ctx, "[TRANSFORM_SKIP] Destination file already exists next to its ancillary file", fields)
		return models.StatusTransformed, nil
	}
}

func (s *TransformService) transform(ctx context.Context, plan *Plan, variable models.VariableSpec, step time.Time,
	paths unitPaths, fields logging.Fields) (models.UnitStatus, error) {

	var record models.AncillaryRecord
	if err := objectfile.Read(paths.ancillary, &record); err != nil {
		return models.StatusFetched, err
	}

	if record.Len() == 0 {
		s.logger.Warn(ctx, "[TRANSFORM_EMPTY] Data downloaded from database source is null", fields)
		return models.StatusSkippedEmpty, nil
	}

	rows, stats := ReduceObservations(step, record.Rows, variable, s.registry)
	if stats.Dropped() > 0 {
		s.logger.Debug(ctx, "[TRANSFORM_FILTER] Dams dropped by filters", logging.Fields{
			"time_step":       step.Format(time.RFC3339),
			"below_min_count": stats.BelowMinCount,
			"out_of_range":    stats.OutOfRange,
			"unregistered":    stats.Unregistered,
		})
	}
	if len(rows) == 0 {
		s.logger.Info(ctx, "[TRANSFORM_FILTERED] Dataset is null due to the application of filters", fields)
		return models.StatusSkippedFiltered, nil
	}

	table, err := models.NewTabularRecord(rows).Reorder(plan.Output.Fields)
	if err != nil {
		return models.StatusFetched, err
	}

	if plan.Output.Tabular {
		if err := os.MkdirAll(filepath.Dir(paths.tabular), 0o755); err != nil {
			return models.StatusFetched, fmt.Errorf("create tabular folder: %w", err)
		}
		if err := export.WriteTabular(paths.tabular, table); err != nil {
			return models.StatusFetched, err
		}
		s.metrics.RecordFileWritten(RoleTabular)
		s.logger.Info(ctx, "[TRANSFORM_WRITE_CSV] Saving dams data to csv file", fields)
	}

	if plan.Output.Structured {
		entries, err := export.ToStructured(table)
		if err != nil {
			return models.StatusFetched, err
		}
		if err := os.MkdirAll(filepath.Dir(paths.structured), 0o755); err != nil {
			return models.StatusFetched, fmt.Errorf("create structured folder: %w", err)
		}
		if err := export.WriteStructured(paths.structured, entries); err != nil {
			return models.StatusFetched, err
		}
		s.metrics.RecordFileWritten(RoleStructured)
		s.logger.Info(ctx, "[TRANSFORM_WRITE_JSON] Saving dams data to json file", logging.Fields{
			"time_step":       step.Format(time.RFC3339),
			"structured_path": paths.structured,
			"sections":        len(entries),
		})
	}

	return models.StatusTransformed, nil
}
