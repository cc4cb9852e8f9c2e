package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"dams-sync/internal/models"
	"dams-sync/internal/repository"
	"dams-sync/pkg/logging"
	"dams-sync/pkg/metrics"
	"dams-sync/pkg/objectfile"
)

// AncillaryService fetches raw observations per variable and timestep and
// caches them in the ancillary files
type AncillaryService struct {
	repo    repository.ObservationRepository
	logger  *logging.ContextLogger
	metrics *metrics.Collector
}

// NewAncillaryService creates a new ancillary service
func NewAncillaryService(repo repository.ObservationRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *AncillaryService {
	return &AncillaryService{
		repo:    repo,
		logger:  logger.WithFields(logging.Fields{"stage": StageAncillary}),
		metrics: metricsCollector,
	}
}

// Run visits every (variable, timestep) unit of plan. A unit whose ancillary
// and destination files both exist aborts the run with a
// *models.PipelineInvariantError.
func (s *AncillaryService) Run(ctx context.Context, plan *Plan, flags models.RunFlags) (*StageReport, error) {
	report := NewStageReport(StageAncillary)

	s.logger.Info(ctx, "[ANC_START] Download datasets", logging.Fields{
		"variables":        len(plan.Variables),
		"time_steps":       len(plan.Window),
		"update_ancillary": flags.UpdateAncillary,
		"update_dest":      flags.UpdateDestination,
	})

	for _, variable := range plan.Variables {
		vctx := logging.WithVariable(ctx, variable.Name)

		if !variable.Enabled() {
			s.logger.Info(vctx, "[ANC_SKIP_VARIABLE] Variable tag is null", logging.Fields{})
			s.recordUnits(report, models.StatusDisabled, len(plan.Window))
			continue
		}
		if !variable.Download {
			s.logger.Info(vctx, "[ANC_SKIP_VARIABLE] Variable downloading is not activated", logging.Fields{})
			s.recordUnits(report, models.StatusDisabled, len(plan.Window))
			continue
		}

		ancPaths, dstPaths := plan.Ancillary[variable.Name], plan.Tabular[variable.Name]
		if len(ancPaths) != len(plan.Window) || len(dstPaths) != len(plan.Window) {
			return report, fmt.Errorf("paths of variable %s are not aligned with the time window", variable.Name)
		}

		for i, step := range plan.Window {
			if err := ctx.Err(); err != nil {
				return report, err
			}

			status, err := s.processUnit(vctx, variable, step, ancPaths[i], dstPaths[i], flags)
			if err != nil {
				return report, err
			}
			s.recordUnits(report, status, 1)
		}

		s.logger.Info(vctx, "[ANC_VARIABLE_DONE] Variable downloaded", logging.Fields{})
	}

	s.logger.Info(ctx, "[ANC_COMPLETE] Download datasets completed", logging.Fields{
		"fetched":       report.Count(models.StatusFetched),
		"skipped_empty": report.Count(models.StatusSkippedEmpty),
		"transformed":   report.Count(models.StatusTransformed),
	})

	return report, nil
}

func (s *AncillaryService) recordUnits(report *StageReport, status models.UnitStatus, n int) {
	report.add(status, n)
	for i := 0; i < n; i++ {
		s.metrics.RecordUnit(StageAncillary, status.String())
	}
}

func (s *AncillaryService) processUnit(ctx context.Context, variable models.VariableSpec, step time.Time,
	ancPath, dstPath string, flags models.RunFlags) (models.UnitStatus, error) {

	fields := logging.Fields{
		"time_step":      step.Format(time.RFC3339),
		"ancillary_path": ancPath,
	}

	if flags.UpdateAncillary {
		removed, err := removeIfExists(ancPath)
		if err != nil {
			return models.StatusPending, err
		}
		if removed {
			s.metrics.RecordFileRemoved(RoleAncillary)
		}
	}
	if flags.UpdateDestination {
		removed, err := removeIfExists(dstPath)
		if err != nil {
			return models.StatusPending, err
		}
		if removed {
			s.metrics.RecordFileRemoved(RoleTabular)
		}
	}

	ancExists, err := fileExists(ancPath)
	if err != nil {
		return models.StatusPending, err
	}
	dstExists, err := fileExists(dstPath)
	if err != nil {
		return models.StatusPending, err
	}

	switch status := models.StatusFromFiles(ancExists, dstExists); status {
	case models.StatusPending:
		return s.fetch(ctx, variable, step, ancPath, fields)

	case models.StatusFetched:
		s.logger.Info(ctx, "[ANC_SKIP] Ancillary file already exists", fields)
		return status, nil

	case models.StatusTransformed:
		s.logger.Info(ctx, "[ANC_SKIP] Destination file already exists", fields)
		return status, nil

	default:
		fields["destination_path"] = dstPath
		s.logger.Error(ctx, "[ANC_INVARIANT] Ancillary and destination files both exist", fields, nil)
		s.metrics.RecordUnit(StageAncillary, models.StatusConflict.String())
		return status, &models.PipelineInvariantError{
			Variable:      variable.Name,
			TimeStep:      step.Format(time.RFC3339),
			AncillaryPath: ancPath,
			DestPath:      dstPath,
		}
	}
}

func (s *AncillaryService) fetch(ctx context.Context, variable models.VariableSpec, step time.Time,
	ancPath string, fields logging.Fields) (models.UnitStatus, error) {

	tag := variable.SourceTag()
	from, to := QueryWindow(step, variable.TimeMode)

	rows, err := s.repo.GetObservations(ctx, tag, from, to)
	if err != nil {
		return models.StatusPending, fmt.Errorf("query %s for %s: %w", tag, step.Format(time.RFC3339), err)
	}

	if len(rows) == 0 {
		s.logger.Info(ctx, "[ANC_EMPTY] Database request received an empty dataset", fields)
		return models.StatusSkippedEmpty, nil
	}

	if err := os.MkdirAll(filepath.Dir(ancPath), 0o755); err != nil {
		return models.StatusPending, fmt.Errorf("create ancillary folder: %w", err)
	}

	record := &models.AncillaryRecord{Tag: tag, From: from, To: to, Rows: rows}
	if err := objectfile.Write(ancPath, record); err != nil {
		return models.StatusPending, err
	}
	s.metrics.RecordFileWritten(RoleAncillary)

	fields["rows"] = len(rows)
	s.logger.Info(ctx, "[ANC_FETCH] Time step downloaded", fields)

	return models.StatusFetched, nil
}
