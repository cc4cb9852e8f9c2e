package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"dams-sync/internal/config"
	"dams-sync/internal/models"
	"dams-sync/internal/repository"
	"dams-sync/pkg/logging"
	"dams-sync/pkg/metrics"
)

// ErrRunInProgress is returned by TryRun while another run holds the roots
var ErrRunInProgress = errors.New("a synchronization run is already in progress")

// OutputOptions selects the destination formats of the transform stage
type OutputOptions struct {
	Fields     []string
	Tabular    bool
	Structured bool
}

// Plan is everything one run iterates over: the time window and the paths
// of every artifact role, resolved once and never changed afterwards.
type Plan struct {
	Window        []time.Time
	Variables     []models.VariableSpec
	Ancillary     PathSet
	Tabular       PathSet
	Structured    PathSet
	AncillaryRoot string
	Output        OutputOptions
}

// BuildPlan resolves the window ending at anchor and the paths of every role
func BuildPlan(cfg *config.Config, anchor time.Time) (*Plan, error) {
	window, err := ResolveTimeWindow(anchor, cfg.Time.Period, cfg.Time.Frequency, cfg.Time.Rounding, true)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		Window:        window,
		Variables:     cfg.Variables,
		AncillaryRoot: StaticRoot(cfg.Ancillary.Folder, cfg.Templates, cfg.Domain),
		Output: OutputOptions{
			Fields:     cfg.Tabular.Fields,
			Tabular:    cfg.Tabular.Enabled,
			Structured: cfg.Structured.Enabled,
		},
	}

	if plan.Ancillary, err = ResolvePaths(cfg.Ancillary.Folder, cfg.Ancillary.File, cfg.Templates, cfg.Domain, cfg.Variables, window); err != nil {
		return nil, fmt.Errorf("ancillary paths: %w", err)
	}
	if plan.Tabular, err = ResolvePaths(cfg.Tabular.Folder, cfg.Tabular.File, cfg.Templates, cfg.Domain, cfg.Variables, window); err != nil {
		return nil, fmt.Errorf("tabular paths: %w", err)
	}
	if cfg.Structured.Folder != "" {
		if plan.Structured, err = ResolvePaths(cfg.Structured.Folder, cfg.Structured.File, cfg.Templates, cfg.Domain, cfg.Variables, window); err != nil {
			return nil, fmt.Errorf("structured paths: %w", err)
		}
	}

	if err := plan.checkDestinations(cfg); err != nil {
		return nil, err
	}

	return plan, nil
}

// checkDestinations rejects destinations that the ancillary cleanup would
// wipe: a folder whose static root is the ancillary root or lies below it,
// or any resolved destination path under the ancillary root.
func (p *Plan) checkDestinations(cfg *config.Config) error {
	roles := []struct {
		field  string
		active bool
		folder string
		paths  PathSet
	}{
		{"destination.csv.folder_name", p.Output.Tabular, cfg.Tabular.Folder, p.Tabular},
		{"destination.json.folder_name", p.Output.Structured, cfg.Structured.Folder, p.Structured},
	}

	for _, role := range roles {
		if !role.active {
			continue
		}
		if root := StaticRoot(role.folder, cfg.Templates, cfg.Domain); within(root, p.AncillaryRoot) {
			return &models.ConfigurationError{
				Field:   role.field,
				Message: fmt.Sprintf("destination root %s is inside the ancillary root %s", root, p.AncillaryRoot),
			}
		}
		for _, paths := range role.paths {
			for _, path := range paths {
				if within(path, p.AncillaryRoot) {
					return &models.ConfigurationError{
						Field:   role.field,
						Message: fmt.Sprintf("destination %s is inside the ancillary root %s", path, p.AncillaryRoot),
					}
				}
			}
		}
	}
	return nil
}

func (p *Plan) unitPaths(variable string, i int) (unitPaths, error) {
	var (
		paths unitPaths
		ok    bool
	)
	if paths.ancillary, ok = p.Ancillary.Path(variable, i); !ok {
		return paths, fmt.Errorf("no ancillary path for %s at step %d", variable, i)
	}
	if paths.tabular, ok = p.Tabular.Path(variable, i); !ok {
		return paths, fmt.Errorf("no tabular path for %s at step %d", variable, i)
	}
	if p.Output.Structured {
		if paths.structured, ok = p.Structured.Path(variable, i); !ok {
			return paths, fmt.Errorf("no structured path for %s at step %d", variable, i)
		}
	}
	return paths, nil
}

// SyncService drives the ancillary, transform and cleanup stages. Runs are
// serialized: at most one run touches the ancillary and destination roots at
// a time within the process.
type SyncService struct {
	cfg       *config.Config
	ancillary *AncillaryService
	transform *TransformService
	cleanup   *CleanupService
	logger    *logging.StructuredLogger
	metrics   *metrics.Collector

	runMu sync.Mutex

	mu   sync.RWMutex
	last *RunReport
}

// NewSyncService creates a new sync service
func NewSyncService(cfg *config.Config, repo repository.ObservationRepository, registry *repository.DamRegistry,
	logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *SyncService {
	return &SyncService{
		cfg:       cfg,
		ancillary: NewAncillaryService(repo, logger, metricsCollector),
		transform: NewTransformService(registry, logger, metricsCollector),
		cleanup:   NewCleanupService(logger, metricsCollector),
		logger:    logger,
		metrics:   metricsCollector,
	}
}

// Run waits for any run in progress, then synchronizes the window ending at
// anchor. The report is returned even when the run fails.
func (s *SyncService) Run(ctx context.Context, anchor time.Time) (*RunReport, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.run(ctx, anchor)
}

// TryRun is Run without waiting: it fails with ErrRunInProgress when another
// run is active.
func (s *SyncService) TryRun(ctx context.Context, anchor time.Time) (*RunReport, error) {
	if !s.runMu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer s.runMu.Unlock()
	return s.run(ctx, anchor)
}

// LastReport returns the report of the latest finished run, or nil
func (s *SyncService) LastReport() *RunReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

func (s *SyncService) run(ctx context.Context, anchor time.Time) (*RunReport, error) {
	report := &RunReport{
		RunID:     uuid.NewString(),
		Anchor:    anchor.UTC(),
		StartedAt: time.Now().UTC(),
	}
	ctx = logging.WithRunID(ctx, report.RunID)
	flags := s.cfg.Flags

	s.logger.Info(ctx, "[SYNC_START] Synchronization run started", logging.Fields{
		"anchor": report.Anchor.Format(time.RFC3339),
		"domain": s.cfg.Domain,
	})

	timer := s.metrics.NewTimer(s.metrics.RunDuration)
	err := s.stages(ctx, anchor, flags, report)
	s.finish(ctx, report, timer, err)

	return report, err
}

func (s *SyncService) stages(ctx context.Context, anchor time.Time, flags models.RunFlags, report *RunReport) error {
	plan, err := BuildPlan(s.cfg, anchor)
	if err != nil {
		return err
	}
	report.Window = plan.Window

	if report.Ancillary, err = s.ancillary.Run(ctx, plan, flags); err != nil {
		return err
	}
	if report.Transform, err = s.transform.Run(ctx, plan, flags); err != nil {
		return err
	}
	if report.Cleanup, err = s.cleanup.Run(ctx, plan.Ancillary, plan.AncillaryRoot, flags); err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	return nil
}

func (s *SyncService) finish(ctx context.Context, report *RunReport, timer *metrics.Timer, err error) {
	elapsed := timer.ObserveDuration()
	report.FinishedAt = time.Now().UTC()
	report.Duration = elapsed.String()
	report.Result = ResultSuccess

	if err != nil {
		report.Result = ResultFailed
		report.Error = err.Error()

		var invariantErr *models.PipelineInvariantError
		if errors.As(err, &invariantErr) {
			s.logger.Error(ctx, "[SYNC_DEFECT] Pipeline invariant violated, run aborted", logging.Fields{
				"variable":  invariantErr.Variable,
				"time_step": invariantErr.TimeStep,
			}, err)
		} else {
			s.logger.Error(ctx, "[SYNC_ERROR] Synchronization run failed", logging.Fields{
				"duration_ms": elapsed.Milliseconds(),
			}, err)
		}
	} else {
		s.logger.Info(ctx, "[SYNC_COMPLETE] Synchronization run completed", logging.Fields{
			"duration_ms": elapsed.Milliseconds(),
			"fetched":     report.Ancillary.Count(models.StatusFetched),
			"transformed": report.Transform.Count(models.StatusTransformed),
		})
	}

	s.metrics.RecordRun(report.Result)

	s.mu.Lock()
	s.last = report
	s.mu.Unlock()
}
