package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"dams-sync/internal/models"
	"dams-sync/pkg/logging"
	"dams-sync/pkg/metrics"
)

// CleanupService removes ancillary files and folders once a run is over
type CleanupService struct {
	logger  *logging.ContextLogger
	metrics *metrics.Collector
}

// NewCleanupService creates a new cleanup service
func NewCleanupService(logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *CleanupService {
	return &CleanupService{
		logger:  logger.WithFields(logging.Fields{"stage": StageCleanup}),
		metrics: metricsCollector,
	}
}

// Run deletes every known ancillary file and its folder when left empty,
// then clears and removes every immediate subdirectory of root, including
// content this run did not write. root itself is kept.
func (s *CleanupService) Run(ctx context.Context, paths PathSet, root string, flags models.RunFlags) (*CleanupReport, error) {
	report := &CleanupReport{}

	if !flags.CleanAncillary {
		report.Skipped = true
		s.logger.Info(ctx, "[CLEANUP_SKIP] Ancillary cleaning is not activated", logging.Fields{})
		return report, nil
	}

	root = filepath.Clean(root)
	if root == "." || root == string(filepath.Separator) || root == "" {
		return report, fmt.Errorf("refusing to clear ancillary root %q", root)
	}

	if err := s.removeKnownFiles(ctx, paths, root, report); err != nil {
		return report, err
	}
	if err := s.clearSubdirectories(ctx, root, report); err != nil {
		return report, err
	}

	s.logger.Info(ctx, "[CLEANUP_COMPLETE] Ancillary files removed", logging.Fields{
		"ancillary_root": root,
		"files_removed":  report.FilesRemoved,
		"dirs_removed":   report.DirsRemoved,
	})

	return report, nil
}

func (s *CleanupService) removeKnownFiles(ctx context.Context, paths PathSet, root string, report *CleanupReport) error {
	names := make([]string, 0, len(paths))
	for name := range paths {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		for _, path := range paths[name] {
			if err := ctx.Err(); err != nil {
				return err
			}

			removed, err := removeIfExists(path)
			if err != nil {
				return err
			}
			if removed {
				report.FilesRemoved++
				s.metrics.RecordFileRemoved(RoleAncillary)
			}

			dir := filepath.Dir(path)
			if dir == "." || filepath.Clean(dir) == root {
				continue
			}
			emptied, err := removeIfEmpty(dir)
			if err != nil {
				return err
			}
			if emptied {
				report.DirsRemoved++
			}
		}
	}
	return nil
}

func (s *CleanupService) clearSubdirectories(ctx context.Context, root string, report *CleanupReport) error {
	entries, err := os.ReadDir(root)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("list ancillary root: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		dir := filepath.Join(root, entry.Name())
		children, err := os.ReadDir(dir)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("list ancillary folder: %w", err)
		}

		for _, child := range children {
			if err := os.RemoveAll(filepath.Join(dir, child.Name())); err != nil {
				return fmt.Errorf("clear ancillary folder %s: %w", dir, err)
			}
			if child.IsDir() {
				report.DirsRemoved++
				continue
			}
			report.FilesRemoved++
			s.metrics.RecordFileRemoved(RoleAncillary)
		}

		if err := os.Remove(dir); err != nil {
			return fmt.Errorf("remove ancillary folder %s: %w", dir, err)
		}
		report.DirsRemoved++

		s.logger.Debug(ctx, "[CLEANUP_FOLDER] Ancillary folder removed", logging.Fields{
			"folder":  dir,
			"entries": len(children),
		})
	}
	return nil
}

// removeIfEmpty deletes dir when it exists and holds nothing
func removeIfEmpty(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("list %s: %w", dir, err)
	}
	if len(entries) > 0 {
		return false, nil
	}
	if err := os.Remove(dir); err != nil {
		return false, fmt.Errorf("remove %s: %w", dir, err)
	}
	return true, nil
}
