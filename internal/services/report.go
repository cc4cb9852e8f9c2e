package services

import (
	"errors"
	"fmt"
	"os"
	"time"

	"dams-sync/internal/models"
)

// Stage names used in logs, metrics and reports
const (
	StageAncillary = "ancillary"
	StageTransform = "transform"
	StageCleanup   = "cleanup"
)

// File roles used for the written/removed file metrics
const (
	RoleAncillary  = "ancillary"
	RoleTabular    = "tabular"
	RoleStructured = "structured"
)

// Run results
const (
	ResultSuccess = "success"
	ResultFailed  = "failed"
)

// StageReport counts the final status of every unit a stage visited
type StageReport struct {
	Stage string                    `json:"stage"`
	Units map[models.UnitStatus]int `json:"units"`
}

// NewStageReport creates an empty report for stage
func NewStageReport(stage string) *StageReport {
	return &StageReport{Stage: stage, Units: make(map[models.UnitStatus]int)}
}

func (r *StageReport) add(status models.UnitStatus, n int) {
	if n > 0 {
		r.Units[status] += n
	}
}

// Count returns the number of units that ended in status
func (r *StageReport) Count(status models.UnitStatus) int {
	if r == nil {
		return 0
	}
	return r.Units[status]
}

// Total returns the number of units visited
func (r *StageReport) Total() int {
	if r == nil {
		return 0
	}
	total := 0
	for _, n := range r.Units {
		total += n
	}
	return total
}

// CleanupReport counts what the cleanup stage removed
type CleanupReport struct {
	Skipped      bool `json:"skipped"`
	FilesRemoved int  `json:"files_removed"`
	DirsRemoved  int  `json:"dirs_removed"`
}

// RunReport summarizes one synchronization run
type RunReport struct {
	RunID      string         `json:"run_id"`
	Anchor     time.Time      `json:"anchor"`
	Window     []time.Time    `json:"window"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Duration   string         `json:"duration"`
	Result     string         `json:"result"`
	Error      string         `json:"error,omitempty"`
	Ancillary  *StageReport   `json:"ancillary,omitempty"`
	Transform  *StageReport   `json:"transform,omitempty"`
	Cleanup    *CleanupReport `json:"cleanup,omitempty"`
}

func fileExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err == nil {
		if info.IsDir() {
			return false, fmt.Errorf("%s is a directory", path)
		}
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat %s: %w", path, err)
}

// removeIfExists deletes path and reports whether there was something to delete
func removeIfExists(path string) (bool, error) {
	err := os.Remove(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("remove %s: %w", path, err)
}
