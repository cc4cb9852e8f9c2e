package services

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"dams-sync/internal/models"
	"dams-sync/internal/repository"
	"dams-sync/pkg/logging"
	"dams-sync/pkg/metrics"
)

// DefaultIngestBatchSize is used when the caller passes a non-positive size
const DefaultIngestBatchSize = 500

// IngestionService loads raw dam observation files into the source database
type IngestionService struct {
	repo    repository.ObservationRepository
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// IngestionResult contains ingestion statistics
type IngestionResult struct {
	TotalFiles        int
	TotalRecords      int
	SuccessfulRecords int
	FailedRecords     int
	Duration          time.Duration
	Errors            []string
}

// FileIngestionResult contains per-file ingestion statistics
type FileIngestionResult struct {
	TotalRecords      int
	SuccessfulRecords int
	FailedRecords     int
}

// NewIngestionService creates a new ingestion service
func NewIngestionService(repo repository.ObservationRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *IngestionService {
	return &IngestionService{
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// IngestDirectory ingests every <tag>.txt file found in dataDir. A file that
// cannot be ingested is reported in the result and does not stop the others.
func (s *IngestionService) IngestDirectory(ctx context.Context, dataDir string, batchSize int) (*IngestionResult, error) {
	startTime := time.Now()
	if batchSize <= 0 {
		batchSize = DefaultIngestBatchSize
	}

	s.logger.Info(ctx, "[INGEST_START] Starting observation ingestion", logging.Fields{
		"data_dir":   dataDir,
		"batch_size": batchSize,
	})

	files, err := filepath.Glob(filepath.Join(dataDir, "*.txt"))
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no observation files found in %s", dataDir)
	}

	result := &IngestionResult{
		TotalFiles: len(files),
		Errors:     make([]string, 0),
	}

	for _, filePath := range files {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		fileResult, err := s.ingestFile(ctx, filePath, batchSize)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("failed to ingest %s: %v", filePath, err))
			s.logger.Error(ctx, "[INGEST_FILE_ERROR] File ingestion failed", logging.Fields{
				"file_path": filePath,
			}, err)
			s.metrics.RecordIngestionError("file_error")
			continue
		}

		result.TotalRecords += fileResult.TotalRecords
		result.SuccessfulRecords += fileResult.SuccessfulRecords
		result.FailedRecords += fileResult.FailedRecords

		s.logger.Info(ctx, "[INGEST_FILE_SUCCESS] File ingested", logging.Fields{
			"file_path":          filePath,
			"total_records":      fileResult.TotalRecords,
			"successful_records": fileResult.SuccessfulRecords,
			"failed_records":     fileResult.FailedRecords,
		})
	}

	result.Duration = time.Since(startTime)

	s.logger.Info(ctx, "[INGEST_COMPLETE] Observation ingestion completed", logging.Fields{
		"total_files":        result.TotalFiles,
		"total_records":      result.TotalRecords,
		"successful_records": result.SuccessfulRecords,
		"failed_records":     result.FailedRecords,
		"duration_seconds":   result.Duration.Seconds(),
		"error_count":        len(result.Errors),
	})

	return result, nil
}

// ingestFile loads one file; the variable tag is the file name without its extension
func (s *IngestionService) ingestFile(ctx context.Context, filePath string, batchSize int) (*FileIngestionResult, error) {
	fileName := filepath.Base(filePath)
	tag := strings.TrimSuffix(fileName, filepath.Ext(fileName))
	if tag == "" {
		return nil, fmt.Errorf("cannot derive a variable tag from %q", fileName)
	}

	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	result := &FileIngestionResult{}
	batch := make([]models.SourceRow, 0, batchSize)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		result.TotalRecords++

		row, err := parseObservationLine(line)
		if err != nil {
			result.FailedRecords++
			s.metrics.RecordIngestionError("parse_error")
			s.logger.Debug(ctx, "[INGEST_PARSE] Skipping malformed line", logging.Fields{
				"file_path": filePath,
				"line":      line,
				"reason":    err.Error(),
			})
			continue
		}

		batch = append(batch, row)
		if len(batch) >= batchSize {
			if err := s.repo.CreateObservationsBatch(ctx, tag, batch); err != nil {
				return nil, fmt.Errorf("failed to insert batch: %w", err)
			}
			result.SuccessfulRecords += len(batch)
			batch = batch[:0]
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading file: %w", err)
	}

	if len(batch) > 0 {
		if err := s.repo.CreateObservationsBatch(ctx, tag, batch); err != nil {
			return nil, fmt.Errorf("failed to insert final batch: %w", err)
		}
		result.SuccessfulRecords += len(batch)
	}

	return result, nil
}

// parseObservationLine parses one line of an observation file
// Format: DAM_CODE\tYYYY-MM-DD HH:MM:SS\tVALUE
func parseObservationLine(line string) (models.SourceRow, error) {
	parts := strings.Split(line, "\t")
	if len(parts) != 3 {
		return models.SourceRow{}, fmt.Errorf("invalid line format: expected 3 fields, got %d", len(parts))
	}

	code := strings.TrimSpace(parts[0])
	if code == "" {
		return models.SourceRow{}, fmt.Errorf("empty dam code")
	}

	observedAt, err := time.ParseInLocation(models.TabularTimeLayout, strings.TrimSpace(parts[1]), time.UTC)
	if err != nil {
		return models.SourceRow{}, fmt.Errorf("invalid observation time: %w", err)
	}

	value, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
	if err != nil {
		return models.SourceRow{}, fmt.Errorf("invalid value: %w", err)
	}

	return models.SourceRow{DamCode: code, ObservedAt: observedAt, Value: value}, nil
}
