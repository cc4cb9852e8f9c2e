package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dams-sync/internal/models"
)

func TestIngestionService_IngestDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "LIV.txt"), []byte(
		"# dam\ttime\tvalue\n"+
			"D1\t2021-11-16 07:30:00\t102.5\n"+
			"D2\t2021-11-16 07:30:00\t12.345\n"+
			"\n"+
			"D3\tnot-a-time\t1\n"+
			"D4\t2021-11-16 07:30:00\n"+
			"D1\t2021-11-16 06:30:00\t101\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "VOL.txt"), []byte("D1\t2021-11-16 07:00:00\t3.5e6\n"), 0o644))

	repo := newFakeRepo()
	logger, collector := testDeps()
	svc := NewIngestionService(repo, logger, collector)

	result, err := svc.IngestDirectory(context.Background(), dir, 2)
	require.NoError(t, err)

	assert.Equal(t, 2, result.TotalFiles)
	assert.Equal(t, 6, result.TotalRecords)
	assert.Equal(t, 4, result.SuccessfulRecords)
	assert.Equal(t, 2, result.FailedRecords)
	assert.Empty(t, result.Errors)

	require.Len(t, repo.rows["LIV"], 3)
	assert.Equal(t, models.SourceRow{DamCode: "D1", ObservedAt: ts("2021-11-16 07:30"), Value: 102.5}, repo.rows["LIV"][0])
	require.Len(t, repo.rows["VOL"], 1)
	assert.Equal(t, 3.5e6, repo.rows["VOL"][0].Value)

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.IngestionErrorsTotal.WithLabelValues("parse_error")))
}

func TestIngestionService_NoFiles(t *testing.T) {
	logger, collector := testDeps()
	_, err := NewIngestionService(newFakeRepo(), logger, collector).IngestDirectory(context.Background(), t.TempDir(), 0)
	assert.ErrorContains(t, err, "no observation files")
}

func TestIngestionService_RepositoryErrorIsReportedPerFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "LIV.txt"), []byte("D1\t2021-11-16 07:30:00\t1\n"), 0o644))

	repo := &failingBatchRepo{fakeRepo: newFakeRepo()}
	logger, collector := testDeps()

	result, err := NewIngestionService(repo, logger, collector).IngestDirectory(context.Background(), dir, 10)
	require.NoError(t, err)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "LIV.txt")
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.IngestionErrorsTotal.WithLabelValues("file_error")))
}

type failingBatchRepo struct {
	*fakeRepo
}

func (f *failingBatchRepo) CreateObservationsBatch(context.Context, string, []models.SourceRow) error {
	return assert.AnError
}

func TestParseObservationLine(t *testing.T) {
	row, err := parseObservationLine(" D7 \t2021-11-16 08:00:00\t -3.25 ")
	require.NoError(t, err)
	assert.Equal(t, "D7", row.DamCode)
	assert.Equal(t, ts("2021-11-16 08:00"), row.ObservedAt)
	assert.Equal(t, -3.25, row.Value)

	for _, line := range []string{
		"D1\t2021-11-16 08:00:00",
		"\t2021-11-16 08:00:00\t1",
		"D1\t16/11/2021\t1",
		"D1\t2021-11-16 08:00:00\tabc",
	} {
		_, err := parseObservationLine(line)
		assert.Error(t, err, line)
	}
}
