package services

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"dams-sync/internal/config"
	"dams-sync/internal/models"
	"dams-sync/pkg/logging"
	"dams-sync/pkg/metrics"
)

type fakeRepo struct {
	mu    sync.Mutex
	rows  map[string][]models.SourceRow
	calls int
	err   error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{rows: make(map[string][]models.SourceRow)}
}

func (f *fakeRepo) GetObservations(_ context.Context, tag string, from, to time.Time) ([]models.SourceRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}

	var out []models.SourceRow
	for _, row := range f.rows[tag] {
		if !row.ObservedAt.Before(from) && !row.ObservedAt.After(to) {
			out = append(out, row)
		}
	}
	return out, nil
}

func (f *fakeRepo) CreateObservationsBatch(_ context.Context, tag string, rows []models.SourceRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[tag] = append(f.rows[tag], rows...)
	return nil
}

func (f *fakeRepo) HealthCheck(context.Context) error { return nil }

func (f *fakeRepo) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testDeps() (*logging.StructuredLogger, *metrics.Collector) {
	return logging.NewDiscardLogger(), metrics.NewCollectorWith("test", prometheus.NewRegistry())
}

func ts(s string) time.Time {
	t, err := time.Parse("2006-01-02 15:04", s)
	if err != nil {
		panic(err)
	}
	return t
}

func strPtr(s string) *string { return &s }

var anyRange = models.ValueRange{Min: math.Inf(-1), Max: math.Inf(1)}

// testConfig configures a disabled variable and an active level variable
// over three hourly steps, with every root under dir.
func testConfig(dir string) *config.Config {
	return &config.Config{
		Domain: "italy",
		Time:   config.TimeConfig{Period: 3, Frequency: time.Hour, Rounding: time.Hour},
		Variables: []models.VariableSpec{
			{Name: "dams_volume", Download: true, TimeMode: models.TimeModeInstantaneous, ScaleFactor: 1, ValidRange: anyRange},
			{Name: "dams_level", Tag: strPtr("LIV"), Download: true, TimeMode: models.TimeModeInstantaneous,
				Units: "m", ValidRange: anyRange, MinCount: 1, ScaleFactor: 1},
		},
		Ancillary: config.FileTemplate{
			Folder: filepath.Join(dir, "ancillary", "{ancillary_sub_path_time}"),
			File:   "{ancillary_var_name}_{ancillary_datetime}.bin",
		},
		Tabular: config.TabularDestination{
			Enabled: true,
			FileTemplate: config.FileTemplate{
				Folder: filepath.Join(dir, "csv", "{destination_sub_path_time}"),
				File:   "{domain_name}_{destination_var_name}_{destination_datetime}.csv",
			},
			Fields: models.DefaultFields,
		},
		Structured: config.StructuredDestination{
			Enabled: true,
			FileTemplate: config.FileTemplate{
				Folder: filepath.Join(dir, "json", "{destination_sub_path_time}"),
				File:   "{domain_name}_{destination_var_name}_{destination_datetime}.json",
			},
		},
		Templates: map[string]string{
			TagAncillaryDatetime:      "%Y%m%d%H%M",
			TagAncillarySubPathTime:   "%Y/%m/%d",
			TagDestinationDatetime:    "%Y%m%d%H%M",
			TagDestinationSubPathTime: "%Y/%m/%d",
		},
	}
}

// levelRows returns two dams sampled half past every hour from 05:30 to 07:30
func levelRows() []models.SourceRow {
	var rows []models.SourceRow
	for i, at := range []string{"2021-11-16 05:30", "2021-11-16 06:30", "2021-11-16 07:30"} {
		rows = append(rows,
			models.SourceRow{DamCode: "D1", ObservedAt: ts(at), Value: 100 + float64(i)},
			models.SourceRow{DamCode: "D2", ObservedAt: ts(at), Value: 12.345},
		)
	}
	return rows
}

var testAnchor = ts("2021-11-16 08:20")

func listFiles(t *testing.T, root string) []string {
	t.Helper()
	var files []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if os.IsNotExist(err) {
			return filepath.SkipDir
		}
		if err != nil {
			return err
		}
		if !info.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	require.NoError(t, err)
	return files
}

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}
