package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dams-sync/internal/config"
	"dams-sync/internal/models"
	"dams-sync/pkg/logging"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, exitOK},
		{"generic", errors.New("disk full"), exitFailure},
		{"configuration", &models.ConfigurationError{Field: "time"}, exitConfiguration},
		{"configuration list", models.ConfigurationErrors{{Field: "a"}, {Field: "b"}}, exitConfiguration},
		{"credentials", &models.CredentialResolutionError{Server: "dams", Err: errors.New("no entry")}, exitConfiguration},
		{"invariant", &models.PipelineInvariantError{Variable: "dams_level"}, exitInvariant},
		{"wrapped invariant", fmt.Errorf("run: %w", &models.PipelineInvariantError{}), exitInvariant},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestParseAnchor(t *testing.T) {
	now := time.Date(2021, 11, 16, 8, 20, 0, 0, time.UTC)

	tests := []struct {
		value string
		want  time.Time
	}{
		{"", now},
		{"2021-11-15 06:00", time.Date(2021, 11, 15, 6, 0, 0, 0, time.UTC)},
		{"2021-11-15 06:00:30", time.Date(2021, 11, 15, 6, 0, 30, 0, time.UTC)},
		{"2021-11-15T06:00:00+01:00", time.Date(2021, 11, 15, 5, 0, 0, 0, time.UTC)},
		{"2021-11-15", time.Date(2021, 11, 15, 0, 0, 0, 0, time.UTC)},
		{"2 hours ago", now.Add(-2 * time.Hour)},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got, err := parseAnchor(tt.value, now)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestParseAnchor_Unparseable(t *testing.T) {
	_, err := parseAnchor("the reservoir is full", time.Now())

	var cfgErr *models.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "time", cfgErr.Field)
	assert.Equal(t, exitConfiguration, exitCode(err))
}

// TestCommands_EndToEnd drives migrate, ingest and run against a sqlite
// source database.
func TestCommands_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	settings := filepath.Join(dir, "settings.json")
	content := fmt.Sprintf(`{
  "info": {"domain": "italy"},
  "source": {"server_mode": "sqlite3", "server_ip": "localhost", "server_name": %q,
             "server_user": "dams", "server_password": "secret"},
  "time": {"time_period": 2, "time_frequency": "H", "time_rounding": "H"},
  "variables": [
    {"name": "dams_level", "tag": "LIV", "download": true, "type": "instantaneous",
     "units": "m", "valid_range": [0, 2000], "min_count": 1, "scale_factor": 1},
    {"name": "dams_volume", "tag": null, "download": true}
  ],
  "ancillary": {"folder_name": %q, "file_name": "{ancillary_var_name}_{ancillary_datetime}.bin"},
  "destination": {
    "csv": {"folder_name": %q, "file_name": "{domain_name}_{destination_var_name}_{destination_datetime}.csv"},
    "json": {"active": false, "folder_name": %q, "file_name": "x.json"}
  },
  "template": {
    "ancillary_datetime": "%%Y%%m%%d%%H%%M", "ancillary_sub_path_time": "%%Y/%%m/%%d",
    "destination_datetime": "%%Y%%m%%d%%H%%M", "destination_sub_path_time": "%%Y/%%m/%%d"
  },
  "flags": {"clean_ancillary": true},
  "log": {"level": "error"}
}`,
		filepath.Join(dir, "dams.db"),
		filepath.Join(dir, "ancillary", "{ancillary_sub_path_time}"),
		filepath.Join(dir, "csv", "{destination_sub_path_time}"),
		filepath.Join(dir, "json"),
	)
	require.NoError(t, os.WriteFile(settings, []byte(content), 0o644))

	dataDir := filepath.Join(dir, "data")
	require.NoError(t, os.MkdirAll(dataDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "LIV.txt"), []byte(
		"D1\t2021-11-16 06:30:00\t101\n"+
			"D1\t2021-11-16 07:30:00\t102\n"+
			"D2\t2021-11-16 07:45:00\t55.5\n"), 0o644))

	execute := func(args ...string) error {
		rootCmd.SetArgs(append(args, "--settings", settings))
		return rootCmd.Execute()
	}

	require.NoError(t, execute("migrate"))
	require.NoError(t, execute("ingest", "--dir", dataDir))
	require.NoError(t, execute("run", "--time", "2021-11-16 08:20"))

	latest := filepath.Join(dir, "csv", "2021", "11", "16", "italy_dams_level_202111160800.csv")
	data, err := os.ReadFile(latest)
	require.NoError(t, err)
	assert.Equal(t, "code,name,tag,time,data,units\n"+
		"D1,D1,LIV,2021-11-16 08:00:00,102,m\n"+
		"D2,D2,LIV,2021-11-16 08:00:00,55.5,m\n", string(data))
	assert.FileExists(t, filepath.Join(dir, "csv", "2021", "11", "16", "italy_dams_level_202111160700.csv"))

	entries, err := os.ReadDir(filepath.Join(dir, "ancillary"))
	require.NoError(t, err)
	assert.Empty(t, entries, "ancillary root is cleared")

	matches, err := filepath.Glob(filepath.Join(dir, "csv", "*", "*", "*", "*"))
	require.NoError(t, err)
	for _, m := range matches {
		assert.False(t, strings.Contains(m, "dams_volume"))
	}
	assert.NoDirExists(t, filepath.Join(dir, "json"))
}

func TestNewLogger_LevelFlagOverridesSettings(t *testing.T) {
	previous := logLevel
	t.Cleanup(func() { logLevel = previous })

	var buf bytes.Buffer
	logLevel = "debug"
	logger, closer := newLogger("damsync-test", config.LogConfig{Level: "error"})
	assert.Nil(t, closer)
	logger.SetOutput(&buf)

	logger.Debug(context.Background(), "[TEST] visible", logging.Fields{})
	assert.Contains(t, buf.String(), "[TEST] visible")

	buf.Reset()
	logLevel = ""
	logger, _ = newLogger("damsync-test", config.LogConfig{Level: "error"})
	logger.SetOutput(&buf)
	logger.Warn(context.Background(), "[TEST] hidden", logging.Fields{})
	assert.Zero(t, buf.Len())
}
