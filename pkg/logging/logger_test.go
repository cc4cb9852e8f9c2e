package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStructuredLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStructuredLogger("dams-sync", "test", WarnLevel)
	logger.SetOutput(&buf)

	ctx := context.Background()
	logger.Debug(ctx, "debug", nil)
	logger.Info(ctx, "info", nil)
	logger.Warn(ctx, "warn", Fields{"k": "v"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry LogEntry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "WARN", entry.Level)
	assert.Equal(t, "warn", entry.Message)
	assert.Equal(t, "v", entry.Fields["k"])
}

func TestStructuredLogger_ContextValues(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStructuredLogger("dams-sync", "test", DebugLevel)
	logger.SetOutput(&buf)

	ctx := WithVariable(WithRunID(context.Background(), "run-1"), "dams_level")
	logger.Error(ctx, "[TEST] failed", Fields{}, errors.New("boom"))

	var entry LogEntry
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "run-1", entry.RunID)
	assert.Equal(t, "dams_level", entry.Variable)
	assert.Equal(t, "boom", entry.Error)
	assert.NotEmpty(t, entry.File)
}

func TestStructuredLogger_SetLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStructuredLogger("dams-sync", "test", ErrorLevel)
	logger.SetOutput(&buf)

	logger.Debug(context.Background(), "hidden", nil)
	assert.Zero(t, buf.Len())

	logger.SetLevel(DebugLevel)
	logger.Debug(context.Background(), "shown", nil)
	assert.Contains(t, buf.String(), `"message":"shown"`)
}

func TestStructuredLogger_Fatal(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStructuredLogger("dams-sync", "test", InfoLevel)
	logger.SetOutput(&buf)
	code := -1
	logger.exit = func(c int) { code = c }

	logger.Fatal(context.Background(), "[SERVER_ERROR] Server failed", Fields{"address": ":9090"}, errors.New("bind"))

	assert.Equal(t, 1, code)
	var entry LogEntry
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "FATAL", entry.Level)
	assert.Equal(t, "bind", entry.Error)
	assert.NotEmpty(t, entry.StackTrace)
}

func TestContextLogger_MergeFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStructuredLogger("dams-sync", "test", InfoLevel)
	logger.SetOutput(&buf)

	logger.WithFields(Fields{"stage": "ancillary", "a": 1}).Info(context.Background(), "msg", Fields{"a": 2})

	var entry LogEntry
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "ancillary", entry.Fields["stage"])
	assert.EqualValues(t, 2, entry.Fields["a"])
}

func TestParseLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   DebugLevel,
		"DEBUG":   DebugLevel,
		"warning": WarnLevel,
		"error":   ErrorLevel,
		"":        InfoLevel,
		"bogus":   InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}
