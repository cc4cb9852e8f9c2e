package objectfile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Tag  string
	At   time.Time
	Vals []float64
}

func TestWriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "obj.bin")
	in := sample{Tag: "LIV", At: time.Date(2021, 11, 16, 8, 0, 0, 0, time.UTC), Vals: []float64{1.5, 2}}

	require.NoError(t, Write(path, in))

	var out sample
	require.NoError(t, Read(path, &out))
	assert.Equal(t, in.Tag, out.Tag)
	assert.True(t, in.At.Equal(out.At))
	assert.Equal(t, in.Vals, out.Vals)
}

func TestWrite_ReplacesAndLeavesNoTemporaries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "obj.bin")

	require.NoError(t, Write(path, sample{Tag: "a"}))
	require.NoError(t, Write(path, sample{Tag: "b"}))

	var out sample
	require.NoError(t, Read(path, &out))
	assert.Equal(t, "b", out.Tag)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRead_Missing(t *testing.T) {
	var out sample
	assert.Error(t, Read(filepath.Join(t.TempDir(), "nope.bin"), &out))
}
