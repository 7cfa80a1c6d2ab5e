package crashlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readEntries(t *testing.T, path string) []Entry {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		var e Entry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		out = append(out, e)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestLogPanicAndError(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	Init(dir)
	t.Cleanup(func() { global = nil })

	LogPanic("paint", "boom", map[string]string{"user": "alice"})
	LogError("paint", errors.New("tile fetch failed"), nil)
	LogError("paint", nil, nil)

	entries := readEntries(t, filepath.Join(dir, FileName))
	require.Len(t, entries, 2)

	assert.Equal(t, "panic", entries[0].Level)
	assert.Equal(t, "boom", entries[0].Message)
	assert.Equal(t, "alice", entries[0].Context["user"])
	assert.Contains(t, entries[0].Stacktrace, "goroutine")

	assert.Equal(t, "error", entries[1].Level)
	assert.Equal(t, "tile fetch failed", entries[1].Message)
	assert.Empty(t, entries[1].Stacktrace)
}

func TestWithoutInit(t *testing.T) {
	global = nil
	assert.NotPanics(t, func() {
		LogPanic("paint", "boom", nil)
		LogError("paint", errors.New("x"), nil)
	})
}
