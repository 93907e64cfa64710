package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(os.Stdout)
		levelVar.Set(slog.LevelInfo)
	})

	SetLevel("warn")
	Infof("hidden %d", 1)
	Warnf("shown %d", 2)
	assert.NotContains(t, buf.String(), "hidden 1")
	assert.Contains(t, buf.String(), "shown 2")
	assert.False(t, DebugEnabled())

	SetDebug(true)
	Debugf("trace")
	assert.Contains(t, buf.String(), "trace")
	assert.True(t, DebugEnabled())
}

func TestParseLevelFallsBackToInfo(t *testing.T) {
	assert.Equal(t, slog.LevelInfo, parseLevel("verbose"))
	assert.Equal(t, slog.LevelWarn, parseLevel(" WARNING "))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
}

func TestInfoBlockSplitsLines(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(os.Stdout) })
	levelVar.Set(slog.LevelInfo)

	InfoBlock("\nfirst\nsecond\n")
	assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte("level=INFO")))

	buf.Reset()
	InfoBlock("   ")
	assert.Empty(t, buf.String())
}

func TestOpenFileCreatesDirectories(t *testing.T) {
	t.Cleanup(func() { SetOutput(os.Stdout) })
	path := filepath.Join(t.TempDir(), "nested", "relay.log")

	closer, err := OpenFile(path)
	require.NoError(t, err)
	require.NotNil(t, closer)
	Warnf("to file")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to file")

	closer, err = OpenFile("  ")
	require.NoError(t, err)
	assert.Nil(t, closer)
}
