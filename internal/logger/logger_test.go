package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemshift/dmx/internal/config"
)

func TestLevelFilters(t *testing.T) {
	buf := &bytes.Buffer{}
	l, err := build(config.LogConfig{Level: "warn"}, buf)
	require.NoError(t, err)

	l.Info().Msg("hidden")
	assert.Zero(t, buf.Len())
	l.Warn().Msg("shown")
	assert.Contains(t, buf.String(), `"message":"shown"`)
	assert.Contains(t, buf.String(), `"time":`)
	require.NoError(t, l.Close())
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dmx.log")
	l, err := New(config.LogConfig{Level: "info", File: path})
	require.NoError(t, err)
	l.Info().Str("k", "v").Msg("to file")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"k":"v"`)
}

func TestBadLevel(t *testing.T) {
	_, err := New(config.LogConfig{Level: "loud"})
	assert.Error(t, err)
}
