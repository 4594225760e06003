package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gravitas-games/flowfield/internal/config"
)

func TestNewWritesToFile(t *testing.T) {
	cfg := config.Default().Log
	cfg.File = filepath.Join(t.TempDir(), "flowfield.log")

	logger, err := New(cfg)
	require.NoError(t, err)
	logger.Info("Navigation pipeline started")
	_ = logger.Sync()

	data, err := os.ReadFile(cfg.File)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Navigation pipeline started")
	assert.Contains(t, string(data), `"level":"info"`)
}

func TestNewFiltersBelowLevel(t *testing.T) {
	cfg := config.Default().Log
	cfg.Level = "warn"
	cfg.File = filepath.Join(t.TempDir(), "flowfield.log")

	logger, err := New(cfg)
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown")
	_ = logger.Sync()

	data, err := os.ReadFile(cfg.File)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "shown")
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	cfg := config.Default().Log
	cfg.Level = "chatty"
	_, err := New(cfg)
	assert.Error(t, err)
}
