package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  host: 127.0.0.1
world:
  columns: 4
  rows: 3
agents:
  - name: infantry
    footprint: 0.8
  - name: tank
    footprint: 2.5
    cell_size: 1
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 20, cfg.Server.TickRate)
	assert.Equal(t, 4, cfg.World.Columns)
	assert.Equal(t, 3, cfg.World.Rows)
	assert.Equal(t, 10, cfg.World.Resolution)
	assert.Equal(t, 15*time.Minute, cfg.Cache.TTL)
	require.Len(t, cfg.Agents, 2)
	assert.Equal(t, 1.0, cfg.Agents[0].CellSize)
	assert.Equal(t, 2.5, cfg.Agents[1].Footprint)
}

func TestParseDurations(t *testing.T) {
	cfg, err := Parse([]byte("cache:\n  ttl: 90s\n  sweep_interval: 5s\n"))
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.Cache.TTL)
	assert.Equal(t, 5*time.Second, cfg.Cache.SweepInterval)
}

func TestValidateRejectsBadValues(t *testing.T) {
	_, err := Parse([]byte("world:\n  resolution: 300\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("agents:\n  - name: a\n  - name: a\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("world:\n  default_cost: 256\n"))
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Len(t, cfg.Agents, 1)
	assert.Equal(t, "default", cfg.Agents[0].Name)
}
