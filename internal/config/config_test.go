package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, int32(10), cfg.Store.MaxConns)
	assert.Equal(t, int32(2), cfg.Store.MinConns)
	assert.Equal(t, 100, cfg.Reconcile.ChunkSize)
	assert.Equal(t, 10, cfg.Reconcile.Concurrency)
	assert.Zero(t, cfg.Reconcile.WritesPerSec)
	assert.Equal(t, 5000, cfg.Roadnet.BatchSize)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
  database_url: roadops.db
reconcile:
  chunk_size: 25
  concurrency: 4
  writes_per_sec: 50
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "roadops.db", cfg.Store.DatabaseURL)
	assert.Equal(t, 25, cfg.Reconcile.ChunkSize)
	assert.Equal(t, 4, cfg.Reconcile.Concurrency)
	assert.InDelta(t, 50, cfg.Reconcile.WritesPerSec, 0.001)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoadFromEnv(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("ROADOPS_STORE_DATABASE_URL", "postgres://localhost/roadops")
	t.Setenv("ROADOPS_RECONCILE_CHUNK_SIZE", "250")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/roadops", cfg.Store.DatabaseURL)
	assert.Equal(t, 250, cfg.Reconcile.ChunkSize)
}

func TestInitLogger(t *testing.T) {
	tests := []struct {
		name    string
		cfg     LogConfig
		wantErr bool
	}{
		{"json info", LogConfig{Level: "info", Format: "json"}, false},
		{"console debug", LogConfig{Level: "debug", Format: "console"}, false},
		{"bad level", LogConfig{Level: "verbose", Format: "json"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := InitLogger(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, zap.L())
		})
	}
}
