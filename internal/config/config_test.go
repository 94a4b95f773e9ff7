package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadWithDefaults_MissingFile(t *testing.T) {
	cfg, err := NewLoader(NewValidator()).LoadWithDefaults(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_MissingFileFails(t *testing.T) {
	_, err := NewLoader(NewValidator()).Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
catalog:
  path: /var/lib/kraph/catalog.db
engine:
  dsn: postgres://kraph@db:5432/lab
  max_open_conns: 4
  max_idle_conns: 2
  statement_timeout: 5s
log:
  level: debug
  format: json
`)
	t.Setenv("KRAPH_ENGINE_RETRIES", "3")
	t.Setenv("KRAPH_LOG_FORMAT", "text")

	cfg, err := NewLoader(NewValidator()).Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/kraph/catalog.db", cfg.Catalog.Path)
	assert.Equal(t, "postgres://kraph@db:5432/lab", cfg.Engine.DSN)
	assert.Equal(t, 4, cfg.Engine.MaxOpenConns)
	assert.Equal(t, 5*time.Second, cfg.Engine.StatementTimeout)
	assert.Equal(t, time.Hour, cfg.Engine.ConnMaxLifetime, "unset keys keep their defaults")
	assert.Equal(t, 3, cfg.Engine.Retries)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, int64(30), cfg.Analysis.StaleDays)
}

func TestLoad_EnvWithoutFile(t *testing.T) {
	t.Setenv("KRAPH_ENGINE_DSN", "postgres://other/lab")
	cfg, err := NewLoader(NewValidator()).LoadWithDefaults("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://other/lab", cfg.Engine.DSN)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"log level", "log:\n  level: loud\n", "log.level must be one of"},
		{"retries", "engine:\n  retries: 11\n", "engine.retries must be at most 10"},
		{"pool size", "engine:\n  max_open_conns: 0\n  max_idle_conns: 0\n", "engine.max_open_conns must be at least 1"},
		{"idle above open", "engine:\n  max_open_conns: 2\n  max_idle_conns: 3\n", "engine.max_idle_conns must not exceed"},
		{"empty catalog", "catalog:\n  path: \"\"\n", "catalog.path is required"},
		{"malformed yaml", "engine: [", "failed to read config file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoader(NewValidator()).Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestFormatFieldPath(t *testing.T) {
	assert.Equal(t, "engine.dsn", formatFieldPath("Config.Engine.DSN"))
	assert.Equal(t, "engine.conn_max_lifetime", formatFieldPath("Config.Engine.ConnMaxLifetime"))
	assert.Equal(t, "catalog", formatFieldPath("catalog"))
}

func TestValidate_Nil(t *testing.T) {
	assert.Error(t, NewValidator().Validate(nil))
}
