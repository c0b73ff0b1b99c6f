package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 在空目录里运行，避免当前目录下的 netsentry.yaml 干扰默认值
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":5000", cfg.Listen)
	assert.Equal(t, "sqlite", cfg.DB.Driver)
	assert.Equal(t, 2*time.Second, cfg.DB.WriteTimeout)
	assert.Equal(t, "any", cfg.Capture.Interface)
	assert.Equal(t, 2*time.Second, cfg.Capture.PollInterval)
	assert.Equal(t, 1000, cfg.Capture.DedupCapacity)
	assert.Equal(t, 5*time.Second, cfg.Enrich.Timeout)
	assert.Equal(t, 10*time.Minute, cfg.Enrich.CacheTTL)
	assert.Equal(t, 32, cfg.AI.QueueSize)
	assert.Equal(t, 10*time.Second, cfg.AI.AlertTimeout)
	assert.Equal(t, 5*time.Second, cfg.Sampler.Interval)
	assert.Equal(t, 90.0, cfg.Sampler.AlertThreshold)
	assert.Equal(t, "netsentry.threats", cfg.NATS.Subject)
	assert.False(t, cfg.EBPF.Enable)
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := chdirTemp(t)
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: ":9000"
db:
  driver: duckdb
  path: /tmp/ns.duckdb
capture:
  interface: eth0
  dedup_capacity: 50
sampler:
  interval: 1s
`), 0o644))
	t.Setenv("NETSENTRY_CAPTURE_INTERFACE", "ens5")
	t.Setenv("GROQ_API_KEY", "gsk_test")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, "duckdb", cfg.DB.Driver)
	assert.Equal(t, "/tmp/ns.duckdb", cfg.DB.Path)
	assert.Equal(t, "ens5", cfg.Capture.Interface)
	assert.Equal(t, 50, cfg.Capture.DedupCapacity)
	assert.Equal(t, time.Second, cfg.Sampler.Interval)
	assert.Equal(t, "gsk_test", cfg.AI.APIKey)
}

func TestLoadPrefixedKeyWinsOverGroq(t *testing.T) {
	chdirTemp(t)
	t.Setenv("GROQ_API_KEY", "from-groq")
	t.Setenv("NETSENTRY_AI_API_KEY", "from-prefix")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-prefix", cfg.AI.APIKey)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	chdirTemp(t)
	_, err := Load("/nonexistent/netsentry.yaml")
	assert.Error(t, err)
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	chdirTemp(t)
	t.Setenv("NETSENTRY_DB_DRIVER", "postgres")
	_, err := Load("")
	assert.ErrorContains(t, err, "postgres")
}

func TestNewLogger(t *testing.T) {
	log, err := NewLogger(LogConfig{Level: "debug", Development: true})
	require.NoError(t, err)
	assert.NotNil(t, log)

	_, err = NewLogger(LogConfig{Level: "loud"})
	assert.Error(t, err)
}
