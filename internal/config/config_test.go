package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calltrace.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: ":9090"
metrics: true
log:
  level: debug
trace:
  client_buffer: 16
redis:
  addr: localhost:6379
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Listen)
	assert.True(t, cfg.Metrics)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 16, cfg.Trace.ClientBuffer)
	assert.Equal(t, 1000, cfg.Trace.FeedCapacity, "unset keys keep their default")
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "calltrace:", cfg.Redis.Prefix)
}

func TestLoad_Invalid(t *testing.T) {
	dir := t.TempDir()

	broken := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(broken, []byte("listen: [unclosed"), 0o644))
	_, err := Load(broken)
	assert.Error(t, err)

	negative := filepath.Join(dir, "negative.yaml")
	require.NoError(t, os.WriteFile(negative, []byte("trace:\n  feed_capacity: -1\n"), 0o644))
	_, err = Load(negative)
	assert.ErrorContains(t, err, "feed_capacity")
}
