package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFileMissing(t *testing.T) {
	cfg, err := loadFile(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFileMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("target: 10.0.0.2:1234\ndebug: true\n"), 0644))

	cfg, err := loadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2:1234", cfg.Target)
	assert.True(t, cfg.Debug)
	assert.Equal(t, "gdb", cfg.GdbPath)
	assert.Equal(t, "5s", cfg.Timeout)
}

func TestLoadFileBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(":\n  - ["), 0644))

	_, err := loadFile(path)
	assert.Error(t, err)
}

func TestRequestTimeout(t *testing.T) {
	assert.Equal(t, 5*time.Second, Config{}.RequestTimeout())
	assert.Equal(t, 5*time.Second, Config{Timeout: "bogus"}.RequestTimeout())
	assert.Equal(t, 2*time.Second, Config{Timeout: "2s"}.RequestTimeout())
}

func TestCompiledCR3Patterns(t *testing.T) {
	none, err := Config{}.CompiledCR3Patterns()
	require.NoError(t, err)
	assert.Nil(t, none)

	pats, err := Config{CR3Patterns: []string{`cr3:\s*(0x[0-9a-f]+)`}}.CompiledCR3Patterns()
	require.NoError(t, err)
	require.NotEmpty(t, pats)
	// user pattern first, built-ins behind it
	assert.Equal(t, `cr3:\s*(0x[0-9a-f]+)`, pats[0].String())
	assert.Greater(t, len(pats), 1)

	_, err = Config{CR3Patterns: []string{`(`}}.CompiledCR3Patterns()
	assert.Error(t, err)
}
