package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nseba/gitfilterd/pkg/objstore"
)

func TestLoadConfigEmptyPathIsZeroValue(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, Config{}, cfg)
}

func TestLoadConfigParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gitfilterd.yaml")
	body := "store_path: /var/lib/gitfilterd\nalgorithm: sha256\nworkers: 8\ndelay_globs:\n  - \"*.psd\"\n  - \"*.bin\"\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/gitfilterd", cfg.StorePath)
	assert.Equal(t, "sha256", cfg.Algorithm)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, []string{"*.psd", "*.bin"}, cfg.DelayGlobs)
}

func TestLoadConfigMissingFileErrors(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestConfigHasherDefaultsToSHA1(t *testing.T) {
	h, err := Config{}.hasher()
	require.NoError(t, err)
	assert.Equal(t, objstore.DefaultAlgorithm, h.Algorithm())
}

func TestConfigHasherHonorsAlgorithm(t *testing.T) {
	h, err := Config{Algorithm: "sha1"}.hasher()
	require.NoError(t, err)
	assert.Equal(t, objstore.SHA1, h.Algorithm())
}

func TestConfigHasherRejectsUnknownAlgorithm(t *testing.T) {
	_, err := Config{Algorithm: "md5"}.hasher()
	assert.Error(t, err)
}
