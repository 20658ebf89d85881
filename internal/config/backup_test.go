package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupConfig_NoConfig(t *testing.T) {
	// Given: no config file
	path := filepath.Join(t.TempDir(), ProjectConfigName)

	// When: backing up
	backupPath, err := BackupConfig(path)

	// Then: nothing happens
	require.NoError(t, err)
	assert.Empty(t, backupPath)
}

func TestBackupConfig_CopiesContent(t *testing.T) {
	// Given: an existing config file
	path := filepath.Join(t.TempDir(), ProjectConfigName)
	content := "version: 1\nstore:\n  state_backend: memory\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	// When: backing up
	backupPath, err := BackupConfig(path)

	// Then: the backup holds the same bytes
	require.NoError(t, err)
	require.NotEmpty(t, backupPath)
	data, err := os.ReadFile(backupPath)
	require.NoError(t, err)
	assert.Equal(t, content, string(data))
}

func TestBackupConfig_KeepsNewest(t *testing.T) {
	// Given: more backups than MaxBackups
	path := filepath.Join(t.TempDir(), ProjectConfigName)
	require.NoError(t, os.WriteFile(path, []byte("version: 1\n"), 0o644))

	var created []string
	for range MaxBackups + 2 {
		backupPath, err := BackupConfig(path)
		require.NoError(t, err)
		created = append(created, backupPath)
	}

	// When: listing
	backups, err := ListBackups(path)

	// Then: only the newest MaxBackups remain, newest first
	require.NoError(t, err)
	require.Len(t, backups, MaxBackups)
	assert.Equal(t, created[len(created)-1], backups[0])
}

func TestListBackups_MissingDir(t *testing.T) {
	backups, err := ListBackups(filepath.Join(t.TempDir(), "missing", "config.yaml"))
	require.NoError(t, err)
	assert.Empty(t, backups)
}

func TestRestoreConfig(t *testing.T) {
	// Given: a config with a backup, then modified
	path := filepath.Join(t.TempDir(), ProjectConfigName)
	require.NoError(t, os.WriteFile(path, []byte("version: 1\n"), 0o644))
	backupPath, err := BackupConfig(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("version: 2\n"), 0o644))

	// When: restoring
	require.NoError(t, RestoreConfig(path, backupPath))

	// Then: the original content is back
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "version: 1\n", string(data))
}

func TestRestoreConfig_MissingBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), ProjectConfigName)
	err := RestoreConfig(path, path+".bak.missing")
	assert.Error(t, err)
}

func TestWriteYAML_RoundTrip(t *testing.T) {
	// Given: a modified config
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg := NewConfig()
	cfg.Store.StateBackend = "memory"
	cfg.Feed.Workers = 3

	// When: writing and loading it back
	require.NoError(t, cfg.WriteYAML(filepath.Join(dir, ProjectConfigName)))
	loaded, err := Load(dir)

	// Then: values survive
	require.NoError(t, err)
	assert.Equal(t, "memory", loaded.Store.StateBackend)
	assert.Equal(t, 3, loaded.Feed.Workers)
}
