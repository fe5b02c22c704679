package paths

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRealUser(t *testing.T) {
	t.Setenv("SUDO_UID", "")
	_, _, ok := RealUser()
	assert.False(t, ok)

	t.Setenv("SUDO_UID", "1000")
	t.Setenv("SUDO_GID", "1001")
	uid, gid, ok := RealUser()
	require.True(t, ok)
	assert.Equal(t, 1000, uid)
	assert.Equal(t, 1001, gid)

	t.Setenv("SUDO_UID", "nope")
	_, _, ok = RealUser()
	assert.False(t, ok)
}

func TestEnsureDir(t *testing.T) {
	t.Setenv("SUDO_UID", "")
	dir := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, EnsureDir(dir))
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestDefaultLogDir(t *testing.T) {
	assert.Equal(t, "logs", filepath.Base(DefaultLogDir()))
}

func TestConfigFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("SUDO_USER", "")
	t.Setenv("HOME", home)

	_, ok := ConfigFile()
	assert.False(t, ok)

	dir := filepath.Join(home, ".config", "raydock")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("log_level: debug\n"), 0644))

	path, ok := ConfigFile()
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "config.yaml"), path)
}
