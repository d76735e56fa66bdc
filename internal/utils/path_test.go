package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	resolved, err := ResolvePath("~/DocSync")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "DocSync"), resolved)

	resolved, err = ResolvePath("/var/data/../data/sync")
	require.NoError(t, err)
	assert.Equal(t, "/var/data/sync", resolved)

	_, err = ResolvePath("")
	assert.Error(t, err)
}

func TestEnsureParentCreatesMissingDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "c.txt")
	require.NoError(t, EnsureParent(path))
	assert.True(t, DirExists(filepath.Dir(path)))

	// idempotent
	require.NoError(t, EnsureParent(path))
}

func TestFileAndDirExists(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	assert.True(t, DirExists(dir))
	assert.False(t, DirExists(file))
	assert.True(t, FileExists(file))
	assert.False(t, FileExists(dir))
	assert.False(t, FileExists(filepath.Join(dir, "ghost")))
}

func TestFileHash(t *testing.T) {
	file := filepath.Join(t.TempDir(), "f.txt")
	require.NoError(t, os.WriteFile(file, []byte("hello"), 0o644))

	sum, err := FileHash(file)
	require.NoError(t, err)
	// sha256("hello")
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", sum)

	_, err = FileHash(filepath.Join(t.TempDir(), "ghost"))
	assert.Error(t, err)
}
