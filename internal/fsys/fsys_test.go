package fsys

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bianoble/codemod-runner/internal/sandbox"
)

func names(infos []os.FileInfo) []string {
	out := make([]string, 0, len(infos))
	for _, i := range infos {
		out = append(out, i.Name())
	}
	return out
}

// exercise runs the same checks against every implementation.
func exercise(t *testing.T, fsys FileSystem, root string) {
	t.Helper()

	dir := filepath.Join(root, "a", "b")
	require.NoError(t, fsys.MkdirAll(dir, DirPerm))

	file := filepath.Join(dir, "x.txt")
	require.NoError(t, fsys.WriteFile(file, []byte("hello"), FilePerm))

	data, err := fsys.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	info, err := fsys.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	copied := filepath.Join(root, "a", "y.txt")
	require.NoError(t, fsys.CopyFile(file, copied))
	data, err = fsys.ReadFile(copied)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	infos, err := fsys.ReadDir(filepath.Join(root, "a"))
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "y.txt"}, names(infos))

	require.NoError(t, fsys.Remove(file))
	_, err = fsys.Stat(file)
	assert.True(t, errors.Is(err, os.ErrNotExist), "got %v", err)

	_, err = fsys.ReadFile(filepath.Join(root, "missing"))
	assert.True(t, errors.Is(err, os.ErrNotExist), "got %v", err)

	err = fsys.WriteFile(filepath.Join(root, "no", "parent.txt"), []byte("x"), FilePerm)
	assert.Error(t, err, "parents are not created implicitly")
}

func TestOS(t *testing.T) {
	o, err := NewOS(t.TempDir())
	require.NoError(t, err)
	exercise(t, o, o.Root())
}

func TestMemory(t *testing.T) {
	exercise(t, NewMemory(), "/repo")
}

func TestOSConfinesWrites(t *testing.T) {
	o, err := NewOS(t.TempDir())
	require.NoError(t, err)

	outside := filepath.Join(t.TempDir(), "x.txt")
	err = o.WriteFile(outside, []byte("x"), FilePerm)
	assert.ErrorIs(t, err, sandbox.ErrEscape)

	err = o.Remove(filepath.Join(o.Root(), "..", "x"))
	assert.ErrorIs(t, err, sandbox.ErrEscape)
}

func TestMemorySeed(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Seed(map[string]string{
		"/repo/a.txt":     "A",
		"/repo/sub/b.txt": "B",
	}))

	infos, err := m.ReadDir("/repo")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "sub"}, names(infos))

	data, err := m.ReadFile("/repo/sub/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "B", string(data))
}
