package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAtomicWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "issue.json")

	require.NoError(t, AtomicWriteFile(path, []byte(`{"a":1}`), 0o644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, `{"a":1}`, string(data))

	// Overwrite replaces the whole contents.
	require.NoError(t, AtomicWriteFile(path, []byte(`{"b":2}`), 0o644))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, `{"b":2}`, string(data))
}

func TestAtomicWriteFileLeavesNoTempOnSuccess(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.json")

	require.NoError(t, AtomicWriteFile(path, []byte("x"), 0o644))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "tasks.json", entries[0].Name())
}

func TestAppendFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "progress.txt")

	require.NoError(t, AppendFile(path, []byte("first\n"), 0o644))
	require.NoError(t, AppendFile(path, []byte("second\n"), 0o644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "first\nsecond\n", string(data))
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.json")
	dst := filepath.Join(dir, "workers", "T1", "issue.json")

	require.NoError(t, os.WriteFile(src, []byte(`{"phase":"implement_task"}`), 0o644))
	require.NoError(t, CopyFile(src, dst, 0o644))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, `{"phase":"implement_task"}`, string(data))
}
