package fileutils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}

func TestStore_Exists(t *testing.T) {
	dir := t.TempDir()
	s := NewStore()

	ok, err := s.Exists(filepath.Join(dir, "missing.jpg"))
	require.NoError(t, err)
	assert.False(t, ok)

	p := filepath.Join(dir, "present.jpg")
	writeTestFile(t, p, "x")
	ok, err = s.Exists(p)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStore_RenameCreatesParents(t *testing.T) {
	dir := t.TempDir()
	s := NewStore()

	src := filepath.Join(dir, "src.jpg")
	dst := filepath.Join(dir, "nested", "deeper", "dst.jpg")
	writeTestFile(t, src, "content")

	require.NoError(t, s.Rename(src, dst))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "content", string(data))
	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err))
}

func TestStore_Move(t *testing.T) {
	dir := t.TempDir()
	s := NewStore()

	src := filepath.Join(dir, "a", "src.heic")
	dst := filepath.Join(dir, "b", "dst.heic")
	writeTestFile(t, src, "heic")

	require.NoError(t, s.Move(src, dst))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "heic", string(data))
}

func TestStore_MoveMissingSource(t *testing.T) {
	dir := t.TempDir()
	s := NewStore()

	err := s.Move(filepath.Join(dir, "nope.jpg"), filepath.Join(dir, "dst.jpg"))
	require.Error(t, err)
	_, statErr := os.Stat(filepath.Join(dir, "dst.jpg"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestStore_CopyThenDelete(t *testing.T) {
	dir := t.TempDir()
	s := NewStore()

	src := filepath.Join(dir, "src.jpg")
	dst := filepath.Join(dir, "out", "dst.jpg")
	writeTestFile(t, src, "pixels")

	require.NoError(t, s.CopyThenDelete(src, dst))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "pixels", string(data))
	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err))
}

func TestStore_CopyPreservesMode(t *testing.T) {
	dir := t.TempDir()
	s := NewStore()

	src := filepath.Join(dir, "src.jpg")
	dst := filepath.Join(dir, "dst.jpg")
	writeTestFile(t, src, "pixels")
	require.NoError(t, os.Chmod(src, 0640))

	require.NoError(t, s.Copy(src, dst))

	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0640), info.Mode().Perm())
	_, err = os.Stat(src)
	assert.NoError(t, err, "copy keeps the source")
}

func TestStore_RemoveMissingIsNotAnError(t *testing.T) {
	s := NewStore()
	assert.NoError(t, s.Remove(filepath.Join(t.TempDir(), "missing")))
}

func TestStore_RemoveAll(t *testing.T) {
	dir := t.TempDir()
	s := NewStore()

	backup := filepath.Join(dir, "batch")
	writeTestFile(t, filepath.Join(backup, "a", "x.jpg"), "x")

	require.NoError(t, s.RemoveAll(backup))
	_, err := os.Stat(backup)
	assert.True(t, os.IsNotExist(err))
}
