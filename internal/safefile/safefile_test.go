package safefile

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func openDir(t *testing.T, path string) int {
	t.Helper()
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_DIRECTORY, 0)
	require.NoError(t, err)
	t.Cleanup(func() { unix.Close(fd) })
	return fd
}

func TestWriteAtThenReadAtRoundTrip(t *testing.T) {
	dir := t.TempDir()
	dirfd := openDir(t, dir)

	WriteAt(dirfd, "knob", []byte("42\n"), 0644)
	got := ReadAt(dirfd, "knob")
	require.Equal(t, "42\n", string(got))
}

func TestMkdiratIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	dirfd := openDir(t, dir)

	Mkdirat(dirfd, "sub", 0755)
	require.NotPanics(t, func() { Mkdirat(dirfd, "sub", 0755) })
}

func TestUnlinkatMissingFileIsNotFatal(t *testing.T) {
	dir := t.TempDir()
	dirfd := openDir(t, dir)

	require.NotPanics(t, func() { Unlinkat(dirfd, "does-not-exist", 0) })
}

func TestRenameatMovesFileWithinDir(t *testing.T) {
	dir := t.TempDir()
	dirfd := openDir(t, dir)

	WriteAt(dirfd, "old", []byte("x"), 0644)
	Renameat(dirfd, "old", dirfd, "new")
	require.Equal(t, "x", string(ReadAt(dirfd, "new")))
}
