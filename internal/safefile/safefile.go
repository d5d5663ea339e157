// Package safefile provides directory-fd-relative file operations that
// brk (TBROK) on failure instead of returning an error, the same
// fail-fast contract §7 gives the rest of the core library. It
// generalizes the one-off directory-fd addressing CgroupModel needs (§3,
// CgroupTree) into the general *at() family, grounded on
// lib/tst_safe_file_at.c's SAFE_OPENAT/SAFE_FILE_READAT/SAFE_UNLINKAT
// macros.
package safefile

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"

	"github.com/ltp/testlib/internal/result"
)

// Openat opens path relative to dirfd (unix.AT_FDCWD for the process's
// current directory) and brks on failure.
func Openat(dirfd int, path string, flags int, mode uint32) int {
	fd, err := unix.Openat(dirfd, path, flags, mode)
	if err != nil {
		result.Brk("safefile: openat(%d, %q, %#x): %v", dirfd, path, flags, err)
	}
	return fd
}

// Mkdirat creates a directory relative to dirfd. EEXIST is tolerated: the
// caller almost always wants "directory is present", not "I alone
// created it".
func Mkdirat(dirfd int, path string, mode uint32) {
	if err := unix.Mkdirat(dirfd, path, mode); err != nil && err != unix.EEXIST {
		result.Brk("safefile: mkdirat(%d, %q): %v", dirfd, path, err)
	}
}

// Unlinkat removes path relative to dirfd with the given flags (0 for a
// file, unix.AT_REMOVEDIR for a directory).
func Unlinkat(dirfd int, path string, flags int) {
	if err := unix.Unlinkat(dirfd, path, flags); err != nil && err != unix.ENOENT {
		result.Brk("safefile: unlinkat(%d, %q): %v", dirfd, path, err)
	}
}

// Renameat renames oldPath (relative to oldDirfd) to newPath (relative to
// newDirfd).
func Renameat(oldDirfd int, oldPath string, newDirfd int, newPath string) {
	if err := unix.Renameat(oldDirfd, oldPath, newDirfd, newPath); err != nil {
		result.Brk("safefile: renameat(%q -> %q): %v", oldPath, newPath, err)
	}
}

// ReadAt reads the full contents of path relative to dirfd.
func ReadAt(dirfd int, path string) []byte {
	fd := Openat(dirfd, path, unix.O_RDONLY, 0)
	defer unix.Close(fd)

	f := os.NewFile(uintptr(fd), path)
	data, err := io.ReadAll(f)
	if err != nil {
		result.Brk("safefile: read %q: %v", path, err)
	}
	return data
}

// WriteAt writes data to path relative to dirfd, creating it if absent
// and truncating any prior contents.
func WriteAt(dirfd int, path string, data []byte, mode uint32) {
	fd := Openat(dirfd, path, unix.O_WRONLY|unix.O_CREAT|unix.O_TRUNC, mode)
	defer unix.Close(fd)

	off := 0
	for off < len(data) {
		n, err := unix.Write(fd, data[off:])
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			result.Brk("safefile: write %q: %v", path, err)
		}
		off += n
	}
}

// DecodeFd returns a human-readable description of an open fd's target,
// via /proc/self/fd — grounded on tst_decode_fd's diagnostic role in
// SAFE_* macro failure messages.
func DecodeFd(fd int) string {
	target, err := os.Readlink(fmt.Sprintf("/proc/self/fd/%d", fd))
	if err != nil {
		return fmt.Sprintf("fd %d (unresolvable: %v)", fd, err)
	}
	return target
}
