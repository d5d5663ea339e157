// Package swapctl provides the swapfile creation and swapon/swapoff
// bookkeeping libs/libltpswap/libswap.c offers memory tests: create a
// fixed-size backing file, format it with mkswap, and toggle it via
// swapon(2)/swapoff(2). Any swapon/swapoff failure, including an
// unsupported filesystem or missing privilege, is reported as ok=false
// plus the error rather than as a hard failure.
package swapctl

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"
)

// MakeSwapfile creates a swapfile of the given size in bytes at path and
// formats it with mkswap(8). It does not call swapon.
func MakeSwapfile(path string, sizeBytes int64) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("swapctl: create %s: %w", path, err)
	}
	defer f.Close()

	if err := f.Truncate(sizeBytes); err != nil {
		return fmt.Errorf("swapctl: truncate %s to %d: %w", path, sizeBytes, err)
	}
	// A sparse file won't pass mkswap's backing-store checks on most
	// filesystems; force real block allocation.
	if err := unix.Fallocate(int(f.Fd()), 0, 0, sizeBytes); err != nil {
		return fmt.Errorf("swapctl: fallocate %s: %w", path, err)
	}

	cmd := exec.Command("mkswap", path)
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("swapctl: mkswap %s: %w", path, err)
	}
	return nil
}

// On enables path as a swap area. Every failure returns ok=false with the
// underlying error; ok alone does not tell an unsupported or unprivileged
// environment (EPERM, EINVAL) from other failures, the errno does.
func On(path string) (ok bool, err error) {
	b, err := unix.BytePtrFromString(path)
	if err != nil {
		return false, fmt.Errorf("swapon: %w", err)
	}
	_, _, errno := unix.Syscall(unix.SYS_SWAPON, uintptr(unsafe.Pointer(b)), 0, 0)
	if errno != 0 {
		return false, fmt.Errorf("swapon %s: %w", path, errno)
	}
	return true, nil
}

// Off disables a previously swapon'd area.
func Off(path string) (ok bool, err error) {
	b, err := unix.BytePtrFromString(path)
	if err != nil {
		return false, fmt.Errorf("swapoff: %w", err)
	}
	_, _, errno := unix.Syscall(unix.SYS_SWAPOFF, uintptr(unsafe.Pointer(b)), 0, 0)
	if errno != 0 {
		return false, fmt.Errorf("swapoff %s: %w", path, errno)
	}
	return true, nil
}

// CountActive parses /proc/swaps and returns the number of active swap
// areas (the header line excluded).
func CountActive() (int, error) {
	f, err := os.Open("/proc/swaps")
	if err != nil {
		return 0, fmt.Errorf("swapctl: open /proc/swaps: %w", err)
	}
	defer f.Close()
	return countActive(f)
}

func countActive(r io.Reader) (int, error) {
	n := 0
	sc := bufio.NewScanner(r)
	first := true
	for sc.Scan() {
		if first {
			first = false
			continue
		}
		if strings.TrimSpace(sc.Text()) != "" {
			n++
		}
	}
	return n, sc.Err()
}

// MaxSwapfiles is a fixed ceiling of 32 swap areas. It is not read from the
// running kernel and does not depend on the count of active areas.
const MaxSwapfiles = 32
