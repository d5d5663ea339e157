// Package clone provides the container/namespace test scaffolding
// libs/libltpclone/libclone.c offers over raw clone(2)/unshare(2): run a
// function isolated by a set of namespace flags while the caller continues
// in the original namespace. A Go process cannot fork and keep running
// arbitrary Go code in the child (the same constraint workerpool documents
// for its own re-exec translation), so the isolated body always runs as a
// fresh workerpool worker; Mode selects whether that worker unshares
// before calling its entry point.
package clone

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/ltp/testlib/internal/workerpool"
)

// Mode selects how the isolated body is run, mirroring T_NONE/T_UNSHARE
// from libclone.h; there is no separate clone mode.
type Mode int

const (
	// None runs the body as a plain worker, no new namespaces.
	None Mode = iota
	// Unshare runs the body as a worker that first calls unix.Unshare
	// with the requested flags.
	Unshare
)

const unshareFlagsEnv = "LTP_CLONE_UNSHARE_FLAGS"

// ApplyUnshare reads LTP_CLONE_UNSHARE_FLAGS from the environment (set by
// Run for Unshare-mode workers) and calls unix.Unshare if it is present.
// A registered workerpool.EntryFunc that wants namespace isolation must
// call this as its first statement, mirroring workerpool.Init's
// first-statement-of-main convention.
func ApplyUnshare() error {
	v := os.Getenv(unshareFlagsEnv)
	if v == "" {
		return nil
	}
	var flags uintptr
	if _, err := fmt.Sscanf(v, "%d", &flags); err != nil {
		return fmt.Errorf("clone: parse %s=%q: %w", unshareFlagsEnv, v, err)
	}
	return unix.Unshare(int(flags))
}

// Run starts entryName as a workerpool worker, optionally isolated by
// unshareFlags, and then (if fn2 is non-nil) runs fn2 in the calling
// process while the worker runs; it does not wait for the worker to exit,
// which the pool reaps. This is the Go shape of
// tst_clone_unshare_tests(use_clone, flags, fn1, arg1, fn2, arg2).
func Run(pool *workerpool.Pool, mode Mode, unshareFlags uintptr, entryName string, fn2 func() error) error {
	var extraEnv []string
	if mode == Unshare {
		extraEnv = []string{fmt.Sprintf("%s=%d", unshareFlagsEnv, unshareFlags)}
	}

	_, err := pool.WorkerStart(entryName, extraEnv)
	if err != nil {
		return fmt.Errorf("clone: start %q: %w", entryName, err)
	}

	if fn2 != nil {
		if err := fn2(); err != nil {
			return err
		}
	}

	return nil
}
