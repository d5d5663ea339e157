// Package workerpool translates the spec's fork()-based WorkerPool (§4.4)
// into the idiomatic Go shape: since a multi-threaded Go runtime cannot
// safely fork and keep running arbitrary Go code in the child, each worker
// is a re-exec of the current binary (os/exec.Cmd with ExtraFiles handing
// down the pipe descriptors), grounded on the pop3d protocol-handler/
// mail-session subprocess pattern. A worker "entry point" is registered by
// name before main() runs; Init, called at the top of main(), detects the
// reexec sentinel argument and runs the matching entry point in place of
// the rest of main, never returning.
package workerpool

import (
	"fmt"
	"os"
)

// EntryFunc is a worker's body: it runs in the re-exec'd child, talking to
// the parent over the PipeChannel built on fd 3 (read) and fd 4 (write).
type EntryFunc func(readFd, writeFd int)

const reexecSentinel = "__ltp_worker_reexec__"

var registry = make(map[string]EntryFunc)

// Register associates name with an entry point. Call from an init() in the
// same binary that calls workerpool.Setup, before main() runs.
func Register(name string, fn EntryFunc) {
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("workerpool: entry point %q already registered", name))
	}
	registry[name] = fn
}

// Init must be the first statement of main(). If the process was launched
// as a worker re-exec, it runs the matching entry point and exits; it
// never returns in that case. Ordinary (parent) process startup returns
// immediately.
func Init() {
	if len(os.Args) < 3 || os.Args[1] != reexecSentinel {
		return
	}
	name := os.Args[2]
	fn, ok := registry[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "workerpool: unknown reexec entry point %q\n", name)
		os.Exit(2)
	}
	fn(3, 4)
	os.Exit(0)
}

func reexecArgs(name string) []string {
	return []string{reexecSentinel, name}
}
