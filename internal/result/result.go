// Package result defines the LTP test-result taxonomy (§7 of the spec):
// TPASS, TFAIL, TCONF, TBROK, plus the non-scoring TINFO/TWARN diagnostics,
// and the brk/tconf fatal paths that core library primitives use instead of
// returning errors to their caller.
package result

import (
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
)

// Kind is one of the result classes a test body can report.
type Kind int

const (
	TPASS Kind = iota
	TFAIL
	TCONF
	TBROK
	TWARN
	TINFO
)

func (k Kind) String() string {
	switch k {
	case TPASS:
		return "TPASS"
	case TFAIL:
		return "TFAIL"
	case TCONF:
		return "TCONF"
	case TBROK:
		return "TBROK"
	case TWARN:
		return "TWARN"
	case TINFO:
		return "TINFO"
	default:
		return "TUNKNOWN"
	}
}

// Exit codes, matching the conventional LTP tag-to-exit-code mapping. A
// harness process that only ever hit TPASS exits 0; any TBROK/TCONF call
// terminates the process immediately with the corresponding code.
const (
	ExitPass = 0
	ExitFail = 1
	ExitBrok = 2
	ExitConf = 4
	ExitWarn = 8
)

// Record is a single structured diagnostic line, passed at the edge to a
// logger rather than formatted inline by library code (§9 design note:
// keep formatting at the edge, pass structured records through the core).
type Record struct {
	Kind    Kind
	File    string
	Line    int
	Message string
}

// Counters aggregates how many times each result kind has been reported by
// a test run. Safe for concurrent use; the harness (C9) owns one instance
// per test and folds it into the final exit code.
type Counters struct {
	pass, fail, conf, brok, warn int64
}

func (c *Counters) Add(k Kind) {
	switch k {
	case TPASS:
		atomic.AddInt64(&c.pass, 1)
	case TFAIL:
		atomic.AddInt64(&c.fail, 1)
	case TCONF:
		atomic.AddInt64(&c.conf, 1)
	case TBROK:
		atomic.AddInt64(&c.brok, 1)
	case TWARN:
		atomic.AddInt64(&c.warn, 1)
	}
}

func (c *Counters) Pass() int64 { return atomic.LoadInt64(&c.pass) }
func (c *Counters) Fail() int64 { return atomic.LoadInt64(&c.fail) }
func (c *Counters) Conf() int64 { return atomic.LoadInt64(&c.conf) }
func (c *Counters) Brok() int64 { return atomic.LoadInt64(&c.brok) }
func (c *Counters) Warn() int64 { return atomic.LoadInt64(&c.warn) }

// ExitCode derives the process exit code from the aggregated counters,
// applying §6's precedence: a harness-level break always wins, then an
// assertion failure; an environment mismatch decides the code only when
// nothing passed or failed. Every other run exits 0.
func (c *Counters) ExitCode() int {
	switch {
	case c.Brok() > 0:
		return ExitBrok
	case c.Conf() > 0 && c.Pass() == 0 && c.Fail() == 0:
		return ExitConf
	case c.Fail() > 0:
		return ExitFail
	default:
		return ExitPass
	}
}

// exitFunc is overridable in tests so Brk/Tconf don't actually kill the
// test binary.
var exitFunc = os.Exit

// SetExitFuncForTest replaces the process-exit hook used by Brk/Tconf and
// returns a function that restores the previous one. Intended for use by
// _test.go files across the module that need to observe a brk without
// killing the test binary.
func SetExitFuncForTest(fn func(int)) (restore func()) {
	prev := exitFunc
	exitFunc = fn
	return func() { exitFunc = prev }
}

// Brk logs a structured TBROK record and terminates the current process.
// Core library primitives call this instead of returning an error — per
// §7, a state-machine violation or protocol violation represents a harness
// bug, not a recoverable condition the caller should inspect.
func Brk(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	slog.Error("TBROK", "message", msg)
	fmt.Fprintf(os.Stderr, "TBROK: %s\n", msg)
	exitFunc(ExitBrok)
}

// BrkTrace is Brk with an attached state-machine ring trace, used by
// statemachine.Machine.Set/Expect/Get on an illegal transition.
func BrkTrace(trace, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	slog.Error("TBROK", "message", msg, "trace", trace)
	fmt.Fprintf(os.Stderr, "TBROK: %s\n%s\n", msg, trace)
	exitFunc(ExitBrok)
}

// Tconf logs a structured TCONF record and terminates the current process.
// Used for environment preconditions the harness cannot satisfy — this is
// a skip, not a failure.
func Tconf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	slog.Warn("TCONF", "message", msg)
	fmt.Fprintf(os.Stderr, "TCONF: %s\n", msg)
	exitFunc(ExitConf)
}
