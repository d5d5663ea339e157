// Package readall implements the recursive "read every file" stress
// engine (§4.8): a directory walker feeds file paths to a fixed pool of
// reader workers (built on workerpool, so a worker wedged on a bad
// /proc or /sys read can't take down the whole run), while a supervisor
// watches each worker's PipeChannel for staleness and reports — but caps
// — timeout warnings.
package readall

import (
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"runtime"
	"time"

	"github.com/ltp/testlib/internal/metrics"
	"github.com/ltp/testlib/internal/result"
	"github.com/ltp/testlib/internal/resultlog"
	"github.com/ltp/testlib/internal/safefile"
	"github.com/ltp/testlib/internal/workerpool"
)

const (
	readerEntryName    = "readall-reader"
	maxTimeoutWarnings = 15
)

// Options configures one Engine run.
type Options struct {
	Root      string
	Blacklist []string // glob patterns matched against the full path
	Quiet     bool
	Timeout   time.Duration // how long a worker may go silent before a warning
	Readers   int           // 0 selects DefaultReaderCount()
}

// DefaultReaderCount mirrors the original library's min(ncpus-1, 15) rule.
func DefaultReaderCount() int {
	n := runtime.NumCPU() - 1
	if n < 1 {
		n = 1
	}
	if n > maxTimeoutWarnings {
		n = maxTimeoutWarnings
	}
	return n
}

func init() {
	workerpool.Register(readerEntryName, readerEntry)
}

// Engine owns the worker pool, the walker, and the result counters for one
// read-everything pass.
type Engine struct {
	opts    Options
	pool    *workerpool.Pool
	workers []*workerpool.Worker
	retired map[int]bool // worker ID -> taken out of rotation after a timeout
	log     *resultlog.Logger

	warnings int
}

// New builds an Engine; it does not start the worker pool or walk until Run
// is called.
func New(opts Options, log *resultlog.Logger) *Engine {
	if opts.Readers == 0 {
		opts.Readers = DefaultReaderCount()
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Engine{opts: opts, log: log, retired: make(map[int]bool)}
}

// Run walks opts.Root, dispatches every non-blacklisted regular file to a
// reader worker round-robin, and polls for stale workers until the walk and
// all in-flight reads have completed.
//
// Reader workers' Channels are ASYNC (§4.4), so something must actually
// drive the pool's EventLoop: Run starts it on a background goroutine for
// the duration of the walk and stops it before Cleanup tears down the
// workers, so the loop goroutine never races the caller over shared fds.
func (e *Engine) Run() error {
	stop := make(chan struct{})
	pool, err := workerpool.Setup(0, func() bool {
		select {
		case <-stop:
			return false
		default:
			return true
		}
	})
	if err != nil {
		return fmt.Errorf("readall: setup pool: %w", err)
	}
	e.pool = pool

	loopDone := make(chan error, 1)
	go func() { loopDone <- pool.Run() }()
	defer func() {
		close(stop)
		<-loopDone
		e.pool.Cleanup()
	}()

	for i := 0; i < e.opts.Readers; i++ {
		w, err := e.pool.WorkerStart(readerEntryName, nil)
		if err != nil {
			return fmt.Errorf("readall: start reader %d: %w", i, err)
		}
		e.workers = append(e.workers, w)
	}

	next := 0
	err = filepath.WalkDir(e.opts.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			e.log.Warn("readall: walk error at %s: %v", path, err)
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if e.blacklisted(path) {
			return nil
		}

		w := e.pickWorker(&next)
		if w == nil {
			result.Brk("readall: every reader worker timed out, aborting walk")
			return nil
		}
		if timedOut := e.dispatch(w, path); timedOut {
			e.retireWorker(w)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("readall: walk %s: %w", e.opts.Root, err)
	}

	for _, w := range e.workers {
		if e.retired[w.ID] {
			// Already SIGKILLed and, once reaped, its Channel is CLOSED;
			// sending to it would fire an illegal CLOSED->SEND transition.
			continue
		}
		w.SendOnly([]byte("__quit__"))
	}
	return nil
}

// dispatch sends path to w and waits for its reply report, both against
// e.opts.Timeout, so a worker wedged in a slow /proc or /sys read is
// flagged as stale on a timer instead of hanging the walk. It reports
// whether the deadline fired; the caller must retire a worker that timed
// out rather than routing more files to it.
func (e *Engine) dispatch(w *workerpool.Worker, path string) bool {
	report, err, timedOut := w.RoundTrip([]byte(path), e.opts.Timeout)
	if timedOut {
		metrics.ReadAllReaderTimeouts.Inc()
		e.warnStale(w)
		return true
	}
	if err != nil {
		metrics.ReadAllFilesProcessed.WithLabelValues("error").Inc()
		e.log.Warn("readall: worker %d channel error: %v", w.ID, err)
		return false
	}
	if len(report) >= 2 && string(report[:2]) == "OK" {
		metrics.ReadAllFilesProcessed.WithLabelValues("ok").Inc()
		return false
	}
	metrics.ReadAllFilesProcessed.WithLabelValues("fail").Inc()
	e.log.Report(result.TFAIL, 0, "readall: %s", string(report))
	return false
}

func (e *Engine) warnStale(w *workerpool.Worker) {
	if e.warnings < maxTimeoutWarnings {
		e.warnings++
		slog.Warn("readall: worker silent past timeout",
			"worker", w.ID,
			"elapsed", w.Channel().Elapsed(),
			"read_fd", safefile.DecodeFd(w.Channel().ReadFd()))
		if e.warnings == maxTimeoutWarnings {
			slog.Warn("readall: suppressing further timeout warnings", "cap", maxTimeoutWarnings)
		}
	}
}

// pickWorker returns the next non-retired worker in round-robin order, or
// nil once every worker has timed out.
func (e *Engine) pickWorker(next *int) *workerpool.Worker {
	for tries := 0; tries < len(e.workers); tries++ {
		w := e.workers[*next%len(e.workers)]
		*next++
		if !e.retired[w.ID] {
			return w
		}
	}
	return nil
}

// retireWorker kills a worker that failed to answer within the timeout and
// removes it from rotation; its replacement capacity is simply lost for
// the remainder of this run.
func (e *Engine) retireWorker(w *workerpool.Worker) {
	e.retired[w.ID] = true
	e.pool.WorkerKill(w.Pid())
}

func (e *Engine) blacklisted(path string) bool {
	for _, pattern := range e.opts.Blacklist {
		if ok, _ := filepath.Match(pattern, path); ok {
			return true
		}
	}
	return false
}
