package workerpool

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ltp/testlib/internal/evloop"
	"github.com/ltp/testlib/internal/metrics"
	"github.com/ltp/testlib/internal/result"
)

// Pool manages a set of re-exec'd workers sharing one EventLoop. SIGCHLD is
// masked and delivered through the loop's signalfd so reaping never races
// an epoll_wait. Per §4.4 a worker's parent-side Channel is ASYNC, bound to
// this EventLoop, so every Channel.Send/Recv call and callback must run on
// the single goroutine driving Run — Submit is the door other goroutines use
// to get work onto that goroutine, the Go stand-in for the original
// library's single-threaded, no-object-locking discipline.
type Pool struct {
	mu      sync.Mutex
	loop    *evloop.Loop
	workers map[int]*Worker
	nextID  int
	maxTTL  time.Duration

	wakeR, wakeW int
	cmdMu        sync.Mutex
	cmds         []func()
}

// Setup creates the pool's EventLoop, masking SIGCHLD so it is delivered
// via signalfd, and wires the loop's continuation callback. It also opens a
// self-pipe registered for EPOLLIN so Submit can wake a blocked epoll_wait.
func Setup(maxTTL time.Duration, continuation func() bool) (*Pool, error) {
	var sigset unix.Sigset_linux
	unix.SigemptySet(&sigset)
	unix.SigaddSet(&sigset, int(unix.SIGCHLD))

	p := &Pool{
		workers: make(map[int]*Worker),
		maxTTL:  maxTTL,
	}

	loop, err := evloop.Setup(&sigset, 1000, continuation, p.onSignal)
	if err != nil {
		return nil, fmt.Errorf("workerpool: setup event loop: %w", err)
	}
	p.loop = loop

	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		loop.Cleanup()
		return nil, fmt.Errorf("workerpool: wake pipe: %w", err)
	}
	p.wakeR, p.wakeW = fds[0], fds[1]
	if err := loop.Add(p.wakeR, unix.EPOLLIN, p, p.onWake); err != nil {
		unix.Close(p.wakeR)
		unix.Close(p.wakeW)
		loop.Cleanup()
		return nil, fmt.Errorf("workerpool: register wake pipe: %w", err)
	}

	return p, nil
}

// Submit queues fn to run on the pool's event-loop goroutine and wakes a
// blocked epoll_wait so it runs promptly. Safe to call from any goroutine;
// fn itself must not call Submit synchronously nor block.
func (p *Pool) Submit(fn func()) {
	p.cmdMu.Lock()
	p.cmds = append(p.cmds, fn)
	p.cmdMu.Unlock()
	unix.Write(p.wakeW, []byte{0})
}

func (p *Pool) onWake(events uint32) {
	var buf [64]byte
	for {
		_, err := unix.Read(p.wakeR, buf[:])
		if err != nil {
			break
		}
	}
	p.cmdMu.Lock()
	cmds := p.cmds
	p.cmds = nil
	p.cmdMu.Unlock()
	for _, fn := range cmds {
		fn()
	}
}

// Loop exposes the pool's shared EventLoop for callers that need to
// register additional descriptors (e.g. a PipeChannel per worker).
func (p *Pool) Loop() *evloop.Loop { return p.loop }

func (p *Pool) onSignal(sigs []uint32) bool {
	for _, s := range sigs {
		if unix.Signal(s) == unix.SIGCHLD {
			p.reapExited()
		}
	}
	return true
}

func (p *Pool) reapExited() {
	for {
		var ws unix.WaitStatus
		pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
		if err != nil || pid <= 0 {
			return
		}
		p.mu.Lock()
		w, ok := p.workers[pid]
		if ok {
			delete(p.workers, pid)
		}
		p.mu.Unlock()
		if ok {
			w.channel.Close()
			if w.sm.Current() != wDIED {
				w.sm.SetHere(wDIED)
			}
			metrics.WorkersReaped.WithLabelValues("exited").Inc()
			metrics.WorkersRunning.Dec()
			slog.Info("workerpool: worker exited", "pid", pid, "status", ws.ExitStatus())
		}
	}
}

// WorkerStart launches a new worker running the named registered entry
// point and registers it in the pool.
func (p *Pool) WorkerStart(entryName string, extraEnv []string) (*Worker, error) {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.mu.Unlock()

	w, err := startWorker(p, id, entryName, extraEnv)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.workers[w.Pid()] = w
	p.mu.Unlock()
	metrics.WorkersStarted.Inc()
	metrics.WorkersRunning.Inc()
	return w, nil
}

// WorkerTTL scans all running workers and kills any whose age exceeds the
// pool's configured maxTTL. Returns the pids it signalled.
func (p *Pool) WorkerTTL() []int {
	if p.maxTTL <= 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	var killed []int
	for pid, w := range p.workers {
		if w.sm.Current() == wRUNNING && w.Age() > p.maxTTL {
			if err := w.signal(unix.SIGTERM, wSTOPPING); err != nil {
				result.Brk("workerpool: TTL terminate pid %d: %v", pid, err)
			}
			killed = append(killed, pid)
		}
	}
	return killed
}

// WorkerKill forcibly kills a worker by pid with SIGKILL.
func (p *Pool) WorkerKill(pid int) error {
	p.mu.Lock()
	w, ok := p.workers[pid]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("workerpool: no such worker pid %d", pid)
	}
	return w.signal(unix.SIGKILL, wKILL_SENT)
}

// Len returns the number of workers currently tracked by the pool.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Run drives the pool's EventLoop until the continuation returns false.
func (p *Pool) Run() error { return p.loop.Run() }

// Cleanup kills every remaining worker with SIGKILL, reaps them
// synchronously, and tears down the event loop.
func (p *Pool) Cleanup() error {
	p.mu.Lock()
	pids := make([]int, 0, len(p.workers))
	for pid := range p.workers {
		pids = append(pids, pid)
	}
	p.mu.Unlock()

	for _, pid := range pids {
		p.mu.Lock()
		w := p.workers[pid]
		p.mu.Unlock()
		if w == nil {
			continue
		}
		unix.Kill(pid, unix.SIGKILL)
		w.reap()
		metrics.WorkersReaped.WithLabelValues("cleanup").Inc()
		metrics.WorkersRunning.Dec()
		p.mu.Lock()
		delete(p.workers, pid)
		p.mu.Unlock()
	}

	p.loop.Remove(p.wakeR)
	unix.Close(p.wakeR)
	unix.Close(p.wakeW)
	return p.loop.Cleanup()
}
