// Package evloop implements the single-threaded, cooperative epoll event
// loop (§4.2): one epoll instance, a signalfd for masked signals, and a
// per-iteration continuation callback that decides whether the loop keeps
// running. All dispatch happens on the calling goroutine; no callback may
// block indefinitely, and the only suspension point is epoll_wait itself.
package evloop

import (
	"fmt"
	"log/slog"

	"golang.org/x/sys/unix"

	"github.com/ltp/testlib/internal/metrics"
	"github.com/ltp/testlib/internal/result"
)

const maxEventsPerBatch = 128

// Dispatch is invoked with the readiness mask reported by epoll for one
// registered descriptor.
type Dispatch func(events uint32)

type registration struct {
	fd       int32
	owner    any
	dispatch Dispatch
}

// Loop is the epoll-based readiness multiplexer described in §3/§4.2.
type Loop struct {
	epfd   int
	sigfd  int
	timeoutMs int

	continuation func() bool
	onSignal     func(sigs []uint32) bool

	regs map[int32]*registration

	closed bool
}

// Setup creates the epoll instance and a signalfd masking every signal in
// sigset, registers the signalfd for EPOLLIN, and stores the continuation
// and signal callbacks. The loop exits iff continuation returns false (or
// onSignal does, for a signal-triggered shutdown).
func Setup(sigset *unix.Sigset_linux, timeoutMs int, continuation func() bool, onSignal func(sigs []uint32) bool) (*Loop, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("evloop: epoll_create1: %w", err)
	}

	if err := unix.SigProcMask(unix.SIG_BLOCK, sigset, nil); err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("evloop: sigprocmask: %w", err)
	}

	sigfd, err := unix.Signalfd(-1, sigset, unix.SFD_CLOEXEC|unix.SFD_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("evloop: signalfd: %w", err)
	}

	l := &Loop{
		epfd:         epfd,
		sigfd:        sigfd,
		timeoutMs:    timeoutMs,
		continuation: continuation,
		onSignal:     onSignal,
		regs:         make(map[int32]*registration),
	}

	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, sigfd, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(sigfd),
	}); err != nil {
		l.Cleanup()
		return nil, fmt.Errorf("evloop: register signalfd: %w", err)
	}

	return l, nil
}

// Add registers fd for the given readiness mask. owner carries an opaque
// pointer the dispatch callback can use to recover its context (the Go
// translation of the C original's container_of-via-pointer pattern — see
// §9's design note).
func (l *Loop) Add(fd int, events uint32, owner any, dispatch Dispatch) error {
	reg := &registration{fd: int32(fd), owner: owner, dispatch: dispatch}
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: events,
		Fd:     int32(fd),
	}); err != nil {
		return fmt.Errorf("evloop: epoll_ctl add fd=%d: %w", fd, err)
	}
	l.regs[int32(fd)] = reg
	return nil
}

// Modify changes the readiness mask for an already-registered fd.
func (l *Loop) Modify(fd int, events uint32) error {
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{
		Events: events,
		Fd:     int32(fd),
	}); err != nil {
		return fmt.Errorf("evloop: epoll_ctl mod fd=%d: %w", fd, err)
	}
	return nil
}

// Remove deregisters fd. It is not an error to remove an fd that was
// already closed out from under the loop (EBADF is swallowed).
func (l *Loop) Remove(fd int) error {
	delete(l.regs, int32(fd))
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil && err != unix.EBADF && err != unix.ENOENT {
		return fmt.Errorf("evloop: epoll_ctl del fd=%d: %w", fd, err)
	}
	return nil
}

// Run loops calling epoll_wait, dispatching each ready descriptor, then
// invoking the continuation after each batch. It returns when the
// continuation (or a signal callback) returns false.
func (l *Loop) Run() error {
	events := make([]unix.EpollEvent, maxEventsPerBatch)
	for {
		n, err := unix.EpollWait(l.epfd, events, l.timeoutMs)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("evloop: epoll_wait: %w", err)
		}

		if n == maxEventsPerBatch {
			slog.Warn("evloop: batch saturated", "max", maxEventsPerBatch)
			metrics.EvloopBatchSaturated.Inc()
		}

		keepGoing := true
		for i := 0; i < n; i++ {
			ev := events[i]
			if int(ev.Fd) == l.sigfd {
				if !l.drainSignals() {
					keepGoing = false
				}
				continue
			}
			if reg, ok := l.regs[ev.Fd]; ok {
				metrics.EvloopDispatches.WithLabelValues("default").Inc()
				reg.dispatch(ev.Events)
			}
		}

		if keepGoing && l.continuation != nil {
			keepGoing = l.continuation()
		}
		if !keepGoing {
			return nil
		}
	}
}

func (l *Loop) drainSignals() bool {
	var buf [unix.SizeofSignalfdSiginfo * 16]byte
	n, err := unix.Read(l.sigfd, buf[:])
	if err != nil {
		if err == unix.EAGAIN {
			return true
		}
		result.Brk("evloop: read signalfd: %v", err)
		return false
	}

	var sigs []uint32
	for off := 0; off+int(unix.SizeofSignalfdSiginfo) <= n; off += int(unix.SizeofSignalfdSiginfo) {
		info := (*unix.SignalfdSiginfo)(rawPointer(&buf[off]))
		sigs = append(sigs, info.Signo)
	}

	if l.onSignal != nil {
		return l.onSignal(sigs)
	}
	return true
}

// Cleanup closes both descriptors. Safe to call once after Run returns.
func (l *Loop) Cleanup() error {
	if l.closed {
		return nil
	}
	l.closed = true
	err1 := unix.Close(l.epfd)
	err2 := unix.Close(l.sigfd)
	if err1 != nil {
		return err1
	}
	return err2
}

// Epfd exposes the raw epoll descriptor for packages (PipeChannel) that
// need to assert it is still valid without importing unix themselves.
func (l *Loop) Epfd() int { return l.epfd }
