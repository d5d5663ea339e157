package workerpool

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ltp/testlib/internal/pipechannel"
	"github.com/ltp/testlib/internal/statemachine"
)

// recvOutcome carries the result of one async Recv, boxed for delivery
// through a channel to whichever goroutine is waiting on it.
type recvOutcome struct {
	data []byte
	err  error
}

// Worker lifecycle states.
const (
	wSTOPPED statemachine.State = iota
	wRUNNING
	wSTOPPING
	wKILL_SENT
	wDIED
)

var workerMatrix = statemachine.NewMatrix([]statemachine.StateDef{
	{ID: wSTOPPED, Name: "STOPPED", To: []statemachine.State{wRUNNING}},
	{ID: wRUNNING, Name: "RUNNING", To: []statemachine.State{wSTOPPING, wKILL_SENT, wDIED}},
	{ID: wSTOPPING, Name: "STOPPING", To: []statemachine.State{wDIED, wKILL_SENT}},
	{ID: wKILL_SENT, Name: "KILL_SENT", To: []statemachine.State{wDIED}},
	{ID: wDIED, Name: "DIED", To: []statemachine.State{wSTOPPED}},
})

// Worker is one re-exec'd child plus the Channel used to talk to it. The
// parent-side Channel runs ASYNC, bound to the owning Pool's EventLoop
// (§4.4); Send/RoundTrip/SendOnly submit the actual Channel calls onto that
// loop's goroutine via Pool.Submit and hand the result back over a channel,
// so callers on any goroutine get a synchronous-looking API without taking
// a lock on Worker state.
type Worker struct {
	ID      int
	pool    *Pool
	cmd     *exec.Cmd
	channel *pipechannel.Channel
	sm      *statemachine.Machine
	started time.Time

	sendDone chan error
	recvDone chan recvOutcome
}

func startWorker(p *Pool, id int, entryName string, extraEnv []string) (*Worker, error) {
	parentToChildR, parentToChildW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("workerpool: parent->child pipe: %w", err)
	}
	childToParentR, childToParentW, err := os.Pipe()
	if err != nil {
		parentToChildR.Close()
		parentToChildW.Close()
		return nil, fmt.Errorf("workerpool: child->parent pipe: %w", err)
	}

	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("workerpool: resolve self: %w", err)
	}

	cmd := exec.Command(self, reexecArgs(entryName)...)
	// Child sees fd 3 = its read end (parent->child), fd 4 = its write end
	// (child->parent), matching the Init() convention.
	cmd.ExtraFiles = []*os.File{parentToChildR, childToParentW}
	cmd.Env = append(os.Environ(), extraEnv...)
	cmd.Stderr = os.Stderr
	cmd.Stdout = os.Stdout

	if err := cmd.Start(); err != nil {
		parentToChildR.Close()
		parentToChildW.Close()
		childToParentR.Close()
		childToParentW.Close()
		return nil, fmt.Errorf("workerpool: start worker %d: %w", id, err)
	}

	// The parent keeps the opposite ends; the child's copies (dup'd across
	// fork+exec) are closed here so EOF propagates correctly on worker exit.
	parentToChildR.Close()
	childToParentW.Close()

	ch, err := pipechannel.Open(int(childToParentR.Fd()), int(parentToChildW.Fd()), p.loop)
	if err != nil {
		cmd.Process.Kill()
		return nil, fmt.Errorf("workerpool: open channel for worker %d: %w", id, err)
	}

	w := &Worker{
		ID:       id,
		pool:     p,
		cmd:      cmd,
		channel:  ch,
		sm:       statemachine.New(workerMatrix, wSTOPPED),
		started:  time.Now(),
		sendDone: make(chan error, 1),
		recvDone: make(chan recvOutcome, 1),
	}
	ch.SetCallbacks(w.onSend, w.onRecv)
	w.sm.SetHere(wRUNNING)
	return w, nil
}

// onSend and onRecv are the Channel's ASYNC completion callbacks; both run
// on the pool's event-loop goroutine. The buffered, size-1 channels mean a
// completion that arrives after its caller gave up waiting (timeout) is
// simply dropped on the floor instead of blocking the loop.
func (w *Worker) onSend(err error) {
	select {
	case w.sendDone <- err:
	default:
	}
}

func (w *Worker) onRecv(data []byte, err error) {
	out := recvOutcome{err: err}
	if data != nil {
		out.data = append([]byte(nil), data...)
	}
	select {
	case w.recvDone <- out:
	default:
	}
}

// Send submits msg to the worker and blocks the calling goroutine (not the
// loop goroutine) until the peer's ACK arrives or timeout elapses.
func (w *Worker) Send(msg []byte, timeout time.Duration) error {
	w.pool.Submit(func() {
		if err := w.channel.Send(msg); err != nil {
			w.onSend(err)
		}
	})
	select {
	case err := <-w.sendDone:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("workerpool: send to worker %d timed out after %s", w.ID, timeout)
	}
}

// SendOnly submits msg without waiting for the ACK; used for best-effort
// shutdown signals where the pool is about to be torn down regardless.
func (w *Worker) SendOnly(msg []byte) {
	w.pool.Submit(func() {
		if err := w.channel.Send(msg); err != nil {
			w.onSend(err)
		}
	})
}

// RoundTrip sends msg, then waits for the worker's reply payload, both
// against a single deadline. It is the async translation of the old
// send-then-blocking-recv pattern: because the underlying Channel calls run
// on the loop goroutine rather than a throwaway one, a timed-out round trip
// never leaves a goroutine that must later "consume" a stray reply — the
// reply still completes on the loop goroutine and is simply discarded by
// the size-1 result channel.
func (w *Worker) RoundTrip(msg []byte, timeout time.Duration) (reply []byte, err error, timedOut bool) {
	deadline := time.Now().Add(timeout)

	w.pool.Submit(func() {
		if sendErr := w.channel.Send(msg); sendErr != nil {
			w.onSend(sendErr)
		}
	})
	select {
	case sendErr := <-w.sendDone:
		if sendErr != nil {
			return nil, sendErr, false
		}
	case <-time.After(time.Until(deadline)):
		return nil, nil, true
	}

	w.pool.Submit(func() {
		if recvErr := w.channel.Recv(nil); recvErr != nil {
			w.onRecv(nil, recvErr)
		}
	})
	select {
	case res := <-w.recvDone:
		return res.data, res.err, false
	case <-time.After(time.Until(deadline)):
		return nil, nil, true
	}
}

// Pid returns the worker's process ID.
func (w *Worker) Pid() int { return w.cmd.Process.Pid }

// Channel returns the PipeChannel connected to this worker.
func (w *Worker) Channel() *pipechannel.Channel { return w.channel }

// Age reports how long the worker has been running.
func (w *Worker) Age() time.Duration { return time.Since(w.started) }

// signal sends sig to the worker and advances its state machine.
func (w *Worker) signal(sig unix.Signal, to statemachine.State) error {
	w.sm.SetHere(to)
	return unix.Kill(w.Pid(), sig)
}

// reap calls Wait on the worker's process, transitioning it to DIED.
func (w *Worker) reap() error {
	err := w.cmd.Wait()
	w.channel.Close()
	if w.sm.Current() != wDIED {
		w.sm.SetHere(wDIED)
	}
	return err
}
