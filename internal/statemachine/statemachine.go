// Package statemachine implements the generic, table-driven finite-state
// machine primitive (§3/§4.1) used by Channel and Worker: a fixed matrix of legal transitions over at most 64
// states, enforced on every mutation, with an 8-entry ring-buffer trace for
// diagnosing the illegal transition that terminates the process.
package statemachine

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/ltp/testlib/internal/result"
)

// State identifies one of at most 64 states in a Matrix.
type State uint8

const maxState = 63
const ringSize = 8

// Matrix is an immutable mapping from a source state to the bitmask of
// states reachable from it, plus a human-readable name per state.
type Matrix struct {
	name [maxState + 1]string
	row  [maxState + 1]uint64
}

// StateDef declares one state and the states it may transition to.
type StateDef struct {
	ID   State
	Name string
	To   []State
}

// NewMatrix builds a Matrix from a table of StateDefs. Panics (at
// construction time, not at test run time) if a state ID exceeds the
// 64-state budget — this is a programmer error in the matrix definition,
// caught before any test ever runs.
func NewMatrix(defs []StateDef) *Matrix {
	m := &Matrix{}
	for _, d := range defs {
		if d.ID > maxState {
			panic(fmt.Sprintf("statemachine: state id %d exceeds max %d", d.ID, maxState))
		}
		m.name[d.ID] = d.Name
		var mask uint64
		for _, to := range d.To {
			if to > maxState {
				panic(fmt.Sprintf("statemachine: target state id %d exceeds max %d", to, maxState))
			}
			mask |= 1 << uint(to)
		}
		m.row[d.ID] = mask
	}
	return m
}

// Name returns the human-readable name for a state, or "?" if undeclared.
func (m *Matrix) Name(s State) string {
	if s > maxState || m.name[s] == "" {
		return "?"
	}
	return m.name[s]
}

type transition struct {
	file       string
	line       int
	from, to   State
	haveRecord bool
}

// Machine owns the current state of one object (a Channel, a Worker, a
// pipe channel's protocol) and a ring buffer of its last 8 transitions.
type Machine struct {
	matrix  *Matrix
	current State
	ring    [ringSize]transition
	ringPos int
	ringLen int
}

// New creates a Machine starting in the given initial state. The initial
// state is recorded as the first ring entry (from == to == initial),
// matching §3's invariant that the current state is always reached by a
// recorded transition, including the implicit one at construction.
func New(matrix *Matrix, initial State) *Machine {
	m := &Machine{matrix: matrix, current: initial}
	m.record("", 0, initial, initial)
	return m
}

func (m *Machine) record(file string, line int, from, to State) {
	m.ring[m.ringPos] = transition{file: file, line: line, from: from, to: to, haveRecord: true}
	m.ringPos = (m.ringPos + 1) % ringSize
	if m.ringLen < ringSize {
		m.ringLen++
	}
}

// Current returns the current state without any mask validation.
func (m *Machine) Current() State { return m.current }

// Set attempts the transition to `to`, validating it against the matrix
// row for the current state. file/line identify the call site explicitly
// (per §4.1's design note) rather than being captured implicitly, so a
// trace remains meaningful when formatted by a different component than
// the one that requested the transition. On an illegal transition the
// process is terminated via result.BrkTrace with the ring-buffer trace.
func (m *Machine) Set(file string, line int, to State) {
	if to > maxState || m.current > maxState || m.row(m.current)&(1<<uint(to)) == 0 {
		result.BrkTrace(m.Trace(), "illegal state transition %s(%d) -> %s(%d)",
			m.matrix.Name(m.current), m.current, m.matrix.Name(to), to)
		return
	}
	m.record(file, line, m.current, to)
	m.current = to
}

// SetHere is the ergonomic wrapper most callers use: it captures the
// immediate caller's file/line via runtime.Caller rather than requiring
// them to be threaded through by hand.
func (m *Machine) SetHere(to State) {
	_, file, line, _ := runtime.Caller(1)
	m.Set(file, line, to)
}

func (m *Machine) row(s State) uint64 {
	if s > maxState {
		return 0
	}
	return m.matrix.row[s]
}

// Expect terminates the process unless the current state's bit is set in
// mask.
func (m *Machine) Expect(mask uint64) {
	if (1<<uint(m.current))&mask == 0 {
		result.BrkTrace(m.Trace(), "unexpected state %s(%d), want mask %#x",
			m.matrix.Name(m.current), m.current, mask)
	}
}

// Get is Expect plus returning the current state identifier.
func (m *Machine) Get(mask uint64) State {
	m.Expect(mask)
	return m.current
}

// Trace renders the ring buffer's transitions in chronological order,
// oldest first, ending with the most recent (on a failure path, the
// illegal one that triggered the dump).
func (m *Machine) Trace() string {
	var b strings.Builder
	start := m.ringPos
	if m.ringLen < ringSize {
		start = 0
	}
	for i := 0; i < m.ringLen; i++ {
		idx := (start + i) % ringSize
		t := m.ring[idx]
		if !t.haveRecord {
			continue
		}
		if t.file == "" {
			fmt.Fprintf(&b, "  [init] -> %s(%d)\n", m.matrix.Name(t.to), t.to)
			continue
		}
		fmt.Fprintf(&b, "  %s:%d: %s(%d) -> %s(%d)\n",
			t.file, t.line, m.matrix.Name(t.from), t.from, m.matrix.Name(t.to), t.to)
	}
	return b.String()
}
