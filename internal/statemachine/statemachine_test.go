package statemachine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ltp/testlib/internal/result"
)

// stubExit swaps in a no-op exit function so a triggered Brk doesn't kill
// the test binary, and reports whether it was invoked.
func stubExit(called *bool) (restore func()) {
	return result.SetExitFuncForTest(func(int) { *called = true })
}

const (
	stateIdle State = iota
	stateRunning
	stateDone
)

func testMatrix() *Matrix {
	return NewMatrix([]StateDef{
		{ID: stateIdle, Name: "IDLE", To: []State{stateRunning}},
		{ID: stateRunning, Name: "RUNNING", To: []State{stateDone, stateIdle}},
		{ID: stateDone, Name: "DONE", To: []State{}},
	})
}

func TestSetLegalTransitions(t *testing.T) {
	m := New(testMatrix(), stateIdle)
	m.SetHere(stateRunning)
	require.Equal(t, stateRunning, m.Current())
	m.SetHere(stateDone)
	require.Equal(t, stateDone, m.Current())
}

func TestExpectMaskPasses(t *testing.T) {
	m := New(testMatrix(), stateIdle)
	m.SetHere(stateRunning)
	m.Expect(1 << uint(stateRunning))
}

func TestGetReturnsCurrentState(t *testing.T) {
	m := New(testMatrix(), stateIdle)
	m.SetHere(stateRunning)
	got := m.Get(1<<uint(stateRunning) | 1<<uint(stateDone))
	assert.Equal(t, stateRunning, got)
}

func TestIllegalTransitionIsFatal(t *testing.T) {
	calledExit := false
	restore := stubExit(&calledExit)
	defer restore()

	m := New(testMatrix(), stateDone)
	m.SetHere(stateRunning) // DONE has no outgoing transitions

	assert.True(t, calledExit)
}

func TestTraceContainsLastTransitionsInOrder(t *testing.T) {
	m := New(testMatrix(), stateIdle)
	m.SetHere(stateRunning)
	m.SetHere(stateIdle)
	m.SetHere(stateRunning)

	trace := m.Trace()
	idxFirst := strings.Index(trace, "IDLE(0) -> RUNNING(1)")
	idxSecond := strings.Index(trace, "RUNNING(1) -> IDLE(0)")
	idxThird := strings.LastIndex(trace, "IDLE(0) -> RUNNING(1)")
	require.True(t, idxFirst >= 0 && idxSecond > idxFirst && idxThird > idxSecond)
}

func TestRingWrapsAtEight(t *testing.T) {
	m := New(testMatrix(), stateIdle)
	for i := 0; i < 10; i++ {
		if m.Current() == stateIdle {
			m.SetHere(stateRunning)
		} else {
			m.SetHere(stateIdle)
		}
	}
	trace := m.Trace()
	// ring holds at most 8 entries regardless of how many transitions occurred
	require.LessOrEqual(t, strings.Count(trace, "->"), ringSize)
}
