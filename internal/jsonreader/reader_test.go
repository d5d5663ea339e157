package jsonreader

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScalarRoundTrip(t *testing.T) {
	b := Load([]byte(`  42 `))
	require.Equal(t, TypeNumber, b.NextType())
	require.Equal(t, int64(42), b.ReadInt())
	require.False(t, b.Failed())
}

func TestNegativeInteger(t *testing.T) {
	b := Load([]byte(`-7`))
	require.Equal(t, int64(-7), b.ReadInt())
	require.False(t, b.Failed())
}

func TestStringWithEscapesAndSurrogatePair(t *testing.T) {
	b := Load([]byte("\"line1\\nline2\\t\\u00e9\\ud83d\\ude00\""))
	require.Equal(t, TypeString, b.NextType())
	got := b.ReadString()
	require.Equal(t, "line1\nline2\té😀", got)
	require.False(t, b.Failed())
}

func TestUnicodeEscapeDecoding(t *testing.T) {
	b := Load([]byte("\"\\u0041\""))
	require.Equal(t, "A", b.ReadString())
	require.False(t, b.Failed())

	b2 := Load([]byte("\"\\u00e9\""))
	require.Equal(t, []byte{0xC3, 0xA9}, []byte(b2.ReadString()))
	require.False(t, b2.Failed())
}

func TestObjectWalkInOrder(t *testing.T) {
	b := Load([]byte(`{"a": 1, "b": "two", "c": [1,2,3]}`))
	cur, key, ok := b.ObjFirst()
	require.True(t, ok)
	require.Equal(t, "a", key)
	require.Equal(t, TypeNumber, b.NextType())
	require.Equal(t, int64(1), b.ReadInt())

	key, ok = cur.ObjNext()
	require.True(t, ok)
	require.Equal(t, "b", key)
	require.Equal(t, "two", b.ReadString())

	key, ok = cur.ObjNext()
	require.True(t, ok)
	require.Equal(t, "c", key)
	arr, ok := b.ArrFirst()
	require.True(t, ok)
	n := 0
	for {
		n++
		b.ReadInt()
		if !arr.ArrNext() {
			break
		}
	}
	require.Equal(t, 3, n)

	_, ok = cur.ObjNext()
	require.False(t, ok)
	require.False(t, b.Failed())
}

func TestObjSkipDiscardsRemainingMembers(t *testing.T) {
	b := Load([]byte(`{"keep": 1, "ignore": {"nested": [1,2,{"x":true}]}, "tail": "z"}`))
	cur, key, ok := b.ObjFirst()
	require.True(t, ok)
	require.Equal(t, "keep", key)
	require.Equal(t, int64(1), b.ReadInt())
	cur.ObjSkip()

	// buffer should now be fully consumed.
	require.Equal(t, len(b.data), b.pos)
	require.False(t, b.Failed())
}

func TestEmptyObjectAndArray(t *testing.T) {
	b := Load([]byte(`{}`))
	_, _, ok := b.ObjFirst()
	require.False(t, ok)

	b2 := Load([]byte(`[]`))
	_, ok2 := b2.ArrFirst()
	require.False(t, ok2)
}

// TestStaleCursorAfterEnclosingSkipLatchesStickyError exercises the §9 open
// question decision: reusing a cursor whose enclosing container was already
// skipped past latches the sticky error instead of corrupting parser state.
func TestStaleCursorAfterEnclosingSkipLatchesStickyError(t *testing.T) {
	b := Load([]byte(`{"outer": {"inner": [1,2]}}`))
	outerCur, key, ok := b.ObjFirst()
	require.True(t, ok)
	require.Equal(t, "outer", key)

	innerCur, innerKey, ok := b.ObjFirst()
	require.True(t, ok)
	require.Equal(t, "inner", innerKey)
	arrCur, ok := b.ArrFirst()
	require.True(t, ok)

	// Skip the outer object wholesale; this invalidates innerCur and arrCur.
	outerCur.ObjSkip()
	require.False(t, b.Failed())

	_, ok = innerCur.ObjNext()
	require.False(t, ok)
	require.True(t, b.Failed())

	b2 := Load([]byte(`{"outer": {"inner": [1,2]}}`))
	outerCur2, _, _ := b2.ObjFirst()
	_, _, _ = b2.ObjFirst()
	arrCur2, _ := b2.ArrFirst()
	outerCur2.ObjSkip()
	require.False(t, arrCur2.ArrNext())
	require.True(t, b2.Failed())
}

func TestTruncatedObjectLatchesStickyErrorAndYieldsVoid(t *testing.T) {
	b := Load([]byte(`{`))
	_, _, ok := b.ObjFirst()
	require.False(t, ok)
	require.True(t, b.Failed())
	require.Equal(t, TypeVoid, b.NextType())
}

func TestFractionalNumberIsAStickyErrorNotSilentlyAccepted(t *testing.T) {
	b := Load([]byte(`1.5`))
	b.ReadInt()
	require.True(t, b.Failed())
	require.Contains(t, b.Err(), "integers only")
}

func TestExponentNumberIsAStickyError(t *testing.T) {
	b := Load([]byte(`1e10`))
	b.ReadInt()
	require.True(t, b.Failed())
}

func TestIntegerOverflowIsFlaggedNotWrapped(t *testing.T) {
	b := Load([]byte(`99999999999999999999999999`))
	b.ReadInt()
	require.True(t, b.Failed())
	require.Contains(t, b.Err(), "out-of-range")
}

func TestFirstErrorLatchesSubsequentOperationsAreNoOps(t *testing.T) {
	b := Load([]byte(`{"a": }`))
	cur, key, ok := b.ObjFirst()
	require.True(t, ok)
	require.Equal(t, "a", key)
	require.Equal(t, TypeVoid, b.NextType())
	require.True(t, b.Failed())
	firstErr := b.Err()

	// further reads are no-ops and do not overwrite the latched error.
	require.Equal(t, "", b.ReadString())
	_, ok = cur.ObjNext()
	require.False(t, ok)
	require.Equal(t, firstErr, b.Err())
}

func TestErrPrintIncludesCaretAndMessage(t *testing.T) {
	b := Load([]byte("{\n  \"a\": ,\n}"))
	_, _, _ = b.ObjFirst()
	b.NextType()
	require.True(t, b.Failed())

	out := b.ErrPrint("hwconf.json")
	require.Contains(t, out, "^")
	require.Contains(t, out, "hwconf.json:")
	require.Contains(t, out, b.Err())
}
