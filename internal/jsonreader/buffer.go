// Package jsonreader implements a cursor-based, read-only JSON query API
// (§4.5) over an immutable byte buffer: callers navigate a JSON document
// with ObjFirst/ObjNext/ArrFirst/ArrNext instead of unmarshalling it into a
// Go value, so it runs in bounded memory regardless of document size.
// Malformed input latches a sticky error on the Buffer rather than aborting
// the process: once set, every further read is a no-op returning its
// invalid/zero value, matching §4.5's "first error latches the buffer"
// policy. Callers that require a field to be present (e.g. internal/hwconf's
// "hwconfs" key) enforce that at their own layer via result.Brk; the reader
// itself never terminates the process.
package jsonreader

import "fmt"

// Buffer is the immutable byte range plus read cursor described in §3's
// JsonBuffer. A Buffer is only ever advanced forward; it never copies its
// backing array.
type Buffer struct {
	data   []byte
	pos    int
	depth  int
	err    string
	errPos int
}

// Load wraps data for reading. The byte slice is not copied; the caller
// must not mutate it while the Buffer is in use.
func Load(data []byte) *Buffer {
	return &Buffer{data: data}
}

func (b *Buffer) peek() (byte, bool) {
	if b.pos >= len(b.data) {
		return 0, false
	}
	return b.data[b.pos], true
}

func (b *Buffer) advance() { b.pos++ }

func (b *Buffer) skipWhitespace() {
	for b.pos < len(b.data) {
		switch b.data[b.pos] {
		case ' ', '\t', '\n', '\r':
			b.pos++
		default:
			return
		}
	}
}

// Failed reports whether a sticky parse error has latched the buffer.
func (b *Buffer) Failed() bool { return b.err != "" }

// Err returns the sticky parse error, or "" if none has occurred yet.
func (b *Buffer) Err() string { return b.err }

// fail records the sticky error if none is latched yet; the first error
// wins and every later fail call for the same buffer is a no-op, per
// §4.5's "the first error latches the buffer".
func (b *Buffer) fail(format string, args ...any) {
	if b.err != "" {
		return
	}
	b.err = fmt.Sprintf(format, args...)
	b.errPos = b.pos
}

// ErrPrint renders the §4.5 err_print diagnostic: up to ten lines of source
// context ending at the line containing the offset where the error latched,
// a caret under the offending column, and the error message. name labels
// the document (typically the path it was loaded from). Returns "" if no
// error has latched.
func (b *Buffer) ErrPrint(name string) string {
	if b.err == "" {
		return ""
	}
	upTo := b.errPos
	if upTo > len(b.data) {
		upTo = len(b.data)
	}
	var lines []string
	start := 0
	for i := 0; i < upTo; i++ {
		if b.data[i] == '\n' {
			lines = append(lines, string(b.data[start:i]))
			start = i + 1
		}
	}
	lastLine := string(b.data[start:upTo])
	lines = append(lines, lastLine)
	if len(lines) > 10 {
		lines = lines[len(lines)-10:]
	}

	var out string
	for _, l := range lines {
		out += l + "\n"
	}
	col := len(lastLine)
	if col > 0 {
		col--
	}
	for i := 0; i < col; i++ {
		out += " "
	}
	out += "^\n"
	out += fmt.Sprintf("%s: %s\n", name, b.err)
	return out
}

func (b *Buffer) expect(c byte) {
	if b.Failed() {
		return
	}
	got, ok := b.peek()
	if !ok || got != c {
		b.fail("expected %q", c)
		return
	}
	b.advance()
}
