package jsonreader

import (
	"strconv"
	"strings"
)

// Type tags the JSON value currently under the cursor, including the
// distinguished VOID value §3 gives a buffer once it has latched a sticky
// error: VOID is never the type of a well-formed value, so callers can tell
// "malformed input" apart from an actual JSON null.
type Type int

const (
	TypeVoid Type = iota
	TypeNull
	TypeBool
	TypeNumber
	TypeString
	TypeObject
	TypeArray
)

func (t Type) String() string {
	switch t {
	case TypeVoid:
		return "void"
	case TypeNull:
		return "null"
	case TypeBool:
		return "bool"
	case TypeNumber:
		return "number"
	case TypeString:
		return "string"
	case TypeObject:
		return "object"
	case TypeArray:
		return "array"
	default:
		return "?"
	}
}

// NextType inspects (without consuming) the value at the current position.
// Once the buffer has latched a sticky error, NextType is a no-op that
// returns TypeVoid (§4.5).
func (b *Buffer) NextType() Type {
	if b.Failed() {
		return TypeVoid
	}
	b.skipWhitespace()
	c, ok := b.peek()
	if !ok {
		b.fail("unexpected end of input, expected a value")
		return TypeVoid
	}
	switch {
	case c == '{':
		return TypeObject
	case c == '[':
		return TypeArray
	case c == '"':
		return TypeString
	case c == 't' || c == 'f':
		return TypeBool
	case c == 'n':
		return TypeNull
	case c == '-' || (c >= '0' && c <= '9'):
		return TypeNumber
	default:
		b.fail("unrecognized value start %q", c)
		return TypeVoid
	}
}

// ReadNull consumes a `null` literal.
func (b *Buffer) ReadNull() {
	b.literal("null")
}

// ReadBool consumes a `true`/`false` literal.
func (b *Buffer) ReadBool() bool {
	if b.Failed() {
		return false
	}
	b.skipWhitespace()
	c, _ := b.peek()
	if c == 't' {
		b.literal("true")
		return true
	}
	b.literal("false")
	return false
}

func (b *Buffer) literal(lit string) {
	if b.Failed() {
		return
	}
	b.skipWhitespace()
	if b.pos+len(lit) > len(b.data) || string(b.data[b.pos:b.pos+len(lit)]) != lit {
		b.fail("expected literal %q", lit)
		return
	}
	b.pos += len(lit)
}

// ReadInt consumes and parses a JSON number. Per §6 this reader accepts
// integers only: a fractional part or exponent is a sticky error, not a
// silently-truncated value, and an out-of-range literal is flagged as
// overflow rather than wrapped (§8).
func (b *Buffer) ReadInt() int64 {
	if b.Failed() {
		return 0
	}
	b.skipWhitespace()
	start := b.pos
	if c, ok := b.peek(); ok && c == '-' {
		b.advance()
	}
	digitsStart := b.pos
	for {
		c, ok := b.peek()
		if !ok || c < '0' || c > '9' {
			break
		}
		b.advance()
	}
	if b.pos == digitsStart {
		b.fail("expected a number")
		return 0
	}
	if c, ok := b.peek(); ok && (c == '.' || c == 'e' || c == 'E') {
		b.fail("fractional or exponential numbers are not supported, integers only")
		return 0
	}
	text := string(b.data[start:b.pos])
	v, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		b.fail("malformed or out-of-range integer %q: %v", text, err)
		return 0
	}
	return v
}

// ReadString consumes and decodes a JSON string, including \uXXXX escapes.
func (b *Buffer) ReadString() string {
	if b.Failed() {
		return ""
	}
	b.skipWhitespace()
	b.expect('"')
	if b.Failed() {
		return ""
	}
	var sb strings.Builder
	for {
		c, ok := b.peek()
		if !ok {
			b.fail("unterminated string")
			return ""
		}
		if c == '"' {
			b.advance()
			return sb.String()
		}
		if c == '\\' {
			b.advance()
			esc, ok := b.peek()
			if !ok {
				b.fail("unterminated escape sequence")
				return ""
			}
			b.advance()
			switch esc {
			case '"':
				sb.WriteByte('"')
			case '\\':
				sb.WriteByte('\\')
			case '/':
				sb.WriteByte('/')
			case 'b':
				sb.WriteByte('\b')
			case 'f':
				sb.WriteByte('\f')
			case 'n':
				sb.WriteByte('\n')
			case 'r':
				sb.WriteByte('\r')
			case 't':
				sb.WriteByte('\t')
			case 'u':
				r := b.readUnicodeEscape()
				if b.Failed() {
					return ""
				}
				sb.WriteRune(r)
			default:
				b.fail("unknown escape \\%c", esc)
				return ""
			}
			continue
		}
		sb.WriteByte(c)
		b.advance()
	}
}

func (b *Buffer) readUnicodeEscape() rune {
	if b.pos+4 > len(b.data) {
		b.fail("truncated \\u escape")
		return 0
	}
	hi := b.hex4()
	if b.Failed() {
		return 0
	}
	if hi >= 0xD800 && hi <= 0xDBFF {
		if b.pos+6 <= len(b.data) && b.data[b.pos] == '\\' && b.data[b.pos+1] == 'u' {
			b.pos += 2
			lo := b.hex4()
			if b.Failed() {
				return 0
			}
			if lo >= 0xDC00 && lo <= 0xDFFF {
				return ((hi - 0xD800) << 10) + (lo - 0xDC00) + 0x10000
			}
			b.fail("invalid low surrogate in \\u escape")
			return 0
		}
	}
	return hi
}

func (b *Buffer) hex4() rune {
	v, err := strconv.ParseUint(string(b.data[b.pos:b.pos+4]), 16, 32)
	if err != nil {
		b.fail("invalid \\u escape %q: %v", b.data[b.pos:b.pos+4], err)
		return 0
	}
	b.pos += 4
	return rune(v)
}

// Cursor walks the members of an object or the elements of an array. It is
// single-shot: once the container it was opened on has been advanced past
// by an enclosing Skip, any further use of the cursor latches the buffer's
// sticky error (the LIFO-nesting guard from §9) rather than corrupting
// parser state.
type Cursor struct {
	buf     *Buffer
	depth   int
	isObj   bool
	started bool
	done    bool
}

// checkLive reports whether c may still be advanced; if not, it latches the
// sticky error (unless one is already latched) and returns false.
func (b *Buffer) checkLive(c *Cursor) bool {
	if b.Failed() {
		return false
	}
	if c.done {
		b.fail("cursor reused after its container was closed")
		return false
	}
	if c.depth != b.depth {
		b.fail("cursor used after an enclosing container was skipped past it")
		return false
	}
	return true
}

// ObjFirst opens an object and returns a cursor plus the first key, or
// ok=false for an empty object or a malformed document (the cursor is
// already closed in either case).
func (b *Buffer) ObjFirst() (*Cursor, string, bool) {
	if b.Failed() {
		return &Cursor{buf: b, done: true}, "", false
	}
	b.skipWhitespace()
	b.expect('{')
	if b.Failed() {
		return &Cursor{buf: b, done: true}, "", false
	}
	b.depth++
	c := &Cursor{buf: b, depth: b.depth, isObj: true}
	b.skipWhitespace()
	if ch, ok := b.peek(); ok && ch == '}' {
		b.advance()
		b.depth--
		c.done = true
		return c, "", false
	}
	key := b.ReadString()
	if b.Failed() {
		c.done = true
		return c, "", false
	}
	b.skipWhitespace()
	b.expect(':')
	if b.Failed() {
		c.done = true
		return c, "", false
	}
	c.started = true
	return c, key, true
}

// ObjNext consumes the current member's value is assumed already read by
// the caller, advances past the separating comma, and returns the next
// key, or ok=false once '}' is reached (closing the cursor) or the buffer
// has latched a sticky error.
func (c *Cursor) ObjNext() (string, bool) {
	b := c.buf
	if !b.checkLive(c) {
		return "", false
	}
	b.skipWhitespace()
	ch, ok := b.peek()
	if !ok {
		b.fail("unterminated object")
		return "", false
	}
	if ch == '}' {
		b.advance()
		b.depth--
		c.done = true
		return "", false
	}
	b.expect(',')
	if b.Failed() {
		return "", false
	}
	b.skipWhitespace()
	key := b.ReadString()
	if b.Failed() {
		return "", false
	}
	b.skipWhitespace()
	b.expect(':')
	if b.Failed() {
		return "", false
	}
	return key, true
}

// ArrFirst opens an array and reports whether it has at least one element
// (the cursor is positioned at that element's value; for an empty array or
// a malformed document it is already closed).
func (b *Buffer) ArrFirst() (*Cursor, bool) {
	if b.Failed() {
		return &Cursor{buf: b, done: true}, false
	}
	b.skipWhitespace()
	b.expect('[')
	if b.Failed() {
		return &Cursor{buf: b, done: true}, false
	}
	b.depth++
	c := &Cursor{buf: b, depth: b.depth, isObj: false}
	b.skipWhitespace()
	if ch, ok := b.peek(); ok && ch == ']' {
		b.advance()
		b.depth--
		c.done = true
		return c, false
	}
	c.started = true
	return c, true
}

// ArrNext advances past the current element (assumed already read) to the
// next one, or reports false once ']' is reached or a sticky error latches.
func (c *Cursor) ArrNext() bool {
	b := c.buf
	if !b.checkLive(c) {
		return false
	}
	b.skipWhitespace()
	ch, ok := b.peek()
	if !ok {
		b.fail("unterminated array")
		return false
	}
	if ch == ']' {
		b.advance()
		b.depth--
		c.done = true
		return false
	}
	b.expect(',')
	if b.Failed() {
		return false
	}
	return true
}

// SkipValue consumes whatever value is at the current position without
// interpreting it, descending into nested objects/arrays as needed. Used
// by ObjSkip/ArrSkip and by callers that want to ignore an unrecognized
// member.
func (b *Buffer) SkipValue() {
	if b.Failed() {
		return
	}
	switch b.NextType() {
	case TypeVoid:
		return
	case TypeNull:
		b.ReadNull()
	case TypeBool:
		b.ReadBool()
	case TypeNumber:
		b.ReadInt()
	case TypeString:
		b.ReadString()
	case TypeObject:
		cur, _, ok := b.ObjFirst()
		for ok {
			b.SkipValue()
			_, ok = cur.ObjNext()
		}
	case TypeArray:
		cur, ok := b.ArrFirst()
		for ok {
			b.SkipValue()
			ok = cur.ArrNext()
		}
	}
}

// ObjSkip discards the rest of the object's members (and closes the
// cursor), regardless of how many remain. The current member's value may be
// unread, already read, or partly read through cursors opened inside it;
// those inner containers are consumed and their cursors become stale.
func (c *Cursor) ObjSkip() {
	b := c.buf
	for !c.done && b.depth > c.depth && !b.Failed() {
		b.skipWhitespace()
		switch ch, _ := b.peek(); ch {
		case '}', ']':
			b.depth--
			fallthrough
		case ',', ':':
			b.advance()
		default:
			b.SkipValue()
		}
	}
	if !b.checkLive(c) {
		return
	}
	if !c.isObj {
		b.fail("ObjSkip called on an array cursor")
		return
	}
	for {
		if b.skipWhitespace(); b.pos < len(b.data) && b.data[b.pos] != ',' && b.data[b.pos] != '}' {
			b.SkipValue()
		}
		if b.Failed() {
			return
		}
		if _, ok := c.ObjNext(); !ok {
			return
		}
	}
}

// ArrSkip discards the rest of the array's elements (and closes the
// cursor).
func (c *Cursor) ArrSkip() {
	b := c.buf
	if !b.checkLive(c) {
		return
	}
	if c.isObj {
		b.fail("ArrSkip called on an object cursor")
		return
	}
	for {
		b.SkipValue()
		if b.Failed() {
			return
		}
		if !c.ArrNext() {
			return
		}
	}
}
