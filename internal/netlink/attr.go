package netlink

import (
	"encoding/binary"

	"github.com/ltp/testlib/internal/result"
)

const sizeofNlAttr = 4

// maxAttrLen is the netlink attribute length field's width (16 bits).
const maxAttrLen = 0xffff

// AddAttr appends a raw (type, value) attribute to the message currently
// being built (the one most recently returned by AddMessage), 4-byte
// aligned per NLA_ALIGNTO. Brk's if value would overflow the 16-bit nla_len
// field.
func (c *Context) AddAttr(attrType uint16, value []byte) int {
	total := sizeofNlAttr + len(value)
	if total > maxAttrLen {
		result.Brk("netlink: attribute type %d value too long (%d bytes, max %d)", attrType, len(value), maxAttrLen-sizeofNlAttr)
	}
	pos := len(c.buf)
	hdr := make([]byte, sizeofNlAttr)
	binary.NativeEndian.PutUint16(hdr[0:2], uint16(total))
	binary.NativeEndian.PutUint16(hdr[2:4], attrType)
	c.buf = append(c.buf, hdr...)
	c.buf = append(c.buf, value...)
	if pad := align(total) - total; pad > 0 {
		c.buf = append(c.buf, make([]byte, pad)...)
	}
	return pos
}

// AddAttrString appends a NUL-terminated string attribute.
func (c *Context) AddAttrString(attrType uint16, s string) int {
	return c.AddAttr(attrType, append([]byte(s), 0))
}

// AddAttrU32 appends a native-endian uint32 attribute.
func (c *Context) AddAttrU32(attrType uint16, v uint32) int {
	buf := make([]byte, 4)
	binary.NativeEndian.PutUint32(buf, v)
	return c.AddAttr(attrType, buf)
}

// AddAttrNested opens a nested attribute container (e.g. IFLA_LINKINFO)
// whose length is fixed up by FinishNestedAttr once its children have been
// added.
func (c *Context) AddAttrNested(attrType uint16) int {
	return c.AddAttr(attrType, nil)
}

// FinishNestedAttr patches the nla_len of a nested attribute opened with
// AddAttrNested to cover everything written since, including further
// nested children.
func (c *Context) FinishNestedAttr(pos int) {
	length := len(c.buf) - pos
	if length > maxAttrLen {
		result.Brk("netlink: nested attribute at offset %d grew beyond %d bytes", pos, maxAttrLen)
	}
	binary.NativeEndian.PutUint16(c.buf[pos:pos+2], uint16(length))
}

// AddAttrList writes a sequence of same-typed attributes, e.g. a list of
// IFLA_ALT_IFNAME entries, returning each one's offset.
func (c *Context) AddAttrList(attrType uint16, values [][]byte) []int {
	offsets := make([]int, 0, len(values))
	for _, v := range values {
		offsets = append(offsets, c.AddAttr(attrType, v))
	}
	return offsets
}
