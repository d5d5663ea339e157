// Package netlink implements the typed rtnetlink/nfnetlink message builder
// (§4.6): growable byte buffers holding one or more nlmsghdr-framed
// messages, each carrying a tree of length-prefixed attributes, batched
// behind NLM_F_MULTI and terminated with NLMSG_DONE the way a netlink
// dump request is built, grounded on the conntrack consumer's message/
// attribute handling.
package netlink

import (
	"encoding/binary"

	"golang.org/x/sys/unix"

	"github.com/ltp/testlib/internal/result"
)

const initialCapacity = 512

// Context accumulates one or more netlink messages into a single buffer
// ready to be written to a netlink socket.
type Context struct {
	buf       []byte
	msgStarts []int
	seq       uint32
}

// CreateContext allocates an empty builder context.
func CreateContext() *Context {
	return &Context{buf: make([]byte, 0, initialCapacity)}
}

// AddMessage appends a new nlmsghdr with the given type and flags, returning
// its index for use with FinishMessage. NLM_F_REQUEST is always set, and the
// previous message in the context, if any, is marked NLM_F_MULTI.
func (c *Context) AddMessage(msgType uint16, flags uint16) int {
	if n := len(c.msgStarts); n > 0 {
		prev := c.msgStarts[n-1]
		prevFlags := binary.NativeEndian.Uint16(c.buf[prev+6 : prev+8])
		binary.NativeEndian.PutUint16(c.buf[prev+6:prev+8], prevFlags|unix.NLM_F_MULTI)
	}
	c.seq++
	start := len(c.buf)
	var hdr unix.NlMsghdr
	hdr.Len = uint32(unix.SizeofNlMsghdr)
	hdr.Type = msgType
	hdr.Flags = flags | unix.NLM_F_REQUEST
	hdr.Seq = c.seq
	hdr.Pid = 0
	c.buf = append(c.buf, marshalNlMsghdr(hdr)...)
	c.msgStarts = append(c.msgStarts, start)
	return len(c.msgStarts) - 1
}

// AddDone appends a final NLMSG_DONE message, used to terminate a batch of
// NLM_F_MULTI dump responses / requests.
func (c *Context) AddDone() {
	c.AddMessage(unix.NLMSG_DONE, 0)
	c.FinishMessage(len(c.msgStarts) - 1)
}

// FinishMessage patches the nlmsghdr.Len field of message idx to the number
// of bytes actually written for it (header + payload, netlink-aligned).
func (c *Context) FinishMessage(idx int) {
	if idx < 0 || idx >= len(c.msgStarts) {
		result.Brk("netlink: FinishMessage: invalid message index %d", idx)
	}
	start := c.msgStarts[idx]
	length := len(c.buf) - start
	binary.NativeEndian.PutUint32(c.buf[start:start+4], uint32(length))
}

// AddPayload appends a fixed-size family-specific struct (e.g. ifinfomsg)
// immediately after the nlmsghdr of the message currently being built, with
// no attribute framing. Call it once, before any AddAttr* calls for that
// message.
func (c *Context) AddPayload(data []byte) {
	c.buf = append(c.buf, data...)
	if pad := align(len(data)) - len(data); pad > 0 {
		c.buf = append(c.buf, make([]byte, pad)...)
	}
}

// Bytes returns the accumulated, netlink-aligned message buffer.
func (c *Context) Bytes() []byte { return c.buf }

// align rounds n up to the 4-byte netlink alignment boundary (NLMSG_ALIGNTO
// and NLA_ALIGNTO are both 4).
func align(n int) int {
	return (n + 3) &^ 3
}

func marshalNlMsghdr(h unix.NlMsghdr) []byte {
	buf := make([]byte, unix.SizeofNlMsghdr)
	binary.NativeEndian.PutUint32(buf[0:4], h.Len)
	binary.NativeEndian.PutUint16(buf[4:6], h.Type)
	binary.NativeEndian.PutUint16(buf[6:8], h.Flags)
	binary.NativeEndian.PutUint32(buf[8:12], h.Seq)
	binary.NativeEndian.PutUint32(buf[12:16], h.Pid)
	return buf
}
