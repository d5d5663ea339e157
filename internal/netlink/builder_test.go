package netlink

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestAddMessageWritesAlignedHeader(t *testing.T) {
	c := CreateContext()
	idx := c.AddMessage(unix.RTM_NEWLINK, unix.NLM_F_CREATE)
	c.FinishMessage(idx)

	buf := c.Bytes()
	require.Len(t, buf, unix.SizeofNlMsghdr)
	require.Equal(t, uint32(unix.SizeofNlMsghdr), binary.NativeEndian.Uint32(buf[0:4]))
	require.Equal(t, uint16(unix.RTM_NEWLINK), binary.NativeEndian.Uint16(buf[4:6]))
}

func TestAttrsAreFourByteAligned(t *testing.T) {
	c := CreateContext()
	idx := c.AddMessage(unix.RTM_NEWLINK, 0)
	c.AddAttrString(unix.IFLA_IFNAME, "veth0")
	c.FinishMessage(idx)

	buf := c.Bytes()
	require.Equal(t, 0, len(buf)%4)
}

func TestNestedAttrLengthCoversChildren(t *testing.T) {
	c := CreateContext()
	idx := c.AddMessage(unix.RTM_NEWLINK, 0)
	nestPos := c.AddAttrNested(1)
	c.AddAttrString(2, "vrf")
	c.AddAttrU32(3, 7)
	c.FinishNestedAttr(nestPos)
	c.FinishMessage(idx)

	buf := c.Bytes()
	nlen := binary.NativeEndian.Uint16(buf[nestPos : nestPos+2])
	require.Equal(t, len(buf)-nestPos, int(nlen))
}

func TestAddDoneTerminatesBatch(t *testing.T) {
	c := CreateContext()
	idx := c.AddMessage(unix.RTM_GETLINK, unix.NLM_F_DUMP)
	c.FinishMessage(idx)
	c.AddDone()

	buf := c.Bytes()
	lastType := binary.NativeEndian.Uint16(buf[len(buf)-unix.SizeofNlMsghdr+4:])
	require.Equal(t, uint16(unix.NLMSG_DONE), lastType)
}
