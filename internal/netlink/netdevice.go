package netlink

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// ifinfomsg mirrors struct ifinfomsg from linux/rtnetlink.h: family (1
// byte, padded), type, index, flags, change — all native-endian.
func marshalIfinfomsg(family uint8, ifindex int32, flags, change uint32) []byte {
	buf := make([]byte, 16)
	buf[0] = family
	binary.NativeEndian.PutUint16(buf[2:4], 0) // ifi_type, ARPHRD_NETROM/unset
	binary.NativeEndian.PutUint32(buf[4:8], uint32(ifindex))
	binary.NativeEndian.PutUint32(buf[8:12], flags)
	binary.NativeEndian.PutUint32(buf[12:16], change)
	return buf
}

// BuildVethPairRequest builds an RTM_NEWLINK request creating a veth pair
// named ifname/peerName, mirroring tst_netdevice's veth-pair helper from
// the original C library. The caller is responsible for writing the
// returned bytes to a bound AF_NETLINK/NETLINK_ROUTE socket.
func BuildVethPairRequest(ifname, peerName string) []byte {
	c := CreateContext()
	idx := c.AddMessage(unix.RTM_NEWLINK, unix.NLM_F_CREATE|unix.NLM_F_EXCL|unix.NLM_F_ACK)
	c.AddPayload(marshalIfinfomsg(unix.AF_UNSPEC, 0, 0, 0))

	c.AddAttrString(unix.IFLA_IFNAME, ifname)

	linkinfo := c.AddAttrNested(unix.IFLA_LINKINFO)
	c.AddAttrString(iflaInfoKind, "veth")
	infodata := c.AddAttrNested(iflaInfoData)
	peerInfo := c.AddAttrNested(vethInfoPeer)
	c.AddAttrString(unix.IFLA_IFNAME, peerName)
	c.FinishNestedAttr(peerInfo)
	c.FinishNestedAttr(infodata)
	c.FinishNestedAttr(linkinfo)

	c.FinishMessage(idx)
	c.AddDone()
	return c.Bytes()
}

// BuildLinkSetNsRequest builds an RTM_NEWLINK request moving an interface
// (by index) into another network namespace, identified by the target
// namespace's open file descriptor (IFLA_NET_NS_FD).
func BuildLinkSetNsRequest(ifindex int32, nsFd int) []byte {
	c := CreateContext()
	idx := c.AddMessage(unix.RTM_NEWLINK, unix.NLM_F_ACK)
	c.AddPayload(marshalIfinfomsg(unix.AF_UNSPEC, ifindex, 0, 0))
	c.AddAttrU32(unix.IFLA_NET_NS_FD, uint32(nsFd))
	c.FinishMessage(idx)
	c.AddDone()
	return c.Bytes()
}

// Constants absent from golang.org/x/sys/unix's IFLA_* set (they live in
// linux/if_link.h, not exposed by the unix package).
const (
	iflaInfoKind = 1
	iflaInfoData = 2
	vethInfoPeer = 1
)
