// Package pipechannel implements the framed, ACK'd bidirectional message
// transport over a pair of pipes (§3/§4.3 Channel / ChannelEnvelope /
// ChannelBuffer). A Channel runs either synchronously (blocking I/O, no
// event-loop registration) or asynchronously (non-blocking I/O driven by an
// evloop.Loop), and carries two nested state machines: an outer one over
// {CLOSED, READY, RECV, SEND} and an inner wire-protocol one over
// {IDLE, RECV_DATA, SEND_ACK, SEND_DATA, RECV_ACK}.
package pipechannel

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ltp/testlib/internal/evloop"
	"github.com/ltp/testlib/internal/metrics"
	"github.com/ltp/testlib/internal/result"
	"github.com/ltp/testlib/internal/statemachine"
)

// Channel states.
const (
	stCLOSED statemachine.State = iota
	stREADY
	stRECV
	stSEND
)

// Protocol (inner) states.
const (
	pIDLE statemachine.State = iota
	pRECV_DATA
	pSEND_ACK
	pSEND_DATA
	pRECV_ACK
)

var chanMatrix = statemachine.NewMatrix([]statemachine.StateDef{
	{ID: stCLOSED, Name: "CLOSED", To: []statemachine.State{stREADY}},
	{ID: stREADY, Name: "READY", To: []statemachine.State{stRECV, stSEND, stCLOSED}},
	{ID: stRECV, Name: "RECV", To: []statemachine.State{stREADY, stCLOSED}},
	{ID: stSEND, Name: "SEND", To: []statemachine.State{stREADY, stCLOSED}},
})

var protoMatrix = statemachine.NewMatrix([]statemachine.StateDef{
	{ID: pIDLE, Name: "IDLE", To: []statemachine.State{pRECV_DATA, pSEND_DATA}},
	{ID: pRECV_DATA, Name: "RECV_DATA", To: []statemachine.State{pSEND_ACK}},
	{ID: pSEND_ACK, Name: "SEND_ACK", To: []statemachine.State{pIDLE}},
	{ID: pSEND_DATA, Name: "SEND_DATA", To: []statemachine.State{pRECV_ACK}},
	{ID: pRECV_ACK, Name: "RECV_ACK", To: []statemachine.State{pIDLE}},
})

// Mode selects synchronous (blocking) or asynchronous (epoll-driven) I/O.
type Mode int

const (
	Sync Mode = iota
	Async
)

type stage int

const (
	stageHeader stage = iota
	stagePayload
)

// Channel is the framed transport described in §3/§4.3.
type Channel struct {
	readFd, writeFd int
	mode            Mode
	loop            *evloop.Loop

	chSM    *statemachine.Machine
	protoSM *statemachine.Machine

	in  chanBuffer
	out chanBuffer

	sendStage stage
	recvStage stage

	lastSeen time.Time

	onSend func(error)
	onRecv func([]byte, error)

	outFull bool
	inFull  bool
}

// Open attaches a Channel to a pipe pair. If loop is non-nil the channel is
// ASYNC and registers both descriptors with it (edge-triggered); otherwise
// it is SYNC and the descriptors remain blocking.
func Open(readFd, writeFd int, loop *evloop.Loop) (*Channel, error) {
	c := &Channel{
		readFd:  readFd,
		writeFd: writeFd,
		chSM:    statemachine.New(chanMatrix, stCLOSED),
		protoSM: statemachine.New(protoMatrix, pIDLE),
	}

	if loop != nil {
		c.mode = Async
		c.loop = loop
		if err := unix.SetNonblock(readFd, true); err != nil {
			return nil, fmt.Errorf("pipechannel: set nonblock read: %w", err)
		}
		if err := unix.SetNonblock(writeFd, true); err != nil {
			return nil, fmt.Errorf("pipechannel: set nonblock write: %w", err)
		}
		if err := loop.Add(readFd, unix.EPOLLIN|unix.EPOLLET, c, c.onReadable); err != nil {
			return nil, err
		}
		if err := loop.Add(writeFd, unix.EPOLLOUT|unix.EPOLLET, c, c.onWritable); err != nil {
			return nil, err
		}
	}

	c.chSM.SetHere(stREADY)
	c.stamp()
	return c, nil
}

// SetCallbacks installs the ASYNC completion callbacks. Required before
// Send/Recv in ASYNC mode.
func (c *Channel) SetCallbacks(onSend func(error), onRecv func([]byte, error)) {
	c.onSend = onSend
	c.onRecv = onRecv
}

func (c *Channel) stamp() { c.lastSeen = time.Now() }

// Seen returns the timestamp of the channel's last completed transfer.
func (c *Channel) Seen() time.Time { return c.lastSeen }

// ReadFd exposes the raw read descriptor for diagnostics (e.g.
// safefile.DecodeFd on a stale worker).
func (c *Channel) ReadFd() int { return c.readFd }

// Elapsed returns the time since the channel last made progress.
func (c *Channel) Elapsed() time.Duration { return time.Since(c.lastSeen) }

// --- synchronous path -------------------------------------------------

// Send transmits msg and blocks (in SYNC mode) until the peer's ACK has
// been received. In ASYNC mode it starts the send and returns immediately;
// completion is reported to the on_send callback.
func (c *Channel) Send(msg []byte) error {
	if c.mode == Async {
		return c.sendAsync(msg)
	}
	return c.sendSync(msg)
}

func (c *Channel) sendSync(msg []byte) error {
	c.chSM.SetHere(stSEND)
	c.protoSM.SetHere(pSEND_DATA)

	hdr := envelope{kind: kindData, length: uint32(len(msg))}.marshal()
	if err := pipeWriteAllBlocking(c.writeFd, hdr[:]); err != nil {
		metrics.ChannelSends.WithLabelValues("error").Inc()
		result.Brk("pipechannel: write envelope: %v", err)
	}
	if len(msg) > 0 {
		if err := pipeWriteAllBlocking(c.writeFd, msg); err != nil {
			metrics.ChannelSends.WithLabelValues("error").Inc()
			result.Brk("pipechannel: write payload: %v", err)
		}
	}

	c.protoSM.SetHere(pRECV_ACK)
	var ackBuf [envelopeSize]byte
	if err := pipeReadAllBlocking(c.readFd, ackBuf[:]); err != nil {
		metrics.ChannelSends.WithLabelValues("error").Inc()
		result.Brk("pipechannel: read ack: %v", err)
	}
	ack := unmarshalEnvelope(ackBuf[:])
	if ack.kind != kindACK || ack.length != 0 {
		metrics.ChannelSends.WithLabelValues("error").Inc()
		result.Brk("pipechannel: expected ACK envelope, got kind=%d length=%d", ack.kind, ack.length)
	}

	c.protoSM.SetHere(pIDLE)
	c.chSM.SetHere(stREADY)
	c.stamp()
	metrics.ChannelSends.WithLabelValues("ok").Inc()
	return nil
}

// Recv reads one message into buf and returns the number of bytes written.
// In SYNC mode it blocks until the message has fully arrived. In ASYNC mode
// buf is not used: Recv only arms the receive, returns 0, and the payload
// is delivered to the on_recv callback.
func (c *Channel) Recv(buf []byte) (int, error) {
	if c.mode == Async {
		return 0, c.recvAsync()
	}
	return c.recvSync(buf)
}

func (c *Channel) recvSync(buf []byte) (int, error) {
	c.chSM.SetHere(stRECV)
	c.protoSM.SetHere(pRECV_DATA)

	var hdrBuf [envelopeSize]byte
	if err := pipeReadAllBlocking(c.readFd, hdrBuf[:]); err != nil {
		result.Brk("pipechannel: read envelope: %v", err)
	}
	hdr := unmarshalEnvelope(hdrBuf[:])
	if hdr.kind != kindData {
		result.Brk("pipechannel: expected DATA envelope, got kind=%d", hdr.kind)
	}
	if int(hdr.length) > len(buf) {
		result.Brk("pipechannel: message length %d exceeds buffer %d", hdr.length, len(buf))
	}

	if hdr.length > 0 {
		if err := pipeReadAllBlocking(c.readFd, buf[:hdr.length]); err != nil {
			result.Brk("pipechannel: read payload: %v", err)
		}
	}

	c.protoSM.SetHere(pSEND_ACK)
	ackHdr := envelope{kind: kindACK, length: 0}.marshal()
	if err := pipeWriteAllBlocking(c.writeFd, ackHdr[:]); err != nil {
		result.Brk("pipechannel: write ack: %v", err)
	}

	c.protoSM.SetHere(pIDLE)
	c.chSM.SetHere(stREADY)
	c.stamp()
	return int(hdr.length), nil
}

// Close closes both descriptors and resets the state machines.
func (c *Channel) Close() error {
	if c.loop != nil {
		c.loop.Remove(c.readFd)
		c.loop.Remove(c.writeFd)
	}
	err1 := unix.Close(c.readFd)
	err2 := unix.Close(c.writeFd)
	c.chSM.SetHere(stCLOSED)
	if c.protoSM.Current() != pIDLE {
		c.protoSM.SetHere(pIDLE)
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func pipeWriteAllBlocking(fd int, data []byte) error {
	off := 0
	for off < len(data) {
		n, err := unix.Write(fd, data[off:])
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}
		off += n
	}
	return nil
}

func pipeReadAllBlocking(fd int, data []byte) error {
	off := 0
	for off < len(data) {
		n, err := unix.Read(fd, data[off:])
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}
		if n == 0 {
			return fmt.Errorf("pipechannel: peer closed during read (%d/%d bytes)", off, len(data))
		}
		off += n
	}
	return nil
}
