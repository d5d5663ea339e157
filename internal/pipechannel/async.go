package pipechannel

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/ltp/testlib/internal/metrics"
)

// sendAsync starts a non-blocking send. It writes as much of the envelope
// and payload as the pipe will currently accept; if the write would block,
// the remainder is buffered and onWritable resumes it when the loop next
// reports EPOLLOUT.
func (c *Channel) sendAsync(msg []byte) error {
	if c.onSend == nil {
		return fmt.Errorf("pipechannel: async channel missing on_send callback")
	}
	c.chSM.SetHere(stSEND)
	c.protoSM.SetHere(pSEND_DATA)

	hdr := envelope{kind: kindData, length: uint32(len(msg))}.marshal()
	frame := make([]byte, 0, envelopeSize+len(msg))
	frame = append(frame, hdr[:]...)
	frame = append(frame, msg...)
	c.out.reset(frame)
	c.sendStage = stagePayload

	c.pumpOut()
	return nil
}

// recvAsync arms the channel to read the next envelope; onReadable drives
// it through the header and payload phases and finally calls on_recv.
func (c *Channel) recvAsync() error {
	if c.onRecv == nil {
		return fmt.Errorf("pipechannel: async channel missing on_recv callback")
	}
	c.chSM.SetHere(stRECV)
	c.protoSM.SetHere(pRECV_DATA)
	c.recvStage = stageHeader
	c.in.reset(make([]byte, envelopeSize))

	c.pumpIn()
	return nil
}

// pumpOut drains c.out onto the write fd until it would block or finishes.
func (c *Channel) pumpOut() {
	for !c.out.done() {
		n, err := unix.Write(c.writeFd, c.out.remaining())
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if err == unix.EAGAIN {
				c.outFull = true
				return
			}
			c.failSend(err)
			return
		}
		c.out.advance(n)
	}
	c.outFull = false

	switch c.protoSM.Current() {
	case pSEND_DATA:
		// envelope+payload fully written; wait for the peer's ACK.
		c.protoSM.SetHere(pRECV_ACK)
		c.in.reset(make([]byte, envelopeSize))
		c.recvStage = stageHeader
		c.pumpIn()
	case pSEND_ACK:
		c.protoSM.SetHere(pIDLE)
		c.chSM.SetHere(stREADY)
		c.stamp()
	}
}

// pumpIn drains readable bytes into c.in until it would block or finishes a
// phase (envelope header, payload, or incoming ACK).
func (c *Channel) pumpIn() {
	for !c.in.done() {
		n, err := unix.Read(c.readFd, c.in.remaining())
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if err == unix.EAGAIN {
				c.inFull = true
				return
			}
			c.failRecv(err)
			return
		}
		if n == 0 {
			c.failRecv(fmt.Errorf("pipechannel: peer closed"))
			return
		}
		c.in.advance(n)
	}
	c.inFull = false

	switch c.protoSM.Current() {
	case pRECV_ACK:
		ack := unmarshalEnvelope(c.in.data)
		if ack.kind != kindACK || ack.length != 0 {
			c.failSend(fmt.Errorf("pipechannel: expected ACK envelope, got kind=%d length=%d", ack.kind, ack.length))
			return
		}
		c.protoSM.SetHere(pIDLE)
		c.chSM.SetHere(stREADY)
		c.stamp()
		metrics.ChannelSends.WithLabelValues("ok").Inc()
		if c.onSend != nil {
			c.onSend(nil)
		}
	case pRECV_DATA:
		switch c.recvStage {
		case stageHeader:
			hdr := unmarshalEnvelope(c.in.data)
			if hdr.kind != kindData {
				c.failRecv(fmt.Errorf("pipechannel: expected DATA envelope, got kind=%d", hdr.kind))
				return
			}
			c.recvStage = stagePayload
			c.in.reset(make([]byte, hdr.length))
			if hdr.length == 0 {
				c.finishRecvPayload()
				return
			}
			c.pumpIn()
		case stagePayload:
			c.finishRecvPayload()
		}
	}
}

func (c *Channel) finishRecvPayload() {
	payload := c.in.data
	c.protoSM.SetHere(pSEND_ACK)
	ackHdr := envelope{kind: kindACK, length: 0}.marshal()
	c.out.reset(ackHdr[:])
	c.pumpOut()
	c.stamp()
	if c.onRecv != nil {
		c.onRecv(payload, nil)
	}
}

func (c *Channel) failSend(err error) {
	c.protoSM.SetHere(pIDLE)
	c.chSM.SetHere(stREADY)
	metrics.ChannelSends.WithLabelValues("error").Inc()
	if c.onSend != nil {
		c.onSend(err)
	}
}

func (c *Channel) failRecv(err error) {
	c.protoSM.SetHere(pIDLE)
	c.chSM.SetHere(stREADY)
	if c.onRecv != nil {
		c.onRecv(nil, err)
	}
}

func (c *Channel) onWritable(events uint32) {
	if c.outFull {
		c.pumpOut()
	}
}

func (c *Channel) onReadable(events uint32) {
	if c.inFull || c.protoSM.Current() == pRECV_DATA || c.protoSM.Current() == pRECV_ACK {
		c.pumpIn()
	}
}
