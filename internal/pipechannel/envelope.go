package pipechannel

import "encoding/binary"

// kind tags a ChannelEnvelope as carrying a payload or acknowledging one.
type kind uint32

const (
	kindACK  kind = 0
	kindData kind = 1
)

// envelopeSize is the on-the-wire size of a ChannelEnvelope: two 32-bit
// unsigned integers, kind then length, in host-native byte order. Per §6
// and the Open Question in §9, this assumes both peers are on the same
// host — a cross-architecture remote peer would need a defined wire byte
// order, which this package deliberately does not provide.
const envelopeSize = 8

type envelope struct {
	kind   kind
	length uint32
}

func (e envelope) marshal() [envelopeSize]byte {
	var buf [envelopeSize]byte
	binary.NativeEndian.PutUint32(buf[0:4], uint32(e.kind))
	binary.NativeEndian.PutUint32(buf[4:8], e.length)
	return buf
}

func unmarshalEnvelope(buf []byte) envelope {
	return envelope{
		kind:   kind(binary.NativeEndian.Uint32(buf[0:4])),
		length: binary.NativeEndian.Uint32(buf[4:8]),
	}
}
