package protocol

// resyncWarnThreshold is the discarded-prefix length (in bytes) above which
// a drop is reported as a suspected baudrate mismatch rather than routine
// noise (spec: "if discarded prefix > 50 bytes").
const resyncWarnThreshold = 50

// maxBufferBytes bounds unbounded buffer growth when no valid header ever
// appears; the oldest bytes are dropped once this is exceeded.
const maxBufferBytes = 4096

// Framer converts a raw byte stream into a sequence of ValidatedPackets,
// resynchronizing on checksum failures and misaligned headers. It holds no
// goroutines; callers push bytes as they arrive and drain packets.
type Framer struct {
	buf []byte
}

// NewFramer returns an empty Framer.
func NewFramer() *Framer {
	return &Framer{}
}

// PushBytes appends freshly read bytes to the internal buffer.
func (f *Framer) PushBytes(b []byte) {
	f.buf = append(f.buf, b...)
	if len(f.buf) > maxBufferBytes {
		overflow := len(f.buf) - maxBufferBytes
		f.buf = f.buf[overflow:]
	}
}

// NextPacket extracts at most one validated packet from the buffer. It
// returns (packet, drop, ok) where ok is true only when packet is valid.
// drop is non-nil whenever bytes were discarded during this call, whether
// or not a packet was ultimately produced.
func (f *Framer) NextPacket() (ValidatedPacket, *DropEvent, bool) {
	var totalDiscarded int

	for {
		if len(f.buf) < DataPacketLen {
			return ValidatedPacket{}, dropEventOrNil(totalDiscarded), false
		}

		idx := indexByte(f.buf, DataHeader)
		if idx < 0 {
			totalDiscarded += len(f.buf)
			f.buf = f.buf[:0]
			return ValidatedPacket{}, dropEventOrNil(totalDiscarded), false
		}
		if idx > 0 {
			totalDiscarded += idx
			f.buf = f.buf[idx:]
		}

		if len(f.buf) < DataPacketLen {
			return ValidatedPacket{}, dropEventOrNil(totalDiscarded), false
		}

		candidate := f.buf[:DataPacketLen]
		if Checksum(candidate[:10]) == candidate[10] {
			var pkt ValidatedPacket
			copy(pkt.Bytes[:], candidate)
			f.buf = f.buf[DataPacketLen:]
			return pkt, dropEventOrNil(totalDiscarded), true
		}

		// Invalid checksum: tolerate a misaligned start by dropping just the
		// header byte and retrying from the next position.
		totalDiscarded++
		f.buf = f.buf[1:]
	}
}

func dropEventOrNil(discarded int) *DropEvent {
	if discarded == 0 {
		return nil
	}
	return &DropEvent{
		DiscardedBytes:            discarded,
		SuspectedBaudrateMismatch: discarded > resyncWarnThreshold,
	}
}

func indexByte(b []byte, target byte) int {
	for i, v := range b {
		if v == target {
			return i
		}
	}
	return -1
}
