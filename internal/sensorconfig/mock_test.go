package sensorconfig

import (
	"encoding/binary"
	"sync"

	"github.com/banshee-data/hwt905-edge/internal/protocol"
)

// virtualSensor is a Port that records every written command and, when
// configured to echoReads, answers each read(reg) request with a synthetic
// 0x5F response carrying the four consecutive registers starting at reg,
// as the real sensor does. regs holds the values of registers RSW, RRATE,
// BAUD and the one after BAUD; registers outside that window read as zero.
type virtualSensor struct {
	mu        sync.Mutex
	written   [][]byte
	echoReads bool
	regs      [4]uint16
	pending   []byte // bytes queued to be returned by the next Read calls
	baud      int
}

func newVirtualSensor() *virtualSensor {
	return &virtualSensor{baud: 115200}
}

func (v *virtualSensor) Write(p []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	cp := make([]byte, len(p))
	copy(cp, p)
	v.written = append(v.written, cp)

	if v.echoReads && len(p) == protocol.CmdPacketLen && p[2] == RegReadAddr {
		v.pending = append(v.pending, v.buildRegReadResponse(p[3])...)
	}
	return len(p), nil
}

func (v *virtualSensor) Read(p []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if len(v.pending) == 0 {
		return 0, nil // timeout-like: no data available yet
	}
	n := copy(p, v.pending)
	v.pending = v.pending[n:]
	return n, nil
}

func (v *virtualSensor) buildRegReadResponse(reg byte) []byte {
	b := make([]byte, protocol.DataPacketLen)
	b[0] = protocol.DataHeader
	b[1] = byte(protocol.TypeRegReadResponse)
	for i := 0; i < 4; i++ {
		idx := int(reg) + i - int(RegRSW)
		if idx >= 0 && idx < len(v.regs) {
			binary.LittleEndian.PutUint16(b[2+i*2:], v.regs[idx])
		}
	}
	b[10] = protocol.Checksum(b[:10])
	return b
}

func (v *virtualSensor) byteLog() []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	var all []byte
	for _, w := range v.written {
		all = append(all, w...)
	}
	return all
}
