package ingest

import (
	"encoding/binary"

	"github.com/banshee-data/hwt905-edge/internal/protocol"
)

// buildPacket assembles one wire-format data packet: header | type |
// payload[8] | checksum, matching protocol.Framer's expectations.
func buildPacket(typ protocol.Type, payload [8]byte) []byte {
	b := make([]byte, protocol.DataPacketLen)
	b[0] = protocol.DataHeader
	b[1] = byte(typ)
	copy(b[2:10], payload[:])
	b[10] = protocol.Checksum(b[:10])
	return b
}

// accelPayload packs three int16 g-scaled axes and a temperature into an
// ACCELERATION packet's 8-byte payload.
func accelPayload(axG, ayG, azG float64) [8]byte {
	const accScale = 32768.0 / 16.0
	var p [8]byte
	le := binary.LittleEndian
	le.PutUint16(p[0:], uint16(int16(axG*accScale)))
	le.PutUint16(p[2:], uint16(int16(ayG*accScale)))
	le.PutUint16(p[4:], uint16(int16(azG*accScale)))
	le.PutUint16(p[6:], uint16(int16(0))) // temp = 0.00C
	return p
}

// anglePayload packs three int16 degree-scaled axes and a temperature into
// an ANGLE packet's 8-byte payload.
func anglePayload(rollDeg, pitchDeg, yawDeg float64) [8]byte {
	const angleScale = 32768.0 / 180.0
	var p [8]byte
	le := binary.LittleEndian
	le.PutUint16(p[0:], uint16(int16(rollDeg*angleScale)))
	le.PutUint16(p[2:], uint16(int16(pitchDeg*angleScale)))
	le.PutUint16(p[4:], uint16(int16(yawDeg*angleScale)))
	le.PutUint16(p[6:], uint16(int16(0)))
	return p
}

// gpsSpeedPayload packs a milli-km/h ground speed, a decimeter altitude, and
// a centidegree heading into a GPS_SPEED packet's 8-byte payload.
func gpsSpeedPayload(groundSpeedKmh, altitudeM, headingDeg float64) [8]byte {
	var p [8]byte
	le := binary.LittleEndian
	le.PutUint32(p[0:], uint32(int32(groundSpeedKmh*1000.0)))
	le.PutUint16(p[4:], uint16(int16(altitudeM*10.0)))
	le.PutUint16(p[6:], uint16(int16(headingDeg*100.0)))
	return p
}
