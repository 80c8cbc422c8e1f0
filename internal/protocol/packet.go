// Package protocol implements the HWT905 wire framing, checksum, and
// packet decoding: a byte stream in, validated DecodedSamples out.
package protocol

import "fmt"

// DataHeader marks the start of every sensor-to-host data packet.
const DataHeader = 0x55

// DataPacketLen is the fixed length of a sensor-to-host data packet:
// header | type | payload[8] | checksum.
const DataPacketLen = 11

// CmdHeader marks the start of every host-to-sensor command packet.
var CmdHeader = [2]byte{0xFF, 0xAA}

// CmdPacketLen is the fixed length of a host-to-sensor command packet.
const CmdPacketLen = 5

// Type identifies the payload layout of a data packet by its type byte.
type Type byte

const (
	TypeTime             Type = 0x50
	TypeAcceleration     Type = 0x51
	TypeAngularVelocity  Type = 0x52
	TypeAngle            Type = 0x53
	TypeMagnetic         Type = 0x54
	TypePortStatus       Type = 0x55
	TypePressureHeight   Type = 0x56
	TypeGPSLonLat        Type = 0x57
	TypeGPSSpeed         Type = 0x58
	TypeQuaternion       Type = 0x59
	TypeGPSAccuracy      Type = 0x5A
	TypeRegReadResponse  Type = 0x5F
)

// String names a packet type for logging; unrecognized types report their
// numeric value rather than panicking.
func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Type(0x%02X)", byte(t))
}

var typeNames = map[Type]string{
	TypeTime:            "TIME",
	TypeAcceleration:    "ACCELERATION",
	TypeAngularVelocity: "ANGULAR_VELOCITY",
	TypeAngle:           "ANGLE",
	TypeMagnetic:        "MAGNETIC",
	TypePortStatus:      "PORT_STATUS",
	TypePressureHeight:  "PRESSURE_HEIGHT",
	TypeGPSLonLat:       "GPS_LONLAT",
	TypeGPSSpeed:        "GPS_SPEED",
	TypeQuaternion:      "QUATERNION",
	TypeGPSAccuracy:     "GPS_ACCURACY",
	TypeRegReadResponse: "REG_READ_RESPONSE",
}

// Checksum returns the low byte of the arithmetic sum of b. Callers pass
// the first 10 bytes of an 11-byte packet.
func Checksum(b []byte) byte {
	var sum int
	for _, v := range b {
		sum += int(v)
	}
	return byte(sum & 0xFF)
}

// ValidatedPacket is an 11-byte packet whose checksum has already been
// verified by the framer.
type ValidatedPacket struct {
	Bytes [DataPacketLen]byte
}

// Type returns the packet's type byte.
func (p ValidatedPacket) Type() Type {
	return Type(p.Bytes[1])
}

// Payload returns the 8-byte payload slice.
func (p ValidatedPacket) Payload() []byte {
	return p.Bytes[2:10]
}

// DropEvent is an informational notice emitted by the framer when it
// discards bytes while resynchronizing; it is never fatal on its own.
type DropEvent struct {
	// DiscardedBytes is how many bytes were thrown away before this event.
	DiscardedBytes int
	// SuspectedBaudrateMismatch is set when the discarded prefix exceeds the
	// resync threshold, suggesting the configured baudrate is wrong.
	SuspectedBaudrateMismatch bool
}
