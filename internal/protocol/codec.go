package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// accScale, gyroScale, angleScale are the raw-int16-to-physical-unit
// divisors from the sensor datasheet (§3.2).
const (
	accScale   = 32768.0 / 16.0
	gyroScale  = 32768.0 / 2000.0
	angleScale = 32768.0 / 180.0
	quatScale  = 32768.0
)

// DecodeError reports a packet that could not be turned into a
// DecodedSample; it never represents a checksum failure (the framer
// already guarantees validity) only an unrecognized or malformed type.
type DecodeError struct {
	Type Type
	Msg  string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %s", e.Type, e.Msg)
}

// Fields is implemented by every packet-type payload struct.
type Fields interface {
	isFields()
}

type TimeFields struct {
	Year, Month, Day, Hour, Minute, Second int
	Millisecond                            int
}

func (TimeFields) isFields() {}

type AccelerationFields struct {
	AxG, AyG, AzG float64
	TempC         float64
}

func (AccelerationFields) isFields() {}

type AngularVelocityFields struct {
	GxDps, GyDps, GzDps float64
	TempC               float64
}

func (AngularVelocityFields) isFields() {}

type AngleFields struct {
	RollDeg, PitchDeg, YawDeg float64
	TempC                     float64
}

func (AngleFields) isFields() {}

type MagneticFields struct {
	Hx, Hy, Hz int16
	TempC      float64
}

func (MagneticFields) isFields() {}

type PortStatusFields struct {
	D0, D1, D2, D3 int16
}

func (PortStatusFields) isFields() {}

type PressureHeightFields struct {
	PressurePa  uint32
	HeightM     float64
}

func (PressureHeightFields) isFields() {}

type GPSLonLatFields struct {
	LonDeg, LatDeg float64
}

func (GPSLonLatFields) isFields() {}

type GPSSpeedFields struct {
	GroundSpeedKmh float64
	AltitudeM      float64
	HeadingDeg     float64
}

func (GPSSpeedFields) isFields() {}

type QuaternionFields struct {
	Q0, Q1, Q2, Q3 float64
}

func (QuaternionFields) isFields() {}

type GPSAccuracyFields struct {
	SatCount         int16
	PDOP, HDOP, VDOP float64
}

func (GPSAccuracyFields) isFields() {}

// RegReadResponseFields carries all four consecutive register values the
// sensor always returns; ConfigProtocol.Read exposes only the first.
type RegReadResponseFields struct {
	Reg1, Reg2, Reg3, Reg4 uint16
}

func (RegReadResponseFields) isFields() {}

// UnknownFields is returned for a recognized-as-unrecognized type byte; it
// carries the raw payload so callers can still log or inspect it.
type UnknownFields struct {
	RawPayload [8]byte
}

func (UnknownFields) isFields() {}

// DecodedSample is the immutable result of decoding one ValidatedPacket.
type DecodedSample struct {
	TimestampUnixS float64
	Type           Type
	Fields         Fields
}

// Decode dispatches on the packet's type byte and parses its fixed 8-byte
// payload. An unrecognized type yields UnknownFields, not an error: the
// stream continues (spec §4.1: "do not raise; do not drop the stream").
func Decode(p ValidatedPacket, timestampUnixS float64) DecodedSample {
	payload := p.Payload()
	fields := decodeFields(p.Type(), payload)
	return DecodedSample{
		TimestampUnixS: timestampUnixS,
		Type:           p.Type(),
		Fields:         fields,
	}
}

func decodeFields(t Type, payload []byte) Fields {
	le := binary.LittleEndian
	i16 := func(off int) int16 { return int16(le.Uint16(payload[off:])) }

	switch t {
	case TypeTime:
		return TimeFields{
			Year:        int(payload[0]),
			Month:       int(payload[1]),
			Day:         int(payload[2]),
			Hour:        int(payload[3]),
			Minute:      int(payload[4]),
			Second:      int(payload[5]),
			Millisecond: int(le.Uint16(payload[6:])),
		}
	case TypeAcceleration:
		return AccelerationFields{
			AxG:   float64(i16(0)) / accScale,
			AyG:   float64(i16(2)) / accScale,
			AzG:   float64(i16(4)) / accScale,
			TempC: float64(i16(6)) / 100.0,
		}
	case TypeAngularVelocity:
		return AngularVelocityFields{
			GxDps: float64(i16(0)) / gyroScale,
			GyDps: float64(i16(2)) / gyroScale,
			GzDps: float64(i16(4)) / gyroScale,
			TempC: float64(i16(6)) / 100.0,
		}
	case TypeAngle:
		return AngleFields{
			RollDeg:  float64(i16(0)) / angleScale,
			PitchDeg: float64(i16(2)) / angleScale,
			YawDeg:   float64(i16(4)) / angleScale,
			TempC:    float64(i16(6)) / 100.0,
		}
	case TypeMagnetic:
		return MagneticFields{
			Hx:    i16(0),
			Hy:    i16(2),
			Hz:    i16(4),
			TempC: float64(i16(6)) / 100.0,
		}
	case TypePortStatus:
		return PortStatusFields{
			D0: i16(0),
			D1: i16(2),
			D2: i16(4),
			D3: i16(6),
		}
	case TypePressureHeight:
		return PressureHeightFields{
			PressurePa: le.Uint32(payload[0:]),
			HeightM:    float64(int32(le.Uint32(payload[4:]))) / 10.0,
		}
	case TypeGPSLonLat:
		return GPSLonLatFields{
			LonDeg: float64(int32(le.Uint32(payload[0:]))) / 1e7,
			LatDeg: float64(int32(le.Uint32(payload[4:]))) / 1e7,
		}
	case TypeGPSSpeed:
		return GPSSpeedFields{
			GroundSpeedKmh: float64(le.Uint32(payload[0:])) / 1000.0,
			AltitudeM:      float64(i16(4)) / 10.0,
			HeadingDeg:     float64(i16(6)) / 100.0,
		}
	case TypeQuaternion:
		return QuaternionFields{
			Q0: float64(i16(0)) / quatScale,
			Q1: float64(i16(2)) / quatScale,
			Q2: float64(i16(4)) / quatScale,
			Q3: float64(i16(6)) / quatScale,
		}
	case TypeGPSAccuracy:
		return GPSAccuracyFields{
			SatCount: i16(0),
			PDOP:     float64(i16(2)) / 100.0,
			HDOP:     float64(i16(4)) / 100.0,
			VDOP:     float64(i16(6)) / 100.0,
		}
	case TypeRegReadResponse:
		return RegReadResponseFields{
			Reg1: le.Uint16(payload[0:]),
			Reg2: le.Uint16(payload[2:]),
			Reg3: le.Uint16(payload[4:]),
			Reg4: le.Uint16(payload[6:]),
		}
	default:
		var raw [8]byte
		copy(raw[:], payload)
		return UnknownFields{RawPayload: raw}
	}
}

// IsFinite reports whether all three axes of an acceleration sample are
// finite, the entry check MotionProcessor relies on (spec §4.5.6).
func (f AccelerationFields) IsFinite() bool {
	return isFinite(f.AxG) && isFinite(f.AyG) && isFinite(f.AzG)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
