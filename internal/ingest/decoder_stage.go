package ingest

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/banshee-data/hwt905-edge/internal/monitoring"
	"github.com/banshee-data/hwt905-edge/internal/protocol"
	"github.com/banshee-data/hwt905-edge/internal/storage"
	"github.com/banshee-data/hwt905-edge/internal/timeutil"
	"github.com/banshee-data/hwt905-edge/internal/units"
)

// AccelSample is one 3-axis accelerometer reading handed from the decoder
// to the motion processor stage.
type AccelSample struct {
	AxG, AyG, AzG  float64
	TimestampUnixS float64
}

// DecoderStage (D) dequeues raw packets, decodes them, writes ANGLE rows
// to the raw CSV sink, and (when motion processing is enabled) forwards
// ACCELERATION samples onto Q_dec (spec §4.4).
type DecoderStage struct {
	qRaw       *Queue[Envelope[protocol.ValidatedPacket]]
	qDec       *Queue[Envelope[AccelSample]] // nil disables motion processing
	sink       *storage.RotatingCsvSink
	gpsSink    *storage.RotatingCsvSink // optional; nil disables GPS_SPEED logging
	gpsUnit    string                   // target unit for GPS ground speed (internal/units)
	clock      timeutil.Clock
	running    *atomic.Bool
	getTimeout time.Duration
	rate       *rateCounter
	tap        *Tap // optional; broadcasts decoded lines for the admin tail endpoint
}

func newDecoderStage(qRaw *Queue[Envelope[protocol.ValidatedPacket]], qDec *Queue[Envelope[AccelSample]], sink *storage.RotatingCsvSink, clock timeutil.Clock, running *atomic.Bool, getTimeout time.Duration) *DecoderStage {
	return &DecoderStage{
		qRaw:       qRaw,
		qDec:       qDec,
		sink:       sink,
		gpsUnit:    units.KMPH,
		clock:      clock,
		running:    running,
		getTimeout: getTimeout,
		rate:       newRateCounter("decoder"),
	}
}

// Run drains Q_raw until the run-flag clears and the queue is empty, then
// propagates the EOS sentinel onto Q_dec.
func (s *DecoderStage) Run(ctx context.Context) {
	for {
		env, ok := s.qRaw.Get(s.getTimeout)
		if ok {
			s.process(ctx, env.Value)
			s.rate.add(1)
			continue
		}
		if !s.running.Load() {
			break
		}
	}

	if s.qDec != nil {
		s.qDec.Put(ctx, Envelope[AccelSample]{EOS: true})
	}
}

func (s *DecoderStage) process(ctx context.Context, pkt protocol.ValidatedPacket) {
	ts := float64(s.clock.Now().UnixNano()) / 1e9
	sample := protocol.Decode(pkt, ts)

	switch f := sample.Fields.(type) {
	case protocol.AngleFields:
		if s.tap != nil {
			s.tap.Broadcast(fmt.Sprintf(`{"type":"angle","ts":%.6f,"roll":%.4f,"pitch":%.4f,"yaw":%.4f}`,
				sample.TimestampUnixS, f.RollDeg, f.PitchDeg, f.YawDeg))
		}
		if s.sink == nil {
			return
		}
		row := []string{
			strconv.FormatFloat(sample.TimestampUnixS, 'f', 6, 64),
			strconv.FormatFloat(f.RollDeg, 'f', 4, 64),
			strconv.FormatFloat(f.PitchDeg, 'f', 4, 64),
			strconv.FormatFloat(f.YawDeg, 'f', 4, 64),
			strconv.FormatFloat(f.TempC, 'f', 2, 64),
		}
		if err := s.sink.WriteRow(row); err != nil {
			monitoring.Logf("ingest: decoder failed to write CSV row: %v", err)
		}
	case protocol.AccelerationFields:
		if s.qDec == nil {
			return
		}
		if !f.IsFinite() {
			monitoring.Logf("ingest: dropping non-finite acceleration sample")
			return
		}
		accel := AccelSample{AxG: f.AxG, AyG: f.AyG, AzG: f.AzG, TimestampUnixS: sample.TimestampUnixS}
		// a full Q_dec blocks the decoder, which is the intended
		// backpressure (spec §4.4 "Put blocks when full"); ctx
		// cancellation is the only escape hatch during shutdown.
		_ = s.qDec.Put(ctx, Envelope[AccelSample]{Value: accel})
	case protocol.GPSSpeedFields:
		if s.gpsSink == nil {
			return
		}
		// the sensor always reports ground speed in km/h; convert through
		// m/s to whatever unit the sink is configured to report.
		speed := units.ConvertSpeed(units.ConvertToMPS(f.GroundSpeedKmh, units.KMPH), s.gpsUnit)
		row := []string{
			strconv.FormatFloat(sample.TimestampUnixS, 'f', 6, 64),
			strconv.FormatFloat(speed, 'f', 4, 64),
			strconv.FormatFloat(f.AltitudeM, 'f', 2, 64),
			strconv.FormatFloat(f.HeadingDeg, 'f', 2, 64),
		}
		if err := s.gpsSink.WriteRow(row); err != nil {
			monitoring.Logf("ingest: decoder failed to write GPS CSV row: %v", err)
		}
	}
}

// AngleCSVFields is the fixed column schema for the raw ANGLE sink (spec
// §6.3).
var AngleCSVFields = []string{"timestamp", "angle_roll", "angle_pitch", "angle_yaw", "temperature"}

// GPSCSVFields is the fixed column schema for the optional GPS ground-speed
// sink. ground_speed is reported in the DecoderStage's configured unit
// (internal/units), not necessarily the sensor's native km/h.
var GPSCSVFields = []string{"timestamp", "ground_speed", "altitude_m", "heading_deg"}
