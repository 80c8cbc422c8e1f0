package ingest

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/banshee-data/hwt905-edge/internal/monitoring"
	"github.com/banshee-data/hwt905-edge/internal/motion"
	"github.com/banshee-data/hwt905-edge/internal/storage"
)

// ProcessorStage (P) feeds accelerometer samples to a MotionProcessor one
// at a time and, on every warmed-up frame, writes the result to an
// optional processed-data sink and forwards it onto Q_mqtt (spec §4.4).
// There is no cross-axis synchronization beyond sharing the same sample
// stream; MotionProcessor itself owns that independence.
type ProcessorStage struct {
	qDec       *Queue[Envelope[AccelSample]]
	qMQTT      *Queue[Envelope[motion.ProcessedResult]] // nil disables publishing
	processor  *motion.MotionProcessor
	sink       *storage.RotatingCsvSink // optional "processed" sink
	getTimeout time.Duration
	rate       *rateCounter
	tap        *Tap // optional; broadcasts results for the admin tail endpoint
}

func newProcessorStage(qDec *Queue[Envelope[AccelSample]], qMQTT *Queue[Envelope[motion.ProcessedResult]], processor *motion.MotionProcessor, sink *storage.RotatingCsvSink, getTimeout time.Duration) *ProcessorStage {
	return &ProcessorStage{
		qDec:       qDec,
		qMQTT:      qMQTT,
		processor:  processor,
		sink:       sink,
		getTimeout: getTimeout,
		rate:       newRateCounter("processor"),
	}
}

// Run reads from Q_dec until the EOS sentinel arrives, then propagates it
// onto Q_mqtt and returns.
func (s *ProcessorStage) Run(ctx context.Context) {
	for {
		env, ok := s.qDec.Get(s.getTimeout)
		if !ok {
			continue
		}
		if env.EOS {
			break
		}
		s.process(ctx, env.Value)
		s.rate.add(1)
	}

	if s.qMQTT != nil {
		s.qMQTT.Put(ctx, Envelope[motion.ProcessedResult]{EOS: true})
	}
}

func (s *ProcessorStage) process(ctx context.Context, sample AccelSample) {
	defer func() {
		if r := recover(); r != nil {
			// An exception inside the integrator must not kill the
			// pipeline (spec §4.5.6): log and move on to the next sample.
			monitoring.Logf("ingest: motion processor recovered from panic: %v", r)
		}
	}()

	result, ok := s.processor.ProcessSample(sample.AxG, sample.AyG, sample.AzG, sample.TimestampUnixS)
	if !ok {
		return
	}

	if s.sink != nil {
		row := []string{
			strconv.FormatFloat(result.TimestampUnixS, 'f', 6, 64),
			strconv.FormatFloat(result.DispX, 'f', 6, 64),
			strconv.FormatFloat(result.DispY, 'f', 6, 64),
			strconv.FormatFloat(result.DispZ, 'f', 6, 64),
			strconv.FormatFloat(result.VelX, 'f', 6, 64),
			strconv.FormatFloat(result.VelY, 'f', 6, 64),
			strconv.FormatFloat(result.VelZ, 'f', 6, 64),
			strconv.FormatFloat(result.DominantFreqX, 'f', 3, 64),
			strconv.FormatFloat(result.DominantFreqY, 'f', 3, 64),
			strconv.FormatFloat(result.DominantFreqZ, 'f', 3, 64),
		}
		if err := s.sink.WriteRow(row); err != nil {
			monitoring.Logf("ingest: processor failed to write CSV row: %v", err)
		}
	}

	if s.qMQTT != nil {
		s.qMQTT.Put(ctx, Envelope[motion.ProcessedResult]{Value: result})
	}

	if s.tap != nil {
		s.tap.Broadcast(fmt.Sprintf(
			`{"type":"motion","ts":%.6f,"disp":[%.6f,%.6f,%.6f],"vel":[%.6f,%.6f,%.6f],"freq":[%.3f,%.3f,%.3f]}`,
			result.TimestampUnixS,
			result.DispX, result.DispY, result.DispZ,
			result.VelX, result.VelY, result.VelZ,
			result.DominantFreqX, result.DominantFreqY, result.DominantFreqZ))
	}
}

// ProcessedCSVFields is the fixed column schema for the processed-motion
// sink (spec §6.3).
var ProcessedCSVFields = []string{
	"timestamp",
	"disp_x", "disp_y", "disp_z",
	"vel_x", "vel_y", "vel_z",
	"dominant_freq_x", "dominant_freq_y", "dominant_freq_z",
}
