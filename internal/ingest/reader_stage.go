package ingest

import (
	"context"
	"io"
	"sync/atomic"

	"github.com/banshee-data/hwt905-edge/internal/monitoring"
	"github.com/banshee-data/hwt905-edge/internal/protocol"
)

// readBufferBytes is sized well above the 11-byte data packet so a single
// Read call can typically drain several packets' worth of bytes.
const readBufferBytes = 512

// ReadErrorReporter lets ReaderStage count consecutive read failures
// against a threshold rather than tearing the stage down on the first
// transient error (spec §4.3: "an error count threshold, default 3
// consecutive read failures, is the trigger for reconnection as opposed to
// a transient retry"). transport.Supervisor implements this.
type ReadErrorReporter interface {
	// NoteReadError records a read failure and reports whether the
	// consecutive-failure threshold has now been reached.
	NoteReadError() (shouldReconnect bool)
	// NoteReadSuccess resets the consecutive-failure counter.
	NoteReadSuccess()
}

// ReaderStage (R) reads bytes from the sensor connection, feeds a
// PacketFramer, and enqueues each validated packet onto Q_raw. The run-flag
// only clears once reporter reports the consecutive-read-error threshold
// reached; a nil reporter falls back to clearing on the first error (spec
// §4.4, §4.3).
type ReaderStage struct {
	source   io.Reader
	framer   *protocol.Framer
	qRaw     *Queue[Envelope[protocol.ValidatedPacket]]
	running  *atomic.Bool
	rate     *rateCounter
	reporter ReadErrorReporter
}

func newReaderStage(source io.Reader, qRaw *Queue[Envelope[protocol.ValidatedPacket]], running *atomic.Bool, reporter ReadErrorReporter) *ReaderStage {
	return &ReaderStage{
		source:   source,
		framer:   protocol.NewFramer(),
		qRaw:     qRaw,
		running:  running,
		rate:     newRateCounter("reader"),
		reporter: reporter,
	}
}

// Run drains bytes until the run-flag clears or the transport's consecutive
// read-error threshold trips.
func (s *ReaderStage) Run(ctx context.Context) {
	buf := make([]byte, readBufferBytes)
	for s.running.Load() {
		select {
		case <-ctx.Done():
			s.running.Store(false)
			return
		default:
		}

		n, err := s.source.Read(buf)
		if err != nil {
			if err != io.EOF {
				monitoring.Logf("ingest: reader transport error: %v", err)
			}
			if s.reporter == nil || s.reporter.NoteReadError() {
				s.running.Store(false)
				return
			}
			continue
		}
		if s.reporter != nil {
			s.reporter.NoteReadSuccess()
		}
		if n == 0 {
			continue
		}

		s.framer.PushBytes(buf[:n])
		for {
			pkt, drop, ok := s.framer.NextPacket()
			if drop != nil {
				monitoring.Logf("ingest: framer dropped %d bytes (suspected baudrate mismatch: %v)", drop.DiscardedBytes, drop.SuspectedBaudrateMismatch)
			}
			if !ok {
				break
			}
			if err := s.qRaw.Put(ctx, Envelope[protocol.ValidatedPacket]{Value: pkt}); err != nil {
				return
			}
			s.rate.add(1)
		}
	}
}
