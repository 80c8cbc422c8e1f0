package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/banshee-data/hwt905-edge/internal/motion"
	"github.com/banshee-data/hwt905-edge/internal/protocol"
	"github.com/banshee-data/hwt905-edge/internal/transport"
)

var errTestTransport = errors.New("simulated transport failure")

func TestPipelineEndToEndAngleAndAcceleration(t *testing.T) {
	port := transport.NewMockPort()
	rawSink := newTestRawSink(t, AngleCSVFields)

	var mu sync.Mutex
	var published []motion.ProcessedResult

	p := New(Config{
		Source:          port,
		RawSink:         rawSink,
		MotionProcessor: motion.New(motion.Params{SampleFrameSize: 2, CalcFrameMultiplier: 2, WarmupFrames: 1, Dt: 0.005}),
		Publish: func(r motion.ProcessedResult) error {
			mu.Lock()
			published = append(published, r)
			mu.Unlock()
			return nil
		},
		GetTimeout:  10 * time.Millisecond,
		JoinTimeout: time.Second,
	})

	if p.RunID == "" {
		t.Fatal("expected a non-empty run ID")
	}

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() { p.Run(ctx); close(runDone) }()

	port.Feed(buildPacket(protocol.TypeAngle, anglePayload(10, 20, 30)))
	for i := 0; i < 8; i++ {
		port.Feed(buildPacket(protocol.TypeAcceleration, accelPayload(0, 0, 1)))
	}

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(published)
		mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for a published result")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()

	select {
	case <-runDone:
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline did not shut down within its join timeout")
	}

	if rawSink.RowCount() == 0 {
		t.Error("expected at least the ANGLE row written to the raw sink")
	}
}

func TestPipelineRunsRawOnlyWhenMotionDisabled(t *testing.T) {
	port := transport.NewMockPort()
	rawSink := newTestRawSink(t, AngleCSVFields)

	p := New(Config{
		Source:      port,
		RawSink:     rawSink,
		GetTimeout:  10 * time.Millisecond,
		JoinTimeout: time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { p.Run(ctx); close(done) }()

	port.Feed(buildPacket(protocol.TypeAngle, anglePayload(1, 2, 3)))

	deadline := time.After(2 * time.Second)
	for rawSink.RowCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for raw sink to receive a row")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestPipelineReportsInternalStopOnTransportError(t *testing.T) {
	port := transport.NewMockPort()
	rawSink := newTestRawSink(t, AngleCSVFields)

	p := New(Config{
		Source:      port,
		RawSink:     rawSink,
		GetTimeout:  10 * time.Millisecond,
		JoinTimeout: time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { p.Run(ctx); close(done) }()

	port.FailWith(errTestTransport)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline did not stop after a transport error")
	}

	if p.ExternalStop() {
		t.Error("ExternalStop() = true, want false for a transport-error-triggered stop")
	}
}

func TestPipelineReportsExternalStopOnContextCancel(t *testing.T) {
	port := transport.NewMockPort()
	rawSink := newTestRawSink(t, AngleCSVFields)

	p := New(Config{
		Source:      port,
		RawSink:     rawSink,
		GetTimeout:  10 * time.Millisecond,
		JoinTimeout: time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { p.Run(ctx); close(done) }()

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline did not stop after context cancel")
	}

	if !p.ExternalStop() {
		t.Error("ExternalStop() = false, want true for a context-cancel-triggered stop")
	}
}
