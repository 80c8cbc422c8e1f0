package ingest

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/hwt905-edge/internal/monitoring"
	"github.com/banshee-data/hwt905-edge/internal/motion"
	"github.com/banshee-data/hwt905-edge/internal/protocol"
	"github.com/banshee-data/hwt905-edge/internal/storage"
	"github.com/banshee-data/hwt905-edge/internal/timeutil"
)

const (
	defaultQueueCapacity = 8192
	defaultGetTimeout    = time.Second
	defaultJoinTimeout   = 5 * time.Second
	defaultRateInterval  = 10 * time.Second
)

// Config wires the four pipeline stages (spec §4.4). Source is required;
// RawSink, MotionProcessor, ProcessedSink, and Publish are each optional —
// omitting MotionProcessor and Publish runs only the R/D stages (raw
// logging without motion processing).
type Config struct {
	Source          io.Reader
	RawSink         *storage.RotatingCsvSink
	MotionProcessor *motion.MotionProcessor
	ProcessedSink   *storage.RotatingCsvSink
	Publish         PublishFunc
	Tap             *Tap // optional; feeds the admin "tail" SSE endpoint

	// Supervisor threshold-counts consecutive reader errors and decides when
	// to reconnect (spec §4.3); a nil Supervisor falls back to reconnecting
	// on the first read error. transport.Supervisor implements this.
	Supervisor ReadErrorReporter

	GPSSink *storage.RotatingCsvSink // optional; logs GPS_SPEED rows
	GPSUnit string                   // ground speed unit for GPSSink rows; default units.KMPH

	QueueCapacity int           // default 8192
	GetTimeout    time.Duration // default 1s
	JoinTimeout   time.Duration // default 5s
	RateInterval  time.Duration // default 10s
	Clock         timeutil.Clock
}

// Pipeline coordinates the R/D/P/M stages over bounded queues with a
// shared run-flag and clean, at-most-one-drain shutdown (spec §4.4).
type Pipeline struct {
	RunID string

	cfg     Config
	running atomic.Bool

	qRaw  *Queue[Envelope[protocol.ValidatedPacket]]
	qDec  *Queue[Envelope[AccelSample]]
	qMQTT *Queue[Envelope[motion.ProcessedResult]]

	wg       sync.WaitGroup
	rateWG   sync.WaitGroup
	rateStop context.CancelFunc

	externalStop bool
}

// New constructs a Pipeline; call Run to start its stages.
func New(cfg Config) *Pipeline {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = defaultQueueCapacity
	}
	if cfg.GetTimeout <= 0 {
		cfg.GetTimeout = defaultGetTimeout
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = defaultJoinTimeout
	}
	if cfg.RateInterval <= 0 {
		cfg.RateInterval = defaultRateInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}

	p := &Pipeline{
		RunID: uuid.NewString(),
		cfg:   cfg,
		qRaw:  NewQueue[Envelope[protocol.ValidatedPacket]](cfg.QueueCapacity),
	}
	p.running.Store(true)

	if cfg.MotionProcessor != nil {
		p.qDec = NewQueue[Envelope[AccelSample]](cfg.QueueCapacity)
	}
	if cfg.Publish != nil {
		p.qMQTT = NewQueue[Envelope[motion.ProcessedResult]](cfg.QueueCapacity)
	}

	return p
}

// Run starts every configured stage and blocks until ctx is done or Stop
// is called, then joins every stage (each bounded by JoinTimeout) before
// returning.
func (p *Pipeline) Run(ctx context.Context) {
	monitoring.Logf("ingest: pipeline %s starting", p.RunID)

	rateCtx, cancel := context.WithCancel(ctx)
	p.rateStop = cancel

	reader := newReaderStage(p.cfg.Source, p.qRaw, &p.running, p.cfg.Supervisor)
	decoder := newDecoderStage(p.qRaw, p.qDec, p.cfg.RawSink, p.cfg.Clock, &p.running, p.cfg.GetTimeout)
	decoder.tap = p.cfg.Tap
	decoder.gpsSink = p.cfg.GPSSink
	if p.cfg.GPSUnit != "" {
		decoder.gpsUnit = p.cfg.GPSUnit
	}

	p.startStage(ctx, "reader", reader.Run, rateCtx, reader.rate)
	p.startStage(ctx, "decoder", decoder.Run, rateCtx, decoder.rate)

	if p.qDec != nil {
		processor := newProcessorStage(p.qDec, p.qMQTT, p.cfg.MotionProcessor, p.cfg.ProcessedSink, p.cfg.GetTimeout)
		processor.tap = p.cfg.Tap
		p.startStage(ctx, "processor", processor.Run, rateCtx, processor.rate)
	}
	if p.qMQTT != nil {
		publisher := newPublisherStage(p.qMQTT, p.cfg.Publish, p.cfg.GetTimeout)
		p.startStage(ctx, "publisher", publisher.Run, rateCtx, publisher.rate)
	}

	p.waitForStop(ctx)
	p.Stop()
}

// pollInterval bounds how quickly Run notices a stage clearing the
// run-flag on its own (e.g. the reader hitting a transport error), so a
// caller running a reconnect loop around Run doesn't have to wait for
// JoinTimeout to find out the pipeline died.
const pollInterval = 50 * time.Millisecond

func (p *Pipeline) waitForStop(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.externalStop = true
			return
		case <-ticker.C:
			if !p.running.Load() {
				return
			}
		}
	}
}

// ExternalStop reports whether the most recent Run call ended because ctx
// was canceled, as opposed to a stage clearing the run-flag on its own
// (e.g. a transport error). Callers running a reconnect loop around Run
// use this to tell "the process is shutting down" from "reconnect".
func (p *Pipeline) ExternalStop() bool {
	return p.externalStop
}

func (p *Pipeline) startStage(ctx context.Context, name string, run func(context.Context), rateCtx context.Context, rate *rateCounter) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		run(ctx)
		monitoring.Logf("ingest: stage %q stopped", name)
	}()

	p.rateWG.Add(1)
	go rate.reportEvery(rateCtx, p.cfg.RateInterval, &p.rateWG)
}

// Stop clears the run-flag, which propagates end-of-stream down every
// queue, then joins each stage with a JoinTimeout deadline (spec §4.4:
// "abandoned (logged)" past that deadline, never blocking forever).
func (p *Pipeline) Stop() {
	p.running.Store(false)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		monitoring.Logf("ingest: pipeline %s stages joined cleanly", p.RunID)
	case <-time.After(p.cfg.JoinTimeout):
		monitoring.Logf("ingest: pipeline %s stage join timed out after %s, abandoning", p.RunID, p.cfg.JoinTimeout)
	}

	if p.rateStop != nil {
		p.rateStop()
	}
	p.rateWG.Wait()

	// RawSink, ProcessedSink, and Tap all outlive any single Pipeline:
	// main.go shares one instance of each across every reconnect-created
	// Pipeline and closes them once at process shutdown, not here.
}
