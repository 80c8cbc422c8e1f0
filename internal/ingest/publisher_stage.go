package ingest

import (
	"context"
	"time"

	"github.com/banshee-data/hwt905-edge/internal/monitoring"
	"github.com/banshee-data/hwt905-edge/internal/motion"
)

// PublishFunc hands one ProcessedResult to an external sink (an MQTT
// client, a webhook, etc). Errors are logged but never stop the pipeline.
type PublishFunc func(motion.ProcessedResult) error

// PublisherStage (M) dequeues from Q_mqtt and hands each item to an
// external publish callable until the EOS sentinel arrives (spec §4.4).
type PublisherStage struct {
	qMQTT      *Queue[Envelope[motion.ProcessedResult]]
	publish    PublishFunc
	getTimeout time.Duration
	rate       *rateCounter
}

func newPublisherStage(qMQTT *Queue[Envelope[motion.ProcessedResult]], publish PublishFunc, getTimeout time.Duration) *PublisherStage {
	return &PublisherStage{
		qMQTT:      qMQTT,
		publish:    publish,
		getTimeout: getTimeout,
		rate:       newRateCounter("publisher"),
	}
}

// Run reads until the EOS sentinel arrives and returns.
func (s *PublisherStage) Run(_ context.Context) {
	for {
		env, ok := s.qMQTT.Get(s.getTimeout)
		if !ok {
			continue
		}
		if env.EOS {
			return
		}
		if err := s.publish(env.Value); err != nil {
			monitoring.Logf("ingest: publish failed: %v", err)
		}
		s.rate.add(1)
	}
}
