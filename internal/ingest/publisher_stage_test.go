package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/banshee-data/hwt905-edge/internal/motion"
)

func TestPublisherStagePublishesUntilEOS(t *testing.T) {
	qMQTT := NewQueue[Envelope[motion.ProcessedResult]](8)

	var published []motion.ProcessedResult
	publishDone := make(chan struct{})
	stage := newPublisherStage(qMQTT, func(r motion.ProcessedResult) error {
		published = append(published, r)
		return nil
	}, 10*time.Millisecond)

	ctx := context.Background()
	go func() { stage.Run(ctx); close(publishDone) }()

	qMQTT.Put(ctx, Envelope[motion.ProcessedResult]{Value: motion.ProcessedResult{TimestampUnixS: 1}})
	qMQTT.Put(ctx, Envelope[motion.ProcessedResult]{Value: motion.ProcessedResult{TimestampUnixS: 2}})
	qMQTT.Put(ctx, Envelope[motion.ProcessedResult]{EOS: true})

	select {
	case <-publishDone:
	case <-time.After(time.Second):
		t.Fatal("publisher stage did not return after EOS")
	}

	if len(published) != 2 {
		t.Fatalf("published %d results, want 2", len(published))
	}
}

func TestPublisherStageLogsErrorsButContinues(t *testing.T) {
	qMQTT := NewQueue[Envelope[motion.ProcessedResult]](8)

	calls := 0
	stage := newPublisherStage(qMQTT, func(motion.ProcessedResult) error {
		calls++
		return errors.New("publish failed")
	}, 10*time.Millisecond)

	ctx := context.Background()
	done := make(chan struct{})
	go func() { stage.Run(ctx); close(done) }()

	qMQTT.Put(ctx, Envelope[motion.ProcessedResult]{Value: motion.ProcessedResult{}})
	qMQTT.Put(ctx, Envelope[motion.ProcessedResult]{Value: motion.ProcessedResult{}})
	qMQTT.Put(ctx, Envelope[motion.ProcessedResult]{EOS: true})

	<-done
	if calls != 2 {
		t.Fatalf("publish called %d times, want 2 (errors should not stop the stage)", calls)
	}
}
