package ingest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/hwt905-edge/internal/monitoring"
)

// rateCounter is a per-stage throughput counter; purely observational
// (spec §4.4 "this is observability, not a correctness property").
type rateCounter struct {
	name  string
	count atomic.Int64
}

func newRateCounter(name string) *rateCounter {
	return &rateCounter{name: name}
}

func (r *rateCounter) add(n int64) {
	r.count.Add(n)
}

// reportEvery logs the counter's rate every interval until ctx is done.
func (r *rateCounter) reportEvery(ctx context.Context, interval time.Duration, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := r.count.Load()
			rate := float64(now-last) / interval.Seconds()
			monitoring.Logf("ingest: %s rate = %.1f/s (total %d)", r.name, rate, now)
			last = now
		}
	}
}
