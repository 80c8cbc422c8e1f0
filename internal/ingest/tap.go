package ingest

import "sync"

// tapBufferSize bounds each subscriber's backlog; a slow subscriber drops
// lines rather than blocking the pipeline (this is a debugging aid, not a
// delivery guarantee).
const tapBufferSize = 64

// Tap is a fan-out broadcaster for decoded samples and processed results,
// grounded on the teacher's serialmux.SerialMux Subscribe/Unsubscribe
// pub-sub, rebuilt as a standalone type so it can sit beside the pipeline
// rather than inside a serial multiplexer. Its only consumer today is this
// package's SSE "tail" admin endpoint (admin.go).
type Tap struct {
	mu     sync.Mutex
	subs   map[int]chan string
	nextID int
}

// NewTap returns an empty Tap.
func NewTap() *Tap {
	return &Tap{subs: make(map[int]chan string)}
}

// Subscribe registers a new listener and returns its id (for Unsubscribe)
// and the channel lines are delivered on.
func (t *Tap) Subscribe() (int, <-chan string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextID
	t.nextID++
	ch := make(chan string, tapBufferSize)
	t.subs[id] = ch
	return id, ch
}

// Unsubscribe removes and closes the subscriber's channel.
func (t *Tap) Unsubscribe(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ch, ok := t.subs[id]; ok {
		close(ch)
		delete(t.subs, id)
	}
}

// Broadcast fans line out to every subscriber without blocking; a
// subscriber whose buffer is full misses the line.
func (t *Tap) Broadcast(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, ch := range t.subs {
		select {
		case ch <- line:
		default:
		}
	}
}

// Close closes every subscriber channel; main calls it once at process
// shutdown, after the pipeline loop has returned.
func (t *Tap) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}
