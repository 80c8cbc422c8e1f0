package transport

import (
	"io"
	"sync"
	"time"
)

// MockPort is an in-memory stand-in for a SensorPort, grounded on the
// teacher's MockRadarPort (radar/serial.go) but adapted for a
// fixed-length binary wire format and for the real port's read-timeout
// behavior: Read never blocks longer than pollInterval, returning (0,
// nil) when nothing is buffered so callers loop exactly as they would
// against real hardware with a short SetReadTimeout (spec §5: reader
// suspension point ≤100ms).
type MockPort struct {
	mu  sync.Mutex
	buf []byte
	err error
	eof bool

	pollInterval time.Duration
}

// NewMockPort returns a MockPort with no buffered bytes.
func NewMockPort() *MockPort {
	return &MockPort{pollInterval: time.Millisecond}
}

// Feed appends bytes for a subsequent Read to return.
func (m *MockPort) Feed(b []byte) {
	m.mu.Lock()
	m.buf = append(m.buf, b...)
	m.mu.Unlock()
}

// FailWith makes the next (and every subsequent) Read return err once the
// buffered bytes are exhausted, simulating a transport error mid-stream.
func (m *MockPort) FailWith(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

// Close makes Reads return io.EOF once the buffered bytes are exhausted;
// an error set by FailWith takes precedence over EOF.
func (m *MockPort) Close() error {
	m.mu.Lock()
	m.eof = true
	m.mu.Unlock()
	return nil
}

// Read returns any buffered bytes immediately, or after pollInterval
// returns (0, nil) if nothing has arrived, mirroring the short
// read-poll timeout a real SensorPort is opened with.
func (m *MockPort) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.buf) > 0 {
		n := copy(p, m.buf)
		m.buf = m.buf[n:]
		return n, nil
	}
	if m.err != nil {
		return 0, m.err
	}
	if m.eof {
		return 0, io.EOF
	}

	m.mu.Unlock()
	time.Sleep(m.pollInterval)
	m.mu.Lock()
	return 0, nil
}
