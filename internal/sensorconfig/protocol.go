package sensorconfig

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/hwt905-edge/internal/monitoring"
	"github.com/banshee-data/hwt905-edge/internal/protocol"
)

// DefaultReadTimeout is how long Read waits for a 0x5F response before
// giving up (spec §4.2 default T).
const DefaultReadTimeout = 500 * time.Millisecond

// maxWriteRetries bounds the short-write retry loop for Write.
const maxWriteRetries = 3

// ErrConfigTimeout is returned by Read when no response arrives in time;
// it is an expected outcome, not a hard error (spec §4.2/§7: ConfigTimeout).
var ErrConfigTimeout = errors.New("sensorconfig: no response within timeout")

// ErrWriteFailed is returned by Write once all retries are exhausted
// (spec §7: ConfigWriteFailure).
var ErrWriteFailed = errors.New("sensorconfig: write failed after retries")

// Port is the minimal serial surface ConfigProtocol needs: synchronous
// write and a read that can return 0 bytes on timeout rather than
// blocking forever. internal/transport.SensorPort satisfies this.
type Port interface {
	Write(p []byte) (n int, err error)
	Read(p []byte) (n int, err error)
}

// ConfigProtocol sends register write/read commands over a shared serial
// port, one request at a time. It owns no goroutines and is safe to call
// from the composite operations in composite.go.
type ConfigProtocol struct {
	port Port
	mu   sync.Mutex

	readTimeout time.Duration
}

// New returns a ConfigProtocol bound to an already-open port.
func New(port Port) *ConfigProtocol {
	return &ConfigProtocol{port: port, readTimeout: DefaultReadTimeout}
}

// SetReadTimeout overrides the default per-register read wait.
func (c *ConfigProtocol) SetReadTimeout(d time.Duration) {
	c.readTimeout = d
}

// Write sends a 5-byte register write command, retrying up to
// maxWriteRetries times on a short write.
func (c *ConfigProtocol) Write(reg byte, value uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cmd := buildWriteCommand(reg, value)

	var lastErr error
	for attempt := 0; attempt < maxWriteRetries; attempt++ {
		n, err := c.port.Write(cmd[:])
		if err == nil && n == len(cmd) {
			return nil
		}
		lastErr = err
		monitoring.Logf("sensorconfig: write reg=0x%02X attempt %d/%d failed: n=%d err=%v",
			reg, attempt+1, maxWriteRetries, n, err)
	}
	return fmt.Errorf("%w: reg=0x%02X: %v", ErrWriteFailed, reg, lastErr)
}

// Read requests the sensor read the given register and waits up to the
// configured timeout for a 0x5F response, returning the first of the four
// registers the sensor always replies with (spec §9 open question).
// ErrConfigTimeout means no response arrived in time; it is an expected
// outcome rather than a hard failure.
func (c *ConfigProtocol) Read(reg byte) (value uint16, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cmd := [protocol.CmdPacketLen]byte{protocol.CmdHeader[0], protocol.CmdHeader[1], RegReadAddr, reg, 0x00}
	if _, werr := c.port.Write(cmd[:]); werr != nil {
		return 0, fmt.Errorf("sensorconfig: read request write: %w", werr)
	}

	deadline := time.Now().Add(c.readTimeout)
	framer := protocol.NewFramer()
	readBuf := make([]byte, 64)

	for time.Now().Before(deadline) {
		n, rerr := c.port.Read(readBuf)
		if rerr != nil {
			return 0, fmt.Errorf("sensorconfig: read response: %w", rerr)
		}
		if n > 0 {
			framer.PushBytes(readBuf[:n])
			for {
				pkt, _, ok := framer.NextPacket()
				if !ok {
					break
				}
				if pkt.Type() != protocol.TypeRegReadResponse {
					continue
				}
				sample := protocol.Decode(pkt, 0)
				fields := sample.Fields.(protocol.RegReadResponseFields)
				return fields.Reg1, nil
			}
		}
	}
	return 0, ErrConfigTimeout
}

func buildWriteCommand(reg byte, value uint16) [protocol.CmdPacketLen]byte {
	return [protocol.CmdPacketLen]byte{
		protocol.CmdHeader[0],
		protocol.CmdHeader[1],
		reg,
		byte(value & 0xFF),
		byte(value >> 8),
	}
}
