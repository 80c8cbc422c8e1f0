// Package transport owns the physical serial connection to the sensor:
// port discovery, opening, baudrate verification, and reconnect-on-error
// supervision (spec §4.3).
package transport

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// ReadPollTimeout bounds how long a single Read call blocks before
// returning with n=0, so the reader stage can still observe shutdown
// (spec §5: reader suspension point ≤100ms).
const ReadPollTimeout = 100 * time.Millisecond

// SensorPort wraps a go.bug.st/serial.Port opened at a specific baudrate,
// grounded on the teacher's RadarPort (serial.go / radar/serial.go), but
// read via raw Read() polling instead of bufio.Scanner since the wire
// format here is fixed-length binary, not newline-delimited text.
type SensorPort struct {
	serial.Port
	PortName string
	Baud     int
}

// Open opens portName at baud with 8N1 framing and a short read-poll
// timeout, then flushes any stale buffered bytes.
func Open(portName string, baud int) (*SensorPort, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", portName, err)
	}
	if err := port.SetReadTimeout(ReadPollTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("transport: set read timeout: %w", err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("transport: flush input: %w", err)
	}
	if err := port.ResetOutputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("transport: flush output: %w", err)
	}

	return &SensorPort{Port: port, PortName: portName, Baud: baud}, nil
}

// Close closes the underlying port. Safe to call on an already-closed
// port; the embedded serial.Port tolerates a second Close.
func (p *SensorPort) Close() error {
	if p == nil || p.Port == nil {
		return nil
	}
	return p.Port.Close()
}
