package transport

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.bug.st/serial"

	"github.com/banshee-data/hwt905-edge/internal/monitoring"
	"github.com/banshee-data/hwt905-edge/internal/sensorconfig"
)

// ErrNoCandidatePorts is the error a connection pass fails with when no
// serial device is present on the system at all; Establish logs it and
// retries rather than returning it.
var ErrNoCandidatePorts = errors.New("transport: no candidate serial ports found")

// backoffStart, backoffStep, and backoffCap implement the additive
// reconnect backoff from spec §4.3: 3, 4, 5 ... capped at 10s.
const (
	backoffStart = 3 * time.Second
	backoffStep  = 1 * time.Second
	backoffCap   = 10 * time.Second
)

// DiscoverCandidateRetryDelay is how long Establish sleeps between full
// passes over every candidate when all of them fail (spec: "sleep 3-5s").
const DiscoverCandidateRetryDelay = 3 * time.Second

// Options configures a Supervisor.
type Options struct {
	// PreferredPort, if present among the discovered candidates, is tried
	// first.
	PreferredPort string
	// Baud is the baudrate to open candidates at.
	Baud int
	// VerifyBaudrate, if true, performs a register read after opening and
	// rejects the candidate on failure.
	VerifyBaudrate bool
	// ErrorThreshold is the number of consecutive read failures the reader
	// must report before the supervisor reconnects (default 3).
	ErrorThreshold int
	// MaxBackoff caps the additive reconnect backoff (default 10s, the
	// spec's backoffCap).
	MaxBackoff time.Duration
}

func (o Options) errorThreshold() int {
	if o.ErrorThreshold <= 0 {
		return 3
	}
	return o.ErrorThreshold
}

func (o Options) maxBackoff() time.Duration {
	if o.MaxBackoff <= 0 {
		return backoffCap
	}
	return o.MaxBackoff
}

// Supervisor owns the lifecycle of the serial connection: discovery,
// opening, baudrate verification, and additive-backoff reconnection on
// transport error (spec §4.3).
type Supervisor struct {
	opts           Options
	backoff        time.Duration
	consecutiveErr int
}

// NewSupervisor returns a Supervisor with the given options.
func NewSupervisor(opts Options) *Supervisor {
	return &Supervisor{opts: opts, backoff: backoffStart}
}

// portLister enumerates available serial device paths; overridden in
// tests to avoid depending on real hardware.
var portLister = serial.GetPortsList

// DiscoverPorts enumerates candidate serial device paths. A configured
// preferred path is moved to the front if present; the rest are sorted.
func DiscoverPorts(preferred string) ([]string, error) {
	ports, err := portLister()
	if err != nil {
		return nil, fmt.Errorf("transport: list ports: %w", err)
	}
	sort.Strings(ports)

	if preferred == "" {
		return ports, nil
	}
	for i, p := range ports {
		if p == preferred {
			reordered := make([]string, 0, len(ports))
			reordered = append(reordered, p)
			reordered = append(reordered, ports[:i]...)
			reordered = append(reordered, ports[i+1:]...)
			return reordered, nil
		}
	}
	// Preferred port configured but not currently present: still try it
	// first, in case enumeration is incomplete on this platform.
	return append([]string{preferred}, ports...), nil
}

// Establish discovers candidates and opens the first one that succeeds
// (and, if configured, verifies its baudrate). It retries the whole
// candidate list, sleeping DiscoverCandidateRetryDelay between passes,
// until ctx is canceled.
func (s *Supervisor) Establish(ctx context.Context) (*SensorPort, error) {
	for {
		port, err := s.tryAllCandidates()
		if err == nil {
			s.backoff = backoffStart
			s.consecutiveErr = 0
			return port, nil
		}
		monitoring.Logf("transport: establish failed: %v; retrying in %s", err, DiscoverCandidateRetryDelay)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(DiscoverCandidateRetryDelay):
		}
	}
}

func (s *Supervisor) tryAllCandidates() (*SensorPort, error) {
	candidates, err := DiscoverPorts(s.opts.PreferredPort)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, ErrNoCandidatePorts
	}

	var lastErr error
	for _, name := range candidates {
		port, err := Open(name, s.opts.Baud)
		if err != nil {
			lastErr = err
			monitoring.Logf("transport: open %s failed: %v", name, err)
			continue
		}

		if s.opts.VerifyBaudrate {
			cfg := sensorconfig.New(port)
			if !sensorconfig.VerifyBaudrate(cfg) {
				monitoring.Logf("transport: %s failed baudrate verification, trying next candidate", name)
				port.Close()
				lastErr = fmt.Errorf("baudrate verification failed on %s", name)
				continue
			}
		}

		monitoring.Logf("transport: connected on %s @ %d baud", name, s.opts.Baud)
		return port, nil
	}
	return nil, fmt.Errorf("transport: all %d candidate(s) failed, last error: %w", len(candidates), lastErr)
}

// NoteReadError records a read failure. It returns true once the
// consecutive-failure threshold is reached, signaling the caller should
// reconnect rather than retry transiently.
func (s *Supervisor) NoteReadError() (shouldReconnect bool) {
	s.consecutiveErr++
	return s.consecutiveErr >= s.opts.errorThreshold()
}

// NoteReadSuccess resets the consecutive-failure counter.
func (s *Supervisor) NoteReadSuccess() {
	s.consecutiveErr = 0
}

// NextBackoff returns the current reconnect backoff duration and advances
// it additively toward backoffCap, per spec §4.3.
func (s *Supervisor) NextBackoff() time.Duration {
	cap := s.opts.maxBackoff()
	d := s.backoff
	if s.backoff < cap {
		s.backoff += backoffStep
		if s.backoff > cap {
			s.backoff = cap
		}
	}
	return d
}
