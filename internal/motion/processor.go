// Package motion implements the RLS double-integration and FFT
// dominant-frequency extraction that turns a stream of 3-axis
// accelerometer samples into displacement, velocity, and vibration
// frequency estimates (spec §4.5).
package motion

import "github.com/banshee-data/hwt905-edge/internal/monitoring"

// ProcessedResult is one emitted output of MotionProcessor, the scalar
// "last sample of the frame" contract from spec §4.5.5 / §9 (never a full
// frame array).
type ProcessedResult struct {
	TimestampUnixS float64

	AccFilteredX, AccFilteredY, AccFilteredZ float64
	VelX, VelY, VelZ                         float64
	DispX, DispY, DispZ                      float64
	DominantFreqX, DominantFreqY, DominantFreqZ float64

	RLSWarmedUp bool
}

// MotionProcessor runs three independent per-axis integrators; there is no
// cross-axis synchronization beyond receiving samples together (spec §4.4
// ordering guarantee: "no cross-axis synchronization in P").
type MotionProcessor struct {
	params Params
	x, y, z *axisIntegrator
}

// New returns a MotionProcessor configured with params (zero-value fields
// fall back to spec defaults).
func New(params Params) *MotionProcessor {
	return &MotionProcessor{
		params: params,
		x:      newAxisIntegrator(params),
		y:      newAxisIntegrator(params),
		z:      newAxisIntegrator(params),
	}
}

// Reset clears every buffer, RLS state, and filter state on all three axes
// (spec §4.5.5).
func (m *MotionProcessor) Reset() {
	m.x.reset()
	m.y.reset()
	m.z.reset()
}

// ProcessSample ingests one (ax, ay, az) sample in units of g at the
// configured timestamp. It returns (result, true) only once every N
// samples (spec default 20) AND only once RLS has warmed up; otherwise it
// returns (zero, false).
//
// Non-finite input is rejected at the entrance rather than corrupting RLS
// state (spec §4.5.6): the sample is dropped and logged, and nothing is
// fed to the integrators for this call.
func (m *MotionProcessor) ProcessSample(axG, ayG, azG float64, timestampUnixS float64) (ProcessedResult, bool) {
	if !isFiniteFloat(axG) || !isFiniteFloat(ayG) || !isFiniteFloat(azG) {
		monitoring.Logf("motion: dropping non-finite sample (%v, %v, %v)", axG, ayG, azG)
		return ProcessedResult{}, false
	}

	ax, ay, az := Precondition(axG, ayG, azG)

	rx, bx := m.x.pushSample(ax)
	ry, by := m.y.pushSample(ay)
	rz, bz := m.z.pushSample(az)

	if !bx || !by || !bz {
		// All three axes share the same sample-frame counter, so they reach
		// a frame boundary together; this only diverges if a caller misuses
		// the processor with axes out of lockstep.
		return ProcessedResult{}, false
	}
	if !rx.warmedUp || !ry.warmedUp || !rz.warmedUp {
		return ProcessedResult{}, false
	}

	return ProcessedResult{
		TimestampUnixS: timestampUnixS,
		AccFilteredX:   rx.accFilteredLast,
		AccFilteredY:   ry.accFilteredLast,
		AccFilteredZ:   rz.accFilteredLast,
		VelX:           rx.velLast,
		VelY:           ry.velLast,
		VelZ:           rz.velLast,
		DispX:          rx.dispLast,
		DispY:          ry.dispLast,
		DispZ:          rz.dispLast,
		DominantFreqX:  rx.dominantFreqHz,
		DominantFreqY:  ry.dominantFreqHz,
		DominantFreqZ:  rz.dominantFreqHz,
		RLSWarmedUp:    true,
	}, true
}
