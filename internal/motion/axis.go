package motion

// axisIntegrator runs the RLS double integrator and FFT dominant-frequency
// extraction for a single acceleration axis (spec §4.5.3-§4.5.4).
type axisIntegrator struct {
	params Params

	filter *Filter
	buf    []float64 // last up-to-calcFrameSize() preconditioned samples for FFT, time order, grows then caps

	frameSamples []float64 // this frame's preconditioned samples, accumulates to sampleFrameSize()
	rlsBuf       []float64 // fixed-length L=calcFrameSize() ring buffer the RLS integrator runs over

	rlsVel *rlsDetrender
	rlsDis *rlsDetrender

	frameCount  int
	samplesSeen int // since last frame boundary, resets at N

	lastDominantFreq float64
}

func newAxisIntegrator(p Params) *axisIntegrator {
	return &axisIntegrator{
		params: p,
		filter: NewFilter(p.FilterKind, p.FilterWindow, p.FilterAlpha),
		rlsBuf: make([]float64, p.calcFrameSize()),
		rlsVel: newRLSDetrender(),
		rlsDis: newRLSDetrender(),
	}
}

func (a *axisIntegrator) reset() {
	a.filter.Reset()
	a.buf = nil
	a.frameSamples = nil
	a.rlsBuf = make([]float64, a.params.calcFrameSize())
	a.rlsVel.reset()
	a.rlsDis.reset()
	a.frameCount = 0
	a.samplesSeen = 0
	a.lastDominantFreq = 0
}

// axisFrameResult is what a completed frame boundary produces.
type axisFrameResult struct {
	velLast, dispLast float64
	accFilteredLast   float64
	dominantFreqHz    float64
	warmedUp          bool
}

// pushSample feeds one preconditioned (optionally filtered) sample. It
// returns (result, frameBoundary): frameBoundary is true exactly every N
// samples, and result is only meaningful then.
func (a *axisIntegrator) pushSample(x float64) (axisFrameResult, bool) {
	filtered := a.filter.Apply(x)

	a.buf = append(a.buf, filtered)
	if len(a.buf) > a.params.calcFrameSize() {
		a.buf = a.buf[len(a.buf)-a.params.calcFrameSize():]
	}
	a.frameSamples = append(a.frameSamples, filtered)

	a.samplesSeen++
	if a.samplesSeen < a.params.sampleFrameSize() {
		return axisFrameResult{}, false
	}
	a.samplesSeen = 0

	return a.processFrame(filtered), true
}

func (a *axisIntegrator) processFrame(lastRaw float64) axisFrameResult {
	a.frameCount++

	// Roll the fixed-length RLS buffer: drop the oldest frameLen entries,
	// append this frame's samples at the end. Ring buffer underflow before
	// first full fill is handled by zero-initialization; no short-frame
	// branch is taken.
	frameLen := len(a.frameSamples)
	copy(a.rlsBuf, a.rlsBuf[frameLen:])
	copy(a.rlsBuf[len(a.rlsBuf)-frameLen:], a.frameSamples)
	a.frameSamples = a.frameSamples[:0]

	if a.frameCount <= a.params.warmupFrames() {
		return axisFrameResult{accFilteredLast: lastRaw, warmedUp: false}
	}

	n := len(a.rlsBuf)
	dt := a.params.dt()
	q := a.params.forgettingFactor()

	t := make([]float64, n)
	for i := range t {
		t[i] = float64(i) * dt
	}

	vRaw := trapz(a.rlsBuf, dt)
	vDet := a.rlsVel.detrend(vRaw, t, q)
	dRaw := trapz(vDet, dt)
	dDet := a.rlsDis.detrend(dRaw, t, q)

	freq := a.dominantFrequency()

	return axisFrameResult{
		velLast:         vDet[n-1],
		dispLast:        dDet[n-1],
		accFilteredLast: lastRaw,
		dominantFreqHz:  freq,
		warmedUp:        true,
	}
}
