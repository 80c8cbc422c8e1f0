package motion

// Params holds every tunable of the motion-processing core (spec §4.5).
// Zero-value fields fall back to the documented spec defaults via the
// accessor methods, mirroring the pointer-config convention used
// elsewhere in this repository (internal/config).
type Params struct {
	// SampleFrameSize is N, the number of new samples per frame (default 20).
	SampleFrameSize int
	// CalcFrameMultiplier is M; calc frame size L = N*M (default 100).
	CalcFrameMultiplier int
	// Dt is the fixed sample period in seconds (default 0.005 = 200Hz).
	Dt float64
	// ForgettingFactor is RLS q in (0,1] (default 0.9825).
	ForgettingFactor float64
	// WarmupFrames is how many initial frames are suppressed (default 5).
	WarmupFrames int

	// FilterKind selects the optional front-end filter (default FilterNone).
	FilterKind   FilterKind
	FilterWindow int
	FilterAlpha  float64

	// NFFT is the FFT window length in samples (default 512).
	NFFT int
	// MinFreqHz is the low edge of the reported frequency band (default 0.1).
	MinFreqHz float64
	// MaxFreqHz is the high edge; 0 means Nyquist = 1/(2*Dt).
	MaxFreqHz float64
}

func (p Params) sampleFrameSize() int {
	if p.SampleFrameSize <= 0 {
		return 20
	}
	return p.SampleFrameSize
}

func (p Params) calcFrameMultiplier() int {
	if p.CalcFrameMultiplier <= 0 {
		return 100
	}
	return p.CalcFrameMultiplier
}

func (p Params) calcFrameSize() int {
	return p.sampleFrameSize() * p.calcFrameMultiplier()
}

func (p Params) dt() float64 {
	if p.Dt <= 0 {
		return 0.005
	}
	return p.Dt
}

func (p Params) forgettingFactor() float64 {
	if p.ForgettingFactor <= 0 || p.ForgettingFactor > 1 {
		return 0.9825
	}
	return p.ForgettingFactor
}

func (p Params) warmupFrames() int {
	if p.WarmupFrames <= 0 {
		return 5
	}
	return p.WarmupFrames
}

func (p Params) nFFT() int {
	if p.NFFT <= 0 {
		return 512
	}
	return p.NFFT
}

func (p Params) minFreqHz() float64 {
	if p.MinFreqHz <= 0 {
		return 0.1
	}
	return p.MinFreqHz
}

func (p Params) maxFreqHz() float64 {
	if p.MaxFreqHz <= 0 {
		return 1 / (2 * p.dt()) // Nyquist
	}
	return p.MaxFreqHz
}
