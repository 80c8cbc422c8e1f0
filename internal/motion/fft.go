package motion

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// dominantFrequency extracts the dominant vibration frequency from the
// last n_fft samples of the axis's preconditioned buffer (spec §4.5.4):
// Hann window, real FFT, drop the DC bin, restrict to [min_freq,max_freq],
// report the frequency of the largest-magnitude remaining bin, or 0 if
// none falls in the band.
func (a *axisIntegrator) dominantFrequency() float64 {
	n := a.params.nFFT()
	if len(a.buf) < n {
		return 0
	}
	segment := append([]float64(nil), a.buf[len(a.buf)-n:]...)
	window.Hann(segment)

	fft := fourier.NewFFT(n)
	coeffs := fft.Coefficients(nil, segment)

	dt := a.params.dt()
	minFreq := a.params.minFreqHz()
	maxFreq := a.params.maxFreqHz()

	var bestFreq float64
	var bestMag float64
	found := false

	for i := 1; i < len(coeffs); i++ { // i=0 is the DC bin, discarded
		freq := fft.Freq(i) / dt
		if freq < minFreq || freq > maxFreq {
			continue
		}
		mag := cmplxAbs(coeffs[i])
		if !found || mag > bestMag {
			bestMag = mag
			bestFreq = freq
			found = true
		}
	}
	if !found {
		return 0
	}
	return bestFreq
}

func cmplxAbs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}
