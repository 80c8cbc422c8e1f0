package motion

import "gonum.org/v1/gonum/mat"

// initialCovariance is the diagonal value RLS covariance P is initialized
// to; large relative to expected data so the filter converges quickly
// (spec §4.5.3: P init diag(1000,1000)).
const initialCovariance = 1000.0

// rlsDetrender is a 2-state (slope, intercept) recursive-least-squares
// linear-trend estimator, re-expressed with gonum/mat from the original
// numpy implementation: per-sample update of (theta, P), then a single
// vectorized trend subtraction using the final theta.
type rlsDetrender struct {
	theta *mat.VecDense // [slope, intercept]
	p     *mat.Dense    // 2x2 covariance
}

func newRLSDetrender() *rlsDetrender {
	d := &rlsDetrender{}
	d.reset()
	return d
}

func (d *rlsDetrender) reset() {
	d.theta = mat.NewVecDense(2, []float64{0, 0})
	d.p = mat.NewDense(2, 2, []float64{initialCovariance, 0, 0, initialCovariance})
}

// resetIfCorrupted reinitializes P (spec §4.5.6) when a NaN/Inf has
// corrupted the covariance estimate.
func (d *rlsDetrender) resetIfCorrupted() {
	if !finiteDense(d.p) || !finiteVec(d.theta) {
		d.reset()
	}
}

// update performs one RLS step with basis phi=[t,1] and observation y,
// computing the innovation e against the pre-update theta. If the
// gain denominator is zero the point is skipped and theta/P are left
// unchanged (spec §4.5.3 tie-break rule).
func (d *rlsDetrender) update(t, y, q float64) {
	phi := mat.NewVecDense(2, []float64{t, 1})

	var pPhi mat.VecDense
	pPhi.MulVec(d.p, phi)

	denom := q + mat.Dot(phi, &pPhi)
	if denom == 0 {
		return
	}

	yPred := mat.Dot(phi, d.theta)
	e := y - yPred

	var k mat.VecDense
	k.ScaleVec(1/denom, &pPhi)

	var ke mat.VecDense
	ke.ScaleVec(e, &k)
	d.theta.AddVec(d.theta, &ke)

	var phiTP mat.VecDense
	phiTP.MulVec(d.p.T(), phi)

	var outer mat.Dense
	outer.Outer(1, &k, &phiTP)

	var newP mat.Dense
	newP.Sub(d.p, &outer)
	newP.Scale(1/q, &newP)
	d.p = &newP

	d.resetIfCorrupted()
}

// detrend runs update over every (t[i], data[i]) pair in order, then
// subtracts the line fit by the FINAL theta from the whole series. theta
// and P persist across calls, matching the original's per-frame behavior
// of continuing the same RLS state.
func (d *rlsDetrender) detrend(data, t []float64, q float64) []float64 {
	for i := range data {
		d.update(t[i], data[i], q)
	}

	slope := d.theta.AtVec(0)
	intercept := d.theta.AtVec(1)

	out := make([]float64, len(data))
	for i := range data {
		out[i] = data[i] - (slope*t[i] + intercept)
	}
	return out
}

func finiteVec(v *mat.VecDense) bool {
	for i := 0; i < v.Len(); i++ {
		if !isFiniteFloat(v.AtVec(i)) {
			return false
		}
	}
	return true
}

func finiteDense(m *mat.Dense) bool {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if !isFiniteFloat(m.At(i, j)) {
				return false
			}
		}
	}
	return true
}

// trapz performs cumulative trapezoidal integration with out[0] = 0,
// matching numpy's incremental usage in the original integrator.
func trapz(data []float64, dt float64) []float64 {
	out := make([]float64, len(data))
	for i := 1; i < len(data); i++ {
		out[i] = out[i-1] + dt*(data[i]+data[i-1])/2
	}
	return out
}
