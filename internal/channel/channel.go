// Package channel derives time-domain channel estimates (impulse response and
// power delay profile) from a cleaned CSI frequency response
package channel

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// SubcarrierSpacingKHz is the OFDM subcarrier spacing of 802.11n at 20/40 MHz
const SubcarrierSpacingKHz = 312.5

// pdpReference scales |h| before the log so captures stay in a readable dB range
const pdpReference = 1000.0

// Response combines per-subcarrier amplitude and phase into H(f) = |H|·e^{jφ}
func Response(amplitude, phase []float64) []complex128 {
	n := len(amplitude)
	if len(phase) < n {
		n = len(phase)
	}

	h := make([]complex128, n)
	for k := 0; k < n; k++ {
		h[k] = cmplx.Rect(amplitude[k], phase[k])
	}
	return h
}

// ImpulseResponse returns the inverse DFT of a frequency response, scaled by
// 1/N so that a forward transform recovers the input
func ImpulseResponse(freq []complex128) []complex128 {
	n := len(freq)
	if n == 0 {
		return nil
	}

	fft := fourier.NewCmplxFFT(n)
	h := fft.Sequence(nil, freq)

	scale := complex(1/float64(n), 0)
	for i := range h {
		h[i] *= scale
	}
	return h
}

// PowerDelayProfile returns 20·log10(|h|/1000) for each delay tap. Taps with
// zero magnitude map to -Inf.
func PowerDelayProfile(impulse []complex128) []float64 {
	pdp := make([]float64, len(impulse))
	for i, v := range impulse {
		pdp[i] = 20 * math.Log10(cmplx.Abs(v)/pdpReference)
	}
	return pdp
}

// DirectPathPower returns the strongest tap of a power delay profile
func DirectPathPower(pdp []float64) float64 {
	best := math.Inf(-1)
	for _, v := range pdp {
		if v > best {
			best = v
		}
	}
	return best
}

// DelayAxis returns the delay of each of k taps in microseconds for the given
// subcarrier spacing in kHz
func DelayAxis(k int, spacingKHz float64) []float64 {
	axis := make([]float64, k)
	if k == 0 || spacingKHz <= 0 {
		return axis
	}

	// bandwidth in kHz, so 1/B is in ms
	step := 1000 / (float64(k) * spacingKHz)
	for n := range axis {
		axis[n] = float64(n) * step
	}
	return axis
}

// Estimate is the time-domain view of one record
type Estimate struct {
	Impulse         []complex128
	PDP             []float64 // dB
	DirectPathPower float64   // dB
}

// Analyze computes the impulse response, power delay profile and direct path
// power for one record's amplitude and phase rows
func Analyze(amplitude, phase []float64) Estimate {
	h := ImpulseResponse(Response(amplitude, phase))
	pdp := PowerDelayProfile(h)
	return Estimate{
		Impulse:         h,
		PDP:             pdp,
		DirectPathPower: DirectPathPower(pdp),
	}
}
