package rhythm

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	frameLength = 2048
	hopLength   = 512

	// logGain compresses magnitudes as log(1 + logGain*|X|).
	logGain = 1000.0
)

// onsetStrength computes the spectral-flux onset envelope, one value per hop.
// Frames are centred, so frame t covers samples around t*hopLength.
func onsetStrength(samples []float32) []float64 {
	if len(samples) == 0 {
		return nil
	}

	// 两端补零，使帧居中
	pad := frameLength / 2
	padded := make([]float64, len(samples)+2*pad)
	for i, s := range samples {
		padded[pad+i] = float64(s)
	}
	nFrames := 1 + (len(padded)-frameLength)/hopLength

	window := periodicHann(frameLength)
	fft := fourier.NewFFT(frameLength)
	nBins := frameLength/2 + 1

	frame := make([]float64, frameLength)
	coeff := make([]complex128, nBins)
	prev := make([]float64, nBins)
	cur := make([]float64, nBins)
	env := make([]float64, nFrames)

	for t := 0; t < nFrames; t++ {
		start := t * hopLength
		for i := range frame {
			frame[i] = padded[start+i] * window[i]
		}
		coeff = fft.Coefficients(coeff, frame)
		for k, c := range coeff {
			cur[k] = math.Log1p(logGain * cmplx.Abs(c))
		}
		if t > 0 {
			var flux float64
			for k := range cur {
				if d := cur[k] - prev[k]; d > 0 {
					flux += d
				}
			}
			env[t] = flux / float64(nBins)
		}
		prev, cur = cur, prev
	}
	return env
}

// frameTimes converts frame indices to seconds.
func frameTimes(n, sampleRate int) []float64 {
	times := make([]float64, n)
	for i := range times {
		times[i] = float64(i*hopLength) / float64(sampleRate)
	}
	return times
}
