package rhythm

import (
	"math/cmplx"

	"XSlicer/model"

	"gonum.org/v1/gonum/dsp/fourier"
)

// tempogramWindow is the autocorrelation window in onset frames.
const tempogramWindow = model.TempogramBins

// tempogramSummary computes the autocorrelation tempogram of env and averages
// it over time. Each column is normalised by its lag-0 value; silent columns stay zero.
func tempogramSummary(env []float64) []float64 {
	summary := make([]float64, tempogramWindow)
	if len(env) == 0 {
		return summary
	}

	half := tempogramWindow / 2
	padded := make([]float64, len(env)+2*half)
	copy(padded[half:], env)

	window := periodicHann(tempogramWindow)
	// 2x length keeps the circular autocorrelation free of wrap-around for lags < window
	n := 2 * tempogramWindow
	fft := fourier.NewFFT(n)

	frame := make([]float64, n)
	coeff := make([]complex128, n/2+1)
	acf := make([]float64, n)

	for t := 0; t < len(env); t++ {
		for i := 0; i < tempogramWindow; i++ {
			frame[i] = padded[t+i] * window[i]
		}
		for i := tempogramWindow; i < n; i++ {
			frame[i] = 0
		}
		coeff = fft.Coefficients(coeff, frame)
		for k, c := range coeff {
			a := cmplx.Abs(c)
			coeff[k] = complex(a*a, 0)
		}
		acf = fft.Sequence(acf, coeff)

		norm := acf[0]
		if norm <= 1e-12 {
			continue
		}
		for lag := 0; lag < tempogramWindow; lag++ {
			summary[lag] += acf[lag] / norm
		}
	}

	for lag := range summary {
		summary[lag] /= float64(len(env))
	}
	return summary
}
