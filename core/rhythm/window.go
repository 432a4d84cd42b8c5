package rhythm

import "gonum.org/v1/gonum/dsp/window"

func ones(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1
	}
	return w
}

// periodicHann returns the DFT-even Hann window used for spectral frames.
// 取 n+1 点对称窗再去掉最后一点
func periodicHann(n int) []float64 {
	return window.Hann(ones(n + 1))[:n]
}

// symmetricHann returns the symmetric Hann window used for smoothing.
func symmetricHann(n int) []float64 {
	if n == 1 {
		return []float64{1}
	}
	return window.Hann(ones(n))
}

// convolveSame is a centred convolution whose output has len(x) samples.
func convolveSame(x, k []float64) []float64 {
	out := make([]float64, len(x))
	half := len(k) / 2
	for i := range x {
		var acc float64
		for j := range k {
			idx := i + half - j
			if idx < 0 || idx >= len(x) {
				continue
			}
			acc += x[idx] * k[j]
		}
		out[i] = acc
	}
	return out
}
