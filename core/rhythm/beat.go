package rhythm

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// tightness penalises deviation of inter-beat intervals from the tempo period.
const tightness = 100.0

// trackBeats runs dynamic-programming beat tracking over env at the given
// tempo and returns beat frame indices in increasing order.
func trackBeats(env []float64, bpm float64, sampleRate int) []int {
	if len(env) < 2 || bpm <= 0 || floats.Max(env) <= 0 {
		return nil
	}

	framesPerSec := float64(sampleRate) / hopLength
	period := int(math.Round(60 * framesPerSec / bpm))
	if period < 1 {
		return nil
	}

	sd := stat.StdDev(env, nil)
	if sd <= 0 {
		return nil
	}
	norm := make([]float64, len(env))
	floats.ScaleTo(norm, 1/sd, env)

	kernel := make([]float64, 2*period+1)
	for i := range kernel {
		k := float64(i-period) * 32 / float64(period)
		kernel[i] = math.Exp(-0.5 * k * k)
	}
	local := convolveSame(norm, kernel)

	cum, back := beatDP(local, period)

	last := lastBeat(cum)
	if last < 0 {
		return nil
	}
	var beats []int
	for b := last; b >= 0; b = back[b] {
		beats = append(beats, b)
	}
	for i, j := 0, len(beats)-1; i < j; i, j = i+1, j-1 {
		beats[i], beats[j] = beats[j], beats[i]
	}
	return trimBeats(local, beats)
}

// beatDP fills the cumulative score and back-links of the beat tracker.
// A back-link of -1 marks the first beat of a chain.
func beatDP(local []float64, period int) ([]float64, []int) {
	n := len(local)
	cum := make([]float64, n)
	back := make([]int, n)

	lo, hi := -2*period, -int(math.Round(float64(period)/2))
	txwt := make([]float64, hi-lo+1)
	for i := range txwt {
		d := float64(-(lo + i)) / float64(period)
		txwt[i] = -tightness * math.Pow(math.Log(d), 2)
	}

	threshold := 0.01 * floats.Max(local)
	first := true
	for t := 0; t < n; t++ {
		bestScore := math.Inf(-1)
		bestPrev := -1
		for i, w := range txwt {
			prev := t + lo + i
			score := w
			if prev >= 0 {
				score += cum[prev]
			}
			if score > bestScore {
				bestScore, bestPrev = score, prev
			}
		}
		cum[t] = local[t] + bestScore

		if first && local[t] < threshold {
			back[t] = -1
			continue
		}
		first = false
		if bestPrev < 0 {
			back[t] = -1
		} else {
			back[t] = bestPrev
		}
	}
	return cum, back
}

// lastBeat returns the last local maximum of cum above half the median of all maxima.
func lastBeat(cum []float64) int {
	var peaks []int
	for i := 1; i < len(cum)-1; i++ {
		if cum[i] > cum[i-1] && cum[i] >= cum[i+1] {
			peaks = append(peaks, i)
		}
	}
	if len(peaks) == 0 {
		return -1
	}
	vals := make([]float64, len(peaks))
	for i, p := range peaks {
		vals[i] = cum[p]
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	median := stat.Quantile(0.5, stat.Empirical, sorted, nil)

	for i := len(peaks) - 1; i >= 0; i-- {
		if 2*vals[i] > median {
			return peaks[i]
		}
	}
	return -1
}

// trimBeats drops weak leading and trailing beats.
func trimBeats(local []float64, beats []int) []int {
	if len(beats) == 0 {
		return beats
	}
	at := make([]float64, len(beats))
	for i, b := range beats {
		at[i] = local[b]
	}
	smooth := convolveSame(at, symmetricHann(5))

	var sq float64
	for _, v := range smooth {
		sq += v * v
	}
	threshold := 0.5 * math.Sqrt(sq/float64(len(smooth)))

	first, last := -1, -1
	for i, v := range smooth {
		if v > threshold {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if first < 0 {
		return nil
	}
	return beats[first : last+1]
}
