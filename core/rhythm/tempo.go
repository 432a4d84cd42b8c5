package rhythm

import "math"

const (
	minTempo   = 30.0
	maxTempo   = 300.0
	startTempo = 120.0
	// tempoStdOctaves is the width of the log-normal tempo prior.
	tempoStdOctaves = 1.0
)

// lagToBPM converts an onset-frame lag to beats per minute.
func lagToBPM(lag float64, sampleRate int) float64 {
	if lag <= 0 {
		return math.Inf(1)
	}
	return 60 * float64(sampleRate) / (float64(hopLength) * lag)
}

// estimateTempo picks the best tempo from a time-averaged tempogram, weighted
// by a log-normal prior around startTempo. Returns 0 when no tempo is evident.
func estimateTempo(summary []float64, sampleRate int) float64 {
	if len(summary) < 3 || sampleRate <= 0 {
		return 0
	}

	score := make([]float64, len(summary))
	best := -1
	for lag := 1; lag < len(summary); lag++ {
		score[lag] = math.Inf(-1)
		bpm := lagToBPM(float64(lag), sampleRate)
		if bpm < minTempo || bpm > maxTempo || summary[lag] <= 0 {
			continue
		}
		prior := -0.5 * math.Pow((math.Log2(bpm)-math.Log2(startTempo))/tempoStdOctaves, 2)
		score[lag] = math.Log1p(1e6*summary[lag]) + prior
		if best < 0 || score[lag] > score[best] {
			best = lag
		}
	}
	if best < 0 {
		return 0
	}

	lag := float64(best)
	// 抛物线插值，得到亚帧精度
	if best > 1 && best < len(summary)-1 && !math.IsInf(score[best-1], -1) && !math.IsInf(score[best+1], -1) {
		a, b, c := score[best-1], score[best], score[best+1]
		if den := a - 2*b + c; den < 0 {
			delta := 0.5 * (a - c) / den
			if math.Abs(delta) <= 0.5 {
				lag += delta
			}
		}
	}

	bpm := lagToBPM(lag, sampleRate)
	bpm = math.Max(minTempo, math.Min(maxTempo, bpm))
	return math.Round(bpm*10) / 10
}
