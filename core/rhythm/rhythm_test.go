package rhythm

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"XSlicer/core/apperr"
	"XSlicer/core/audio"
	"XSlicer/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRate = 22050

// clickTrack renders decaying 1 kHz clicks at the given tempo.
func clickTrack(bpm, seconds float64) []float32 {
	n := int(seconds * testRate)
	out := make([]float32, n)
	step := int(60 / bpm * testRate)
	for start := testRate / 4; start < n; start += step {
		for i := 0; i < 2000 && start+i < n; i++ {
			v := math.Sin(2*math.Pi*1000*float64(i)/testRate) * math.Exp(-float64(i)/300)
			out[start+i] = float32(0.8 * v)
		}
	}
	return out
}

func TestWindows(t *testing.T) {
	w := periodicHann(4)
	assert.InDeltaSlice(t, []float64{0, 0.5, 1, 0.5}, w, 1e-12)

	s := symmetricHann(5)
	assert.InDeltaSlice(t, []float64{0, 0.5, 1, 0.5, 0}, s, 1e-12)

	assert.Equal(t, []float64{1}, symmetricHann(1))
}

func TestConvolveSame(t *testing.T) {
	got := convolveSame([]float64{0, 0, 1, 0, 0}, []float64{1, 2, 3})
	assert.Equal(t, []float64{0, 1, 2, 3, 0}, got)
}

func TestLagToBPM(t *testing.T) {
	assert.InDelta(t, 120.0, lagToBPM(float64(testRate)*60/(hopLength*120), testRate), 1e-9)
	assert.True(t, math.IsInf(lagToBPM(0, testRate), 1))
}

func TestEstimateTempoPrefersPeak(t *testing.T) {
	summary := make([]float64, model.TempogramBins)
	lag := 22 // ~117 BPM at 22050/512
	summary[lag] = 0.6
	summary[lag-1] = 0.3
	summary[lag+1] = 0.3
	summary[2*lag] = 0.4

	bpm := estimateTempo(summary, testRate)
	assert.InDelta(t, lagToBPM(float64(lag), testRate), bpm, 0.5)
	assert.Equal(t, 0.0, estimateTempo(make([]float64, model.TempogramBins), testRate))
}

func TestTrimBeatsDropsWeakEdges(t *testing.T) {
	local := make([]float64, 100)
	beats := []int{0, 10, 20, 30, 40, 50, 60, 70, 80, 90}
	for _, b := range beats[2:8] {
		local[b] = 1
	}
	trimmed := trimBeats(local, beats)
	require.NotEmpty(t, trimmed)
	assert.LessOrEqual(t, len(trimmed), len(beats))
	assert.NotEqual(t, 0, trimmed[0])
	assert.NotEqual(t, 90, trimmed[len(trimmed)-1])
}

func TestAnalyzeClickTrack(t *testing.T) {
	samples := clickTrack(120, 10)
	r := AnalyzeSamples(samples, testRate)

	assert.InDelta(t, 120, r.TempoBPM, 8)
	assert.Equal(t, len(r.BeatTimesSec), r.NumBeats)
	require.Greater(t, r.NumBeats, 8)
	assert.Len(t, r.TempogramSummary, model.TempogramBins)
	assert.InDelta(t, 1.0, r.TempogramSummary[0], 1e-6)

	duration := float64(len(samples)) / testRate
	assert.True(t, sort.Float64sAreSorted(r.BeatTimesSec))
	for _, b := range r.BeatTimesSec {
		assert.GreaterOrEqual(t, b, 0.0)
		assert.LessOrEqual(t, b, duration)
	}

	ibis := make([]float64, 0, len(r.BeatTimesSec)-1)
	for i := 1; i < len(r.BeatTimesSec); i++ {
		ibis = append(ibis, r.BeatTimesSec[i]-r.BeatTimesSec[i-1])
	}
	sort.Float64s(ibis)
	assert.InDelta(t, 0.5, ibis[len(ibis)/2], 0.05)

	require.NotEmpty(t, r.OnsetTimesSec)
	assert.Equal(t, 0.0, r.OnsetTimesSec[0])
	assert.InDelta(t, float64(hopLength)/testRate, r.OnsetTimesSec[1], 1e-12)
	assert.InDelta(t, duration, r.OnsetTimesSec[len(r.OnsetTimesSec)-1], 0.05)
}

func TestAnalyzeIsDeterministic(t *testing.T) {
	samples := clickTrack(100, 6)
	assert.Equal(t, AnalyzeSamples(samples, testRate), AnalyzeSamples(samples, testRate))
}

func TestAnalyzeSilence(t *testing.T) {
	r := AnalyzeSamples(make([]float32, 3*testRate), testRate)
	assert.Equal(t, 0.0, r.TempoBPM)
	assert.Zero(t, r.NumBeats)
	assert.Empty(t, r.BeatTimesSec)
	assert.Equal(t, make([]float64, model.TempogramBins), r.TempogramSummary)
	assert.NotEmpty(t, r.OnsetTimesSec)
}

func TestAnalyzeNoiseBelowFloor(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	samples := make([]float32, 10*testRate)
	for i := range samples {
		samples[i] = float32(1e-7 * (2*rng.Float64() - 1))
	}

	r := AnalyzeSamples(samples, testRate)
	assert.Equal(t, 0.0, r.TempoBPM)
	assert.Zero(t, r.NumBeats)
	assert.Empty(t, r.BeatTimesSec)
	assert.Equal(t, make([]float64, model.TempogramBins), r.TempogramSummary)
	assert.NotEmpty(t, r.OnsetTimesSec)
}

func TestAnalyzeQuietClickTrackAboveFloor(t *testing.T) {
	samples := clickTrack(120, 8)
	for i := range samples {
		samples[i] *= 0.05
	}
	require.Greater(t, rms(samples), silenceFloor)

	r := AnalyzeSamples(samples, testRate)
	assert.Greater(t, r.TempoBPM, 0.0)
	assert.NotZero(t, r.NumBeats)
}

func TestAnalyzeEmpty(t *testing.T) {
	r := AnalyzeSamples(nil, testRate)
	assert.Equal(t, 0.0, r.TempoBPM)
	assert.Zero(t, r.NumBeats)
	assert.NotNil(t, r.BeatTimesSec)
	assert.Len(t, r.TempogramSummary, model.TempogramBins)
}

type fakeDecoder struct {
	pcm   *audio.PCM
	err   error
	calls int
}

func (f *fakeDecoder) DecodeMono(ctx context.Context, inputFile string) (*audio.PCM, error) {
	f.calls++
	return f.pcm, f.err
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "audio.mp3")
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

func TestAnalyzerZeroLengthFile(t *testing.T) {
	dec := &fakeDecoder{err: errors.New("must not be called")}
	r, err := NewAnalyzer(dec).Analyze(context.Background(), writeFile(t, ""))
	require.NoError(t, err)
	assert.Zero(t, r.NumBeats)
	assert.Zero(t, dec.calls)
}

func TestAnalyzerDecodeFailure(t *testing.T) {
	dec := &fakeDecoder{err: errors.New("Invalid data found when processing input")}
	_, err := NewAnalyzer(dec).Analyze(context.Background(), writeFile(t, "garbage"))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindAnalysis))
}

func TestAnalyzerMissingFile(t *testing.T) {
	_, err := NewAnalyzer(&fakeDecoder{}).Analyze(context.Background(), filepath.Join(t.TempDir(), "nope.mp3"))
	assert.True(t, apperr.Is(err, apperr.KindAnalysis))
}

func TestAnalyzerDecodedAudio(t *testing.T) {
	dec := &fakeDecoder{pcm: &audio.PCM{Samples: clickTrack(120, 8), SampleRate: testRate}}
	r, err := NewAnalyzer(dec).Analyze(context.Background(), writeFile(t, "mp3"))
	require.NoError(t, err)
	assert.InDelta(t, 120, r.TempoBPM, 8)
	assert.Equal(t, 1, dec.calls)
	assert.Contains(t, Summary(r), "beats=")
}
