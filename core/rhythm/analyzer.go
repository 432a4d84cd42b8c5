// Package rhythm extracts tempo, beats, onset strength and a tempogram summary from audio.
package rhythm

import (
	"context"
	"fmt"
	"math"
	"os"
	"time"

	"XSlicer/core/apperr"
	"XSlicer/core/audio"
	"XSlicer/logger"
	"XSlicer/model"
)

// Decoder turns an audio file into mono PCM.
type Decoder interface {
	DecodeMono(ctx context.Context, inputFile string) (*audio.PCM, error)
}

// Analyzer runs the rhythm feature extraction on decoded audio files.
type Analyzer struct {
	decoder Decoder
}

// NewAnalyzer creates an Analyzer using decoder for PCM decoding.
func NewAnalyzer(decoder Decoder) *Analyzer {
	return &Analyzer{decoder: decoder}
}

// Analyze decodes audioPath and computes its rhythm features.
// An empty file yields an empty analysis rather than an error.
func (a *Analyzer) Analyze(ctx context.Context, audioPath string) (*model.RhythmAnalysis, error) {
	info, err := os.Stat(audioPath)
	if err != nil {
		return nil, apperr.Errorf(apperr.KindAnalysis, "stat %s: %w", audioPath, err)
	}
	if info.Size() == 0 {
		logger.Warn("empty audio file, returning empty analysis", logger.String("file", audioPath))
		return AnalyzeSamples(nil, 0), nil
	}

	start := time.Now()
	pcm, err := a.decoder.DecodeMono(ctx, audioPath)
	if err != nil {
		return nil, apperr.Errorf(apperr.KindAnalysis, "decode %s: %w", audioPath, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, apperr.New(apperr.KindAnalysis, err)
	}

	result := AnalyzeSamples(pcm.Samples, pcm.SampleRate)
	logger.Info("rhythm analysis finished",
		logger.String("file", audioPath),
		logger.Float64("tempo", result.TempoBPM),
		logger.Int("beats", result.NumBeats),
		logger.Float64("audioSeconds", pcm.Duration()),
		logger.Duration("elapsed", time.Since(start)))
	return result, nil
}

// silenceFloor is the RMS level (about -80 dBFS) below which input counts as silence.
const silenceFloor = 1e-4

func rms(samples []float32) float64 {
	var sum float64
	for _, v := range samples {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// AnalyzeSamples computes rhythm features of mono samples at sampleRate.
// It is deterministic and never fails: silent, near-silent or empty input gives tempo 0 and no beats.
func AnalyzeSamples(samples []float32, sampleRate int) *model.RhythmAnalysis {
	result := &model.RhythmAnalysis{
		BeatTimesSec:     []float64{},
		OnsetTimesSec:    []float64{},
		TempogramSummary: make([]float64, model.TempogramBins),
	}
	if len(samples) == 0 || sampleRate <= 0 {
		return result
	}

	env := onsetStrength(samples)
	result.OnsetTimesSec = frameTimes(len(env), sampleRate)
	if rms(samples) < silenceFloor {
		return result
	}
	result.TempogramSummary = tempogramSummary(env)

	bpm := estimateTempo(result.TempogramSummary, sampleRate)
	if bpm <= 0 {
		return result
	}
	result.TempoBPM = bpm

	duration := float64(len(samples)) / float64(sampleRate)
	frames := trackBeats(env, bpm, sampleRate)
	beats := make([]float64, 0, len(frames))
	for _, f := range frames {
		t := float64(f*hopLength) / float64(sampleRate)
		beats = append(beats, math.Min(math.Max(t, 0), duration))
	}
	result.BeatTimesSec = beats
	result.NumBeats = len(beats)
	return result
}

// Summary renders a one-line description of an analysis.
func Summary(r *model.RhythmAnalysis) string {
	if r == nil {
		return "not analyzed"
	}
	return fmt.Sprintf("tempo=%.1f BPM beats=%d onsets=%d", r.TempoBPM, r.NumBeats, len(r.OnsetTimesSec))
}
