package model

import "time"

// TempogramBins is the fixed length of RhythmAnalysis.TempogramSummary.
const TempogramBins = 384

// RhythmAnalysis is the result of beat tracking and tempo estimation for one song.
type RhythmAnalysis struct {
	TempoBPM         float64   `json:"tempo_bpm"`
	NumBeats         int       `json:"num_beats"`
	BeatTimesSec     []float64 `json:"beat_times_sec"`
	OnsetTimesSec    []float64 `json:"onset_times_sec"`
	TempogramSummary []float64 `json:"tempogram_summary"`
}

// ContentRecord is the cache unit: one per content identifier.
// Its JSON form is the metadata.json document stored next to the audio file.
type ContentRecord struct {
	ID              string          `json:"id"`
	Title           *string         `json:"title"`
	Artist          *string         `json:"artist"`
	DurationSeconds *float64        `json:"duration"`
	UploadDate      *string         `json:"upload_date"`
	ThumbnailURL    *string         `json:"thumbnail"`
	SourceLink      string          `json:"source_link"`
	AudioPath       string          `json:"file_path"`
	Rhythm          *RhythmAnalysis `json:"rhythm_analysis"`
	AnalyzedAt      *time.Time      `json:"analyzed_at"`
}

// Analyzed reports whether the record completed the analysis stage.
func (r *ContentRecord) Analyzed() bool {
	return r != nil && r.Rhythm != nil
}

// Clone returns a deep copy, so callers can never mutate a published record.
func (r *ContentRecord) Clone() *ContentRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Title = cloneString(r.Title)
	c.Artist = cloneString(r.Artist)
	c.UploadDate = cloneString(r.UploadDate)
	c.ThumbnailURL = cloneString(r.ThumbnailURL)
	if r.DurationSeconds != nil {
		d := *r.DurationSeconds
		c.DurationSeconds = &d
	}
	if r.AnalyzedAt != nil {
		at := *r.AnalyzedAt
		c.AnalyzedAt = &at
	}
	if r.Rhythm != nil {
		rh := *r.Rhythm
		rh.BeatTimesSec = append([]float64(nil), r.Rhythm.BeatTimesSec...)
		rh.OnsetTimesSec = append([]float64(nil), r.Rhythm.OnsetTimesSec...)
		rh.TempogramSummary = append([]float64(nil), r.Rhythm.TempogramSummary...)
		c.Rhythm = &rh
	}
	return &c
}

// StringPtr returns nil for the empty string.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Float64Ptr returns nil for non-positive values.
func Float64Ptr(f float64) *float64 {
	if f <= 0 {
		return nil
	}
	return &f
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
