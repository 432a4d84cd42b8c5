package model

import "time"

// SongEntry 是 songs 表中的目录条目，只用于列表展示，磁盘上的 metadata.json 才是权威数据
type SongEntry struct {
	ID              string     `json:"id" gorm:"primaryKey;size:128"`
	Title           string     `json:"title" gorm:"size:512"`
	Artist          string     `json:"artist" gorm:"size:255;index"`
	DurationSeconds float64    `json:"duration"`
	TempoBPM        float64    `json:"tempoBpm"`
	NumBeats        int        `json:"numBeats"`
	SourceLink      string     `json:"sourceLink" gorm:"size:2048"`
	AnalyzedAt      *time.Time `json:"analyzedAt"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// TableName 指定表名
func (SongEntry) TableName() string {
	return "songs"
}

// NewSongEntry flattens a published record into a catalog row.
func NewSongEntry(r *ContentRecord) *SongEntry {
	e := &SongEntry{
		ID:         r.ID,
		SourceLink: r.SourceLink,
		AnalyzedAt: r.AnalyzedAt,
	}
	if r.Title != nil {
		e.Title = *r.Title
	}
	if r.Artist != nil {
		e.Artist = *r.Artist
	}
	if r.DurationSeconds != nil {
		e.DurationSeconds = *r.DurationSeconds
	}
	if r.Rhythm != nil {
		e.TempoBPM = r.Rhythm.TempoBPM
		e.NumBeats = r.Rhythm.NumBeats
	}
	return e
}
