package pipeline

import (
	"context"
	"time"

	"XSlicer/core/apperr"
	"XSlicer/model"
)

// Stage 处理阶段
type Stage string

const (
	StageResolving  Stage = "RESOLVING"
	StageCacheCheck Stage = "CACHE_CHECK"
	StageCacheHit   Stage = "CACHE_HIT"
	StageCacheMiss  Stage = "CACHE_MISS"
	StageFetching   Stage = "FETCHING"
	StageAnalyzing  Stage = "ANALYZING"
	StagePersisting Stage = "PERSISTING"
	StageDone       Stage = "DONE"
	StageFailed     Stage = "FAILED"
)

// Status is the outcome reported to callers.
type Status string

const (
	StatusCached    Status = "cached"
	StatusProcessed Status = "processed"
	StatusFailed    Status = "failed"
)

// Resolver maps a URL to a metadata-only record.
type Resolver interface {
	Resolve(ctx context.Context, link string) (*model.ContentRecord, error)
}

// Fetcher downloads the audio of link and returns the local file path.
type Fetcher interface {
	Fetch(ctx context.Context, link, id string) (string, error)
}

// Analyzer computes rhythm features of a local audio file.
type Analyzer interface {
	Analyze(ctx context.Context, audioPath string) (*model.RhythmAnalysis, error)
}

// Store is the id-keyed cache of published records.
type Store interface {
	Lookup(id string) (*model.ContentRecord, error)
	// Publish makes rec visible; published is false when another writer got there first.
	Publish(rec *model.ContentRecord, audioSrc string) (out *model.ContentRecord, published bool, err error)
	StagedAudio(id string) (string, bool)
	DiscardStaging(id string) error
}

// DurationReader reads the container duration of a local audio file.
type DurationReader interface {
	GetAudioDuration(ctx context.Context, inputFile string) (float64, error)
}

// Locker serialises work on one id across processes.
type Locker interface {
	Acquire(ctx context.Context, id string) (release func(), err error)
}

// Sink is notified after a record is published. Failures never fail the request.
type Sink interface {
	Published(ctx context.Context, rec *model.ContentRecord) error
}

// Event describes a stage transition.
type Event struct {
	ID    string
	URL   string
	Stage Stage
	Err   *apperr.Error
	At    time.Time
}

// Observer receives stage transitions of a request.
type Observer func(Event)

// Result is the discriminated outcome of Process.
type Result struct {
	Status Status
	Record *model.ContentRecord
	Err    *apperr.Error
}

// FailedResult wraps err as a failed result.
func FailedResult(err *apperr.Error) *Result {
	return &Result{Status: StatusFailed, Err: err}
}
