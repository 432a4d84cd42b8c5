// Package pipeline drives a URL through resolve, cache check, fetch, analyze and persist.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"XSlicer/core/apperr"
	"XSlicer/logger"
	"XSlicer/metrics"
	"XSlicer/model"

	"golang.org/x/sync/singleflight"
)

const (
	// DefaultTimeout bounds a single fetch+analyze run.
	DefaultTimeout = 15 * time.Minute
	// DefaultSinkTimeout bounds the post-publish notifications of one record.
	DefaultSinkTimeout = 10 * time.Minute
)

// Options configures optional collaborators of the Orchestrator.
type Options struct {
	Timeout     time.Duration
	SinkTimeout time.Duration
	Locker      Locker
	Sinks       []Sink
	// Durations fills in the duration when the resolver reported none.
	Durations DurationReader
	Now    func() time.Time
}

// Orchestrator runs the song pipeline. Work for one id runs at most once at a
// time in this process; concurrent callers share its outcome.
type Orchestrator struct {
	resolver Resolver
	fetcher  Fetcher
	analyzer Analyzer
	store    Store

	locker      Locker
	sinks       []Sink
	durations   DurationReader
	timeout     time.Duration
	sinkTimeout time.Duration
	now         func() time.Time

	group   singleflight.Group
	sinksWG sync.WaitGroup

	mu       sync.Mutex
	watchers map[string]map[int]Observer
	nextID   int
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(resolver Resolver, fetcher Fetcher, analyzer Analyzer, store Store, opts Options) *Orchestrator {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.SinkTimeout <= 0 {
		opts.SinkTimeout = DefaultSinkTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{
		resolver: resolver,
		fetcher:  fetcher,
		analyzer: analyzer,
		store:    store,
		locker:      opts.Locker,
		sinks:       opts.Sinks,
		durations:   opts.Durations,
		timeout:     opts.Timeout,
		sinkTimeout: opts.SinkTimeout,
		now:         opts.Now,
		watchers:    make(map[string]map[int]Observer),
	}
}

// outcome is what a shared run hands to every waiting caller.
type outcome struct {
	record *model.ContentRecord
	fresh  bool
}

// Process resolves link, returns the cached record when present and otherwise
// fetches, analyzes and persists it. The error is non-nil iff Status is failed.
func (o *Orchestrator) Process(ctx context.Context, link string, observers ...Observer) (*Result, error) {
	notify := func(ev Event) {
		for _, obs := range observers {
			obs(ev)
		}
	}

	stageStart := time.Now()
	notify(o.event("", link, StageResolving, nil))
	rec, err := o.resolver.Resolve(ctx, link)
	if err != nil {
		return o.fail(notify, "", link, apperr.WithStage(err, string(StageResolving), apperr.KindResolution))
	}
	metrics.ObserveStage(string(StageResolving), time.Since(stageStart))
	id := rec.ID

	notify(o.event(id, link, StageCacheCheck, nil))
	existing, err := o.store.Lookup(id)
	switch {
	case err == nil:
		metrics.RecordLookup("hit")
		notify(o.event(id, link, StageCacheHit, nil))
		return o.done(notify, link, StatusCached, existing)
	case !apperr.Is(err, apperr.KindNotFound):
		metrics.RecordLookup("error")
		return o.fail(notify, id, link, apperr.WithStage(err, string(StageCacheCheck), apperr.KindCache))
	}
	metrics.RecordLookup("miss")
	notify(o.event(id, link, StageCacheMiss, nil))

	unwatch := o.watch(id, notify)
	defer unwatch()

	leader := false
	ch := o.group.DoChan(id, func() (interface{}, error) {
		leader = true
		return o.run(ctx, rec)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			e, ok := apperr.As(res.Err)
			if !ok {
				e = apperr.WithStage(res.Err, string(StageFetching), apperr.KindFetch)
			}
			return o.fail(notify, id, link, e)
		}
		out := res.Val.(*outcome)
		status := StatusCached
		if leader && out.fresh {
			status = StatusProcessed
		}
		if !leader {
			metrics.SharedWaits.Inc()
		}
		return o.done(notify, link, status, out.record)
	case <-ctx.Done():
		logger.Warn("request abandoned, shared run continues",
			logger.SongID(id), logger.ErrorField(ctx.Err()))
		return o.fail(notify, id, link, apperr.WithStage(ctx.Err(), string(StageFetching), apperr.KindFetch))
	}
}

// run is the single-flight body: recheck, fetch, analyze, persist.
func (o *Orchestrator) run(parent context.Context, rec *model.ContentRecord) (*outcome, error) {
	// 请求方放弃后仍继续执行，结果写入缓存供后续请求使用
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), o.timeout)
	defer cancel()

	metrics.InFlight.Inc()
	defer metrics.InFlight.Dec()

	id := rec.ID
	if o.locker != nil {
		release, err := o.locker.Acquire(ctx, id)
		if err != nil {
			logger.Warn("distributed lock unavailable, relying on atomic publish",
				logger.SongID(id), logger.ErrorField(err))
		} else {
			defer release()
		}
	}

	// 另一个进程可能已经发布
	if existing, err := o.store.Lookup(id); err == nil {
		return &outcome{record: existing}, nil
	} else if !apperr.Is(err, apperr.KindNotFound) {
		return nil, apperr.WithStage(err, string(StageCacheCheck), apperr.KindCache)
	}

	o.broadcast(id, rec.SourceLink, StageFetching)
	start := time.Now()
	audioPath, staged := o.store.StagedAudio(id)
	if staged {
		logger.Info("reusing staged audio from a previous attempt", logger.SongID(id))
	} else {
		var err error
		audioPath, err = o.fetcher.Fetch(ctx, rec.SourceLink, id)
		if err != nil {
			return nil, apperr.WithStage(err, string(StageFetching), apperr.KindFetch)
		}
	}
	metrics.ObserveStage(string(StageFetching), time.Since(start))

	o.broadcast(id, rec.SourceLink, StageAnalyzing)
	start = time.Now()
	analysis, err := o.analyzer.Analyze(ctx, audioPath)
	if err != nil {
		// 保留已下载的音频，重试时跳过下载
		logger.Warn("analysis failed, staged audio retained",
			logger.SongID(id), logger.String("audio", audioPath), logger.ErrorField(err))
		return nil, apperr.WithStage(err, string(StageAnalyzing), apperr.KindAnalysis)
	}
	metrics.ObserveStage(string(StageAnalyzing), time.Since(start))

	o.broadcast(id, rec.SourceLink, StagePersisting)
	start = time.Now()
	full := rec.Clone()
	full.Rhythm = analysis
	analyzedAt := o.now().UTC()
	full.AnalyzedAt = &analyzedAt
	o.fillDuration(ctx, full, audioPath)

	visible, fresh, err := o.store.Publish(full, audioPath)
	if err != nil {
		return nil, apperr.WithStage(err, string(StagePersisting), apperr.KindCache)
	}
	if err := o.store.DiscardStaging(id); err != nil {
		logger.Warn("failed to discard staging", logger.SongID(id), logger.ErrorField(err))
	}
	metrics.ObserveStage(string(StagePersisting), time.Since(start))

	if fresh {
		o.notifySinks(visible)
	} else {
		logger.Info("record was published by another writer", logger.SongID(id))
	}
	return &outcome{record: visible, fresh: fresh}, nil
}

// fillDuration reads the duration from the staged audio when the resolver reported no duration.
func (o *Orchestrator) fillDuration(ctx context.Context, rec *model.ContentRecord, audioPath string) {
	if rec.DurationSeconds != nil || o.durations == nil {
		return
	}
	d, err := o.durations.GetAudioDuration(ctx, audioPath)
	if err != nil {
		logger.Warn("failed to read audio duration", logger.SongID(rec.ID), logger.ErrorField(err))
		return
	}
	rec.DurationSeconds = model.Float64Ptr(d)
}

// notifySinks runs the post-publish sinks off the request path.
func (o *Orchestrator) notifySinks(rec *model.ContentRecord) {
	if len(o.sinks) == 0 {
		return
	}
	rec = rec.Clone()
	o.sinksWG.Add(1)
	go func() {
		defer o.sinksWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), o.sinkTimeout)
		defer cancel()
		for _, sink := range o.sinks {
			if err := sink.Published(ctx, rec); err != nil {
				logger.Warn("post-publish sink failed", logger.SongID(rec.ID), logger.ErrorField(err))
			}
		}
	}()
}

// Wait blocks until pending post-publish sinks have finished.
func (o *Orchestrator) Wait() {
	o.sinksWG.Wait()
}

// Probe resolves metadata only. It never touches the store.
func (o *Orchestrator) Probe(ctx context.Context, link string) (*model.ContentRecord, error) {
	rec, err := o.resolver.Resolve(ctx, link)
	if err != nil {
		return nil, apperr.WithStage(err, string(StageResolving), apperr.KindResolution)
	}
	out := rec.Clone()
	out.Rhythm = nil
	out.AudioPath = ""
	out.AnalyzedAt = nil
	return out, nil
}

// Get returns the published record for id.
func (o *Orchestrator) Get(id string) (*model.ContentRecord, error) {
	rec, err := o.store.Lookup(id)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return nil, err
		}
		return nil, apperr.WithStage(err, string(StageCacheCheck), apperr.KindCache)
	}
	return rec, nil
}

// AudioPath returns the audio file of a published record, or NotFound.
func (o *Orchestrator) AudioPath(id string) (string, error) {
	rec, err := o.Get(id)
	if err != nil {
		return "", err
	}
	return rec.AudioPath, nil
}

func (o *Orchestrator) event(id, link string, stage Stage, err *apperr.Error) Event {
	return Event{ID: id, URL: link, Stage: stage, Err: err, At: o.now()}
}

func (o *Orchestrator) done(notify Observer, link string, status Status, rec *model.ContentRecord) (*Result, error) {
	notify(o.event(rec.ID, link, StageDone, nil))
	metrics.RecordResult(string(status), "")
	logger.Info("song request finished",
		logger.SongID(rec.ID),
		logger.String("status", string(status)),
		logger.String("url", link))
	return &Result{Status: status, Record: rec.Clone()}, nil
}

func (o *Orchestrator) fail(notify Observer, id, link string, err *apperr.Error) (*Result, error) {
	if err == nil {
		err = apperr.New(apperr.KindCache, errors.New("unknown pipeline failure"))
	}
	notify(o.event(id, link, StageFailed, err))
	metrics.RecordResult(string(StatusFailed), string(err.Kind))
	logger.Warn("song request failed",
		logger.SongID(id),
		logger.String("url", link),
		logger.String("kind", string(err.Kind)),
		logger.String("stage", err.Stage),
		logger.ErrorField(err.Err))
	return FailedResult(err), err
}

// watch registers notify for stage events of the shared run for id.
func (o *Orchestrator) watch(id string, notify Observer) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	key := o.nextID
	o.nextID++
	if o.watchers[id] == nil {
		o.watchers[id] = make(map[int]Observer)
	}
	o.watchers[id][key] = notify
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.watchers[id], key)
		if len(o.watchers[id]) == 0 {
			delete(o.watchers, id)
		}
	}
}

func (o *Orchestrator) broadcast(id, link string, stage Stage) {
	logger.Debug("pipeline stage", logger.SongID(id), logger.String("stage", string(stage)))
	o.mu.Lock()
	targets := make([]Observer, 0, len(o.watchers[id]))
	for _, w := range o.watchers[id] {
		targets = append(targets, w)
	}
	o.mu.Unlock()

	ev := o.event(id, link, stage, nil)
	for _, w := range targets {
		w(ev)
	}
}
