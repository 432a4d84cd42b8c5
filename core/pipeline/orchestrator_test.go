package pipeline

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"XSlicer/core/apperr"
	"XSlicer/model"
	"XSlicer/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	calls      atomic.Int32
	err        error
	noDuration bool
}

// Resolve derives the id from ?v= or the last path element, like a video site would.
func (f *fakeResolver) Resolve(ctx context.Context, link string) (*model.ContentRecord, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, apperr.New(apperr.KindResolution, f.err)
	}
	u, err := url.Parse(link)
	if err != nil || u.Host == "" {
		return nil, apperr.Errorf(apperr.KindResolution, "bad url %q", link)
	}
	id := u.Query().Get("v")
	if id == "" {
		id = path.Base(u.Path)
	}
	return &model.ContentRecord{
		ID:              id,
		Title:           model.StringPtr("Song " + id),
		Artist:          model.StringPtr("Artist"),
		DurationSeconds: durationOf(f.noDuration),
		SourceLink:      link,
	}, nil
}

func durationOf(missing bool) *float64 {
	if missing {
		return nil
	}
	return model.Float64Ptr(200)
}

type fakeFetcher struct {
	root  string
	calls atomic.Int32
	gate  chan struct{}
	err   error
}

func (f *fakeFetcher) Fetch(ctx context.Context, link, id string) (string, error) {
	f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return "", apperr.New(apperr.KindFetch, f.err)
	}
	dir := filepath.Join(f.root, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	p := filepath.Join(dir, storage.AudioFileName)
	return p, os.WriteFile(p, []byte("audio of "+id), 0644)
}

type fakeAnalyzer struct {
	calls atomic.Int32
	mu    sync.Mutex
	err   error
}

func (f *fakeAnalyzer) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, audioPath string) (*model.RhythmAnalysis, error) {
	f.calls.Add(1)
	f.mu.Lock()
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return nil, apperr.New(apperr.KindAnalysis, err)
	}
	if _, err := os.Stat(audioPath); err != nil {
		return nil, apperr.New(apperr.KindAnalysis, err)
	}
	summary := make([]float64, model.TempogramBins)
	summary[0] = 1
	return &model.RhythmAnalysis{
		TempoBPM:         128.3,
		NumBeats:         3,
		BeatTimesSec:     []float64{0.47, 0.94, 1.41},
		OnsetTimesSec:    []float64{0, 0.0232},
		TempogramSummary: summary,
	}, nil
}

type harness struct {
	store    *storage.SongStore
	resolver *fakeResolver
	fetcher  *fakeFetcher
	analyzer *fakeAnalyzer
	orch     *Orchestrator
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	store, err := storage.NewSongStore(filepath.Join(t.TempDir(), "songs"))
	require.NoError(t, err)
	h := &harness{
		store:    store,
		resolver: &fakeResolver{},
		fetcher:  &fakeFetcher{root: store.StagingRoot()},
		analyzer: &fakeAnalyzer{},
	}
	if opts.Now == nil {
		fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		opts.Now = func() time.Time { return fixed }
	}
	h.orch = NewOrchestrator(h.resolver, h.fetcher, h.analyzer, store, opts)
	return h
}

func TestProcessFirstCallThenCached(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()
	link := "https://example.com/watch?v=abc123"

	first, err := h.orch.Process(ctx, link)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, first.Status)
	require.NotNil(t, first.Record.Rhythm)
	assert.Equal(t, 128.3, first.Record.Rhythm.TempoBPM)
	assert.DirExists(t, filepath.Join(h.store.Root(), "abc123"))
	assert.FileExists(t, filepath.Join(h.store.Root(), "abc123", "audio.mp3"))
	assert.FileExists(t, filepath.Join(h.store.Root(), "abc123", "metadata.json"))
	before, err := h.store.MetadataBytes("abc123")
	require.NoError(t, err)

	second, err := h.orch.Process(ctx, link)
	require.NoError(t, err)
	assert.Equal(t, StatusCached, second.Status)
	assert.Equal(t, first.Record.Rhythm, second.Record.Rhythm)
	assert.Equal(t, int32(1), h.fetcher.calls.Load())
	assert.Equal(t, int32(1), h.analyzer.calls.Load())

	after, err := h.store.MetadataBytes("abc123")
	require.NoError(t, err)
	assert.Equal(t, before, after)

	_, staged := h.store.StagedAudio("abc123")
	assert.False(t, staged)
}

func TestProcessDedupByContent(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	a, err := h.orch.Process(ctx, "https://www.example.com/watch?v=abc123")
	require.NoError(t, err)
	b, err := h.orch.Process(ctx, "https://example.com/short/abc123")
	require.NoError(t, err)

	assert.Equal(t, StatusProcessed, a.Status)
	assert.Equal(t, StatusCached, b.Status)
	assert.Equal(t, a.Record.ID, b.Record.ID)
	assert.Equal(t, int32(1), h.fetcher.calls.Load())
	assert.Equal(t, int32(1), h.analyzer.calls.Load())

	ids, err := h.store.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"abc123"}, ids)
}

func TestProcessConcurrentSameID(t *testing.T) {
	h := newHarness(t, Options{})
	h.fetcher.gate = make(chan struct{})

	const n = 10
	results := make([]*Result, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := h.orch.Process(context.Background(), "https://example.com/watch?v=abc123")
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	time.Sleep(100 * time.Millisecond)
	close(h.fetcher.gate)
	wg.Wait()

	assert.Equal(t, int32(1), h.fetcher.calls.Load())
	assert.Equal(t, int32(1), h.analyzer.calls.Load())

	processed := 0
	for _, res := range results {
		require.NotNil(t, res)
		assert.Equal(t, results[0].Record, res.Record)
		if res.Status == StatusProcessed {
			processed++
		}
	}
	assert.Equal(t, 1, processed)
}

func TestProcessDifferentIDsRunInParallel(t *testing.T) {
	h := newHarness(t, Options{})
	var wg sync.WaitGroup
	for _, id := range []string{"a1", "b2", "c3"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			res, err := h.orch.Process(context.Background(), "https://example.com/watch?v="+id)
			assert.NoError(t, err)
			assert.Equal(t, StatusProcessed, res.Status)
		}(id)
	}
	wg.Wait()
	assert.Equal(t, int32(3), h.fetcher.calls.Load())
}

func TestProcessResolutionFailure(t *testing.T) {
	h := newHarness(t, Options{})
	h.resolver.err = errors.New("Video unavailable")

	res, err := h.orch.Process(context.Background(), "https://example.com/watch?v=gone")
	require.Error(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, apperr.KindResolution, res.Err.Kind)
	assert.Equal(t, string(StageResolving), res.Err.Stage)
	assert.Zero(t, h.fetcher.calls.Load())
}

func TestProcessFetchFailure(t *testing.T) {
	h := newHarness(t, Options{})
	h.fetcher.err = errors.New("network unreachable")

	res, err := h.orch.Process(context.Background(), "https://example.com/watch?v=abc123")
	require.Error(t, err)
	assert.Equal(t, apperr.KindFetch, res.Err.Kind)
	assert.Equal(t, string(StageFetching), res.Err.Stage)
	assert.Zero(t, h.analyzer.calls.Load())

	_, lookupErr := h.store.Lookup("abc123")
	assert.True(t, apperr.Is(lookupErr, apperr.KindNotFound))
}

func TestProcessAnalysisFailureRetainsAudio(t *testing.T) {
	h := newHarness(t, Options{})
	h.analyzer.setErr(errors.New("Invalid data found when processing input"))
	link := "https://example.com/watch?v=abc123"

	res, err := h.orch.Process(context.Background(), link)
	require.Error(t, err)
	assert.Equal(t, apperr.KindAnalysis, res.Err.Kind)
	assert.Equal(t, string(StageAnalyzing), res.Err.Stage)

	// partial state is never a cache hit
	_, lookupErr := h.store.Lookup("abc123")
	assert.True(t, apperr.Is(lookupErr, apperr.KindNotFound))
	_, staged := h.store.StagedAudio("abc123")
	assert.True(t, staged)

	h.analyzer.setErr(nil)
	res, err = h.orch.Process(context.Background(), link)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, res.Status)
	assert.Equal(t, int32(1), h.fetcher.calls.Load())
	assert.Equal(t, int32(2), h.analyzer.calls.Load())
}

func TestProbeHasNoSideEffects(t *testing.T) {
	h := newHarness(t, Options{})
	snapshot := func() []string {
		var paths []string
		require.NoError(t, filepath.Walk(h.store.Root(), func(p string, info os.FileInfo, err error) error {
			paths = append(paths, p)
			return err
		}))
		sort.Strings(paths)
		return paths
	}
	before := snapshot()

	rec, err := h.orch.Probe(context.Background(), "https://example.com/watch?v=abc123")
	require.NoError(t, err)
	assert.Equal(t, "abc123", rec.ID)
	assert.Nil(t, rec.Rhythm)
	assert.Empty(t, rec.AudioPath)

	assert.Equal(t, before, snapshot())
	assert.Zero(t, h.fetcher.calls.Load())
	assert.Zero(t, h.analyzer.calls.Load())
}

func TestGetAndAudioPath(t *testing.T) {
	h := newHarness(t, Options{})
	_, err := h.orch.Get("abc123")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	_, err = h.orch.AudioPath("abc123")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = h.orch.Process(context.Background(), "https://example.com/watch?v=abc123")
	require.NoError(t, err)

	p, err := h.orch.AudioPath("abc123")
	require.NoError(t, err)
	assert.Equal(t, h.store.AudioPath("abc123"), p)
}

func TestObserverSeesStages(t *testing.T) {
	h := newHarness(t, Options{})
	var stages []Stage
	obs := func(ev Event) { stages = append(stages, ev.Stage) }

	_, err := h.orch.Process(context.Background(), "https://example.com/watch?v=abc123", obs)
	require.NoError(t, err)
	assert.Equal(t, []Stage{
		StageResolving, StageCacheCheck, StageCacheMiss,
		StageFetching, StageAnalyzing, StagePersisting, StageDone,
	}, stages)

	stages = nil
	_, err = h.orch.Process(context.Background(), "https://example.com/watch?v=abc123", obs)
	require.NoError(t, err)
	assert.Equal(t, []Stage{StageResolving, StageCacheCheck, StageCacheHit, StageDone}, stages)
}

func TestAbandonedRequestStillPopulatesCache(t *testing.T) {
	h := newHarness(t, Options{})
	h.fetcher.gate = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan *Result, 1)
	go func() {
		res, _ := h.orch.Process(ctx, "https://example.com/watch?v=abc123")
		done <- res
	}()

	require.Eventually(t, func() bool { return h.fetcher.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	res := <-done
	assert.Equal(t, StatusFailed, res.Status)
	assert.ErrorIs(t, res.Err, context.Canceled)

	close(h.fetcher.gate)
	require.Eventually(t, func() bool {
		_, err := h.store.Lookup("abc123")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
}

type countingLocker struct {
	acquired atomic.Int32
	released atomic.Int32
	err      error
}

func (l *countingLocker) Acquire(ctx context.Context, id string) (func(), error) {
	if l.err != nil {
		return nil, l.err
	}
	l.acquired.Add(1)
	return func() { l.released.Add(1) }, nil
}

type recordingSink struct {
	mu   sync.Mutex
	ids  []string
	fail bool
	gate chan struct{}
}

func (s *recordingSink) Published(ctx context.Context, rec *model.ContentRecord) error {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, rec.ID)
	if s.fail {
		return errors.New("sink down")
	}
	return nil
}

func TestLockerAndSinks(t *testing.T) {
	locker := &countingLocker{}
	good := &recordingSink{}
	bad := &recordingSink{fail: true}
	h := newHarness(t, Options{Locker: locker, Sinks: []Sink{bad, good}})

	res, err := h.orch.Process(context.Background(), "https://example.com/watch?v=abc123")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, res.Status)
	assert.Equal(t, int32(1), locker.acquired.Load())
	assert.Equal(t, int32(1), locker.released.Load())
	h.orch.Wait()
	assert.Equal(t, []string{"abc123"}, good.ids)
	assert.Equal(t, []string{"abc123"}, bad.ids)
}

func TestLockerFailureFallsBackToAtomicPublish(t *testing.T) {
	h := newHarness(t, Options{Locker: &countingLocker{err: errors.New("redis down")}})
	res, err := h.orch.Process(context.Background(), "https://example.com/watch?v=abc123")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, res.Status)
}

func TestRecordPublishedByAnotherProcessIsCached(t *testing.T) {
	h := newHarness(t, Options{})
	rec, err := h.resolver.Resolve(context.Background(), "https://example.com/watch?v=abc123")
	require.NoError(t, err)
	rec.Rhythm = &model.RhythmAnalysis{TempoBPM: 90, TempogramSummary: make([]float64, model.TempogramBins)}

	src := filepath.Join(t.TempDir(), "a.mp3")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0644))
	_, err = h.store.Persist(rec, src)
	require.NoError(t, err)

	res, err := h.orch.Process(context.Background(), "https://example.com/watch?v=abc123")
	require.NoError(t, err)
	assert.Equal(t, StatusCached, res.Status)
	assert.Equal(t, 90.0, res.Record.Rhythm.TempoBPM)
	assert.Zero(t, h.fetcher.calls.Load())
}

func TestSinksDoNotDelayResponse(t *testing.T) {
	slow := &recordingSink{gate: make(chan struct{})}
	h := newHarness(t, Options{Sinks: []Sink{slow}})

	res, err := h.orch.Process(context.Background(), "https://example.com/watch?v=abc123")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, res.Status)

	close(slow.gate)
	h.orch.Wait()
	assert.Equal(t, []string{"abc123"}, slow.ids)
}

func TestProcessRecoversFromDeletedAudio(t *testing.T) {
	h := newHarness(t, Options{})
	link := "https://example.com/watch?v=abc123"

	_, err := h.orch.Process(context.Background(), link)
	require.NoError(t, err)
	require.NoError(t, os.Remove(h.store.AudioPath("abc123")))

	res, err := h.orch.Process(context.Background(), link)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, res.Status)
	assert.Equal(t, int32(2), h.fetcher.calls.Load())
	assert.Equal(t, int32(2), h.analyzer.calls.Load())
	assert.FileExists(t, h.store.AudioPath("abc123"))

	res, err = h.orch.Process(context.Background(), link)
	require.NoError(t, err)
	assert.Equal(t, StatusCached, res.Status)
	assert.Equal(t, int32(2), h.analyzer.calls.Load())
}

// racingStore publishes a competing record right before the orchestrator does.
type racingStore struct {
	*storage.SongStore
	competitor *model.ContentRecord
	src        string
}

func (r *racingStore) Publish(rec *model.ContentRecord, audioSrc string) (*model.ContentRecord, bool, error) {
	if _, err := r.SongStore.Persist(r.competitor, r.src); err != nil {
		return nil, false, err
	}
	return r.SongStore.Publish(rec, audioSrc)
}

func TestLostPublishRaceReportsCached(t *testing.T) {
	h := newHarness(t, Options{})
	competitor, err := h.resolver.Resolve(context.Background(), "https://example.com/watch?v=abc123")
	require.NoError(t, err)
	competitor.Rhythm = &model.RhythmAnalysis{TempoBPM: 77, TempogramSummary: make([]float64, model.TempogramBins)}
	src := filepath.Join(t.TempDir(), "other.mp3")
	require.NoError(t, os.WriteFile(src, []byte("other"), 0644))

	sink := &recordingSink{}
	store := &racingStore{SongStore: h.store, competitor: competitor, src: src}
	orch := NewOrchestrator(h.resolver, h.fetcher, h.analyzer, store, Options{Sinks: []Sink{sink}})

	res, err := orch.Process(context.Background(), "https://example.com/watch?v=abc123")
	require.NoError(t, err)
	assert.Equal(t, StatusCached, res.Status)
	assert.Equal(t, 77.0, res.Record.Rhythm.TempoBPM)

	orch.Wait()
	assert.Empty(t, sink.ids)
}

type fakeDurationReader struct {
	calls    atomic.Int32
	duration float64
	err      error
}

func (p *fakeDurationReader) GetAudioDuration(ctx context.Context, inputFile string) (float64, error) {
	p.calls.Add(1)
	return p.duration, p.err
}

func TestMissingDurationIsReadFromAudio(t *testing.T) {
	durations := &fakeDurationReader{duration: 42.5}
	h := newHarness(t, Options{Durations: durations})
	h.resolver.noDuration = true

	res, err := h.orch.Process(context.Background(), "https://example.com/watch?v=abc123")
	require.NoError(t, err)
	require.NotNil(t, res.Record.DurationSeconds)
	assert.Equal(t, 42.5, *res.Record.DurationSeconds)
	assert.Equal(t, int32(1), durations.calls.Load())

	got, err := h.store.Lookup("abc123")
	require.NoError(t, err)
	assert.Equal(t, 42.5, *got.DurationSeconds)
}

func TestResolvedDurationSkipsAudioRead(t *testing.T) {
	durations := &fakeDurationReader{duration: 42.5}
	h := newHarness(t, Options{Durations: durations})

	res, err := h.orch.Process(context.Background(), "https://example.com/watch?v=abc123")
	require.NoError(t, err)
	assert.Equal(t, 200.0, *res.Record.DurationSeconds)
	assert.Zero(t, durations.calls.Load())
}

func TestDurationReadFailureKeepsDurationEmpty(t *testing.T) {
	durations := &fakeDurationReader{err: errors.New("ffprobe exited 1")}
	h := newHarness(t, Options{Durations: durations})
	h.resolver.noDuration = true

	res, err := h.orch.Process(context.Background(), "https://example.com/watch?v=abc123")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessed, res.Status)
	assert.Nil(t, res.Record.DurationSeconds)
}
