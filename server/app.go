package server

import (
	"context"
	"fmt"

	"XSlicer/cache"
	"XSlicer/config"
	"XSlicer/core/audio"
	"XSlicer/core/media"
	"XSlicer/core/pipeline"
	"XSlicer/core/rhythm"
	"XSlicer/db"
	"XSlicer/logger"
	"XSlicer/repository"
	"XSlicer/storage"
)

// App holds the wired components of a running service.
type App struct {
	Config       *config.Config
	Store        *storage.SongStore
	Orchestrator *pipeline.Orchestrator
	Catalog      repository.SongRepository     // nil when DB_ENABLED=false
	Stats        repository.GameStatRepository // nil when DB_ENABLED=false
	Mirror       *storage.Mirror               // nil when MINIO_ENABLED=false
}

// NewApp connects the optional backends and builds the pipeline.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	store, err := storage.NewSongStore(cfg.SongsDir)
	if err != nil {
		return nil, err
	}
	if n, err := store.Sweep(); err != nil {
		logger.Warn("failed to sweep temp dirs", logger.ErrorField(err))
	} else if n > 0 {
		logger.Info("removed leftover temp dirs", logger.Int("count", n))
	}

	app := &App{Config: cfg, Store: store}

	processor := audio.NewFFmpegProcessor(cfg.FFmpegPath, cfg.FFprobePath)
	var resolver pipeline.Resolver = media.NewYtDlpResolver(cfg.YtDlpPath)
	fetcher := media.NewYtDlpFetcher(cfg.YtDlpPath, cfg.FFmpegPath, cfg.AudioBitrate, store.StagingRoot())
	analyzer := rhythm.NewAnalyzer(processor)

	opts := pipeline.Options{Timeout: cfg.PipelineTimeout, Durations: processor}

	if cfg.RedisEnabled {
		if err := cache.ConnectRedis(cfg); err != nil {
			app.Close()
			return nil, err
		}
		logger.Info("connected to Redis", logger.String("addr", cfg.RedisAddr()))
		resolver = cache.NewResolveCache(resolver, cache.RedisClient, cfg.ResolveCacheTTL)
		opts.Locker = cache.NewLocker(cache.RedisClient, cfg.LockTTL)
	}

	if cfg.DBEnabled {
		if err := db.ConnectGormDB(cfg); err != nil {
			app.Close()
			return nil, err
		}
		if err := db.AutoMigrateModels(); err != nil {
			app.Close()
			return nil, err
		}
		app.Catalog = repository.NewGormSongRepository(db.GormDB)
		app.Stats = repository.NewGormGameStatRepository(db.GormDB)
		opts.Sinks = append(opts.Sinks, repository.NewCatalogSink(app.Catalog))
	}

	if cfg.MinioEnabled {
		mirror, err := storage.NewMirror(ctx, cfg)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("failed to initialise MinIO mirror: %w", err)
		}
		app.Mirror = mirror
		opts.Sinks = append(opts.Sinks, mirror)
	}

	app.Orchestrator = pipeline.NewOrchestrator(resolver, fetcher, analyzer, store, opts)
	return app, nil
}

// WatchCatalog drops catalog rows whose song directory disappears from the
// store. It blocks until ctx is done and is a no-op without a catalog.
func (a *App) WatchCatalog(ctx context.Context) {
	if a.Catalog == nil {
		return
	}
	err := a.Store.Watch(ctx, func(id string) {
		if err := a.Catalog.Delete(context.Background(), id); err != nil {
			logger.Warn("failed to evict catalog entry", logger.SongID(id), logger.ErrorField(err))
		}
	})
	if err != nil {
		logger.Warn("song store watcher stopped", logger.ErrorField(err))
	}
}

// Close releases backend connections.
func (a *App) Close() {
	if err := db.CloseGormDB(); err != nil {
		logger.Warn("error closing database", logger.ErrorField(err))
	}
	if err := cache.CloseRedis(); err != nil {
		logger.Warn("error closing Redis", logger.ErrorField(err))
	}
}
