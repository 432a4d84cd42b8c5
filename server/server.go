package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"XSlicer/config"
	"XSlicer/logger"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var upgrader = &websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源，生产环境应该限制
	},
}

// NewRouter registers the HTTP routes. stats may be nil when the database is disabled.
func NewRouter(songs *SongHandler, stats *GameStatHandler) *mux.Router {
	router := mux.NewRouter()
	router.Use(corsMiddleware)
	router.Use(requestIDMiddleware)
	router.Use(accessLogMiddleware)

	router.HandleFunc("/", songs.RootHandler).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// 歌曲处理
	router.HandleFunc("/process_link", songs.ProcessLinkHandler).Methods(http.MethodPost, http.MethodOptions)
	router.HandleFunc("/api/songs/process", songs.ProcessHandler).Methods(http.MethodPost, http.MethodOptions)
	router.HandleFunc("/api/songs/probe", songs.ProbeHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/songs", songs.ListSongsHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/songs/{id}", songs.GetSongHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/songs/{id}/audio", songs.GetAudioHandler).Methods(http.MethodGet, http.MethodHead)
	router.HandleFunc("/ws/process", songs.ProcessWebSocketHandler(upgrader)).Methods(http.MethodGet)

	// 游戏统计
	if stats != nil {
		router.HandleFunc("/api/game-stats", stats.CreateHandler).Methods(http.MethodPost, http.MethodOptions)
		router.HandleFunc("/api/game-stats", stats.ListHandler).Methods(http.MethodGet)
		router.HandleFunc("/api/game-stats/{id}", stats.GetHandler).Methods(http.MethodGet)
		router.HandleFunc("/api/game-stats/{id}", stats.DeleteHandler).Methods(http.MethodDelete, http.MethodOptions)
	}

	return router
}

// Start wires the application and serves HTTP until SIGINT/SIGTERM.
func Start(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := NewApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	go app.WatchCatalog(ctx)

	songs := NewSongHandler(app.Orchestrator, app.Catalog, app.Store, cfg.ProbeTimeout)
	var stats *GameStatHandler
	if app.Stats != nil {
		stats = NewGameStatHandler(app.Stats)
	}

	// 写超时要覆盖一次完整的下载和分析
	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      NewRouter(songs, stats),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.PipelineTimeout + time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			logger.String("addr", cfg.HTTPAddr),
			logger.String("songsDir", cfg.SongsDir),
			logger.Bool("redis", cfg.RedisEnabled),
			logger.Bool("db", cfg.DBEnabled),
			logger.Bool("minio", cfg.MinioEnabled))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-stop:
	case err := <-errCh:
		return err
	}
	logger.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	err = server.Shutdown(shutdownCtx)
	// 等待后台 sink 写完
	app.Orchestrator.Wait()
	if err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}
