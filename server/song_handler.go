package server

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"time"

	"XSlicer/core/apperr"
	"XSlicer/core/pipeline"
	"XSlicer/logger"
	"XSlicer/model"
	"XSlicer/repository"

	"github.com/gorilla/mux"
)

// SongService is the pipeline surface used by the HTTP layer.
type SongService interface {
	Process(ctx context.Context, link string, observers ...pipeline.Observer) (*pipeline.Result, error)
	Probe(ctx context.Context, link string) (*model.ContentRecord, error)
	Get(id string) (*model.ContentRecord, error)
	AudioPath(id string) (string, error)
}

// SongLister enumerates published song ids.
type SongLister interface {
	List() ([]string, error)
}

// SongHandler 歌曲处理 HTTP 处理器
type SongHandler struct {
	service      SongService
	catalog      repository.SongRepository // nil when the database is disabled
	lister       SongLister
	probeTimeout time.Duration
}

// NewSongHandler creates a SongHandler.
func NewSongHandler(service SongService, catalog repository.SongRepository, lister SongLister, probeTimeout time.Duration) *SongHandler {
	if probeTimeout <= 0 {
		probeTimeout = time.Minute
	}
	return &SongHandler{service: service, catalog: catalog, lister: lister, probeTimeout: probeTimeout}
}

// ProcessRequest 处理请求
type ProcessRequest struct {
	URL string `json:"url"`
}

// RootHandler answers the service banner.
func (h *SongHandler) RootHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Song Processing"})
}

// ProcessLinkHandler handles POST /process_link?link=<url>.
func (h *SongHandler) ProcessLinkHandler(w http.ResponseWriter, r *http.Request) {
	link := r.URL.Query().Get("link")
	if link == "" {
		writeError(w, apperr.Errorf(apperr.KindResolution, "missing link parameter"))
		return
	}
	res, err := h.service.Process(r.Context(), link)
	writeResult(w, res, err)
}

// ProcessHandler handles POST /api/songs/process with body {"url": ...}.
func (h *SongHandler) ProcessHandler(w http.ResponseWriter, r *http.Request) {
	var req ProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, apperr.Errorf(apperr.KindResolution, "request body must be {\"url\": \"...\"}"))
		return
	}
	res, err := h.service.Process(r.Context(), req.URL)
	writeResult(w, res, err)
}

// ProbeHandler handles GET /api/songs/probe?url=<url>.
func (h *SongHandler) ProbeHandler(w http.ResponseWriter, r *http.Request) {
	link := r.URL.Query().Get("url")
	if link == "" {
		writeError(w, apperr.Errorf(apperr.KindResolution, "missing url parameter"))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.probeTimeout)
	defer cancel()

	rec, err := h.service.Probe(ctx, link)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &SongResponse{ContentRecord: rec})
}

// GetSongHandler handles GET /api/songs/{id}.
func (h *SongHandler) GetSongHandler(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &SongResponse{ContentRecord: rec})
}

// GetAudioHandler streams the published MP3 with range support.
func (h *SongHandler) GetAudioHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	audioPath, err := h.service.AudioPath(id)
	if err != nil {
		writeError(w, err)
		return
	}

	f, err := os.Open(audioPath)
	if err != nil {
		// 外部清理可能在查询后删除了文件
		writeError(w, apperr.Errorf(apperr.KindNotFound, "audio for %s: %w", id, err))
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeError(w, apperr.New(apperr.KindCache, err))
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "public, max-age=31536000") // 已发布的音频不会改变
	http.ServeContent(w, r, id+".mp3", info.ModTime(), f)
}

// SongListResponse 歌曲列表响应
type SongListResponse struct {
	Songs  []*model.SongEntry `json:"songs"`
	Total  int64              `json:"total"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}

// ListSongsHandler lists the catalog, falling back to the song store when
// the database is disabled.
func (h *SongHandler) ListSongsHandler(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	artist := r.URL.Query().Get("artist")

	if h.catalog != nil {
		entries, total, err := h.catalog.List(r.Context(), artist, limit, offset)
		if err != nil {
			logger.Error("failed to list catalog", logger.ErrorField(err))
			writeMessage(w, http.StatusInternalServerError, "failed to list songs")
			return
		}
		if entries == nil {
			entries = []*model.SongEntry{}
		}
		writeJSON(w, http.StatusOK, &SongListResponse{Songs: entries, Total: total, Limit: limit, Offset: offset})
		return
	}

	ids, err := h.lister.List()
	if err != nil {
		writeError(w, err)
		return
	}
	entries := make([]*model.SongEntry, 0, limit)
	var total int64
	for _, id := range ids {
		rec, err := h.service.Get(id)
		if err != nil {
			continue
		}
		entry := model.NewSongEntry(rec)
		if artist != "" && entry.Artist != artist {
			continue
		}
		if total >= int64(offset) && len(entries) < limit {
			entries = append(entries, entry)
		}
		total++
	}
	writeJSON(w, http.StatusOK, &SongListResponse{Songs: entries, Total: total, Limit: limit, Offset: offset})
}

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

func pagination(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = v
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}
