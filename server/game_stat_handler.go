package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"XSlicer/logger"
	"XSlicer/model"
	"XSlicer/repository"

	"github.com/gorilla/mux"
)

// GameStatHandler 游戏统计 HTTP 处理器
type GameStatHandler struct {
	repo repository.GameStatRepository
}

// NewGameStatHandler creates a GameStatHandler.
func NewGameStatHandler(repo repository.GameStatRepository) *GameStatHandler {
	return &GameStatHandler{repo: repo}
}

// CreateHandler handles POST /api/game-stats.
func (h *GameStatHandler) CreateHandler(w http.ResponseWriter, r *http.Request) {
	var req model.CreateGameStatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	stat := req.ToModel()
	if err := h.repo.Create(r.Context(), stat); err != nil {
		logger.Error("创建游戏统计失败", logger.String("playerId", stat.PlayerID), logger.ErrorField(err))
		writeMessage(w, http.StatusInternalServerError, "failed to create game stat")
		return
	}
	writeJSON(w, http.StatusCreated, stat)
}

// ListHandler handles GET /api/game-stats?player_id=.
func (h *GameStatHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	stats, err := h.repo.ListByPlayer(r.Context(), r.URL.Query().Get("player_id"), limit, offset)
	if err != nil {
		logger.Error("获取游戏统计失败", logger.ErrorField(err))
		writeMessage(w, http.StatusInternalServerError, "failed to list game stats")
		return
	}
	if stats == nil {
		stats = []*model.GameStat{}
	}
	writeJSON(w, http.StatusOK, stats)
}

// GetHandler handles GET /api/game-stats/{id}.
func (h *GameStatHandler) GetHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := statID(w, r)
	if !ok {
		return
	}
	stat, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		logger.Error("获取游戏统计失败", logger.Int64("id", id), logger.ErrorField(err))
		writeMessage(w, http.StatusInternalServerError, "failed to get game stat")
		return
	}
	if stat == nil {
		writeMessage(w, http.StatusNotFound, "game stat not found")
		return
	}
	writeJSON(w, http.StatusOK, stat)
}

// DeleteHandler handles DELETE /api/game-stats/{id}.
func (h *GameStatHandler) DeleteHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := statID(w, r)
	if !ok {
		return
	}
	found, err := h.repo.Delete(r.Context(), id)
	if err != nil {
		logger.Error("删除游戏统计失败", logger.Int64("id", id), logger.ErrorField(err))
		writeMessage(w, http.StatusInternalServerError, "failed to delete game stat")
		return
	}
	if !found {
		writeMessage(w, http.StatusNotFound, "game stat not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func statID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		writeMessage(w, http.StatusBadRequest, "invalid game stat id")
		return 0, false
	}
	return id, true
}
