package server

import (
	"net/http"

	"AutoFM/config"
	"AutoFM/logger"
	"AutoFM/repository"
)

// TrackHandler 处理曲目目录与流派相关的API请求
type TrackHandler struct {
	cfg    *config.Config
	tracks repository.TrackRepository
}

// NewTrackHandler 创建曲目处理器
func NewTrackHandler(cfg *config.Config, tracks repository.TrackRepository) *TrackHandler {
	return &TrackHandler{cfg: cfg, tracks: tracks}
}

// GetGenresHandler GET /api/genres
func (h *TrackHandler) GetGenresHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"genres": h.cfg.Genres})
}

// GetTracksHandler GET /api/tracks?genre=
// 返回混音生成过程中沉淀下来的曲目目录
func (h *TrackHandler) GetTracksHandler(w http.ResponseWriter, r *http.Request) {
	tracks, err := h.tracks.GetTracksByGenre(r.Context(), r.URL.Query().Get("genre"))
	if err != nil {
		logger.Error("查询曲目目录失败", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "failed to list tracks")
		return
	}
	writeJSON(w, http.StatusOK, tracks)
}
