package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"AutoFM/core/mixer"
	"AutoFM/logger"

	"github.com/gorilla/mux"
)

// MixHandler 处理混音任务相关的API请求
type MixHandler struct {
	orch *mixer.Orchestrator
}

// NewMixHandler 创建混音处理器
func NewMixHandler(orch *mixer.Orchestrator) *MixHandler {
	return &MixHandler{orch: orch}
}

type createMixRequest struct {
	Genre           string `json:"genre"`
	Title           string `json:"title"`
	DurationMinutes int    `json:"duration_minutes"`
}

// CreateMixHandler POST /api/mixes
// 同步校验后立即以 pending 状态返回，流水线在后台执行
func (h *MixHandler) CreateMixHandler(w http.ResponseWriter, r *http.Request) {
	var req createMixRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	mix, err := h.orch.CreateMix(r.Context(), req.Genre, req.Title, req.DurationMinutes)
	if err != nil {
		switch {
		case errors.Is(err, mixer.ErrUnknownGenre), errors.Is(err, mixer.ErrInvalidDuration):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			logger.Error("创建混音任务失败", logger.ErrorField(err))
			writeError(w, http.StatusInternalServerError, "failed to create mix")
		}
		return
	}
	writeJSON(w, http.StatusCreated, mix)
}

// ListMixesHandler GET /api/mixes?genre=
func (h *MixHandler) ListMixesHandler(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.orch.ListMixes(r.Context(), r.URL.Query().Get("genre"))
	if err != nil {
		logger.Error("查询混音列表失败", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "failed to list mixes")
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

// GetMixHandler GET /api/mixes/{id}
func (h *MixHandler) GetMixHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	mix, err := h.orch.GetMix(r.Context(), id)
	if err != nil {
		if errors.Is(err, mixer.ErrNotFound) {
			writeError(w, http.StatusNotFound, "mix not found")
			return
		}
		logger.Error("查询混音失败", logger.String("mixId", id), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "failed to get mix")
		return
	}
	writeJSON(w, http.StatusOK, mix)
}

// StreamMixHandler GET /api/mixes/{id}/stream
// 未完成时返回 409，让轮询方继续等
func (h *MixHandler) StreamMixHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	stream, err := h.orch.StreamArtifact(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, mixer.ErrNotFound):
			writeError(w, http.StatusNotFound, "mix not found")
		case errors.Is(err, mixer.ErrNotReady):
			writeError(w, http.StatusConflict, "mix not ready")
		default:
			logger.Error("混音流读取失败", logger.String("mixId", id), logger.ErrorField(err))
			writeError(w, http.StatusInternalServerError, "failed to stream mix")
		}
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", "audio/mpeg")
	if _, err := io.Copy(w, stream); err != nil {
		logger.Warn("混音流传输中断", logger.String("mixId", id), logger.ErrorField(err))
	}
}

// DeleteMixHandler DELETE /api/mixes/{id}
// 取消在跑的流水线并删除记录与制品
func (h *MixHandler) DeleteMixHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.orch.CancelMix(r.Context(), id); err != nil {
		if errors.Is(err, mixer.ErrNotFound) {
			writeError(w, http.StatusNotFound, "mix not found")
			return
		}
		logger.Error("取消混音失败", logger.String("mixId", id), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "failed to cancel mix")
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}
