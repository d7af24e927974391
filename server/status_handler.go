package server

import (
	"encoding/json"
	"net/http"
	"time"

	"AutoFM/logger"
	"AutoFM/model"
	"AutoFM/repository"

	"github.com/google/uuid"
)

// StatusHandler 处理客户端存活上报
type StatusHandler struct {
	checks repository.StatusCheckRepository
}

// NewStatusHandler 创建状态上报处理器
func NewStatusHandler(checks repository.StatusCheckRepository) *StatusHandler {
	return &StatusHandler{checks: checks}
}

type createStatusRequest struct {
	ClientName string `json:"client_name"`
}

// CreateStatusHandler POST /api/status
func (h *StatusHandler) CreateStatusHandler(w http.ResponseWriter, r *http.Request) {
	var req createStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ClientName == "" {
		writeError(w, http.StatusBadRequest, "client_name is required")
		return
	}

	check := &model.StatusCheck{
		ID:         uuid.New().String(),
		ClientName: req.ClientName,
		Timestamp:  time.Now(),
	}
	if err := h.checks.CreateStatusCheck(r.Context(), check); err != nil {
		logger.Error("状态上报入库失败", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "failed to create status check")
		return
	}
	writeJSON(w, http.StatusCreated, check)
}

// ListStatusHandler GET /api/status
func (h *StatusHandler) ListStatusHandler(w http.ResponseWriter, r *http.Request) {
	checks, err := h.checks.GetStatusChecks(r.Context(), 1000)
	if err != nil {
		logger.Error("查询状态上报失败", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "failed to list status checks")
		return
	}
	writeJSON(w, http.StatusOK, checks)
}
