package server

import (
	"errors"
	"net/http"
	"time"

	"AutoFM/core/mixer"
	"AutoFM/logger"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSHandler 通过WebSocket推送混音状态变更，是轮询之外的另一条
// 状态通道。推送的事件序列与轮询观察到的状态一样单调。
type WSHandler struct {
	orch *mixer.Orchestrator
}

// NewWSHandler 创建WebSocket状态推送处理器
func NewWSHandler(orch *mixer.Orchestrator) *WSHandler {
	return &WSHandler{orch: orch}
}

// StatusWSHandler GET /api/mixes/{id}/ws
// 连接建立后先补发当前状态，之后推送每次变更，任务到达终态或
// 连接断开时结束。
func (h *WSHandler) StatusWSHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	mix, err := h.orch.GetMix(r.Context(), id)
	if err != nil {
		if errors.Is(err, mixer.ErrNotFound) {
			writeError(w, http.StatusNotFound, "mix not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get mix")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("WebSocket升级失败", logger.String("mixId", id), logger.ErrorField(err))
		return
	}
	defer conn.Close()

	events := h.orch.Hub().Subscribe(id)
	defer h.orch.Hub().Unsubscribe(id, events)

	// 先把当前状态补给刚连上的订阅者
	first := mixer.StatusEvent{
		MixID:     mix.ID,
		Status:    mix.Status,
		Duration:  mix.Duration,
		Reason:    mix.FailReason,
		Timestamp: time.Now(),
	}
	if err := conn.WriteJSON(first); err != nil {
		return
	}
	if mix.Status.Terminal() {
		return
	}

	// 读协程只用来感知客户端断开
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				return
			}
			if event.Status.Terminal() {
				return
			}
		case <-done:
			return
		}
	}
}
