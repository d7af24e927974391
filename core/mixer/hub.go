package mixer

import (
	"sync"
	"time"

	"AutoFM/model"
)

// StatusEvent 是推送给订阅者的一次状态变更
type StatusEvent struct {
	MixID     string          `json:"mixId"`
	Status    model.MixStatus `json:"status"`
	Duration  float64         `json:"duration,omitempty"`
	Reason    string          `json:"failReason,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Hub 按混音ID分发状态事件。订阅者各持一条带缓冲的通道，慢订阅者
// 丢事件而不是阻塞流水线，最终状态总能通过轮询拿到。
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan StatusEvent]struct{}
}

// NewHub 创建状态事件中心
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan StatusEvent]struct{})}
}

// Subscribe 订阅某个混音的状态事件
func (h *Hub) Subscribe(mixID string) chan StatusEvent {
	ch := make(chan StatusEvent, 8)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[mixID] == nil {
		h.subs[mixID] = make(map[chan StatusEvent]struct{})
	}
	h.subs[mixID][ch] = struct{}{}
	return ch
}

// Unsubscribe 退订并关闭通道
func (h *Hub) Unsubscribe(mixID string, ch chan StatusEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[mixID]; ok {
		if _, ok := set[ch]; ok {
			delete(set, ch)
			close(ch)
		}
		if len(set) == 0 {
			delete(h.subs, mixID)
		}
	}
}

// Publish 向该混音的所有订阅者广播事件，通道满时丢弃
func (h *Hub) Publish(event StatusEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[event.MixID] {
		select {
		case ch <- event:
		default:
		}
	}
}
