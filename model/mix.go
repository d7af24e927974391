package model

import "time"

// MixStatus 表示混音任务的生命周期状态
type MixStatus string

const (
	MixPending    MixStatus = "pending"
	MixProcessing MixStatus = "processing"
	MixCompleted  MixStatus = "completed"
	MixFailed     MixStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s MixStatus) Terminal() bool {
	return s == MixCompleted || s == MixFailed
}

// CanTransition reports whether moving from s to next is a legal
// lifecycle step. The machine is strictly
// pending -> processing -> (completed | failed).
func (s MixStatus) CanTransition(next MixStatus) bool {
	switch s {
	case MixPending:
		return next == MixProcessing
	case MixProcessing:
		return next == MixCompleted || next == MixFailed
	default:
		return false
	}
}

// 流水线失败原因，写入 Mix.FailReason
const (
	ReasonNoTracksAvailable   = "NoTracksAvailable"
	ReasonProviderUnavailable = "ProviderUnavailable"
	ReasonInsufficientTracks  = "InsufficientTracks"
	ReasonDurationUnreachable = "DurationUnreachable"
	ReasonRenderFailed        = "RenderFailed"
	ReasonStorageFailed       = "StorageFailed"
)

// Mix represents one automated DJ mix job. The record is owned by the
// orchestrator; nothing else writes to it.
type Mix struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Genre            string     `json:"genre"`
	RequestedMinutes int        `json:"durationMinutes"`
	Status           MixStatus  `json:"status"`
	Duration         float64    `json:"duration,omitempty"`     // final duration in seconds, set on completion
	ArtifactPath     string     `json:"-"`                      // object key in storage, not exposed in API
	FailReason       string     `json:"failReason,omitempty"`   // one of the Reason* constants, set on failure
	CreatedAt        time.Time  `json:"createdAt"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
}

// MixSummary 是列表接口返回的摘要视图
type MixSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Genre     string    `json:"genre"`
	Status    MixStatus `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// Summary 返回摘要视图
func (m *Mix) Summary() MixSummary {
	return MixSummary{
		ID:        m.ID,
		Title:     m.Title,
		Genre:     m.Genre,
		Status:    m.Status,
		CreatedAt: m.CreatedAt,
	}
}
