package model

import "time"

// TrackDescriptor describes one candidate track returned by the source
// provider. Immutable once produced.
type TrackDescriptor struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Artist    string  `json:"artist"`
	Genre     string  `json:"genre"`
	SourceURL string  `json:"sourceUrl"`
	Duration  float64 `json:"duration"` // declared duration in seconds
}

// MusicalKey 表示估计出的调性，24个大小调或 unknown
type MusicalKey string

// KeyUnknown is the degraded, non-fatal result when key confidence is
// below threshold.
const KeyUnknown MusicalKey = "Unknown"

// Unknown reports whether the key estimate is the degraded result.
func (k MusicalKey) Unknown() bool {
	return k == KeyUnknown || k == ""
}

// EnergyPoint 是能量包络中的一个采样点
type EnergyPoint struct {
	Time  float64 `json:"time"`
	Level float64 `json:"level"` // normalized RMS, 0..1
}

// Highlight 是一段高能量片段窗口
type Highlight struct {
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
	PeakTime  float64 `json:"peakTime"`
	Intensity float64 `json:"intensity"`
}

// TrackAnalysis holds everything the selector and renderer need to
// know about one decoded track. Derived once per track per pipeline run.
type TrackAnalysis struct {
	TrackID       string        `json:"trackId"`
	LocalPath     string        `json:"-"` // temp file the audio was fetched to
	Duration      float64       `json:"duration"`
	BPM           float64       `json:"bpm"`
	LoudnessDB    float64       `json:"loudnessDb"`
	Key           MusicalKey    `json:"key"`
	KeyConfidence float64       `json:"keyConfidence"`
	BeatTimes     []float64     `json:"beatTimes"` // strictly increasing, seconds
	Energy        []EnergyPoint `json:"energy"`
	Highlights    []Highlight   `json:"highlights"`
}

// BeatInterval returns the average beat period in seconds, 0 when the
// grid is missing or degenerate.
func (a *TrackAnalysis) BeatInterval() float64 {
	if len(a.BeatTimes) < 2 {
		return 0
	}
	return (a.BeatTimes[len(a.BeatTimes)-1] - a.BeatTimes[0]) / float64(len(a.BeatTimes)-1)
}

// Track 是曲目目录中的持久化记录（GORM 模型）
type Track struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	Title     string    `json:"title" gorm:"size:255"`
	Artist    string    `json:"artist" gorm:"size:255"`
	Genre     string    `json:"genre" gorm:"size:100;index"`
	SourceURL string    `json:"sourceUrl" gorm:"size:512"`
	Duration  float64   `json:"duration"`
	BPM       float64   `json:"bpm"`
	Key       string    `json:"key" gorm:"size:20"`
	Waveform  string    `json:"waveform" gorm:"type:text"`   // JSON-encoded energy envelope
	Highlight string    `json:"highlights" gorm:"type:text"` // JSON-encoded highlight windows
	CreatedAt time.Time `json:"createdAt"`
}

// TableName 指定表名
func (Track) TableName() string {
	return "tracks"
}
