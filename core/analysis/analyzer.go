package analysis

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"AutoFM/config"
	"AutoFM/logger"
	"AutoFM/model"
)

// Analyzer 对单条候选曲目做完整的信号分析：时长、BPM、节拍网格、
// 能量包络、调性与高光片段。
type Analyzer struct {
	cfg     *config.Config
	decoder PCMDecoder
	cache   *RunCache
}

// NewAnalyzer creates an analyzer backed by the given PCM decoder.
func NewAnalyzer(cfg *config.Config, decoder PCMDecoder) *Analyzer {
	return &Analyzer{cfg: cfg, decoder: decoder, cache: NewRunCache()}
}

// Analyze decodes and analyzes one fetched candidate. Results are
// cached per track ID; a second call for the same ID returns the first
// result without decoding again.
func (a *Analyzer) Analyze(ctx context.Context, desc model.TrackDescriptor, localPath string) (*model.TrackAnalysis, error) {
	if cached, ok := a.cache.Get(desc.ID); ok {
		logger.Debug("分析结果命中运行缓存", logger.String("trackId", desc.ID))
		return cached, nil
	}

	start := time.Now()
	samples, sr, err := a.decoder.DecodePCM(ctx, localPath)
	if err != nil {
		return nil, err
	}

	duration := float64(len(samples)) / float64(sr)
	// 解码出的时长明显短于来源声明时长，说明文件被截断
	if desc.Duration > 0 && duration < desc.Duration*0.9 {
		return nil, fmt.Errorf("%w: got %.1fs, declared %.1fs", ErrTruncatedAudio, duration, desc.Duration)
	}
	if duration < a.cfg.MinUsableSec {
		return nil, fmt.Errorf("%w: only %.1fs of audio", ErrTruncatedAudio, duration)
	}

	hopSize := 512
	frameSize := 1024
	onset := computeOnsetEnvelope(samples, frameSize, hopSize)
	bpm := estimateBPM(onset, sr, hopSize)
	beatTimes := estimateBeatTimes(onset, sr, duration, bpm, hopSize)
	beatEnergy := computeBeatEnergy(samples, sr, beatTimes)
	loudness := computeLoudnessDB(samples)

	key, confidence := detectKey(samples, sr)
	if confidence < a.cfg.KeyConfidence {
		// 低置信度的调性不可靠，降级为 unknown，选择器按中性处理
		key = model.KeyUnknown
	}

	result := &model.TrackAnalysis{
		TrackID:       desc.ID,
		LocalPath:     localPath,
		Duration:      math.Round(duration*100) / 100,
		BPM:           bpm,
		LoudnessDB:    math.Round(loudness*10) / 10,
		Key:           key,
		KeyConfidence: math.Round(confidence*100) / 100,
		BeatTimes:     beatTimes,
		Energy:        buildEnergyEnvelope(beatTimes, beatEnergy),
		Highlights:    detectHighlights(beatTimes, beatEnergy),
	}

	stored := a.cache.Put(desc.ID, result)
	logger.Info("曲目分析完成",
		logger.String("trackId", desc.ID),
		logger.Float64("duration", stored.Duration),
		logger.Float64("bpm", stored.BPM),
		logger.String("key", string(stored.Key)),
		logger.Duration("elapsed", time.Since(start)))
	return stored, nil
}

// RunCache is the per-process analysis cache. First writer wins: if two
// workers analyzed the same ID concurrently, everyone afterwards sees
// the result that landed first.
type RunCache struct {
	mu      sync.Mutex
	entries map[string]*model.TrackAnalysis
}

// NewRunCache 创建空的分析缓存
func NewRunCache() *RunCache {
	return &RunCache{entries: make(map[string]*model.TrackAnalysis)}
}

// Get returns the cached analysis for the track ID.
func (c *RunCache) Get(trackID string) (*model.TrackAnalysis, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.entries[trackID]
	return a, ok
}

// Put stores the analysis unless an entry already exists, and returns
// whichever entry is authoritative afterwards.
func (c *RunCache) Put(trackID string, a *model.TrackAnalysis) *model.TrackAnalysis {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[trackID]; ok {
		return existing
	}
	c.entries[trackID] = a
	return a
}
