package render

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"AutoFM/config"
	"AutoFM/logger"
	"AutoFM/model"
)

// ErrRender covers any fault while producing the artifact. Partial
// output is always removed before the error surfaces.
var ErrRender = errors.New("render: failed to produce mix audio")

// Renderer 把混音计划渲染成单个连续音频文件：逐段解码到统一格式，
// 预乘淡化包络后叠加到样本画布上，最后一次性编码。
type Renderer struct {
	cfg     *config.Config
	decoder SegmentDecoder
	encoder SegmentEncoder
}

// NewRenderer creates a renderer with the given codec pair.
func NewRenderer(cfg *config.Config, decoder SegmentDecoder, encoder SegmentEncoder) *Renderer {
	return &Renderer{cfg: cfg, decoder: decoder, encoder: encoder}
}

// Render produces the mix audio file for the plan and returns its path
// and actual duration in seconds. Any fault rolls back the output file
// and returns ErrRender; a truncated artifact is never left behind.
func (r *Renderer) Render(ctx context.Context, mixID string, plan *model.MixPlan) (string, float64, error) {
	if len(plan.Segments) == 0 {
		return "", 0, fmt.Errorf("%w: empty plan", ErrRender)
	}

	sr := r.cfg.RenderSampleRate
	ch := r.cfg.RenderChannels
	start := time.Now()

	var canvas []float32
	offsetFrames := 0

	for i := range plan.Segments {
		seg := plan.Segments[i]

		trimIn := seg.TrimIn
		aligned := false
		if i > 0 {
			// 入点在 ±1 拍内平移对齐上一段的节拍相位
			trimIn, aligned = alignedTrimIn(plan.Segments[i-1], seg)
		}
		equalPower := i == 0 || aligned

		samples, err := r.decoder.DecodeSegment(ctx, seg.Analysis.LocalPath, trimIn, seg.TrimOut-trimIn, sr, ch)
		if err != nil {
			if ctx.Err() != nil {
				return "", 0, ctx.Err()
			}
			return "", 0, fmt.Errorf("%w: segment %d (%s): %v", ErrRender, i, seg.Track.ID, err)
		}

		if i > 0 {
			fadeFrames := int(plan.Segments[i-1].Transition * float64(sr))
			applyFadeIn(samples, ch, fadeFrames, equalPower)
		}
		if i < len(plan.Segments)-1 {
			fadeFrames := int(seg.Transition * float64(sr))
			// 淡出曲线要与下一段的淡入互补
			_, nextAligned := alignedTrimIn(seg, plan.Segments[i+1])
			applyFadeOut(samples, ch, fadeFrames, nextAligned)
		}

		canvas = overlayAdd(canvas, samples, ch, offsetFrames)

		advance := len(samples) / ch
		if i < len(plan.Segments)-1 {
			advance -= int(seg.Transition * float64(sr))
			if advance < 0 {
				advance = 0
			}
		}
		offsetFrames += advance
	}

	clampCanvas(canvas)
	duration := float64(len(canvas)/ch) / float64(sr)

	if err := os.MkdirAll(r.cfg.WorkDir, 0o755); err != nil {
		return "", 0, fmt.Errorf("%w: work dir: %v", ErrRender, err)
	}
	outPath := filepath.Join(r.cfg.WorkDir, mixID+"_mix.mp3")
	if err := r.encoder.Encode(ctx, canvas, sr, ch, r.cfg.AudioBitrate, outPath); err != nil {
		os.Remove(outPath)
		if ctx.Err() != nil {
			return "", 0, ctx.Err()
		}
		return "", 0, fmt.Errorf("%w: encode: %v", ErrRender, err)
	}

	logger.Info("混音渲染完成",
		logger.String("mixId", mixID),
		logger.Int("segments", len(plan.Segments)),
		logger.Float64("duration", duration),
		logger.Duration("elapsed", time.Since(start)))
	return outPath, duration, nil
}
