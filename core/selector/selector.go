package selector

import (
	"context"
	"errors"
	"fmt"
	"math"

	"AutoFM/config"
	"AutoFM/logger"
	"AutoFM/model"
)

var (
	// ErrInsufficientTracks means fewer than two usable tracks were
	// found before the candidate pool ran out.
	ErrInsufficientTracks = errors.New("selector: insufficient usable tracks")

	// ErrDurationUnreachable means the pool was exhausted without the
	// plan reaching the lower tolerance bound of the target.
	ErrDurationUnreachable = errors.New("selector: target duration unreachable")
)

// Candidate 是一条已拉取的候选：分析成功时 Analysis 非空，失败时
// Err 记录原因，选择器跳过它但计入拉取数。
type Candidate struct {
	Desc     model.TrackDescriptor
	Analysis *model.TrackAnalysis
	Err      error
}

// PullFunc lazily yields the next analyzed candidate in provider order.
// Returns (nil, nil) once the source is exhausted; a non-nil error is
// terminal for the whole selection (provider failure, cancellation).
type PullFunc func(ctx context.Context) (*Candidate, error)

// Stats 记录一次选择消耗了多少候选
type Stats struct {
	Pulled  int // candidates pulled from the provider
	Usable  int // candidates that analyzed clean and met the length floor
	Skipped int // usable candidates rejected by the compatibility threshold
}

// Selector 在分析结果流上执行确定性的选曲算法
type Selector struct {
	cfg     *config.Config
	weights *WeightsStore
}

// New creates a selector using the given weights store.
func New(cfg *config.Config, weights *WeightsStore) *Selector {
	return &Selector{cfg: cfg, weights: weights}
}

// Select 按拉取顺序消费候选，产出满足目标时长的混音计划。
//
// 算法每次只拉一条，拉够即停：计划时长达到目标、候选数触顶或来源
// 耗尽。兼容性低于阈值的候选被搁置而非丢弃，池子耗尽还不够长时，
// 用放宽后的阈值按原拉取顺序重审一遍搁置队列。整个过程没有任何
// 随机性。
func (s *Selector) Select(ctx context.Context, pull PullFunc, targetSec float64) (*model.MixPlan, Stats, error) {
	w := s.weights.Current()
	stats := Stats{}
	plan := &model.MixPlan{}

	lowerBound := targetSec * (1 - s.cfg.DurationTolerance)
	upperBound := targetSec * (1 + s.cfg.DurationTolerance)

	var skipped []*Candidate
	exhausted := false

	// 停拉条件按可用时长累计（不扣过渡重叠），与计划时长的容差
	// 判定分开
	for stats.Pulled < s.cfg.CandidateCap && (planUsable(plan) < targetSec || len(plan.Segments) < 2) {
		cand, err := pull(ctx)
		if err != nil {
			return nil, stats, err
		}
		if cand == nil {
			exhausted = true
			break
		}
		stats.Pulled++

		if cand.Err != nil {
			// 单条坏候选不致命，跳过即可
			logger.Warn("跳过分析失败的候选",
				logger.String("trackId", cand.Desc.ID),
				logger.ErrorField(cand.Err))
			continue
		}
		if !s.usable(cand.Analysis) {
			continue
		}
		stats.Usable++

		if !s.admit(plan, cand, w.Threshold) {
			stats.Skipped++
			skipped = append(skipped, cand)
		}
	}

	// 池子耗尽但还不够长或不满两段：放宽阈值重审被搁置的候选，只放宽
	// 这一次
	if exhausted && (plan.TotalDuration() < lowerBound || len(plan.Segments) < 2) && len(skipped) > 0 {
		logger.Info("候选池耗尽，放宽兼容性阈值重审",
			logger.Float64("threshold", w.RelaxedThreshold),
			logger.Int("skipped", len(skipped)))
		for _, cand := range skipped {
			if planUsable(plan) >= targetSec && len(plan.Segments) >= 2 {
				break
			}
			s.admit(plan, cand, w.RelaxedThreshold)
		}
	}

	if len(plan.Segments) < 2 {
		return nil, stats, fmt.Errorf("%w: %d usable of %d pulled", ErrInsufficientTracks, stats.Usable, stats.Pulled)
	}
	if plan.TotalDuration() < lowerBound {
		return nil, stats, fmt.Errorf("%w: planned %.0fs, need at least %.0fs",
			ErrDurationUnreachable, plan.TotalDuration(), lowerBound)
	}

	if plan.TotalDuration() > upperBound {
		s.trimOvershoot(plan, targetSec)
	}

	logger.Info("选曲完成",
		logger.Int("segments", len(plan.Segments)),
		logger.Float64("planned", plan.TotalDuration()),
		logger.Float64("target", targetSec),
		logger.Int("pulled", stats.Pulled))
	return plan, stats, nil
}

// planUsable 是已选片段的可用时长总和，不扣过渡重叠
func planUsable(plan *model.MixPlan) float64 {
	total := 0.0
	for i := range plan.Segments {
		total += plan.Segments[i].Usable()
	}
	return total
}

// usable reports whether the analyzed track carries enough trimmed
// audio to be worth sequencing.
func (s *Selector) usable(a *model.TrackAnalysis) bool {
	in, out := s.trimPoints(a)
	return out-in >= s.cfg.MinUsableSec
}

// admit scores the candidate against the current plan tail and appends
// it when it clears the threshold. Returns whether it was selected.
func (s *Selector) admit(plan *model.MixPlan, cand *Candidate, threshold float64) bool {
	w := s.weights.Current()
	if n := len(plan.Segments); n > 0 {
		prev := plan.Segments[n-1].Analysis
		score := Compatibility(w, prev, cand.Analysis)
		if score < threshold {
			logger.Debug("候选兼容性不足",
				logger.String("trackId", cand.Desc.ID),
				logger.Float64("score", score),
				logger.Float64("threshold", threshold))
			return false
		}
	}

	in, out := s.trimPoints(cand.Analysis)
	seg := model.SelectedSegment{
		Track:    cand.Desc,
		Analysis: cand.Analysis,
		TrimIn:   in,
		TrimOut:  out,
	}
	if n := len(plan.Segments); n > 0 {
		plan.Segments[n-1].Transition = transitionDuration(plan.Segments[n-1], seg)
	}
	plan.Segments = append(plan.Segments, seg)
	return true
}

// trimPoints 给出节拍对齐的入点与出点：入点取不早于片头跳过量的
// 第一个节拍，出点取给尾部过渡留出余量的最后一个节拍。
func (s *Selector) trimPoints(a *model.TrackAnalysis) (in, out float64) {
	in = 0
	out = a.Duration
	tailAnchor := a.Duration - s.cfg.OutroReserveSec
	if tailAnchor < 0 {
		tailAnchor = a.Duration
	}

	if len(a.BeatTimes) == 0 {
		// 没有节拍网格时锚定到最强的高光窗口
		if len(a.Highlights) > 0 {
			h := a.Highlights[0]
			hin, hout := h.Start, h.End
			if hin < 0 {
				hin = 0
			}
			if hout > a.Duration {
				hout = a.Duration
			}
			if hout > hin {
				return hin, hout
			}
		}
		return in, out
	}
	for _, b := range a.BeatTimes {
		if b >= s.cfg.IntroSkipSec {
			in = b
			break
		}
	}
	for i := len(a.BeatTimes) - 1; i >= 0; i-- {
		if a.BeatTimes[i] <= tailAnchor {
			out = a.BeatTimes[i]
			break
		}
	}
	if out <= in {
		in, out = 0, a.Duration
	}
	return in, out
}

// transitionDuration 由两曲平均速度决定过渡时长：速度越快过渡越短。
// 结果再被两侧可用时长约束住，保证过渡不会吃掉整段音频。
func transitionDuration(from, to model.SelectedSegment) float64 {
	avgBPM := (from.Analysis.BPM + to.Analysis.BPM) / 2
	if avgBPM <= 0 {
		avgBPM = 120
	}
	t := 16 * (120 / avgBPM)
	if t < 4 {
		t = 4
	}
	if t > 24 {
		t = 24
	}
	if limit := from.Usable(); t > limit {
		t = limit
	}
	if limit := to.Usable() * 0.5; t > limit {
		t = limit
	}
	return math.Round(t*100) / 100
}

// trimOvershoot 把超出上容差的计划缩回目标：收紧末段出点并在可行
// 时对齐节拍
func (s *Selector) trimOvershoot(plan *model.MixPlan, targetSec float64) {
	n := len(plan.Segments)
	last := &plan.Segments[n-1]
	excess := plan.TotalDuration() - targetSec

	desired := last.TrimOut - excess
	prevTransition := plan.Segments[n-2].Transition
	// 末段至少要装得下进入它的过渡
	floor := last.TrimIn + prevTransition
	if desired < floor {
		desired = floor
	}

	snapped := desired
	for i := len(last.Analysis.BeatTimes) - 1; i >= 0; i-- {
		if b := last.Analysis.BeatTimes[i]; b <= desired {
			if b >= floor {
				snapped = b
			}
			break
		}
	}
	last.TrimOut = snapped

	// 末段缩短后，进入它的过渡可能超过其可用时长的一半，重新约束
	if limit := last.Usable() * 0.5; plan.Segments[n-2].Transition > limit {
		plan.Segments[n-2].Transition = math.Round(limit*100) / 100
	}
}
