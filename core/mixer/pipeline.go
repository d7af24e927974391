package mixer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"AutoFM/cache"
	"AutoFM/core/analysis"
	"AutoFM/core/provider"
	"AutoFM/core/render"
	"AutoFM/core/selector"
	"AutoFM/logger"
	"AutoFM/model"
)

// runPipeline 执行一次完整的混音生成：选曲（内部驱动分析与来源
// 拉取）→ 渲染 → 制品入库。任何错误都收敛成一次 failed 迁移，
// 绝不让流水线异常带垮进程。
func (o *Orchestrator) runPipeline(ctx context.Context, mix *model.Mix) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("混音流水线panic",
				logger.String("mixId", mix.ID),
				logger.Any("panic", r))
			o.failMix(mix, model.ReasonRenderFailed)
		}
	}()

	cursor, err := o.provider.Search(ctx, mix.Genre)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		o.failMix(mix, model.ReasonProviderUnavailable)
		return
	}
	defer cursor.Close()

	// 开始消费来源即进入 processing；行已被取消删除时条件更新落空，
	// 流水线就此收手。落库出错则把任务标失败，不能让它永远卡在 pending
	ok, err := o.repo.TransitionStatus(ctx, mix.ID, model.MixPending, model.MixProcessing)
	if err != nil {
		logger.Error("状态迁移失败", logger.String("mixId", mix.ID), logger.ErrorField(err))
		o.failMix(mix, model.ReasonStorageFailed)
		return
	}
	if !ok {
		return
	}
	mix.Status = model.MixProcessing
	cache.SetMix(ctx, mix)
	o.publish(mix)

	// 下载落在按任务划分的子目录里：同流派的并行任务拿到同一批缓存
	// 候选，共享路径会被先完成的一方清掉
	fetchDir := filepath.Join(o.cfg.WorkDir, "mix-"+mix.ID)
	defer os.RemoveAll(fetchDir)

	plan, stats, err := o.selectPlan(ctx, mix, cursor, fetchDir)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		o.failMix(mix, classifySelectError(err, stats))
		return
	}

	o.catalogPlan(ctx, mix.Genre, plan)

	renderer := render.NewRenderer(o.cfg, o.segDec, o.segEnc)
	outPath, duration, err := renderer.Render(ctx, mix.ID, plan)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		o.failMix(mix, model.ReasonRenderFailed)
		return
	}
	defer os.Remove(outPath)

	f, err := os.Open(outPath)
	if err != nil {
		o.failMix(mix, model.ReasonStorageFailed)
		return
	}
	info, _ := f.Stat()
	size := int64(-1)
	if info != nil {
		size = info.Size()
	}
	artifactKey, err := o.store.PutArtifact(ctx, mix.ID, f, size)
	f.Close()
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		// 渲染成功但制品没存住，任务仍然是失败
		o.failMix(mix, model.ReasonStorageFailed)
		return
	}

	done, err := o.repo.MarkCompleted(ctx, mix.ID, duration, artifactKey)
	if err != nil || !done {
		if err != nil {
			logger.Error("完成状态落库失败", logger.String("mixId", mix.ID), logger.ErrorField(err))
			o.failMix(mix, model.ReasonStorageFailed)
		}
		// !done 且无错误说明任务已被取消删除，清掉刚存的制品
		if err == nil {
			if rmErr := o.store.RemoveArtifact(ctx, mix.ID); rmErr != nil {
				logger.Warn("清理孤儿制品失败", logger.String("mixId", mix.ID), logger.ErrorField(rmErr))
			}
		}
		return
	}

	now := time.Now()
	mix.Status = model.MixCompleted
	mix.Duration = duration
	mix.ArtifactPath = artifactKey
	mix.CompletedAt = &now
	cache.SetMix(ctx, mix)
	o.publish(mix)

	logger.Info("混音生成完成",
		logger.String("mixId", mix.ID),
		logger.Float64("duration", duration),
		logger.Int("pulled", stats.Pulled))
}

// selectPlan 搭起 拉取→下载→有界并发分析→选曲 的流水:分析结果
// 严格按拉取顺序交给选曲器，选曲是确定性的。
func (o *Orchestrator) selectPlan(ctx context.Context, mix *model.Mix, cursor provider.Cursor, fetchDir string) (*model.MixPlan, selector.Stats, error) {
	analyzer := analysis.NewAnalyzer(o.cfg, o.decoder) // 分析缓存只活一次流水线

	items := make(chan analysis.Item)
	var srcErr error // 在 close(items) 前写入，读方经通道关闭同步

	go func() {
		defer close(items)
		for i := 0; i < o.cfg.CandidateCap; i++ {
			desc, err := cursor.Next(ctx)
			if err != nil {
				if !errors.Is(err, provider.ErrExhausted) && ctx.Err() == nil {
					srcErr = err
				}
				return
			}

			item := analysis.Item{Desc: desc}
			if path, err := o.provider.Fetch(ctx, desc, fetchDir); err != nil {
				item.Err = err // 单条下载失败只跳过这一条
			} else {
				item.LocalPath = path
			}

			select {
			case items <- item:
			case <-ctx.Done():
				return
			}
		}
	}()

	results := analyzer.Stream(ctx, items, o.cfg.AnalyzeWorkers)
	pull := func(ctx context.Context) (*selector.Candidate, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, ok := <-results
		if !ok {
			if srcErr != nil {
				return nil, srcErr
			}
			return nil, nil
		}
		return &selector.Candidate{Desc: res.Desc, Analysis: res.Analysis, Err: res.Err}, nil
	}

	sel := selector.New(o.cfg, o.weights)
	plan, stats, err := sel.Select(ctx, pull, float64(mix.RequestedMinutes)*60)
	if plan != nil {
		plan.Genre = mix.Genre
	}
	return plan, stats, err
}

// classifySelectError 把选曲阶段的错误映射到失败原因
func classifySelectError(err error, stats selector.Stats) string {
	switch {
	case errors.Is(err, provider.ErrProviderUnavailable):
		return model.ReasonProviderUnavailable
	case errors.Is(err, selector.ErrInsufficientTracks):
		if stats.Pulled == 0 {
			return model.ReasonNoTracksAvailable
		}
		return model.ReasonInsufficientTracks
	case errors.Is(err, selector.ErrDurationUnreachable):
		return model.ReasonDurationUnreachable
	default:
		return model.ReasonProviderUnavailable
	}
}

// failMix 记录失败原因并迁移到 failed。迁移落空（任务已取消）时
// 不再写任何状态。
func (o *Orchestrator) failMix(mix *model.Mix, reason string) {
	ctx, cancelTimeout := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelTimeout()

	done, err := o.repo.MarkFailed(ctx, mix.ID, reason)
	if err != nil {
		logger.Error("失败状态落库失败",
			logger.String("mixId", mix.ID),
			logger.String("reason", reason),
			logger.ErrorField(err))
		return
	}
	if !done {
		return
	}

	now := time.Now()
	mix.Status = model.MixFailed
	mix.FailReason = reason
	mix.CompletedAt = &now
	cache.SetMix(ctx, mix)
	o.publish(mix)

	logger.Warn("混音生成失败",
		logger.String("mixId", mix.ID),
		logger.String("reason", reason))
}

// catalogPlan 把入选曲目的分析结果写进曲目目录，尽力而为
func (o *Orchestrator) catalogPlan(ctx context.Context, genre string, plan *model.MixPlan) {
	if o.tracks == nil {
		return
	}
	for _, seg := range plan.Segments {
		desc := seg.Track
		if desc.Genre == "" {
			desc.Genre = genre
		}
		if err := o.tracks.SaveAnalyzedTrack(ctx, desc, seg.Analysis); err != nil {
			logger.Warn("曲目入目录失败", logger.String("trackId", desc.ID), logger.ErrorField(err))
		}
	}
}
