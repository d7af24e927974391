package analysis

import (
	"context"
	"sync"

	"AutoFM/model"
)

// Item is one fetched candidate queued for analysis. A non-nil Err
// means the fetch already failed; the item still flows through the
// stream so ordering and skip accounting stay intact.
type Item struct {
	Desc      model.TrackDescriptor
	LocalPath string
	Err       error
}

// Result pairs a candidate with its analysis outcome. Exactly one of
// Analysis and Err is set.
type Result struct {
	Desc     model.TrackDescriptor
	Analysis *model.TrackAnalysis
	Err      error
}

// Stream 用有界的工作池并发分析 in 中的候选，但结果严格按候选进入
// 的顺序投递。做法是给每个候选挂一个容量1的结果通道，派发顺序进入
// 一条队列，收集协程按队列顺序转发，慢的前序候选会挡住已完成的
// 后序候选。
//
// 返回的通道在 in 关闭且所有结果投递完后关闭。ctx 取消后尽快停止
// 派发并关闭通道。
func (a *Analyzer) Stream(ctx context.Context, in <-chan Item, workers int) <-chan Result {
	if workers <= 0 {
		workers = 1
	}

	out := make(chan Result)
	pending := make(chan chan Result, workers)
	sem := make(chan struct{}, workers)

	// 派发协程：保持到达顺序
	go func() {
		defer close(pending)
		var wg sync.WaitGroup
		defer wg.Wait()

		for {
			select {
			case <-ctx.Done():
				return
			case item, ok := <-in:
				if !ok {
					return
				}

				slot := make(chan Result, 1)
				select {
				case pending <- slot:
				case <-ctx.Done():
					return
				}

				select {
				case sem <- struct{}{}:
				case <-ctx.Done():
					slot <- Result{Desc: item.Desc, Err: ctx.Err()}
					return
				}

				wg.Add(1)
				go func(it Item, slot chan Result) {
					defer wg.Done()
					defer func() { <-sem }()
					if it.Err != nil {
						slot <- Result{Desc: it.Desc, Err: it.Err}
						return
					}
					analysis, err := a.Analyze(ctx, it.Desc, it.LocalPath)
					slot <- Result{Desc: it.Desc, Analysis: analysis, Err: err}
				}(item, slot)
			}
		}
	}()

	// 收集协程：按派发顺序转发
	go func() {
		defer close(out)
		for slot := range pending {
			var res Result
			select {
			case res = <-slot:
			case <-ctx.Done():
				return
			}
			select {
			case out <- res:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}
