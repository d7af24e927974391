package provider

import (
	"context"
	"errors"

	"AutoFM/model"
)

// 候选曲目来源的抽象。游标按需拉取，拉多少取决于下游什么时候凑够
// 时长，绝不一次性把整个候选池抓下来。
var (
	// ErrExhausted is returned by Next when the source has no more
	// candidates for the requested genre.
	ErrExhausted = errors.New("provider: candidate source exhausted")

	// ErrProviderUnavailable is returned when the upstream source cannot
	// be reached at all (network down, binary missing).
	ErrProviderUnavailable = errors.New("provider: source unavailable")
)

// Cursor pulls candidate tracks one at a time, in the provider's
// relevance order. Implementations are not safe for concurrent use;
// the pipeline drives one cursor from one goroutine.
type Cursor interface {
	// Next returns the next candidate. Returns ErrExhausted after the
	// last one, ErrProviderUnavailable on upstream failure.
	Next(ctx context.Context) (model.TrackDescriptor, error)
	Close() error
}

// Provider opens a lazy cursor over candidates for one genre and
// fetches the audio for a descriptor the pipeline decided to analyze.
type Provider interface {
	// Search 打开某流派的候选游标
	Search(ctx context.Context, genre string) (Cursor, error)

	// Fetch 下载候选的音频到指定目录，返回本地文件路径。目录由调用方
	// 按流水线划分，同流派的并行任务互不踩踏
	Fetch(ctx context.Context, desc model.TrackDescriptor, destDir string) (string, error)
}

// sliceCursor serves candidates from memory. Used both for cached
// search pages and in tests.
type sliceCursor struct {
	items []model.TrackDescriptor
	pos   int
}

// NewSliceCursor returns a cursor over a fixed candidate list.
func NewSliceCursor(items []model.TrackDescriptor) Cursor {
	return &sliceCursor{items: items}
}

func (c *sliceCursor) Next(ctx context.Context) (model.TrackDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return model.TrackDescriptor{}, err
	}
	if c.pos >= len(c.items) {
		return model.TrackDescriptor{}, ErrExhausted
	}
	d := c.items[c.pos]
	c.pos++
	return d, nil
}

func (c *sliceCursor) Close() error { return nil }
