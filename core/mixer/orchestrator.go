package mixer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"AutoFM/cache"
	"AutoFM/config"
	"AutoFM/core/analysis"
	"AutoFM/core/provider"
	"AutoFM/core/render"
	"AutoFM/core/selector"
	"AutoFM/logger"
	"AutoFM/model"
	"AutoFM/repository"
	"AutoFM/storage"

	"github.com/google/uuid"
)

var (
	// ErrUnknownGenre rejects a create request for a genre outside the
	// configured catalog.
	ErrUnknownGenre = errors.New("mixer: unknown genre")

	// ErrInvalidDuration rejects a non-positive requested duration.
	ErrInvalidDuration = errors.New("mixer: duration must be positive")

	// ErrNotFound means no mix exists under the id.
	ErrNotFound = errors.New("mixer: mix not found")

	// ErrNotReady means the artifact was requested before the mix
	// completed.
	ErrNotReady = errors.New("mixer: mix not ready")
)

// Orchestrator 独占混音任务的生命周期：同步校验请求、异步跑流水线、
// 守护单调的状态迁移，并回答状态与制品查询。
type Orchestrator struct {
	cfg      *config.Config
	repo     repository.MixRepository
	tracks   repository.TrackRepository
	store    storage.ArtifactStore
	provider provider.Provider
	weights  *selector.WeightsStore
	decoder  analysis.PCMDecoder
	segDec   render.SegmentDecoder
	segEnc   render.SegmentEncoder
	hub      *Hub

	// inflight 保证每个混音ID至多一条在跑的流水线
	mu       sync.Mutex
	inflight map[string]context.CancelFunc
}

// NewOrchestrator wires the orchestrator with its collaborators. Every
// collaborator is an interface so tests can substitute fakes.
func NewOrchestrator(
	cfg *config.Config,
	repo repository.MixRepository,
	tracks repository.TrackRepository,
	store storage.ArtifactStore,
	prov provider.Provider,
	weights *selector.WeightsStore,
	decoder analysis.PCMDecoder,
	segDec render.SegmentDecoder,
	segEnc render.SegmentEncoder,
	hub *Hub,
) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		repo:     repo,
		tracks:   tracks,
		store:    store,
		provider: prov,
		weights:  weights,
		decoder:  decoder,
		segDec:   segDec,
		segEnc:   segEnc,
		hub:      hub,
		inflight: make(map[string]context.CancelFunc),
	}
}

// Hub 返回状态事件中心，供推送层订阅
func (o *Orchestrator) Hub() *Hub {
	return o.hub
}

// CreateMix validates the request synchronously, persists the mix in
// pending and schedules the pipeline. The returned mix is already
// visible to GetMix before the pipeline does any work.
func (o *Orchestrator) CreateMix(ctx context.Context, genre, title string, durationMinutes int) (*model.Mix, error) {
	if !o.cfg.SupportsGenre(genre) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGenre, genre)
	}
	if durationMinutes <= 0 {
		return nil, fmt.Errorf("%w: got %d minutes", ErrInvalidDuration, durationMinutes)
	}
	if title == "" {
		title = fmt.Sprintf("%s Mix", genre)
	}

	mix := &model.Mix{
		ID:               uuid.New().String(),
		Title:            title,
		Genre:            genre,
		RequestedMinutes: durationMinutes,
		Status:           model.MixPending,
		CreatedAt:        time.Now(),
	}
	if err := o.repo.CreateMix(ctx, mix); err != nil {
		return nil, fmt.Errorf("failed to persist mix: %w", err)
	}
	cache.SetMix(ctx, mix)
	o.publish(mix)

	// 流水线用独立于请求的上下文，请求返回后继续跑
	pipeCtx, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	if _, exists := o.inflight[mix.ID]; exists {
		o.mu.Unlock()
		cancel()
		return mix, nil
	}
	o.inflight[mix.ID] = cancel
	o.mu.Unlock()

	// 流水线持有自己的副本，返回给调用方的实例不会被后台修改
	pipeMix := *mix
	go func() {
		defer o.clearInflight(pipeMix.ID)
		o.runPipeline(pipeCtx, &pipeMix)
	}()

	logger.Info("混音任务已创建",
		logger.String("mixId", mix.ID),
		logger.String("genre", genre),
		logger.Int("minutes", durationMinutes))
	return mix, nil
}

// GetMix is a point-in-time status read: cache first, repository on
// miss. Never blocks on pipeline execution.
func (o *Orchestrator) GetMix(ctx context.Context, id string) (*model.Mix, error) {
	if cached, err := cache.GetMix(ctx, id); err == nil && cached != nil {
		return cached, nil
	}

	mix, err := o.repo.GetMixByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if mix == nil {
		return nil, ErrNotFound
	}
	cache.SetMix(ctx, mix)
	return mix, nil
}

// ListMixes 返回摘要列表，可按流派过滤
func (o *Orchestrator) ListMixes(ctx context.Context, genre string) ([]model.MixSummary, error) {
	mixes, err := o.repo.GetAllMixes(ctx, genre)
	if err != nil {
		return nil, err
	}
	summaries := make([]model.MixSummary, 0, len(mixes))
	for _, m := range mixes {
		summaries = append(summaries, m.Summary())
	}
	return summaries, nil
}

// StreamArtifact opens the stored mix audio. Blocks only on storage
// I/O, never on the pipeline.
func (o *Orchestrator) StreamArtifact(ctx context.Context, id string) (io.ReadCloser, error) {
	mix, err := o.GetMix(ctx, id)
	if err != nil {
		return nil, err
	}
	if mix.Status != model.MixCompleted {
		return nil, fmt.Errorf("%w: status is %s", ErrNotReady, mix.Status)
	}
	return o.store.GetArtifact(ctx, id)
}

// CancelMix stops any in-flight pipeline for the id promptly and
// removes the record and artifact. After cancellation no further
// status transition can be observed: the row is gone, and the guarded
// updates the pipeline would issue match zero rows.
func (o *Orchestrator) CancelMix(ctx context.Context, id string) error {
	mix, err := o.repo.GetMixByID(ctx, id)
	if err != nil {
		return err
	}
	if mix == nil {
		return ErrNotFound
	}

	o.mu.Lock()
	if cancel, ok := o.inflight[id]; ok {
		cancel()
		delete(o.inflight, id)
	}
	o.mu.Unlock()

	if mix.ArtifactPath != "" {
		if err := o.store.RemoveArtifact(ctx, id); err != nil {
			logger.Warn("取消时删除制品失败", logger.String("mixId", id), logger.ErrorField(err))
		}
	}
	if err := o.repo.DeleteMix(ctx, id); err != nil {
		return err
	}
	cache.DeleteMix(ctx, id)

	logger.Info("混音任务已取消", logger.String("mixId", id), logger.String("status", string(mix.Status)))
	return nil
}

func (o *Orchestrator) clearInflight(id string) {
	o.mu.Lock()
	if cancel, ok := o.inflight[id]; ok {
		cancel()
		delete(o.inflight, id)
	}
	o.mu.Unlock()
}

// publish 把当前状态广播给订阅者
func (o *Orchestrator) publish(mix *model.Mix) {
	if o.hub == nil {
		return
	}
	o.hub.Publish(StatusEvent{
		MixID:     mix.ID,
		Status:    mix.Status,
		Duration:  mix.Duration,
		Reason:    mix.FailReason,
		Timestamp: time.Now(),
	})
}
