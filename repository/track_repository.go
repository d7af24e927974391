package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"AutoFM/db"
	"AutoFM/logger"
	"AutoFM/model"

	"gorm.io/gorm"
)

// TrackRepository 定义曲目目录的数据操作（GORM 路径）
type TrackRepository interface {
	SaveTrack(ctx context.Context, track *model.Track) error
	GetTrackByID(ctx context.Context, id string) (*model.Track, error)
	GetTracksByGenre(ctx context.Context, genre string) ([]*model.Track, error)
	SaveAnalyzedTrack(ctx context.Context, desc model.TrackDescriptor, analysis *model.TrackAnalysis) error
}

// gormTrackRepository implements TrackRepository on the GORM connection.
type gormTrackRepository struct {
	DB *gorm.DB
}

// NewGormTrackRepository creates a new instance of gormTrackRepository.
func NewGormTrackRepository() TrackRepository {
	return &gormTrackRepository{DB: db.GormDB}
}

// SaveTrack 保存或更新曲目记录
func (r *gormTrackRepository) SaveTrack(ctx context.Context, track *model.Track) error {
	if err := r.DB.WithContext(ctx).Save(track).Error; err != nil {
		return fmt.Errorf("failed to save track %s: %w", track.ID, err)
	}
	return nil
}

// GetTrackByID 按ID查询曲目，未找到时返回 (nil, nil)
func (r *gormTrackRepository) GetTrackByID(ctx context.Context, id string) (*model.Track, error) {
	var track model.Track
	err := r.DB.WithContext(ctx).First(&track, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query track %s: %w", id, err)
	}
	return &track, nil
}

// GetTracksByGenre 按流派列出曲目，genre为空时返回全部
func (r *gormTrackRepository) GetTracksByGenre(ctx context.Context, genre string) ([]*model.Track, error) {
	tracks := make([]*model.Track, 0)
	q := r.DB.WithContext(ctx).Order("created_at DESC")
	if genre != "" {
		q = q.Where("genre = ?", genre)
	}
	if err := q.Find(&tracks).Error; err != nil {
		return nil, fmt.Errorf("failed to query tracks by genre %q: %w", genre, err)
	}
	return tracks, nil
}

// SaveAnalyzedTrack persists the catalog view of an analyzed candidate:
// waveform and highlight windows are stored as JSON text columns.
func (r *gormTrackRepository) SaveAnalyzedTrack(ctx context.Context, desc model.TrackDescriptor, analysis *model.TrackAnalysis) error {
	waveform, err := json.Marshal(analysis.Energy)
	if err != nil {
		return fmt.Errorf("failed to marshal waveform for track %s: %w", desc.ID, err)
	}
	highlights, err := json.Marshal(analysis.Highlights)
	if err != nil {
		return fmt.Errorf("failed to marshal highlights for track %s: %w", desc.ID, err)
	}

	track := &model.Track{
		ID:        desc.ID,
		Title:     desc.Title,
		Artist:    desc.Artist,
		Genre:     desc.Genre,
		SourceURL: desc.SourceURL,
		Duration:  analysis.Duration,
		BPM:       analysis.BPM,
		Key:       string(analysis.Key),
		Waveform:  string(waveform),
		Highlight: string(highlights),
	}
	if err := r.SaveTrack(ctx, track); err != nil {
		return err
	}

	logger.Debug("曲目分析结果已入库",
		logger.String("trackId", desc.ID),
		logger.Float64("bpm", analysis.BPM),
		logger.String("key", string(analysis.Key)))
	return nil
}
