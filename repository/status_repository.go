package repository

import (
	"context"
	"fmt"

	"AutoFM/db"
	"AutoFM/model"

	"gorm.io/gorm"
)

// StatusCheckRepository 定义客户端状态上报的存取
type StatusCheckRepository interface {
	CreateStatusCheck(ctx context.Context, check *model.StatusCheck) error
	GetStatusChecks(ctx context.Context, limit int) ([]*model.StatusCheck, error)
}

type gormStatusCheckRepository struct {
	DB *gorm.DB
}

// NewGormStatusCheckRepository creates a new instance of gormStatusCheckRepository.
func NewGormStatusCheckRepository() StatusCheckRepository {
	return &gormStatusCheckRepository{DB: db.GormDB}
}

// CreateStatusCheck 新增一条上报记录
func (r *gormStatusCheckRepository) CreateStatusCheck(ctx context.Context, check *model.StatusCheck) error {
	if err := r.DB.WithContext(ctx).Create(check).Error; err != nil {
		return fmt.Errorf("failed to create status check: %w", err)
	}
	return nil
}

// GetStatusChecks 按时间倒序返回最近的上报记录
func (r *gormStatusCheckRepository) GetStatusChecks(ctx context.Context, limit int) ([]*model.StatusCheck, error) {
	if limit <= 0 {
		limit = 1000
	}
	checks := make([]*model.StatusCheck, 0)
	err := r.DB.WithContext(ctx).Order("timestamp DESC").Limit(limit).Find(&checks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query status checks: %w", err)
	}
	return checks, nil
}
