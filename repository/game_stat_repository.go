package repository

import (
	"context"

	"XSlicer/model"

	"gorm.io/gorm"
)

// GameStatRepository 游戏统计数据访问接口
type GameStatRepository interface {
	Create(ctx context.Context, stat *model.GameStat) error
	GetByID(ctx context.Context, id int64) (*model.GameStat, error)
	ListByPlayer(ctx context.Context, playerID string, limit, offset int) ([]*model.GameStat, error)
	Delete(ctx context.Context, id int64) (bool, error)
}

type gormGameStatRepository struct {
	db *gorm.DB
}

// NewGormGameStatRepository 创建 GORM 游戏统计仓库
func NewGormGameStatRepository(db *gorm.DB) GameStatRepository {
	return &gormGameStatRepository{db: db}
}

// Create 创建统计记录
func (r *gormGameStatRepository) Create(ctx context.Context, stat *model.GameStat) error {
	return r.db.WithContext(ctx).Create(stat).Error
}

// GetByID 根据ID获取统计记录
func (r *gormGameStatRepository) GetByID(ctx context.Context, id int64) (*model.GameStat, error) {
	var stat model.GameStat
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&stat).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &stat, nil
}

// ListByPlayer 列出统计记录；playerID 为空时列出全部
func (r *gormGameStatRepository) ListByPlayer(ctx context.Context, playerID string, limit, offset int) ([]*model.GameStat, error) {
	query := r.db.WithContext(ctx).Model(&model.GameStat{})
	if playerID != "" {
		query = query.Where("player_id = ?", playerID)
	}
	var stats []*model.GameStat
	err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&stats).Error
	return stats, err
}

// Delete 删除统计记录，返回是否存在
func (r *gormGameStatRepository) Delete(ctx context.Context, id int64) (bool, error) {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.GameStat{})
	return res.RowsAffected > 0, res.Error
}
