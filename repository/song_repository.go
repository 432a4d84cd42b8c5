package repository

import (
	"context"

	"XSlicer/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SongRepository 歌曲目录数据访问接口
type SongRepository interface {
	Upsert(ctx context.Context, entry *model.SongEntry) error
	GetByID(ctx context.Context, id string) (*model.SongEntry, error)
	List(ctx context.Context, artist string, limit, offset int) ([]*model.SongEntry, int64, error)
	Delete(ctx context.Context, id string) error
}

// gormSongRepository GORM 实现
type gormSongRepository struct {
	db *gorm.DB
}

// NewGormSongRepository 创建 GORM 歌曲目录仓库
func NewGormSongRepository(db *gorm.DB) SongRepository {
	return &gormSongRepository{db: db}
}

// Upsert 插入或更新目录条目
func (r *gormSongRepository) Upsert(ctx context.Context, entry *model.SongEntry) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(entry).Error
}

// GetByID 根据ID获取目录条目
func (r *gormSongRepository) GetByID(ctx context.Context, id string) (*model.SongEntry, error) {
	var entry model.SongEntry
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&entry).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

// List 分页列出目录，可按艺术家过滤
func (r *gormSongRepository) List(ctx context.Context, artist string, limit, offset int) ([]*model.SongEntry, int64, error) {
	query := r.db.WithContext(ctx).Model(&model.SongEntry{})
	if artist != "" {
		query = query.Where("artist = ?", artist)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var entries []*model.SongEntry
	err := query.Order("analyzed_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&entries).Error
	return entries, total, err
}

// Delete 删除目录条目
func (r *gormSongRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.SongEntry{}).Error
}

// CatalogSink records every published song in the catalog table.
type CatalogSink struct {
	repo SongRepository
}

// NewCatalogSink creates a pipeline sink backed by repo.
func NewCatalogSink(repo SongRepository) *CatalogSink {
	return &CatalogSink{repo: repo}
}

// Published upserts the catalog row of rec.
func (s *CatalogSink) Published(ctx context.Context, rec *model.ContentRecord) error {
	return s.repo.Upsert(ctx, model.NewSongEntry(rec))
}
