// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"safechat-go/internal/model"
)

// FeedbackRepository 定义了误判反馈记录的操作接口。
type FeedbackRepository interface {
	Create(ctx context.Context, record *model.FeedbackRecord) error
	ListByDate(ctx context.Context, day time.Time) ([]model.FeedbackRecord, error)
	CountByDate(ctx context.Context, day time.Time) (model.FeedbackAnalytics, error)
}

type mysqlFeedbackRepository struct {
	db *gorm.DB
}

// NewFeedbackRepository 创建一个新的 FeedbackRepository 实例。
func NewFeedbackRepository(db *gorm.DB) FeedbackRepository {
	return &mysqlFeedbackRepository{db: db}
}

// Create 写入一条反馈记录。
func (r *mysqlFeedbackRepository) Create(ctx context.Context, record *model.FeedbackRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

// ListByDate 返回指定自然日内的全部反馈记录，按时间先后排序。
func (r *mysqlFeedbackRepository) ListByDate(ctx context.Context, day time.Time) ([]model.FeedbackRecord, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.Add(24 * time.Hour)

	var records []model.FeedbackRecord
	err := r.db.WithContext(ctx).
		Where("created_at >= ? AND created_at < ?", start, end).
		Order("created_at ASC").
		Find(&records).Error
	return records, err
}

// CountByDate 从数据库聚合指定自然日的反馈统计。
func (r *mysqlFeedbackRepository) CountByDate(ctx context.Context, day time.Time) (model.FeedbackAnalytics, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.Add(24 * time.Hour)

	stats := model.FeedbackAnalytics{Date: start.Format("2006-01-02")}
	// Session 让条件可以安全复用在多个计数查询上
	base := r.db.WithContext(ctx).Model(&model.FeedbackRecord{}).
		Where("created_at >= ? AND created_at < ?", start, end).
		Session(&gorm.Session{})

	if err := base.Count(&stats.Total).Error; err != nil {
		return stats, err
	}
	if err := base.Where("is_false_positive = ?", true).Count(&stats.FalsePositives).Error; err != nil {
		return stats, err
	}
	if err := base.Where("is_false_negative = ?", true).Count(&stats.FalseNegatives).Error; err != nil {
		return stats, err
	}
	if err := base.Where("was_blocked = ?", true).Count(&stats.Blocked).Error; err != nil {
		return stats, err
	}
	if stats.Total > 0 {
		stats.BlockRate = float64(stats.Blocked) / float64(stats.Total)
	}
	return stats, nil
}
