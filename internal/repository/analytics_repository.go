package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"safechat-go/internal/model"
)

// 聚合计数在 Redis 中保留 30 天。
const analyticsTTL = 30 * 24 * time.Hour

// AnalyticsRepository 定义了按天聚合的反馈统计计数接口。
// 计数由 Kafka 消费者在入库时维护，读取侧直接取哈希。
type AnalyticsRepository interface {
	RecordFeedback(ctx context.Context, record *model.FeedbackRecord) error
	GetDaily(ctx context.Context, date string) (model.FeedbackAnalytics, error)
}

type redisAnalyticsRepository struct {
	redisClient *redis.Client
}

// NewAnalyticsRepository 创建一个新的 AnalyticsRepository 实例。
func NewAnalyticsRepository(redisClient *redis.Client) AnalyticsRepository {
	return &redisAnalyticsRepository{redisClient: redisClient}
}

func analyticsKey(date string) string {
	return fmt.Sprintf("feedback:stats:%s", date)
}

// RecordFeedback 把一条反馈记录累计进当天的哈希计数。
func (r *redisAnalyticsRepository) RecordFeedback(ctx context.Context, record *model.FeedbackRecord) error {
	key := analyticsKey(record.CreatedAt.Format("2006-01-02"))

	pipe := r.redisClient.TxPipeline()
	pipe.HIncrBy(ctx, key, "total", 1)
	if record.IsFalsePositive {
		pipe.HIncrBy(ctx, key, "false_positives", 1)
	}
	if record.IsFalseNegative {
		pipe.HIncrBy(ctx, key, "false_negatives", 1)
	}
	if record.WasBlocked {
		pipe.HIncrBy(ctx, key, "blocked", 1)
	}
	pipe.Expire(ctx, key, analyticsTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to update feedback counters: %w", err)
	}
	return nil
}

// GetDaily 读取指定日期的聚合计数。日期格式 2006-01-02。
func (r *redisAnalyticsRepository) GetDaily(ctx context.Context, date string) (model.FeedbackAnalytics, error) {
	stats := model.FeedbackAnalytics{Date: date}

	fields, err := r.redisClient.HGetAll(ctx, analyticsKey(date)).Result()
	if err != nil {
		return stats, fmt.Errorf("failed to read feedback counters: %w", err)
	}

	stats.Total = parseCounter(fields, "total")
	stats.FalsePositives = parseCounter(fields, "false_positives")
	stats.FalseNegatives = parseCounter(fields, "false_negatives")
	stats.Blocked = parseCounter(fields, "blocked")
	if stats.Total > 0 {
		stats.BlockRate = float64(stats.Blocked) / float64(stats.Total)
	}
	return stats, nil
}

func parseCounter(fields map[string]string, name string) int64 {
	value, err := strconv.ParseInt(fields[name], 10, 64)
	if err != nil {
		return 0
	}
	return value
}
