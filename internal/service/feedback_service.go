package service

import (
	"context"
	"fmt"
	"time"

	"safechat-go/internal/model"
	"safechat-go/internal/repository"
	"safechat-go/pkg/log"
)

// FeedbackInput 是反馈接口的入参。
type FeedbackInput struct {
	MessageID             string `json:"messageId"`
	MessageText           string `json:"messageText"`
	WasBlocked            bool   `json:"wasBlocked"`
	ShouldHaveBeenBlocked bool   `json:"shouldHaveBeenBlocked"`
	ModerationResult      string `json:"moderationResult"`
	Reason                string `json:"reason"`
}

// FeedbackService 定义了误判反馈的接收、入库与统计接口。
type FeedbackService interface {
	// Submit 接收一条反馈：推导误杀/漏网标记后交给发布函数（Kafka），
	// 未配置发布函数时同步入库。
	Submit(ctx context.Context, input FeedbackInput) (*model.FeedbackRecord, error)
	// Process 消费侧处理：写库并更新聚合计数。
	Process(ctx context.Context, record model.FeedbackRecord) error
	Logs(ctx context.Context, day time.Time) ([]model.FeedbackRecord, error)
	Analytics(ctx context.Context, date string) (model.FeedbackAnalytics, error)
}

// PublishFunc 把一条反馈记录交给异步管道。
type PublishFunc func(record model.FeedbackRecord) error

type feedbackService struct {
	feedbackRepo  repository.FeedbackRepository
	analyticsRepo repository.AnalyticsRepository
	publish       PublishFunc
}

// NewFeedbackService 创建一个新的 FeedbackService 实例。
// analyticsRepo 或 publish 可以为 nil（测试或未部署 Redis/Kafka 的场景）。
func NewFeedbackService(feedbackRepo repository.FeedbackRepository, analyticsRepo repository.AnalyticsRepository, publish PublishFunc) FeedbackService {
	return &feedbackService{
		feedbackRepo:  feedbackRepo,
		analyticsRepo: analyticsRepo,
		publish:       publish,
	}
}

// Submit 接收一条反馈并送入处理管道。
func (s *feedbackService) Submit(ctx context.Context, input FeedbackInput) (*model.FeedbackRecord, error) {
	record := model.FeedbackRecord{
		MessageID:             input.MessageID,
		MessageText:           input.MessageText,
		WasBlocked:            input.WasBlocked,
		ShouldHaveBeenBlocked: input.ShouldHaveBeenBlocked,
		// 误杀：拦了不该拦的；漏网：没拦该拦的
		IsFalsePositive:  input.WasBlocked && !input.ShouldHaveBeenBlocked,
		IsFalseNegative:  !input.WasBlocked && input.ShouldHaveBeenBlocked,
		ModerationResult: input.ModerationResult,
		Reason:           input.Reason,
		CreatedAt:        time.Now(),
	}

	if s.publish != nil {
		if err := s.publish(record); err != nil {
			return nil, fmt.Errorf("failed to publish feedback record: %w", err)
		}
		return &record, nil
	}

	if err := s.Process(ctx, record); err != nil {
		return nil, err
	}
	return &record, nil
}

// Process 把一条反馈记录写入数据库并累计当天统计。
// 统计计数失败只记日志，不影响记录本身入库。
func (s *feedbackService) Process(ctx context.Context, record model.FeedbackRecord) error {
	if err := s.feedbackRepo.Create(ctx, &record); err != nil {
		return fmt.Errorf("failed to persist feedback record: %w", err)
	}

	if s.analyticsRepo != nil {
		if err := s.analyticsRepo.RecordFeedback(ctx, &record); err != nil {
			log.Warnf("更新反馈统计计数失败: %v", err)
		}
	}
	return nil
}

// Logs 返回指定自然日的反馈记录。
func (s *feedbackService) Logs(ctx context.Context, day time.Time) ([]model.FeedbackRecord, error) {
	return s.feedbackRepo.ListByDate(ctx, day)
}

// Analytics 返回指定日期的聚合统计。优先读 Redis 计数，
// Redis 不可用或当天没有计数时回落到数据库聚合。
func (s *feedbackService) Analytics(ctx context.Context, date string) (model.FeedbackAnalytics, error) {
	if s.analyticsRepo != nil {
		stats, err := s.analyticsRepo.GetDaily(ctx, date)
		if err == nil && stats.Total > 0 {
			return stats, nil
		}
		if err != nil {
			log.Warnf("读取反馈统计计数失败，回落到数据库聚合: %v", err)
		}
	}

	day, err := time.ParseInLocation("2006-01-02", date, time.Local)
	if err != nil {
		return model.FeedbackAnalytics{}, fmt.Errorf("invalid date %q: %w", date, err)
	}
	return s.feedbackRepo.CountByDate(ctx, day)
}
