// Package kafka 提供了反馈记录异步管道的生产者与消费者。
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"safechat-go/internal/config"
	"safechat-go/internal/model"
	"safechat-go/pkg/database"
	"safechat-go/pkg/log"
)

// FeedbackProcessor defines the interface for any service that can process a feedback record.
// This decouples the Kafka consumer from the concrete service implementation.
type FeedbackProcessor interface {
	Process(ctx context.Context, record model.FeedbackRecord) error
}

var producer *kafka.Writer

// InitProducer 初始化 Kafka 生产者。
func InitProducer(cfg config.KafkaConfig) {
	producer = &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}
	log.Info("Kafka 生产者初始化成功")
}

// ProduceFeedbackRecord 把一条反馈记录发送到 Kafka。
func ProduceFeedbackRecord(record model.FeedbackRecord) error {
	recordBytes, err := json.Marshal(record)
	if err != nil {
		return err
	}

	return producer.WriteMessages(context.Background(),
		kafka.Message{
			Key:   []byte(record.MessageID),
			Value: recordBytes,
		},
	)
}

// CloseProducer 关闭生产者连接。
func CloseProducer() {
	if producer != nil {
		_ = producer.Close()
	}
}

// StartConsumer 启动一个 Kafka 消费者来处理反馈记录。
func StartConsumer(cfg config.KafkaConfig, processor FeedbackProcessor) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  []string{cfg.Brokers},
		Topic:    cfg.Topic,
		GroupID:  "safechat-feedback-consumer",
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})

	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.Topic)

	for {
		m, err := r.FetchMessage(context.Background())
		if err != nil {
			log.Error("从 Kafka 读取消息失败", err)
			break
		}

		var record model.FeedbackRecord
		if err := json.Unmarshal(m.Value, &record); err != nil {
			log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
			// 消息格式错误，直接提交，避免阻塞队列
			if err := r.CommitMessages(context.Background(), m); err != nil {
				log.Errorf("提交错误消息失败: %v", err)
			}
			continue
		}

		if err := processor.Process(context.Background(), record); err != nil {
			log.Errorf("处理反馈记录失败: messageId=%s, error: %v", record.MessageID, err)
			// 使用 Redis 计数失败次数，达到阈值后提交 offset 终止重试
			attemptsKey := fmt.Sprintf("kafka:attempts:%s", record.MessageID)
			attempts, incErr := database.RDB.Incr(context.Background(), attemptsKey).Result()
			if incErr != nil {
				// Redis 异常时保守处理：不提交 offset，让 Kafka 重试
				continue
			}
			_ = database.RDB.Expire(context.Background(), attemptsKey, 24*time.Hour).Err()
			if attempts >= 3 {
				log.Errorf("反馈记录多次处理失败(>=3)，提交 offset 终止重试: messageId=%s", record.MessageID)
				if err := r.CommitMessages(context.Background(), m); err != nil {
					log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
				}
			}
		} else {
			// 清理失败计数并提交 offset
			_ = database.RDB.Del(context.Background(), fmt.Sprintf("kafka:attempts:%s", record.MessageID)).Err()
			if err := r.CommitMessages(context.Background(), m); err != nil {
				log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
			}
		}
	}

	if err := r.Close(); err != nil {
		log.Errorf("关闭 Kafka 消费者失败: %v", err)
	}
}
