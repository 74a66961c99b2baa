package model

import "time"

// FeedbackRecord 代表一条误判反馈（误杀/漏网）记录。
type FeedbackRecord struct {
	ID                    uint   `gorm:"primaryKey" json:"id"`
	MessageID             string `gorm:"size:128;index" json:"messageId"`
	MessageText           string `gorm:"type:text" json:"messageText"`
	WasBlocked            bool   `json:"wasBlocked"`
	ShouldHaveBeenBlocked bool   `json:"shouldHaveBeenBlocked"`
	// 二者由 wasBlocked 与 shouldHaveBeenBlocked 推导，入库时固化。
	IsFalsePositive  bool      `json:"isFalsePositive"`
	IsFalseNegative  bool      `json:"isFalseNegative"`
	ModerationResult string    `gorm:"type:text" json:"moderationResult"`
	Reason           string    `gorm:"type:text" json:"reason"`
	CreatedAt        time.Time `gorm:"autoCreateTime;index" json:"createdAt"`
}

func (FeedbackRecord) TableName() string {
	return "feedback_records"
}

// FeedbackAnalytics 是按天聚合的反馈统计。
type FeedbackAnalytics struct {
	Date           string  `json:"date"`
	Total          int64   `json:"total"`
	FalsePositives int64   `json:"falsePositives"`
	FalseNegatives int64   `json:"falseNegatives"`
	Blocked        int64   `json:"blocked"`
	BlockRate      float64 `json:"blockRate"`
}
