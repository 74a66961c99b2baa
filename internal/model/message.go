// Package model 包含了应用的数据模型定义。
package model

import (
	"time"

	"safechat-go/pkg/moderation"
)

// ChatMessage 代表广播给所有连接的一条聊天消息。创建后不可变更。
type ChatMessage struct {
	// 由连接 ID、发送时间和连接内序号派生，单次发送内唯一。
	ID               string              `json:"id"`
	Text             string              `json:"text"`
	Author           string              `json:"author"`
	Timestamp        int64               `json:"timestamp"` // Unix 毫秒
	ModerationStatus string              `json:"moderationStatus"`
	IsAI             bool                `json:"isAI,omitempty"`
	Details          *moderation.Details `json:"details,omitempty"`
}

// HistoryEntry 代表某连接对话历史中的一条交换记录，只用作 AI 提示词上下文。
type HistoryEntry struct {
	Author    string
	Text      string
	IsAI      bool
	Timestamp time.Time
}
