package model

import "safechat-go/pkg/moderation"

// 双向事件流的事件类型。
const (
	EventRegisterUsername = "register_username"
	EventMessage          = "message"
	EventMessageBlocked   = "messageBlocked"
	EventError            = "error"
)

// InboundEvent 是客户端发往服务端的事件信封。
type InboundEvent struct {
	Type     string `json:"type"`
	Username string `json:"username,omitempty"`
	Text     string `json:"text,omitempty"`
	// author 仅供参考，服务端始终以注册名为准。
	Author string `json:"author,omitempty"`
}

// OutboundMessage 是服务端广播消息的信封。
type OutboundMessage struct {
	Type string `json:"type"`
	ChatMessage
}

// NewOutboundMessage 把一条聊天消息包进广播信封。
func NewOutboundMessage(msg ChatMessage) OutboundMessage {
	return OutboundMessage{Type: EventMessage, ChatMessage: msg}
}

// BlockedNotice 只发给消息来源连接的拦截通知。
type BlockedNotice struct {
	Type      string              `json:"type"`
	ID        string              `json:"id,omitempty"`
	Text      string              `json:"text"`
	Reason    string              `json:"reason"`
	Details   *moderation.Details `json:"details,omitempty"`
	Timestamp int64               `json:"timestamp"`
}

// NewBlockedNotice 构造拦截通知信封。
func NewBlockedNotice(id, text, reason string, details *moderation.Details, timestamp int64) BlockedNotice {
	return BlockedNotice{
		Type:      EventMessageBlocked,
		ID:        id,
		Text:      text,
		Reason:    reason,
		Details:   details,
		Timestamp: timestamp,
	}
}

// ErrorNotice 发给来源连接的错误信封。
type ErrorNotice struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// NewErrorNotice 构造错误信封。
func NewErrorNotice(message, detail string) ErrorNotice {
	return ErrorNotice{Type: EventError, Message: message, Error: detail}
}
