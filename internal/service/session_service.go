// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"safechat-go/internal/config"
	"safechat-go/internal/hub"
	"safechat-go/internal/model"
	"safechat-go/pkg/ai"
	"safechat-go/pkg/log"
	"safechat-go/pkg/moderation"
	"safechat-go/pkg/ratelimit"
)

// AI 消息发送窗口固定为每分钟 10 条，不随用户侧配置变化。
const aiRateLimitPerMinute = 10

// SessionService 驱动单个连接的状态机与消息处理管道：
// 接收 → 净化 → 限流 → 审核 → 广播/拦截 → （异步）AI 回合 → 审核 AI 输出 → 广播。
// 四张按连接划分的状态表（两个限流窗口、历史、注册名）都归本层所有，
// 连接断开时必须全部清除。
type SessionService struct {
	hub       *hub.Hub
	moderator moderation.Client
	responder ai.Responder

	userLimiter *ratelimit.Limiter
	aiLimiter   *ratelimit.Limiter
	history     *HistoryStore

	chatCfg config.ChatConfig
	aiCfg   config.AIConfig

	registry *sessionRegistry
}

// NewSessionService 创建会话服务。
func NewSessionService(h *hub.Hub, moderator moderation.Client, responder ai.Responder, chatCfg config.ChatConfig, aiCfg config.AIConfig) *SessionService {
	return &SessionService{
		hub:         h,
		moderator:   moderator,
		responder:   responder,
		userLimiter: ratelimit.NewLimiter(),
		aiLimiter:   ratelimit.NewLimiter(),
		history:     NewHistoryStore(aiCfg.ConversationHistorySize),
		chatCfg:     chatCfg,
		aiCfg:       aiCfg,
		registry:    newSessionRegistry(),
	}
}

// HandleConnect 在传输连接建立后进入"已连接未命名"状态。
func (s *SessionService) HandleConnect(client *hub.Client) {
	log.Infof("连接已建立: %s", client.ID)
}

// HandleRegister 处理注册事件。修剪后长度 1-20 的名字才被接受；
// 成功后异步生成一条问候，只单播给注册的这条连接。
func (s *SessionService) HandleRegister(ctx context.Context, client *hub.Client, username string) {
	name := trimmedName(username)
	if name == "" || utf8.RuneCountInString(name) > 20 {
		s.hub.Unicast(client.ID, model.NewErrorNotice("username must be 1-20 characters after trimming", ""))
		return
	}

	// 重复注册只更新显示名，不再触发问候（防止反复改名刷 AI 调用）
	_, renamed := s.registry.name(client.ID)
	s.registry.setName(client.ID, name)
	log.Infof("连接 %s 注册为 '%s'", client.ID, name)

	if s.aiCfg.Enabled && !renamed {
		// 主流程不等待问候生成
		go s.greetingTurn(client.ID, name)
	}
}

// HandleMessage 处理一条用户消息，状态必须是"已命名"。
func (s *SessionService) HandleMessage(ctx context.Context, client *hub.Client, text string) {
	name, ok := s.registry.name(client.ID)
	if !ok {
		s.hub.Unicast(client.ID, model.NewErrorNotice("register a username before sending messages", ""))
		return
	}

	sanitized := SanitizeText(text)
	if sanitized == "" {
		s.hub.Unicast(client.ID, model.NewErrorNotice("message is empty", ""))
		return
	}
	if utf8.RuneCountInString(sanitized) > s.chatCfg.MaxMessageLength {
		s.hub.Unicast(client.ID, model.NewErrorNotice(
			fmt.Sprintf("message exceeds %d characters", s.chatCfg.MaxMessageLength), ""))
		return
	}

	// 1. 用户侧限流：拒绝时不走审核、不广播、不触发 AI
	if !s.userLimiter.Allow(client.ID, s.chatCfg.RateLimitPerMinute) {
		s.hub.Unicast(client.ID, model.NewBlockedNotice(
			"", sanitized, "rate limited: too many messages, slow down", nil, time.Now().UnixMilli()))
		return
	}

	// 2. 审核分类（上游失败降级放行）
	outcome := s.moderator.Classify(ctx, sanitized)
	id, timestamp := s.registry.nextMessageID(client.ID)

	if outcome.Blocked {
		// 3a. 拦截：只通知来源连接，随后异步让 AI 解释这次拦截
		s.hub.Unicast(client.ID, model.NewBlockedNotice(id, sanitized, outcome.Reason, outcome.Details, timestamp))
		go s.aiTurn(client.ID, sanitized, outcome, true)
		return
	}

	// 3b. 放行：构造消息、记入历史、广播给所有连接，再异步触发 AI 回合。
	// 主通知先入队，连接内发送队列保证用户先看到自己消息的结果。
	msg := model.ChatMessage{
		ID:               id,
		Text:             sanitized,
		Author:           name,
		Timestamp:        timestamp,
		ModerationStatus: outcome.Reason,
		Details:          outcome.Details,
	}
	s.history.Append(client.ID, model.HistoryEntry{
		Author:    name,
		Text:      sanitized,
		Timestamp: time.UnixMilli(timestamp),
	})
	s.hub.Broadcast(model.NewOutboundMessage(msg))
	go s.aiTurn(client.ID, sanitized, outcome, false)
}

// HandleDisconnect 清除该连接的全部状态并进入终态。可以重复调用。
func (s *SessionService) HandleDisconnect(client *hub.Client) {
	s.hub.Unregister(client.ID)
	s.userLimiter.Purge(client.ID)
	s.aiLimiter.Purge(client.ID)
	s.history.Purge(client.ID)
	s.registry.purge(client.ID)
	log.Infof("连接已断开并清理: %s", client.ID)
}

// Shutdown 清空全部会话状态，停机时调用。
func (s *SessionService) Shutdown() {
	s.userLimiter.PurgeAll()
	s.aiLimiter.PurgeAll()
	s.history.PurgeAll()
	s.registry.purgeAll()
}

// greetingTurn 为新注册用户生成问候。成功且通过审核时只单播给该连接，
// 并记入该连接的历史；失败对终端用户完全静默。
func (s *SessionService) greetingTurn(connID, displayName string) {
	if !s.aiLimiter.Allow(connID, aiRateLimitPerMinute) {
		return
	}

	// 即使原始请求已结束也要完成生成，使用后台上下文
	greeting, err := s.responder.Greet(context.Background(), displayName)
	if err != nil {
		s.logAIError("greeting", err)
		return
	}
	if greeting == "" {
		return
	}

	outcome := s.moderator.Classify(context.Background(), greeting)
	if outcome.Blocked {
		log.Debugf("AI 问候被审核拦截，静默丢弃: %s", outcome.Reason)
		return
	}

	msg := s.buildAIMessage(connID, greeting, outcome)
	s.history.Append(connID, model.HistoryEntry{
		Author:    s.aiCfg.Name,
		Text:      greeting,
		IsAI:      true,
		Timestamp: time.UnixMilli(msg.Timestamp),
	})
	s.hub.Unicast(connID, model.NewOutboundMessage(msg))
}

// aiTurn 在主通知之后异步执行一次 AI 回合。受 AI 侧限流窗口约束；
// AI 自己的输出也要过审核，被拦截就静默丢弃。
func (s *SessionService) aiTurn(connID, userText string, outcome moderation.Outcome, wasBlocked bool) {
	if !s.aiCfg.Enabled {
		return
	}
	if !s.aiLimiter.Allow(connID, aiRateLimitPerMinute) {
		log.Debugf("AI 回合被限流跳过: %s", connID)
		return
	}

	history := s.history.Get(connID)
	reply, err := s.responder.Respond(context.Background(), userText, outcome, history, wasBlocked)
	if err != nil {
		s.logAIError("response", err)
		return
	}
	if reply == "" {
		return
	}

	aiOutcome := s.moderator.Classify(context.Background(), reply)
	if aiOutcome.Blocked {
		log.Debugf("AI 回复被审核拦截，静默丢弃: %s", aiOutcome.Reason)
		return
	}

	msg := s.buildAIMessage(connID, reply, aiOutcome)
	s.history.Append(connID, model.HistoryEntry{
		Author:    s.aiCfg.Name,
		Text:      reply,
		IsAI:      true,
		Timestamp: time.UnixMilli(msg.Timestamp),
	})
	s.hub.Broadcast(model.NewOutboundMessage(msg))
}

func (s *SessionService) buildAIMessage(connID, text string, outcome moderation.Outcome) model.ChatMessage {
	id, timestamp := s.registry.nextMessageID(connID)
	return model.ChatMessage{
		ID:               id,
		Text:             text,
		Author:           s.aiCfg.Name,
		Timestamp:        timestamp,
		ModerationStatus: outcome.Reason,
		IsAI:             true,
		Details:          outcome.Details,
	}
}

// logAIError 按错误分类记录 AI 失败。设计上失败对用户不可见。
func (s *SessionService) logAIError(kind string, err error) {
	switch {
	case errors.Is(err, ai.ErrAuth):
		log.Errorf("AI %s 失败: 鉴权错误: %v", kind, err)
	case ai.IsRateLimited(err):
		log.Warnf("AI %s 失败: 上游限流: %v", kind, err)
	case errors.Is(err, ai.ErrTimeout):
		log.Warnf("AI %s 失败: 请求超时: %v", kind, err)
	case errors.Is(err, ai.ErrModelNotFound):
		log.Errorf("AI %s 失败: 模型不存在: %v", kind, err)
	default:
		log.Warnf("AI %s 失败: %v", kind, err)
	}
}
