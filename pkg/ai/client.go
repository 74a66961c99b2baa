// Package ai 提供对话 AI 提供商的客户端：构建提示词、调用接口、解析回复，
// 并把上游错误映射为可区分的错误分类。
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"safechat-go/internal/config"
	"safechat-go/internal/model"
	"safechat-go/pkg/log"
	"safechat-go/pkg/moderation"
)

// Responder 定义对话 AI 的接口。两个方法都可能返回提供商错误，
// 调用方视为"跳过本回合，不广播"。
type Responder interface {
	// Greet 为刚注册的用户生成一条问候。
	Greet(ctx context.Context, displayName string) (string, error)
	// Respond 针对一条用户消息生成回复。wasBlocked 为真时切换为"解释拦截"人设，
	// 并在当前回合中告知被拦截的最高分类。
	Respond(ctx context.Context, userText string, outcome moderation.Outcome, history []model.HistoryEntry, wasBlocked bool) (string, error)
	Close()
}

type openAICompatibleResponder struct {
	cfg config.AIConfig

	// 懒初始化的缓存 HTTP 客户端，并发首用只建一份。
	clientOnce sync.Once
	client     *http.Client
}

// NewResponder 创建一个新的对话 AI 客户端。
func NewResponder(cfg config.AIConfig) Responder {
	return &openAICompatibleResponder{cfg: cfg}
}

func (r *openAICompatibleResponder) httpClient() *http.Client {
	r.clientOnce.Do(func() {
		timeout := time.Duration(r.cfg.TimeoutSeconds) * time.Second
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		r.client = &http.Client{Timeout: timeout}
	})
	return r.client
}

// Close 关闭缓存的上游连接。
func (r *openAICompatibleResponder) Close() {
	if r.client != nil {
		r.client.CloseIdleConnections()
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

const defaultPersona = "You are a friendly, slightly playful member of a small group chat. " +
	"You talk like a regular participant, keep replies short and conversational, and never mention being an AI system."

// buildSystemMessage 组装 system 提示词：人设规则加上按 wasBlocked 选择的行为变体。
func (r *openAICompatibleResponder) buildSystemMessage(wasBlocked bool) string {
	persona := r.cfg.Persona
	if persona == "" {
		persona = defaultPersona
	}

	var sys strings.Builder
	sys.WriteString(fmt.Sprintf("Your name in this chat is %s. ", r.cfg.Name))
	sys.WriteString(persona)
	sys.WriteString("\n\n")
	if wasBlocked {
		sys.WriteString("A user's message was just blocked by content moderation. " +
			"React in character with a short, sympathetic comment. Do not lecture, " +
			"do not moralize, and do not repeat the blocked content.")
	} else {
		sys.WriteString("Reply to the ongoing conversation in character. " +
			"Keep it brief and natural, like one chat message.")
	}
	return sys.String()
}

// composeMessages 把历史按时间顺序回放为交替角色：AI 发言映射为 assistant，
// 其他所有作者映射为 user，最后追加当前回合。
func (r *openAICompatibleResponder) composeMessages(systemMsg string, history []model.HistoryEntry, currentTurn string) []chatMessage {
	if size := r.cfg.ConversationHistorySize; size > 0 && len(history) > size {
		history = history[len(history)-size:]
	}

	msgs := make([]chatMessage, 0, len(history)+2)
	msgs = append(msgs, chatMessage{Role: "system", Content: systemMsg})
	for _, entry := range history {
		if entry.IsAI {
			msgs = append(msgs, chatMessage{Role: "assistant", Content: entry.Text})
		} else {
			// 多个用户折叠到 user 角色，前缀作者名以便区分发言人
			msgs = append(msgs, chatMessage{Role: "user", Content: fmt.Sprintf("%s: %s", entry.Author, entry.Text)})
		}
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: currentTurn})
	return msgs
}

// Greet 为刚注册的用户生成问候语。
func (r *openAICompatibleResponder) Greet(ctx context.Context, displayName string) (string, error) {
	systemMsg := r.buildSystemMessage(false)
	turn := fmt.Sprintf("%s just joined the chat. Greet them briefly in character.", displayName)
	return r.complete(ctx, r.composeMessages(systemMsg, nil, turn))
}

// Respond 针对一条用户消息生成回复。
func (r *openAICompatibleResponder) Respond(ctx context.Context, userText string, outcome moderation.Outcome, history []model.HistoryEntry, wasBlocked bool) (string, error) {
	systemMsg := r.buildSystemMessage(wasBlocked)

	turn := userText
	if wasBlocked {
		// 当前回合改写为拦截说明，点出最高分类，不复述原文给其他用户看
		category := "inappropriate content"
		if outcome.Details != nil && outcome.Details.MaxCategory != "" {
			category = outcome.Details.MaxCategory
		}
		turn = fmt.Sprintf("(My last message was blocked by the moderator, category: %s. Original text: %s)", category, userText)
	}

	return r.complete(ctx, r.composeMessages(systemMsg, history, turn))
}

// complete 调用 chat completions 接口并做后处理：
// 空白回复视为"无内容可发"（返回空串），超长回复硬截断并加省略号。
func (r *openAICompatibleResponder) complete(ctx context.Context, messages []chatMessage) (string, error) {
	reqBody := chatRequest{
		Model:    r.cfg.Model,
		Messages: messages,
		Stream:   false,
	}
	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", r.cfg.BaseURL+"/chat/completions", bytes.NewReader(reqBytes))
	if err != nil {
		return "", fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)

	resp, err := r.httpClient().Do(req)
	if err != nil {
		return "", classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus(resp)
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices in response", ErrMalformedResponse)
	}

	reply := strings.TrimSpace(chatResp.Choices[0].Message.Content)
	if reply == "" {
		// 空回复不算错误，调用方跳过广播即可
		return "", nil
	}
	return r.truncate(reply), nil
}

// truncate 把超过配置上限的回复硬截断，并追加省略号标记。
// 截断结果连同省略号不超过上限。
func (r *openAICompatibleResponder) truncate(text string) string {
	maxLen := r.cfg.MaxResponseLength
	if maxLen <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	log.Debugf("[AIResponder] 回复超长截断: %d -> %d", len(runes), maxLen)
	return string(runes[:maxLen-1]) + "…"
}

// classifyTransportError 把传输层错误映射为超时或网络不可用。
func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrNetwork, err)
}

// classifyStatus 把非 200 状态码映射为对应的错误分类。
func classifyStatus(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrAuth, resp.Status)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrModelNotFound, resp.Status)
	case http.StatusTooManyRequests:
		rl := &RateLimitedError{}
		if seconds, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			rl.RetryAfter = time.Duration(seconds) * time.Second
		}
		return rl
	default:
		if resp.StatusCode >= 500 {
			return fmt.Errorf("%w: %s", ErrUpstream, resp.Status)
		}
		return fmt.Errorf("%w: %s, body: %s", ErrUpstream, resp.Status, string(body))
	}
}
