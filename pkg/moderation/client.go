// Package moderation 提供内容审核分类器的客户端，并把上游的多种响应形态
// 归一化为统一的判定结果。
package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"safechat-go/internal/config"
	"safechat-go/pkg/log"
)

// 上游失败时使用的 reason 标记。分类器降级时放行消息（degrade open）。
const (
	ReasonAPIError           = "API_ERROR"
	ReasonParseError         = "PARSE_ERROR"
	ReasonUnexpectedResponse = "UNEXPECTED_RESPONSE"
	ReasonOK                 = "OK"
)

// Outcome 表示一次文本分类的判定结果。
type Outcome struct {
	Blocked bool     `json:"isBlocked"`
	Reason  string   `json:"reason"`
	Details *Details `json:"details,omitempty"`
}

// Details 携带判定的结构化细节，随消息一起下发给客户端。
type Details struct {
	CategoryScores map[string]float64 `json:"categoryScores,omitempty"`
	MaxScore       float64            `json:"maxScore"`
	MaxCategory    string             `json:"maxCategory,omitempty"`
	Threshold      float64            `json:"threshold"`
	// 上游自带判定时的布尔结论（flagged / 任一分类命中）。
	Flagged         *bool `json:"flagged,omitempty"`
	CategoryFlagged *bool `json:"categoryFlagged,omitempty"`
}

// Client 定义分类器客户端的接口。Classify 永不向调用方返回错误：
// 上游失败一律转换为不拦截的降级结果。
type Client interface {
	Classify(ctx context.Context, text string) Outcome
	Threshold() float64
	SafetyParam() float64
	Close()
}

type openAICompatibleClient struct {
	cfg config.ModerationConfig

	// 懒初始化的缓存 HTTP 客户端，sync.Once 保证并发首用只建一份。
	clientOnce sync.Once
	client     *http.Client
}

// NewClient 创建一个新的审核客户端。
func NewClient(cfg config.ModerationConfig) Client {
	return &openAICompatibleClient{cfg: cfg}
}

func (c *openAICompatibleClient) httpClient() *http.Client {
	c.clientOnce.Do(func() {
		timeout := time.Duration(c.cfg.TimeoutSeconds) * time.Second
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		c.client = &http.Client{Timeout: timeout}
	})
	return c.client
}

// Threshold 返回生效的判定阈值。
func (c *openAICompatibleClient) Threshold() float64 {
	return c.cfg.Threshold
}

// SafetyParam 返回提供商侧的 safety parameter。
// 配置直接指定时优先生效；否则由阈值按 0.1 − threshold × 0.095 推导。
// 两种来源都会被夹到 [0.005, 0.1] 区间内。
func (c *openAICompatibleClient) SafetyParam() float64 {
	v := c.cfg.SafetyParam
	if v == 0 {
		v = 0.1 - c.cfg.Threshold*0.095
	}
	return clampSafetyParam(v)
}

func clampSafetyParam(v float64) float64 {
	if v < 0.005 {
		return 0.005
	}
	if v > 0.1 {
		return 0.1
	}
	return v
}

// Close 关闭缓存的上游连接。
func (c *openAICompatibleClient) Close() {
	if c.client != nil {
		c.client.CloseIdleConnections()
	}
}

type moderationRequest struct {
	Model         string  `json:"model,omitempty"`
	Input         string  `json:"input"`
	SafetySetting float64 `json:"safety_setting,omitempty"`
}

// Classify 调用上游分类一段文本。空白输入直接放行，不请求上游。
func (c *openAICompatibleClient) Classify(ctx context.Context, text string) Outcome {
	if strings.TrimSpace(text) == "" {
		return Outcome{Reason: ReasonOK, Details: &Details{Threshold: c.cfg.Threshold}}
	}

	reqBody := moderationRequest{
		Model:         c.cfg.Model,
		Input:         text,
		SafetySetting: c.SafetyParam(),
	}
	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return c.degraded(ReasonAPIError, err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/moderations", bytes.NewReader(reqBytes))
	if err != nil {
		return c.degraded(ReasonAPIError, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		// 网络错误或超时，一律降级放行
		return c.degraded(ReasonAPIError, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.degraded(ReasonAPIError, fmt.Errorf("moderation api returned non-200 status: %s", resp.Status))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.degraded(ReasonAPIError, err)
	}

	return c.normalize(body)
}

// degraded 构造降级结果并记录日志。
func (c *openAICompatibleClient) degraded(reason string, err error) Outcome {
	log.Warnf("[ModerationClient] 分类降级放行, reason: %s, error: %v", reason, err)
	return Outcome{
		Blocked: false,
		Reason:  reason,
		Details: &Details{Threshold: c.cfg.Threshold},
	}
}
