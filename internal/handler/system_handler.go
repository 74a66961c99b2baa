package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"safechat-go/internal/config"
)

const (
	serviceName    = "safechat"
	serviceVersion = "1.2.0"
)

// SystemHandler 负责健康检查与服务信息类接口。
type SystemHandler struct{}

// NewSystemHandler 创建一个新的 SystemHandler 实例。
func NewSystemHandler() *SystemHandler {
	return &SystemHandler{}
}

// Health 处理 GET /health。
func (h *SystemHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UnixMilli(),
		"service":   serviceName,
	})
}

// Info 处理 GET /api/info。
func (h *SystemHandler) Info(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":                serviceName,
		"version":             serviceVersion,
		"moderationThreshold": config.Conf.Moderation.Threshold,
		"rateLimit":           config.Conf.Chat.RateLimitPerMinute,
	})
}

// AIStatus 处理 GET /api/ai/status。
func (h *SystemHandler) AIStatus(c *gin.Context) {
	aiCfg := config.Conf.AI
	c.JSON(http.StatusOK, gin.H{
		"enabled":                 aiCfg.Enabled,
		"provider":                aiCfg.BaseURL,
		"model":                   aiCfg.Model,
		"maxResponseLength":       aiCfg.MaxResponseLength,
		"conversationHistorySize": aiCfg.ConversationHistorySize,
		"apiKeyConfigured":        aiCfg.APIKey != "",
	})
}
