package handler

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"safechat-go/internal/model"
	"safechat-go/internal/service"
	"safechat-go/pkg/log"
)

// FeedbackHandler 负责误判反馈相关的 API 请求。
type FeedbackHandler struct {
	feedbackService service.FeedbackService
}

// NewFeedbackHandler 创建一个新的 FeedbackHandler 实例。
func NewFeedbackHandler(feedbackService service.FeedbackService) *FeedbackHandler {
	return &FeedbackHandler{feedbackService: feedbackService}
}

// Submit 处理 POST /api/feedback。
func (h *FeedbackHandler) Submit(c *gin.Context) {
	var input service.FeedbackInput
	if err := c.ShouldBindJSON(&input); err != nil {
		log.Warnf("Submit feedback: Invalid request payload, error: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "invalid feedback payload",
		})
		return
	}

	record, err := h.feedbackService.Submit(c.Request.Context(), input)
	if err != nil {
		log.Error("Submit feedback failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "failed to record feedback",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "feedback recorded",
		"data": gin.H{
			"isFalsePositive": record.IsFalsePositive,
			"isFalseNegative": record.IsFalseNegative,
		},
	})
}

// Logs 处理 GET /api/feedback/logs?date=&format=json|csv。
func (h *FeedbackHandler) Logs(c *gin.Context) {
	day, err := queryDate(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": err.Error()})
		return
	}

	records, err := h.feedbackService.Logs(c.Request.Context(), day)
	if err != nil {
		log.Error("查询反馈记录失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "failed to load feedback logs"})
		return
	}

	if c.DefaultQuery("format", "json") == "csv" {
		writeLogsCSV(c, day, records)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    records,
	})
}

// Analytics 处理 GET /api/feedback/analytics?date=。
func (h *FeedbackHandler) Analytics(c *gin.Context) {
	day, err := queryDate(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": err.Error()})
		return
	}

	stats, err := h.feedbackService.Analytics(c.Request.Context(), day.Format("2006-01-02"))
	if err != nil {
		log.Error("查询反馈统计失败", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "failed to load feedback analytics"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    stats,
	})
}

// queryDate 解析 date 参数，缺省为今天。
func queryDate(c *gin.Context) (time.Time, error) {
	raw := c.Query("date")
	if raw == "" {
		return time.Now(), nil
	}
	day, err := time.ParseInLocation("2006-01-02", raw, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", raw)
	}
	return day, nil
}

// writeLogsCSV 把反馈记录渲染为 CSV 下载。
func writeLogsCSV(c *gin.Context, day time.Time, records []model.FeedbackRecord) {
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition",
		fmt.Sprintf(`attachment; filename="feedback-%s.csv"`, day.Format("2006-01-02")))

	w := csv.NewWriter(c.Writer)
	_ = w.Write([]string{
		"id", "messageId", "messageText", "wasBlocked", "shouldHaveBeenBlocked",
		"isFalsePositive", "isFalseNegative", "reason", "createdAt",
	})
	for _, r := range records {
		_ = w.Write([]string{
			strconv.FormatUint(uint64(r.ID), 10),
			r.MessageID,
			r.MessageText,
			strconv.FormatBool(r.WasBlocked),
			strconv.FormatBool(r.ShouldHaveBeenBlocked),
			strconv.FormatBool(r.IsFalsePositive),
			strconv.FormatBool(r.IsFalseNegative),
			r.Reason,
			r.CreatedAt.Format(time.RFC3339),
		})
	}
	w.Flush()
}
