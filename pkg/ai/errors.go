package ai

import (
	"errors"
	"fmt"
	"time"
)

// 错误分类。对调用方全部非致命：AI 回合失败只记日志，不影响聊天会话，
// 也绝不把错误下发给终端用户。
var (
	ErrAuth              = errors.New("ai: authentication failed")
	ErrModelNotFound     = errors.New("ai: model not found")
	ErrUpstream          = errors.New("ai: upstream server error")
	ErrTimeout           = errors.New("ai: request timed out")
	ErrNetwork           = errors.New("ai: network unavailable")
	ErrMalformedResponse = errors.New("ai: malformed response")
)

// RateLimitedError 表示上游限流，可携带建议的重试等待时间。
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("ai: rate limited, retry after %s", e.RetryAfter)
	}
	return "ai: rate limited"
}

// IsRateLimited 判断错误是否为上游限流。
func IsRateLimited(err error) bool {
	var rl *RateLimitedError
	return errors.As(err, &rl)
}
