// Package ratelimit 实现按 key 划分的滑动窗口限流器。
package ratelimit

import (
	"sync"
	"time"
)

// 滑动窗口长度：最近 60 秒。
const windowMillis int64 = 60_000

// Limiter 按 key 维护最近 60 秒内的发送时间戳序列。
// 不同 key 之间互不影响；同一 key 的检查在持锁下完成。
type Limiter struct {
	mu      sync.Mutex
	windows map[string][]int64

	// now 可注入，便于测试中模拟时间推进。
	now func() time.Time
}

// NewLimiter 创建一个空的限流器。
func NewLimiter() *Limiter {
	return &Limiter{
		windows: make(map[string][]int64),
		now:     time.Now,
	}
}

// Allow 检查 key 在当前窗口内是否还允许一次发送。
// 每次调用先惰性淘汰 60 秒之前的条目；若剩余条数已达 limit 则拒绝且不记录，
// 否则记录当前时间并放行。
func (l *Limiter) Allow(key string, limit int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	nowMs := l.now().UnixMilli()
	cutoff := nowMs - windowMillis

	window := l.windows[key]
	// 淘汰窗口外的时间戳（序列按时间递增，找到第一个仍在窗口内的位置即可）
	start := 0
	for start < len(window) && window[start] <= cutoff {
		start++
	}
	if start > 0 {
		window = append([]int64(nil), window[start:]...)
	}

	if len(window) >= limit {
		l.windows[key] = window
		return false
	}

	l.windows[key] = append(window, nowMs)
	return true
}

// Remaining 返回 key 在当前窗口内剩余的可发送次数（仅用于状态展示）。
func (l *Limiter) Remaining(key string, limit int) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().UnixMilli() - windowMillis
	count := 0
	for _, ts := range l.windows[key] {
		if ts > cutoff {
			count++
		}
	}
	if remaining := limit - count; remaining > 0 {
		return remaining
	}
	return 0
}

// Purge 清除指定 key 的全部状态。连接断开时必须调用一次。
func (l *Limiter) Purge(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, key)
}

// PurgeAll 清空所有 key，进程停机时使用。
func (l *Limiter) PurgeAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.windows = make(map[string][]int64)
}

// SetNowFunc 注入时钟，仅供测试使用。
func (l *Limiter) SetNowFunc(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}
