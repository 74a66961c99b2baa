package service

import (
	"sync"

	"safechat-go/internal/model"
)

// HistoryStore 按连接维护最近 N 轮交换的有界 FIFO 缓冲。
// 只作为 AI 提示词的只读上下文，从不回放给客户端；
// 进程内存即全部状态（跨重启持久化不在目标内）。
type HistoryStore struct {
	mu      sync.Mutex
	size    int
	entries map[string][]model.HistoryEntry
}

// NewHistoryStore 创建一个容量为 size 的历史存储。
func NewHistoryStore(size int) *HistoryStore {
	if size <= 0 {
		size = 10
	}
	return &HistoryStore{
		size:    size,
		entries: make(map[string][]model.HistoryEntry),
	}
}

// Append 追加一条记录并裁剪到最近 size 条（先进先出淘汰）。
func (s *HistoryStore) Append(key string, entry model.HistoryEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := append(s.entries[key], entry)
	if len(entries) > s.size {
		entries = append([]model.HistoryEntry(nil), entries[len(entries)-s.size:]...)
	}
	s.entries[key] = entries
}

// Get 返回 key 的历史快照，按时间先后（最旧在前）。
func (s *HistoryStore) Get(key string) []model.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.HistoryEntry(nil), s.entries[key]...)
}

// Purge 清除指定 key 的历史。连接断开时调用。
func (s *HistoryStore) Purge(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// PurgeAll 清空全部历史，停机时使用。
func (s *HistoryStore) PurgeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string][]model.HistoryEntry)
}
