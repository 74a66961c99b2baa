package service

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// sessionRegistry 集中保存按连接划分的注册名与消息序号。
// 显式注册表替代任何全局状态，断开时随会话一起清除。
type sessionRegistry struct {
	mu    sync.Mutex
	names map[string]string
	seqs  map[string]uint64
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{
		names: make(map[string]string),
		seqs:  make(map[string]uint64),
	}
}

func (r *sessionRegistry) setName(connID, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names[connID] = name
}

func (r *sessionRegistry) name(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name, ok := r.names[connID]
	return name, ok
}

// nextMessageID 生成消息 ID 和发送时间戳。
// ID 由连接 ID、毫秒时间戳和连接内序号派生；序号保证同一毫秒内的发送不重复。
func (r *sessionRegistry) nextMessageID(connID string) (string, int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seqs[connID]++
	timestamp := time.Now().UnixMilli()
	return fmt.Sprintf("%s-%d-%d", connID, timestamp, r.seqs[connID]), timestamp
}

func (r *sessionRegistry) purge(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.names, connID)
	delete(r.seqs, connID)
}

func (r *sessionRegistry) purgeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = make(map[string]string)
	r.seqs = make(map[string]uint64)
}

// trimmedName 修剪注册名两端空白。
func trimmedName(name string) string {
	return strings.TrimSpace(name)
}
