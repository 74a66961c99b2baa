// Package hub 维护全部在线连接，并向它们扇出最终确定的消息。
package hub

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"safechat-go/pkg/log"
)

// Conn 抽象一条可写的传输连接，便于测试替换 *websocket.Conn。
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client 代表一条已注册到 Hub 的连接。
type Client struct {
	ID   string
	conn Conn
	send chan []byte

	// mu 保护 closed 与 send 的入队：shutdown 关闭 send 前先置位 closed，
	// 广播协程持有的旧快照再投递时直接丢弃，不会写已关闭的 channel。
	mu     sync.Mutex
	closed bool
}

// WritePump 串行消费发送队列并写入底层连接。
// 每条连接只允许一个写协程，gorilla/websocket 不支持并发写。
func (c *Client) WritePump() {
	for data := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Debugf("连接 %s 写入失败: %v", c.ID, err)
			return
		}
	}
}

func (c *Client) enqueue(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		// 连接已关闭，静默丢弃
		return
	}
	select {
	case c.send <- data:
	default:
		// 队列已满就丢弃，不阻塞扇出
		log.Warnf("连接 %s 发送队列已满，丢弃一条消息", c.ID)
	}
}

func (c *Client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
}

// Hub 管理全部在线连接。广播与单播都是 fire-and-forget：
// 已断开的连接收不到消息，也不会向投递方报错。
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	closed  bool
}

// NewHub 创建一个空的 Hub。
func NewHub() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

// Register 把一条连接注册进 Hub，返回带有连接 ID 的 Client。
// Hub 已关闭（停机中）时返回 nil，表示不再接受新连接。
func (h *Hub) Register(conn Conn) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	client := &Client{
		ID:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, 256),
	}
	h.clients[client.ID] = client
	return client
}

// Unregister 把连接移出 Hub 并关闭它。重复调用无副作用。
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	client, ok := h.clients[id]
	if ok {
		delete(h.clients, id)
	}
	h.mu.Unlock()
	if ok {
		client.shutdown()
	}
}

// Broadcast 把一条消息投递给当前所有在线连接（包括发送者自己）。
func (h *Hub) Broadcast(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error("广播消息编码失败", err)
		return
	}

	h.mu.RLock()
	snapshot := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		snapshot = append(snapshot, c)
	}
	h.mu.RUnlock()

	for _, c := range snapshot {
		c.enqueue(data)
	}
}

// Unicast 把一条消息投递给指定连接。连接不存在时静默忽略。
func (h *Hub) Unicast(id string, v interface{}) {
	h.mu.RLock()
	client, ok := h.clients[id]
	h.mu.RUnlock()
	if !ok {
		return
	}

	data, err := json.Marshal(v)
	if err != nil {
		log.Error("单播消息编码失败", err)
		return
	}
	client.enqueue(data)
}

// Count 返回当前在线连接数。
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll 停止接受新连接并强制断开所有在线连接，停机时调用。
func (h *Hub) CloseAll() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[string]*Client)
	h.mu.Unlock()

	for _, c := range clients {
		c.shutdown()
	}
}
