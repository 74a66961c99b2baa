// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"safechat-go/internal/hub"
	"safechat-go/internal/model"
	"safechat-go/internal/service"
	"safechat-go/pkg/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// ChatHandler 负责处理 WebSocket 聊天连接。
type ChatHandler struct {
	sessionService *service.SessionService
	hub            *hub.Hub
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(sessionService *service.SessionService, h *hub.Hub) *ChatHandler {
	return &ChatHandler{sessionService: sessionService, hub: h}
}

// Handle 处理一个传入的 WebSocket 连接：注册进 Hub 后进入读循环，
// 同一连接的事件按接收顺序处理，连接间互不阻塞。
func (h *ChatHandler) Handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}

	client := h.hub.Register(conn)
	if client == nil {
		// 停机中，不再接受新连接
		_ = conn.Close()
		return
	}
	defer h.sessionService.HandleDisconnect(client)

	go client.WritePump()
	h.sessionService.HandleConnect(client)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Debugf("从 WebSocket 读取消息失败: %v", err)
			break
		}
		h.dispatch(c.Request.Context(), client, message)
	}
}

// dispatch 解析并分发一个入站事件。单个事件的 panic 只影响当前连接：
// 通知来源方后继续服务，不中断进程，也不波及其他连接。
func (h *ChatHandler) dispatch(ctx context.Context, client *hub.Client, raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("事件处理发生 panic: 连接=%s, panic=%v", client.ID, r)
			h.hub.Unicast(client.ID, model.NewErrorNotice("internal error while handling event", ""))
		}
	}()

	var event model.InboundEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		h.hub.Unicast(client.ID, model.NewErrorNotice("invalid event payload", err.Error()))
		return
	}

	switch event.Type {
	case model.EventRegisterUsername:
		h.sessionService.HandleRegister(ctx, client, event.Username)
	case model.EventMessage:
		// author 字段仅供参考，注册名以会话状态为准
		h.sessionService.HandleMessage(ctx, client, event.Text)
	default:
		h.hub.Unicast(client.ID, model.NewErrorNotice("unknown event type: "+event.Type, ""))
	}
}
