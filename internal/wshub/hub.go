// Package wshub 把事件总线上的站点事件转发给 WebSocket 客户端，
// 供前端实时展示车队状态。慢客户端直接断开，不回压发布方。
package wshub

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/CaiserSz/simisimiocpp-sub002/internal/events"
)

// 消息类型
const (
	MsgTypeInit  = "init"  // 新连接的初始快照
	MsgTypeEvent = "event" // 总线事件转发
)

// Message 下行消息结构
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Client 单个 WebSocket 连接
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub WebSocket 连接管理中心。Run 退出后不再接受新客户端。
type Hub struct {
	log      *zap.Logger
	bus      *events.Bus
	clients  map[*Client]bool
	register chan *Client
	mu       sync.RWMutex

	// 初始快照提供者，新连接时调用一次
	getSnapshot func() any
}

// NewHub 创建 Hub
func NewHub(logger *zap.Logger, bus *events.Bus) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		log:      logger,
		bus:      bus,
		clients:  make(map[*Client]bool),
		register: make(chan *Client, 8),
	}
}

// SetSnapshotProvider 设置初始快照提供者
func (h *Hub) SetSnapshotProvider(provider func() any) {
	h.getSnapshot = provider
}

// Run 订阅事件总线并转发给全部客户端，ctx 取消后退出并断开所有连接
func (h *Hub) Run(ctx context.Context) {
	evts, cancel := h.bus.Subscribe(256)
	defer cancel()

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Info("websocket client connected", zap.Int("totalClients", total))
			h.sendSnapshot(client)

		case evt, ok := <-evts:
			if !ok {
				return
			}
			h.broadcast(evt)

		case <-ctx.Done():
			h.closeAll()
			return
		}
	}
}

func (h *Hub) broadcast(evt events.Event) {
	data, err := json.Marshal(Message{Type: MsgTypeEvent, Data: evt})
	if err != nil {
		h.log.Error("marshal event failed", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			// 慢消费者，断开
			close(client.send)
			delete(h.clients, client)
		}
	}
}

// sendSnapshot 给新连接的客户端发送初始快照
func (h *Hub) sendSnapshot(client *Client) {
	if h.getSnapshot == nil {
		return
	}
	data, err := json.Marshal(Message{Type: MsgTypeInit, Data: h.getSnapshot()})
	if err != nil {
		h.log.Error("marshal snapshot failed", zap.Error(err))
		return
	}
	select {
	case client.send <- data:
	default:
		h.log.Warn("snapshot dropped, client buffer full")
	}
}

func (h *Hub) dropClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		h.log.Info("websocket client disconnected", zap.Int("totalClients", len(h.clients)))
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}

// ClientCount 当前客户端数
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// NewClient 包装一条已升级的连接
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, 256),
	}
}

// Register 注册到 Hub
func (c *Client) Register() {
	c.hub.register <- c
}

// ReadPump 读循环，仅用于感知断连
func (c *Client) ReadPump() {
	defer func() {
		c.hub.dropClient(c)
		c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
		// 不处理上行消息，连接只做下行推送
	}
}

// WritePump 写循环，send 关闭后断开连接
func (c *Client) WritePump() {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			break
		}
	}
}
