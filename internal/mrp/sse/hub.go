package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Event 一条 Server-Sent Event
type Event struct {
	EventType string `json:"event"`
	Data      string `json:"data"`
}

// Client 一个SSE连接；Topics 为空时接收全部事件，否则按前缀过滤
type Client struct {
	ID     string
	UserID string
	Topics []string
	Events chan Event
}

// Wants 是否订阅了该事件
func (c *Client) Wants(topic string) bool {
	if len(c.Topics) == 0 {
		return true
	}
	for _, t := range c.Topics {
		if strings.HasPrefix(topic, t) {
			return true
		}
	}
	return false
}

// Hub 管理SSE连接；由 main 创建并注入，不使用全局实例
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[string]*Client),
		logger:  logger.Named("sse"),
	}
}

// Register 注册连接
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
	h.logger.Debug("client registered",
		zap.String("client_id", client.ID),
		zap.String("user_id", client.UserID),
		zap.Int("total", len(h.clients)))
}

// Unregister 注销连接并关闭其通道
func (h *Hub) Unregister(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if client, ok := h.clients[clientID]; ok {
		close(client.Events)
		delete(h.clients, clientID)
		h.logger.Debug("client unregistered",
			zap.String("client_id", clientID),
			zap.Int("total", len(h.clients)))
	}
}

// Count 当前连接数
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast 广播；缓冲满的连接跳过
func (h *Hub) Broadcast(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if !client.Wants(event.EventType) {
			continue
		}
		select {
		case client.Events <- event:
		default:
			h.logger.Warn("client buffer full, event dropped",
				zap.String("client_id", client.ID),
				zap.String("event", event.EventType))
		}
	}
}

// Publish 把业务通知广播给所有连接，topic 作为事件名
func (h *Hub) Publish(_ context.Context, topic string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal sse payload: %w", err)
	}
	h.Broadcast(Event{EventType: topic, Data: string(data)})
	return nil
}
