package sse

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// 事件类型
const (
	EventFormUpdated     = "form_updated"
	EventFormDeleted     = "form_deleted"
	EventResponseCreated = "response_created"
	EventResponseDeleted = "response_deleted"
)

// Event represents a Server-Sent Event
type Event struct {
	EventType string `json:"event"`
	Data      string `json:"data"`
}

// Client represents a connected SSE client
type Client struct {
	ID     string
	UserID string
	Events chan Event
}

// Hub manages all SSE client connections
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  *zap.Logger
}

// NewHub creates a new SSE Hub
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients: make(map[string]*Client),
		logger:  logger,
	}
}

// Register adds a new client to the hub
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
	h.logger.Debug("SSE client registered",
		zap.String("client_id", client.ID),
		zap.String("user_id", client.UserID),
		zap.Int("total", len(h.clients)),
	)
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if client, ok := h.clients[clientID]; ok {
		close(client.Events)
		delete(h.clients, clientID)
		h.logger.Debug("SSE client unregistered", zap.String("client_id", clientID), zap.Int("total", len(h.clients)))
	}
}

// Count 当前连接数
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close 关闭全部连接（服务停止时调用）
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, client := range h.clients {
		close(client.Events)
		delete(h.clients, id)
	}
}

// SendToUser 给特定用户发送事件（而非广播）
func (h *Hub) SendToUser(userID string, event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if client.UserID == userID {
			select {
			case client.Events <- event:
			default:
				h.logger.Warn("SSE client buffer full, skipping event",
					zap.String("client_id", client.ID),
					zap.String("event", event.EventType),
				)
			}
		}
	}
}

// Publish 序列化 payload 后推送给表单所有者
func (h *Hub) Publish(userID, eventType string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("SSE payload marshal failed", zap.String("event", eventType), zap.Error(err))
		return
	}
	h.SendToUser(userID, Event{EventType: eventType, Data: string(data)})
}

// PublishFormUpdate 表单变更（创建、更新、删除）
func (h *Hub) PublishFormUpdate(ownerID, formID, action string) {
	eventType := EventFormUpdated
	if action == "deleted" {
		eventType = EventFormDeleted
	}
	h.Publish(ownerID, eventType, map[string]string{"form_id": formID, "action": action})
}

// PublishResponse 新回答或回答删除
func (h *Hub) PublishResponse(ownerID, formID, responseID, action string) {
	eventType := EventResponseCreated
	if action == "deleted" {
		eventType = EventResponseDeleted
	}
	h.Publish(ownerID, eventType, map[string]string{
		"form_id":     formID,
		"response_id": responseID,
		"action":      action,
	})
}
