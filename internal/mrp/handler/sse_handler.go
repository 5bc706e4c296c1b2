package handler

import (
	"io"
	"strings"
	"time"

	"github.com/bitfantasy/nimo-mrp/internal/mrp/sse"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const sseHeartbeat = 30 * time.Second

// SSEHandler 变更通知推送
type SSEHandler struct {
	hub *sse.Hub
}

func NewSSEHandler(hub *sse.Hub) *SSEHandler {
	return &SSEHandler{hub: hub}
}

// Stream SSE长连接，topics 为逗号分隔的事件前缀
// GET /api/v1/mrp/events?token=xxx&topics=mrp.stock.,mrp.requisition.
func (h *SSEHandler) Stream(c *gin.Context) {
	var topics []string
	for _, t := range strings.Split(c.Query("topics"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	client := &sse.Client{
		ID:     uuid.NewString(),
		UserID: GetUserID(c),
		Topics: topics,
		Events: make(chan sse.Event, 64),
	}
	h.hub.Register(client)
	defer h.hub.Unregister(client.ID)

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("connected", gin.H{"client_id": client.ID, "topics": topics})
	c.Writer.Flush()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case ev, ok := <-client.Events:
			if !ok {
				return false
			}
			c.SSEvent(ev.EventType, ev.Data)
			return true
		case <-heartbeat.C:
			_, _ = io.WriteString(w, ": keepalive\n\n")
			return true
		}
	})
}
