// Package push tracks the live inbox connection of every signed-in user and
// delivers frames to them.
package push

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/z-tavern/tripchat/internal/model/chat"
	"github.com/zhouzirui/z-tavern/tripchat/internal/transport/ws"
	"github.com/zhouzirui/z-tavern/tripchat/pkg/utils"
)

// Conn is one user's websocket plus the subscriptions it opened.
type Conn struct {
	ID    string
	Owner chat.Participant

	socket    *websocket.Conn
	writeWait time.Duration
	writeMu   sync.Mutex

	mu   sync.RWMutex
	subs map[string]string
}

// NewConn wraps socket for owner.
func NewConn(owner chat.Participant, socket *websocket.Conn, writeWait time.Duration) *Conn {
	if writeWait <= 0 {
		writeWait = 10 * time.Second
	}
	return &Conn{
		ID:        uuid.NewString(),
		Owner:     owner,
		socket:    socket,
		writeWait: writeWait,
		subs:      make(map[string]string),
	}
}

// Subscribe records that subscription id listens on destination.
func (c *Conn) Subscribe(id, destination string) {
	c.mu.Lock()
	c.subs[id] = destination
	c.mu.Unlock()
}

// Unsubscribe forgets subscription id.
func (c *Conn) Unsubscribe(id string) {
	c.mu.Lock()
	delete(c.subs, id)
	c.mu.Unlock()
}

// SubscriptionsFor lists the subscription ids listening on destination.
func (c *Conn) SubscriptionsFor(destination string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var ids []string
	for id, dest := range c.subs {
		if dest == destination {
			ids = append(ids, id)
		}
	}
	return ids
}

// WriteFrame sends one frame. Safe for concurrent use.
func (c *Conn) WriteFrame(frame ws.Frame) error {
	data, err := ws.EncodeFrame(frame)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.socket.SetWriteDeadline(time.Now().Add(c.writeWait))
	return c.socket.WriteMessage(websocket.TextMessage, data)
}

// Ping sends a websocket ping control frame.
func (c *Conn) Ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.socket.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeWait))
}

// Close closes the underlying socket.
func (c *Conn) Close() error {
	return c.socket.Close()
}

// Hub 连接管理器，每个用户最多保留一个连接
type Hub struct {
	logger logrus.FieldLogger

	mu    sync.RWMutex
	conns map[chat.Participant]*Conn
}

// NewHub 创建连接管理器
func NewHub(logger logrus.FieldLogger) *Hub {
	return &Hub{
		logger: utils.OrDefault(logger).WithField("component", "push"),
		conns:  make(map[chat.Participant]*Conn),
	}
}

// Register 添加连接
func (h *Hub) Register(conn *Conn) {
	h.mu.Lock()
	old, exists := h.conns[conn.Owner]
	h.conns[conn.Owner] = conn
	h.mu.Unlock()

	// 如果已存在连接，先关闭旧连接
	if exists && old != conn {
		h.logger.WithFields(logrus.Fields{"owner": conn.Owner, "replaced": old.ID}).Info("replacing previous inbox connection")
		_ = old.Close()
	}
}

// Unregister 移除连接，仅当 conn 仍是当前连接时生效
func (h *Hub) Unregister(conn *Conn) {
	h.mu.Lock()
	if current, ok := h.conns[conn.Owner]; ok && current == conn {
		delete(h.conns, conn.Owner)
	}
	h.mu.Unlock()
}

// Connected reports whether p has a live inbox connection.
func (h *Hub) Connected(p chat.Participant) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[p]
	return ok
}

// Publish delivers body to every subscription p holds on destination and
// returns how many frames were written.
func (h *Hub) Publish(p chat.Participant, destination string, body []byte) int {
	h.mu.RLock()
	conn, ok := h.conns[p]
	h.mu.RUnlock()
	if !ok {
		return 0
	}

	delivered := 0
	for _, id := range conn.SubscriptionsFor(destination) {
		err := conn.WriteFrame(ws.Frame{Command: ws.CommandMessage, Destination: destination, Subscription: id, Body: body})
		if err != nil {
			h.logger.WithError(err).WithField("owner", p).Warn("push delivery failed")
			continue
		}
		delivered++
	}
	return delivered
}

// CloseAll 关闭所有连接
func (h *Hub) CloseAll() {
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[chat.Participant]*Conn)
	h.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
}
