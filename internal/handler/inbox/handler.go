// Package inbox serves the websocket push endpoint. Each authenticated user
// holds one connection; messages saved through the chat service are pushed
// to both participants and read receipts are relayed to the partner.
package inbox

import (
	"context"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/z-tavern/tripchat/internal/middleware"
	"github.com/zhouzirui/z-tavern/tripchat/internal/model/account"
	"github.com/zhouzirui/z-tavern/tripchat/internal/model/chat"
	chatService "github.com/zhouzirui/z-tavern/tripchat/internal/service/chat"
	"github.com/zhouzirui/z-tavern/tripchat/internal/service/push"
	"github.com/zhouzirui/z-tavern/tripchat/internal/transport/ws"
	"github.com/zhouzirui/z-tavern/tripchat/pkg/utils"
)

const (
	InboxDestination   = "/user/queue/messages"
	ReceiptDestination = "/app/chat.read"
)

// Options tunes connection timing.
type Options struct {
	PongWait     time.Duration
	PingInterval time.Duration
	WriteWait    time.Duration
}

func (o Options) withDefaults() Options {
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingInterval <= 0 || o.PingInterval >= o.PongWait {
		o.PingInterval = o.PongWait * 9 / 10
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	return o
}

// Handler WebSocket 推送处理器
type Handler struct {
	hub      *push.Hub
	accounts account.Store
	opts     Options
	logger   logrus.FieldLogger
	upgrader websocket.Upgrader
}

// New 创建推送处理器，并订阅聊天服务的新消息
func New(hub *push.Hub, chatSvc *chatService.Service, accounts account.Store, opts Options, logger logrus.FieldLogger) *Handler {
	h := &Handler{
		hub:      hub,
		accounts: accounts,
		opts:     opts.withDefaults(),
		logger:   utils.OrDefault(logger).WithField("component", "inbox"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	if chatSvc != nil {
		chatSvc.Subscribe(h.deliverMessage)
	}
	return h
}

// RegisterRoutes 注册WebSocket路由，调用方需先挂载鉴权中间件
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	acc, ok := middleware.AccountFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("upgrade failed")
		return
	}

	conn := push.NewConn(acc.Participant(), socket, h.opts.WriteWait)
	log := h.logger.WithFields(logrus.Fields{"owner": conn.Owner, "conn_id": conn.ID})
	h.hub.Register(conn)
	defer func() {
		h.hub.Unregister(conn)
		_ = conn.Close()
		log.Info("inbox connection closed")
	}()

	if err := conn.WriteFrame(ws.Frame{Command: ws.CommandConnected}); err != nil {
		log.WithError(err).Warn("handshake write failed")
		return
	}
	log.Info("inbox connection established")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	_ = socket.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	socket.SetPongHandler(func(string) error {
		return socket.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	})
	go h.pingLoop(ctx, conn)

	for {
		_, data, err := socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.WithError(err).Warn("read error")
			}
			return
		}
		_ = socket.SetReadDeadline(time.Now().Add(h.opts.PongWait))

		frame, err := ws.DecodeFrame(data)
		if err != nil {
			h.sendError(conn, "malformed frame")
			continue
		}
		h.handleFrame(conn, frame)
	}
}

func (h *Handler) handleFrame(conn *push.Conn, frame ws.Frame) {
	switch frame.Command {
	case ws.CommandSubscribe:
		if frame.Subscription == "" || frame.Destination != InboxDestination {
			h.sendError(conn, "unsupported subscription")
			return
		}
		conn.Subscribe(frame.Subscription, frame.Destination)
	case ws.CommandUnsubscribe:
		conn.Unsubscribe(frame.Subscription)
	case ws.CommandSend:
		if frame.Destination != ReceiptDestination {
			h.sendError(conn, "unknown destination")
			return
		}
		h.relayReceipt(conn, frame.Body)
	default:
		h.sendError(conn, "unknown command")
	}
}

// relayReceipt forwards "I read your messages" to the partner, rewriting
// the partner id so that it names the reader from the recipient's side.
func (h *Handler) relayReceipt(conn *push.Conn, body []byte) {
	var receipt chat.ReadReceiptEvent
	if err := sonic.Unmarshal(body, &receipt); err != nil || receipt.PartnerID <= 0 {
		h.sendError(conn, "malformed read receipt")
		return
	}
	reader := conn.Owner
	recipient := chat.Participant{Role: reader.Role.Other(), ID: receipt.PartnerID}
	if _, ok := h.accounts.FindByID(recipient.Role, recipient.ID); !ok {
		h.sendError(conn, "unknown partner")
		return
	}

	payload, err := chat.EncodeReadReceipt(chat.ReadReceiptEvent{PartnerID: reader.ID, ReaderRole: reader.Role})
	if err != nil {
		h.logger.WithError(err).Error("encode read receipt")
		return
	}
	h.hub.Publish(recipient, InboxDestination, payload)
}

// deliverMessage pushes a newly saved message to both participants.
func (h *Handler) deliverMessage(msg chat.Message) {
	payload, err := chat.EncodeMessageEvent(msg)
	if err != nil {
		h.logger.WithError(err).Error("encode message event")
		return
	}
	key := chat.KeyOf(msg)
	h.hub.Publish(chat.Participant{Role: chat.RoleTraveler, ID: key.TravelerID}, InboxDestination, payload)
	h.hub.Publish(chat.Participant{Role: chat.RoleProvider, ID: key.ProviderID}, InboxDestination, payload)
}

func (h *Handler) sendError(conn *push.Conn, message string) {
	if err := conn.WriteFrame(ws.Frame{Command: ws.CommandError, Message: message}); err != nil {
		h.logger.WithError(err).Debug("failed to send error frame")
	}
}

// pingLoop 定期发送ping消息
func (h *Handler) pingLoop(ctx context.Context, conn *push.Conn) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.Ping(); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}
