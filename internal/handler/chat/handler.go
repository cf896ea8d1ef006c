package chat

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/z-tavern/tripchat/internal/middleware"
	"github.com/zhouzirui/z-tavern/tripchat/internal/model/account"
	chatService "github.com/zhouzirui/z-tavern/tripchat/internal/service/chat"
	"github.com/zhouzirui/z-tavern/tripchat/pkg/utils"
)

// Handler 聊天服务的HTTP处理器
type Handler struct {
	chatSvc *chatService.Service
	logger  logrus.FieldLogger
}

// New 创建聊天处理器
func New(chatSvc *chatService.Service, logger logrus.FieldLogger) *Handler {
	return &Handler{
		chatSvc: chatSvc,
		logger:  utils.OrDefault(logger).WithField("component", "chat-handler"),
	}
}

// RegisterRoutes 注册聊天相关的路由，调用方需先挂载鉴权中间件
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/chat", func(r chi.Router) {
		r.Get("/conversations", h.handleListConversations)
		r.Get("/conversations/{partnerID}/messages", h.handleHistory)
		r.Post("/conversations/{partnerID}/read", h.handleMarkRead)
		r.Post("/messages", h.handleSendMessage)
	})
}

// handleListConversations 列出当前用户的全部会话
func (h *Handler) handleListConversations(w http.ResponseWriter, r *http.Request) {
	acc, ok := requireAccount(w, r)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, h.chatSvc.Conversations(r.Context(), acc.Participant()))
}

// handleHistory 返回与某个对方的完整消息记录
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	acc, ok := requireAccount(w, r)
	if !ok {
		return
	}
	partnerID, ok := partnerParam(w, r)
	if !ok {
		return
	}

	history, err := h.chatSvc.History(r.Context(), acc.Participant(), partnerID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, history)
}

// handleSendMessage 保存消息
func (h *Handler) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	acc, ok := requireAccount(w, r)
	if !ok {
		return
	}

	var payload struct {
		PartnerID int64  `json:"partnerId"`
		Content   string `json:"content"`
	}
	if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.PartnerID <= 0 {
		utils.RespondError(w, http.StatusBadRequest, "partnerId is required")
		return
	}

	msg, err := h.chatSvc.SaveMessage(r.Context(), acc.Participant(), payload.PartnerID, payload.Content)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, msg)
}

// handleMarkRead 将对方发来的消息全部标记为已读
func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	acc, ok := requireAccount(w, r)
	if !ok {
		return
	}
	partnerID, ok := partnerParam(w, r)
	if !ok {
		return
	}

	updated, err := h.chatSvc.MarkRead(r.Context(), acc.Participant(), partnerID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]int{"updated": updated})
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chatService.ErrPartnerNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, chatService.ErrContentRequired), errors.Is(err, chatService.ErrContentTooLong):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, chatService.ErrInvalidSender):
		utils.RespondError(w, http.StatusForbidden, err.Error())
	default:
		h.logger.WithError(err).Error("chat request failed")
		utils.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}

func requireAccount(w http.ResponseWriter, r *http.Request) (account.Account, bool) {
	acc, ok := middleware.AccountFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "not authenticated")
	}
	return acc, ok
}

func partnerParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	partnerID, err := strconv.ParseInt(chi.URLParam(r, "partnerID"), 10, 64)
	if err != nil || partnerID <= 0 {
		utils.RespondError(w, http.StatusBadRequest, "invalid partner id")
		return 0, false
	}
	return partnerID, true
}
