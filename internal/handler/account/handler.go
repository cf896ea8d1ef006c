package account

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-tavern/tripchat/internal/middleware"
	"github.com/zhouzirui/z-tavern/tripchat/internal/model/account"
	"github.com/zhouzirui/z-tavern/tripchat/pkg/utils"
)

// Handler 账户服务的HTTP处理器
type Handler struct {
	accounts account.Store
}

// New 创建账户处理器
func New(accounts account.Store) *Handler {
	return &Handler{
		accounts: accounts,
	}
}

// RegisterRoutes 注册账户相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/accounts", h.handleListPartners)
	r.Get("/accounts/me", h.handleMe)
}

// handleMe 返回当前登录账户
func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	acc, ok := middleware.AccountFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	utils.RespondJSON(w, http.StatusOK, acc)
}

// handleListPartners 列出对方角色的所有账户，供发起新会话使用
func (h *Handler) handleListPartners(w http.ResponseWriter, r *http.Request) {
	acc, ok := middleware.AccountFrom(r.Context())
	if !ok {
		utils.RespondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	partners := make([]account.Account, 0)
	for _, item := range h.accounts.List() {
		if item.Role == acc.Role.Other() {
			partners = append(partners, item)
		}
	}
	utils.RespondJSON(w, http.StatusOK, partners)
}
