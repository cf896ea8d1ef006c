package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	accountHandler "github.com/zhouzirui/z-tavern/tripchat/internal/handler/account"
	"github.com/zhouzirui/z-tavern/tripchat/internal/handler/chat"
	"github.com/zhouzirui/z-tavern/tripchat/internal/handler/inbox"
	middlewarePkg "github.com/zhouzirui/z-tavern/tripchat/internal/middleware"
	"github.com/zhouzirui/z-tavern/tripchat/internal/model/account"
	chatService "github.com/zhouzirui/z-tavern/tripchat/internal/service/chat"
	"github.com/zhouzirui/z-tavern/tripchat/internal/service/push"
	"github.com/zhouzirui/z-tavern/tripchat/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(accounts account.Store, chatSvc *chatService.Service, hub *push.Hub, inboxOpts inbox.Options, logger logrus.FieldLogger) http.Handler {
	logger = utils.OrDefault(logger)
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Create handlers
	accountsHandler := accountHandler.New(accounts)
	chatHandler := chat.New(chatSvc, logger)
	inboxHandler := inbox.New(hub, chatSvc, accounts, inboxOpts, logger)

	r.Route("/api", func(api chi.Router) {
		api.Use(middlewarePkg.Authenticate(accounts))

		accountsHandler.RegisterRoutes(api)
		chatHandler.RegisterRoutes(api)
		inboxHandler.RegisterRoutes(api)
	})

	return r
}
