package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/zhouzirui/z-tavern/tripchat/internal/model/account"
	"github.com/zhouzirui/z-tavern/tripchat/pkg/utils"
)

type contextKey struct{}

// Authenticate resolves the bearer token against accounts and stores the
// account in the request context. Requests without a valid token get 401.
func Authenticate(accounts account.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				utils.RespondError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			acc, ok := accounts.FindByToken(token)
			if !ok {
				utils.RespondError(w, http.StatusUnauthorized, "invalid bearer token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAccount(r.Context(), acc)))
		})
	}
}

// WithAccount returns a copy of ctx carrying acc.
func WithAccount(ctx context.Context, acc account.Account) context.Context {
	return context.WithValue(ctx, contextKey{}, acc)
}

// AccountFrom returns the authenticated account, if any.
func AccountFrom(ctx context.Context) (account.Account, bool) {
	acc, ok := ctx.Value(contextKey{}).(account.Account)
	return acc, ok
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	// browsers cannot set headers on websocket upgrades
	return strings.TrimSpace(r.URL.Query().Get("access_token"))
}
