package chat

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-tavern/tripchat/internal/middleware"
	"github.com/zhouzirui/z-tavern/tripchat/internal/model/account"
	model "github.com/zhouzirui/z-tavern/tripchat/internal/model/chat"
	chatservice "github.com/zhouzirui/z-tavern/tripchat/internal/service/chat"
	"github.com/zhouzirui/z-tavern/tripchat/pkg/utils"
)

const (
	travelerToken = "traveler-1-token"
	providerToken = "provider-42-token"
)

func setupRouter() (*chi.Mux, *chatservice.Service) {
	accounts := account.NewMemoryStore(account.Seed())
	chatSvc := chatservice.NewService(accounts)
	handler := New(chatSvc, utils.DiscardLogger())

	r := chi.NewRouter()
	r.Use(middleware.Authenticate(accounts))
	handler.RegisterRoutes(r)
	return r, chatSvc
}

func do(r http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestSendMessageCreatesMessage(t *testing.T) {
	r, _ := setupRouter()

	resp := do(r, http.MethodPost, "/chat/messages", travelerToken, map[string]any{"partnerId": 42, "content": "hello"})
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}

	var msg model.Message
	if err := json.Unmarshal(resp.Body.Bytes(), &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.ID == 0 || msg.TravelerID != 1 || msg.ProviderID != 42 || msg.SenderRole != model.RoleTraveler {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestSendMessageValidation(t *testing.T) {
	r, _ := setupRouter()

	cases := []struct {
		name  string
		token string
		body  any
		want  int
	}{
		{"no token", "", map[string]any{"partnerId": 42, "content": "hi"}, http.StatusUnauthorized},
		{"missing partner", travelerToken, map[string]any{"content": "hi"}, http.StatusBadRequest},
		{"empty content", travelerToken, map[string]any{"partnerId": 42, "content": " "}, http.StatusBadRequest},
		{"unknown partner", travelerToken, map[string]any{"partnerId": 7, "content": "hi"}, http.StatusNotFound},
		{"bad body", travelerToken, "not an object", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := do(r, http.MethodPost, "/chat/messages", tc.token, tc.body)
			if resp.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, resp.Code, resp.Body.String())
			}
		})
	}
}

func TestConversationsHistoryAndRead(t *testing.T) {
	r, _ := setupRouter()

	do(r, http.MethodPost, "/chat/messages", travelerToken, map[string]any{"partnerId": 42, "content": "is the 9am tour full?"})
	do(r, http.MethodPost, "/chat/messages", providerToken, map[string]any{"partnerId": 1, "content": "two seats left"})

	resp := do(r, http.MethodGet, "/chat/conversations", travelerToken, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var summaries []model.ConversationSummary
	if err := json.Unmarshal(resp.Body.Bytes(), &summaries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(summaries) != 1 || summaries[0].PartnerID != 42 || summaries[0].UnreadCount != 1 {
		t.Fatalf("unexpected summaries: %+v", summaries)
	}

	resp = do(r, http.MethodGet, "/chat/conversations/42/messages", travelerToken, nil)
	var history []model.Message
	if err := json.Unmarshal(resp.Body.Bytes(), &history); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(history) != 2 || history[1].Content != "two seats left" {
		t.Fatalf("unexpected history: %+v", history)
	}

	resp = do(r, http.MethodPost, "/chat/conversations/42/read", travelerToken, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var updated map[string]int
	_ = json.Unmarshal(resp.Body.Bytes(), &updated)
	if updated["updated"] != 1 {
		t.Fatalf("expected 1 updated, got %v", updated)
	}
}

func TestInvalidPartnerParam(t *testing.T) {
	r, _ := setupRouter()
	for _, path := range []string{"/chat/conversations/abc/messages", "/chat/conversations/0/messages"} {
		resp := do(r, http.MethodGet, path, travelerToken, nil)
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", path, resp.Code)
		}
	}
}
