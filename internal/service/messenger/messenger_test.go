package messenger_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-tavern/tripchat/internal/config"
	"github.com/zhouzirui/z-tavern/tripchat/internal/handler"
	"github.com/zhouzirui/z-tavern/tripchat/internal/handler/inbox"
	"github.com/zhouzirui/z-tavern/tripchat/internal/model/account"
	"github.com/zhouzirui/z-tavern/tripchat/internal/model/chat"
	chatService "github.com/zhouzirui/z-tavern/tripchat/internal/service/chat"
	"github.com/zhouzirui/z-tavern/tripchat/internal/service/identity"
	"github.com/zhouzirui/z-tavern/tripchat/internal/service/messenger"
	"github.com/zhouzirui/z-tavern/tripchat/internal/service/push"
	"github.com/zhouzirui/z-tavern/tripchat/pkg/utils"
)

const (
	waitFor = 3 * time.Second
	tick    = 10 * time.Millisecond
)

func startBackend(t *testing.T) *httptest.Server {
	t.Helper()
	accounts := account.NewMemoryStore(account.Seed())
	hub := push.NewHub(utils.DiscardLogger())
	router := handler.NewRouter(accounts, chatService.NewService(accounts), hub, inbox.Options{}, utils.DiscardLogger())
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		hub.CloseAll()
		srv.Close()
	})
	return srv
}

func startMessenger(t *testing.T, srv *httptest.Server, acc account.Account) *messenger.Messenger {
	t.Helper()
	cfg := config.ClientConfig{
		BaseURL:        srv.URL,
		StreamURL:      config.DeriveStreamURL(srv.URL),
		Token:          acc.Token,
		UserID:         acc.ID,
		AccountType:    string(acc.Role),
		DisplayName:    acc.DisplayName,
		ReconnectDelay: 50 * time.Millisecond,
		RequestTimeout: 2 * time.Second,
		PingInterval:   time.Second,
	}
	m, err := messenger.FromConfig(context.Background(), cfg, nil, utils.DiscardLogger())
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(m.Stop)

	require.Eventually(t, func() bool { return m.State() == chat.StateConnected }, waitFor, tick)
	return m
}

func findSummary(m *messenger.Messenger, partnerID int64) (chat.ConversationSummary, bool) {
	for _, s := range m.Conversations() {
		if s.PartnerID == partnerID {
			return s, true
		}
	}
	return chat.ConversationSummary{}, false
}

func TestTravelerAndProviderConverse(t *testing.T) {
	srv := startBackend(t)
	seed := account.Seed()
	traveler := startMessenger(t, srv, seed[0])
	provider := startMessenger(t, srv, seed[2])
	ctx := context.Background()

	_, err := traveler.Open(ctx, 42)
	require.NoError(t, err)

	sent, err := traveler.Send(ctx, 42, "is the 9am tour full?")
	require.NoError(t, err)
	require.True(t, sent.Confirmed())

	// provider's inbox picks it up as unread for an inactive conversation
	require.Eventually(t, func() bool {
		s, ok := findSummary(provider, 1)
		return ok && s.UnreadCount == 1 && s.LastMessagePreview == "is the 9am tour full?"
	}, waitFor, tick)

	history, err := provider.Open(ctx, 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	s, _ := findSummary(provider, 1)
	assert.Equal(t, 0, s.UnreadCount)

	// the read receipt reaches the traveler's open conversation
	require.Eventually(t, func() bool {
		msgs := traveler.Timeline()
		return len(msgs) == 1 && msgs[0].IsRead
	}, waitFor, tick)

	_, err = provider.Send(ctx, 1, "two seats left")
	require.NoError(t, err)

	// the traveler is looking at the conversation, so the reply is read at once
	require.Eventually(t, func() bool {
		msgs := traveler.Timeline()
		return len(msgs) == 2 && msgs[1].Content == "two seats left" && msgs[1].IsRead
	}, waitFor, tick)
	require.Eventually(t, func() bool {
		s, ok := findSummary(traveler, 42)
		return ok && s.UnreadCount == 0 && s.LastMessagePreview == "two seats left"
	}, waitFor, tick)
	require.Eventually(t, func() bool {
		msgs := provider.Timeline()
		return len(msgs) == 2 && msgs[1].IsRead
	}, waitFor, tick)

	// no duplicates from the push echo of the traveler's own send
	assert.Len(t, traveler.Timeline(), 2)
}

func TestStartLoadsExistingConversations(t *testing.T) {
	srv := startBackend(t)
	seed := account.Seed()
	provider := startMessenger(t, srv, seed[2])
	_, err := provider.Send(context.Background(), 1, "welcome aboard")
	require.NoError(t, err)
	_, err = provider.Send(context.Background(), 2, "your booking is confirmed")
	require.NoError(t, err)

	traveler := startMessenger(t, srv, seed[0])
	list := traveler.Conversations()
	require.Len(t, list, 1)
	assert.Equal(t, int64(42), list[0].PartnerID)
	assert.Equal(t, "Lakeside Kayak Tours", list[0].PartnerDisplayName)
	assert.Equal(t, 1, list[0].UnreadCount)
	assert.Equal(t, 1, traveler.TotalUnread())
}

func TestObserverSeesEventsAndStates(t *testing.T) {
	srv := startBackend(t)
	seed := account.Seed()

	events := make(chan chat.Event, 8)
	states := make(chan chat.ConnectionState, 8)
	cfg := config.ClientConfig{
		BaseURL: srv.URL, StreamURL: config.DeriveStreamURL(srv.URL),
		Token: seed[0].Token, UserID: seed[0].ID, AccountType: "TRAVELER",
		ReconnectDelay: 50 * time.Millisecond, RequestTimeout: time.Second,
	}
	traveler, err := messenger.FromConfig(context.Background(), cfg, messenger.ObserverFuncs{
		Event: func(e chat.Event) { events <- e },
		State: func(s chat.ConnectionState) { states <- s },
	}, utils.DiscardLogger())
	require.NoError(t, err)
	require.NoError(t, traveler.Start(context.Background()))
	defer traveler.Stop()

	assert.Equal(t, chat.StateConnecting, <-states)
	select {
	case s := <-states:
		assert.Equal(t, chat.StateConnected, s)
	case <-time.After(waitFor):
		t.Fatal("never connected")
	}

	provider := startMessenger(t, srv, seed[2])
	_, err = provider.Send(context.Background(), 1, "hello")
	require.NoError(t, err)

	select {
	case e := <-events:
		require.Equal(t, chat.EventMessage, e.Type)
		assert.Equal(t, "hello", e.Message.Content)
	case <-time.After(waitFor):
		t.Fatal("no event observed")
	}
}

func TestUnauthenticatedSession(t *testing.T) {
	_, err := messenger.FromConfig(context.Background(), config.ClientConfig{BaseURL: "http://localhost"}, nil, nil)
	assert.ErrorIs(t, err, identity.ErrUnauthenticated)

	srv := startBackend(t)
	cfg := config.ClientConfig{
		BaseURL: srv.URL, StreamURL: config.DeriveStreamURL(srv.URL),
		Token: "t", UserID: 1, AccountType: "ADMIN",
	}
	_, err = messenger.FromConfig(context.Background(), cfg, nil, nil)
	assert.ErrorIs(t, err, identity.ErrUnauthenticated)
}
