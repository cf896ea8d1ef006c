package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-tavern/tripchat/internal/model/chat"
	"github.com/zhouzirui/z-tavern/tripchat/internal/service/identity"
)

func TestParsePartnerID(t *testing.T) {
	id, err := parsePartnerID(" 42 ")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, raw := range []string{"", "abc", "0", "-3"} {
		_, err := parsePartnerID(raw)
		assert.Error(t, err, raw)
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "a b", truncate("a\nb", 10))
	assert.Equal(t, "abcdef...", truncate("abcdefghijklmnop", 9))
}

func TestFormatMessageMarks(t *testing.T) {
	resolver, err := identity.New(identity.Account{UserID: 1, AccountType: "TRAVELER"})
	require.NoError(t, err)
	sentAt := chat.At(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))

	mine := chat.Message{ID: 7, TravelerID: 1, ProviderID: 42, SenderRole: chat.RoleTraveler, Content: "hi", SentAt: sentAt, IsRead: true}
	line := formatMessage(resolver, mine)
	assert.Contains(t, line, "me")
	assert.Contains(t, line, "hi")
	assert.Contains(t, line, "read")

	pending := chat.Message{TempID: "t1", TravelerID: 1, ProviderID: 42, SenderRole: chat.RoleTraveler, Content: "hello", SentAt: sentAt, Status: chat.StatusPending}
	assert.Contains(t, formatMessage(resolver, pending), "sending")

	failed := pending
	failed.Status = chat.StatusFailed
	assert.Contains(t, formatMessage(resolver, failed), "failed")

	theirs := chat.Message{ID: 8, TravelerID: 1, ProviderID: 42, SenderRole: chat.RoleProvider, Content: "yes", SentAt: sentAt, IsRead: true}
	line = formatMessage(resolver, theirs)
	assert.Contains(t, line, "PROVIDER")
	assert.NotContains(t, line, "read")
}

func TestPrintConversations(t *testing.T) {
	var buf bytes.Buffer
	printConversations(&buf, nil)
	assert.Contains(t, buf.String(), "No conversations yet.")

	buf.Reset()
	printConversations(&buf, []chat.ConversationSummary{
		{PartnerID: 42, PartnerDisplayName: "Lakeside Kayak Tours", LastMessagePreview: "see you at 9", UnreadCount: 2},
	})
	out := buf.String()
	assert.Contains(t, out, "Lakeside Kayak Tours")
	assert.Contains(t, out, "see you at 9")
	assert.Contains(t, out, "42")
}
