package directory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-tavern/tripchat/internal/model/chat"
	"github.com/zhouzirui/z-tavern/tripchat/internal/service/directory"
	"github.com/zhouzirui/z-tavern/tripchat/pkg/utils"
)

type stubFetcher struct {
	summaries []chat.ConversationSummary
	err       error
}

func (s *stubFetcher) FetchConversations(context.Context) ([]chat.ConversationSummary, error) {
	return s.summaries, s.err
}

var base = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func at(minutes int) chat.Timestamp {
	return chat.At(base.Add(time.Duration(minutes) * time.Minute))
}

func fromProvider(providerID int64, content string, sentAt chat.Timestamp) chat.Message {
	return chat.Message{TravelerID: 1, ProviderID: providerID, SenderRole: chat.RoleProvider, Content: content, SentAt: sentAt}
}

func newDirectory(fetcher directory.Fetcher, focus *chat.Focus) *directory.Directory {
	return directory.New(fetcher, focus, utils.DiscardLogger())
}

// An inbound message for an inactive conversation bumps its
// unread count, updates the preview and moves it to the top.
func TestInboundMessageForInactiveConversation(t *testing.T) {
	fetcher := &stubFetcher{summaries: []chat.ConversationSummary{
		{PartnerID: 7, LastMessagePreview: "older", LastMessageAt: at(10)},
		{PartnerID: 42, LastMessagePreview: "hey", LastMessageAt: at(5)},
	}}
	dir := newDirectory(fetcher, &chat.Focus{})

	loaded, err := dir.LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, int64(7), loaded[0].PartnerID)

	dir.UpsertFromMessage(fromProvider(42, "are you there?", at(20)), chat.RoleTraveler)

	list := dir.List()
	require.Len(t, list, 2)
	assert.Equal(t, int64(42), list[0].PartnerID)
	assert.Equal(t, 1, list[0].UnreadCount)
	assert.Equal(t, "are you there?", list[0].LastMessagePreview)
	assert.Equal(t, 1, dir.TotalUnread())
}

func TestActiveConversationDoesNotAccumulateUnread(t *testing.T) {
	focus := &chat.Focus{}
	focus.Set(42)
	dir := newDirectory(&stubFetcher{}, focus)

	dir.UpsertFromMessage(fromProvider(42, "hi", at(1)), chat.RoleTraveler)

	summary, ok := dir.Get(42)
	require.True(t, ok)
	assert.Equal(t, 0, summary.UnreadCount)
	assert.Equal(t, "hi", summary.LastMessagePreview)
}

func TestOutboundMessageSynthesizesSummaryWithoutUnread(t *testing.T) {
	dir := newDirectory(&stubFetcher{}, nil)
	outbound := chat.Message{TravelerID: 1, ProviderID: 9, SenderRole: chat.RoleTraveler, Content: "first contact", SentAt: at(3)}

	dir.UpsertFromMessage(outbound, chat.RoleTraveler)

	summary, ok := dir.Get(9)
	require.True(t, ok)
	assert.Equal(t, 0, summary.UnreadCount)
	assert.Equal(t, "first contact", summary.LastMessagePreview)
}

func TestUnknownPartnerIsSynthesizedAtTop(t *testing.T) {
	dir := newDirectory(&stubFetcher{summaries: []chat.ConversationSummary{
		{PartnerID: 1, LastMessageAt: at(1)},
	}}, nil)
	_, err := dir.LoadAll(context.Background())
	require.NoError(t, err)

	// The local user is a provider; the partner is the traveler.
	dir.UpsertFromMessage(chat.Message{TravelerID: 55, ProviderID: 3, SenderRole: chat.RoleTraveler, Content: "hello", SentAt: at(2)}, chat.RoleProvider)

	list := dir.List()
	require.Len(t, list, 2)
	assert.Equal(t, int64(55), list[0].PartnerID)
	assert.Equal(t, 1, list[0].UnreadCount)
}

func TestUnstampedFirstContactStillLandsAtTop(t *testing.T) {
	dir := newDirectory(&stubFetcher{summaries: []chat.ConversationSummary{
		{PartnerID: 42, LastMessageAt: at(10)},
		{PartnerID: 43, LastMessageAt: at(5)},
	}}, nil)
	_, err := dir.LoadAll(context.Background())
	require.NoError(t, err)

	dir.UpsertFromMessage(fromProvider(77, "are you free tomorrow?", chat.Timestamp{}), chat.RoleTraveler)

	list := dir.List()
	require.Len(t, list, 3)
	assert.Equal(t, int64(77), list[0].PartnerID)
	assert.False(t, list[0].LastMessageAt.IsZero())
	assert.Equal(t, 1, list[0].UnreadCount)
}

func TestSortIsStableOnTies(t *testing.T) {
	dir := newDirectory(&stubFetcher{summaries: []chat.ConversationSummary{
		{PartnerID: 1, LastMessageAt: at(5)},
		{PartnerID: 2, LastMessageAt: at(5)},
		{PartnerID: 3, LastMessageAt: at(5)},
	}}, nil)
	_, err := dir.LoadAll(context.Background())
	require.NoError(t, err)

	dir.UpsertFromMessage(fromProvider(2, "same instant", at(5)), chat.RoleTraveler)

	ids := []int64{}
	for _, s := range dir.List() {
		ids = append(ids, s.PartnerID)
	}
	assert.Equal(t, []int64{1, 2, 3}, ids)
}

func TestLateMessageKeepsNewestPreview(t *testing.T) {
	dir := newDirectory(&stubFetcher{}, nil)
	dir.UpsertFromMessage(fromProvider(4, "newer", at(10)), chat.RoleTraveler)
	dir.UpsertFromMessage(fromProvider(4, "older", at(2)), chat.RoleTraveler)

	summary, _ := dir.Get(4)
	assert.Equal(t, "newer", summary.LastMessagePreview)
	assert.Equal(t, 2, summary.UnreadCount)
}

func TestResetAndSetUnread(t *testing.T) {
	dir := newDirectory(&stubFetcher{}, nil)
	dir.UpsertFromMessage(fromProvider(4, "a", at(1)), chat.RoleTraveler)
	dir.UpsertFromMessage(fromProvider(4, "b", at(2)), chat.RoleTraveler)

	dir.ResetUnread(4)
	summary, _ := dir.Get(4)
	assert.Equal(t, 0, summary.UnreadCount)

	dir.SetUnread(4, 3)
	summary, _ = dir.Get(4)
	assert.Equal(t, 3, summary.UnreadCount)

	dir.SetUnread(4, -1)
	summary, _ = dir.Get(4)
	assert.Equal(t, 0, summary.UnreadCount)
}

func TestLoadAllFailureKeepsState(t *testing.T) {
	fetcher := &stubFetcher{summaries: []chat.ConversationSummary{{PartnerID: 42, UnreadCount: 2}}}
	dir := newDirectory(fetcher, nil)
	_, err := dir.LoadAll(context.Background())
	require.NoError(t, err)

	fetcher.err = errors.New("connection refused")
	_, err = dir.LoadAll(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, directory.ErrDirectoryUnavailable))

	summary, ok := dir.Get(42)
	require.True(t, ok)
	assert.Equal(t, 2, summary.UnreadCount)
}

func TestMessageWithoutPartnerIsIgnored(t *testing.T) {
	dir := newDirectory(&stubFetcher{}, nil)
	dir.UpsertFromMessage(chat.Message{TravelerID: 1, SenderRole: chat.RoleProvider, Content: "?"}, chat.RoleTraveler)
	assert.Empty(t, dir.List())
}
