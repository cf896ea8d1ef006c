package chat

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zhouzirui/z-tavern/tripchat/internal/model/account"
	"github.com/zhouzirui/z-tavern/tripchat/internal/model/chat"
)

const maxContentLength = 4000

var (
	ErrContentRequired = errors.New("content is required")
	ErrContentTooLong  = errors.New("content is too long")
	ErrPartnerNotFound = errors.New("partner not found")
	ErrInvalidSender   = errors.New("sender is not a known account")
)

// Listener is notified after every stored message.
type Listener func(msg chat.Message)

type conversation struct {
	messages []chat.Message
}

// Service stores conversations between travelers and providers in memory.
type Service struct {
	accounts account.Store
	now      func() time.Time

	mu            sync.RWMutex
	conversations map[chat.ConversationKey]*conversation
	nextID        int64

	listenersMu sync.RWMutex
	listeners   []Listener
}

// Option customizes a Service.
type Option func(*Service)

// WithClock replaces the clock used to stamp saved messages.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService bootstraps the in-memory chat service suitable for early iterations.
func NewService(accounts account.Store, opts ...Option) *Service {
	s := &Service{
		accounts:      accounts,
		now:           time.Now,
		conversations: make(map[chat.ConversationKey]*conversation),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registers fn to be called for every saved message, outside the
// store lock.
func (s *Service) Subscribe(fn Listener) {
	if fn == nil {
		return
	}
	s.listenersMu.Lock()
	s.listeners = append(s.listeners, fn)
	s.listenersMu.Unlock()
}

// SaveMessage stores a message from sender to partnerID and returns it with
// its server id and timestamp.
func (s *Service) SaveMessage(_ context.Context, sender chat.Participant, partnerID int64, content string) (chat.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return chat.Message{}, ErrContentRequired
	}
	if len(content) > maxContentLength {
		return chat.Message{}, ErrContentTooLong
	}
	if _, ok := s.accounts.FindByID(sender.Role, sender.ID); !ok {
		return chat.Message{}, ErrInvalidSender
	}
	if _, ok := s.accounts.FindByID(sender.Role.Other(), partnerID); !ok {
		return chat.Message{}, ErrPartnerNotFound
	}

	key := chat.KeyBetween(sender, partnerID)

	s.mu.Lock()
	s.nextID++
	msg := chat.Message{
		ID:         s.nextID,
		TravelerID: key.TravelerID,
		ProviderID: key.ProviderID,
		SenderRole: sender.Role,
		Content:    content,
		SentAt:     chat.At(s.now()),
		Status:     chat.StatusConfirmed,
	}
	conv, ok := s.conversations[key]
	if !ok {
		conv = &conversation{messages: make([]chat.Message, 0, 16)}
		s.conversations[key] = conv
	}
	conv.messages = append(conv.messages, msg)
	s.mu.Unlock()

	s.listenersMu.RLock()
	listeners := append([]Listener(nil), s.listeners...)
	s.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(msg)
	}
	return msg, nil
}

// History returns every message between user and partnerID, oldest first.
// A conversation that never had a message yields an empty history.
func (s *Service) History(_ context.Context, user chat.Participant, partnerID int64) ([]chat.Message, error) {
	if _, ok := s.accounts.FindByID(user.Role.Other(), partnerID); !ok {
		return nil, ErrPartnerNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[chat.KeyBetween(user, partnerID)]
	if !ok {
		return []chat.Message{}, nil
	}
	copied := make([]chat.Message, len(conv.messages))
	copy(copied, conv.messages)
	return copied, nil
}

// Conversations summarizes every conversation user takes part in, most
// recent first.
func (s *Service) Conversations(_ context.Context, user chat.Participant) []chat.ConversationSummary {
	s.mu.RLock()
	summaries := make([]chat.ConversationSummary, 0, len(s.conversations))
	for key, conv := range s.conversations {
		if !key.Includes(user) || len(conv.messages) == 0 {
			continue
		}
		partner := key.PartnerOf(user)
		last := conv.messages[len(conv.messages)-1]
		unread := 0
		for _, msg := range conv.messages {
			if msg.SenderRole == partner.Role && !msg.IsRead {
				unread++
			}
		}
		summaries = append(summaries, chat.ConversationSummary{
			PartnerID:          partner.ID,
			LastMessagePreview: last.Content,
			LastMessageAt:      last.SentAt,
			UnreadCount:        unread,
		})
	}
	s.mu.RUnlock()

	for i := range summaries {
		if acc, ok := s.accounts.FindByID(user.Role.Other(), summaries[i].PartnerID); ok {
			summaries[i].PartnerDisplayName = acc.DisplayName
		}
	}
	sort.SliceStable(summaries, func(i, j int) bool {
		if summaries[i].LastMessageAt.Equal(summaries[j].LastMessageAt.Time) {
			return summaries[i].PartnerID < summaries[j].PartnerID
		}
		return summaries[i].LastMessageAt.After(summaries[j].LastMessageAt.Time)
	})
	return summaries
}

// MarkRead flags every message partnerID sent to reader as read and returns
// how many changed.
func (s *Service) MarkRead(_ context.Context, reader chat.Participant, partnerID int64) (int, error) {
	partner := chat.Participant{Role: reader.Role.Other(), ID: partnerID}
	if _, ok := s.accounts.FindByID(partner.Role, partner.ID); !ok {
		return 0, ErrPartnerNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[chat.KeyBetween(reader, partnerID)]
	if !ok {
		return 0, nil
	}
	changed := 0
	for i := range conv.messages {
		if conv.messages[i].SenderRole == partner.Role && !conv.messages[i].IsRead {
			conv.messages[i].IsRead = true
			changed++
		}
	}
	return changed, nil
}
