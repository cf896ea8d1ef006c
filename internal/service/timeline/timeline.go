// Package timeline holds the ordered message list of the conversation that
// is currently open.
//
// History pulled from the server replaces the local list outright. Pushed
// messages are merged incrementally: they are de-duplicated by server id,
// matched against locally pending sends, and inserted by SentAt so that
// delivery jitter does not scramble the order.
package timeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/z-tavern/tripchat/internal/model/chat"
	"github.com/zhouzirui/z-tavern/tripchat/internal/service/identity"
	"github.com/zhouzirui/z-tavern/tripchat/pkg/utils"
)

var (
	ErrNoConversation = errors.New("timeline: no conversation is open")
	ErrEmptyContent   = errors.New("timeline: message content is empty")
	ErrStaleResponse  = errors.New("timeline: history response is for a conversation that is no longer open")
	ErrUnknownTempID  = errors.New("timeline: no pending message with that temporary id")
)

// echoTolerance bounds how far apart an id-less push echo and the server's
// confirmation may be stamped and still describe the same message.
const echoTolerance = 2 * time.Second

// HistoryFetcher pulls the full history with one partner.
type HistoryFetcher interface {
	FetchHistory(ctx context.Context, partnerID int64) ([]chat.Message, error)
}

// Timeline is safe for concurrent use.
type Timeline struct {
	fetcher  HistoryFetcher
	identity *identity.Resolver
	logger   logrus.FieldLogger
	now      func() chat.Timestamp

	mu        sync.RWMutex
	partnerID int64
	loaded    bool
	messages  []chat.Message
	tempSeq   uint64
}

// Option customizes a Timeline.
type Option func(*Timeline)

// WithClock replaces the clock used to stamp optimistic messages.
func WithClock(now func() chat.Timestamp) Option {
	return func(t *Timeline) {
		if now != nil {
			t.now = now
		}
	}
}

// New builds an empty timeline.
func New(fetcher HistoryFetcher, resolver *identity.Resolver, logger logrus.FieldLogger, opts ...Option) *Timeline {
	t := &Timeline{
		fetcher:  fetcher,
		identity: resolver,
		logger:   utils.OrDefault(logger).WithField("component", "timeline"),
		now:      chat.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Open makes partnerID the loaded conversation. Switching to a different
// partner discards the previous in-memory messages.
func (t *Timeline) Open(partnerID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.partnerID == partnerID {
		return
	}
	t.partnerID = partnerID
	t.loaded = false
	t.messages = nil
}

// LoadHistory opens partnerID and replaces its messages with the server's
// history. A failed fetch leaves the timeline empty. A response that arrives
// after another conversation was opened is dropped with ErrStaleResponse.
func (t *Timeline) LoadHistory(ctx context.Context, partnerID int64) ([]chat.Message, error) {
	if partnerID == 0 {
		return nil, ErrNoConversation
	}
	t.Open(partnerID)

	history, err := t.fetcher.FetchHistory(ctx, partnerID)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.partnerID != partnerID {
		t.logger.WithFields(logrus.Fields{
			"requested": partnerID,
			"open":      t.partnerID,
		}).Debug("discarding stale history response")
		return nil, ErrStaleResponse
	}
	if err != nil {
		t.messages = nil
		t.loaded = false
		return nil, fmt.Errorf("timeline: load history for %d: %w", partnerID, err)
	}

	messages := make([]chat.Message, 0, len(history))
	for _, msg := range history {
		if msg.Status == "" {
			msg.Status = chat.StatusConfirmed
		}
		messages = insertSorted(messages, msg)
	}
	t.messages = messages
	t.loaded = true
	return cloneMessages(t.messages), nil
}

// AppendOptimistic adds a locally composed message before the server has
// seen it. The returned message carries a temporary id that is only used to
// reconcile it later.
func (t *Timeline) AppendOptimistic(content string) (chat.Message, error) {
	if strings.TrimSpace(content) == "" {
		return chat.Message{}, ErrEmptyContent
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.partnerID == 0 {
		return chat.Message{}, ErrNoConversation
	}

	t.tempSeq++
	msg := t.identity.Compose(t.partnerID, content, t.now())
	msg.TempID = "t" + strconv.FormatUint(t.tempSeq, 10)
	msg.Status = chat.StatusPending
	msg.IsRead = false

	t.messages = insertSorted(t.messages, msg)
	return msg, nil
}

// Confirm promotes the pending message tempID to its confirmed form. If the
// confirmed id is already present (the push echo or a refetch won the race)
// any remaining pending copy is removed instead. An id-less echo that
// already replaced the pending entry is given the confirmed id.
func (t *Timeline) Confirm(tempID string, confirmed chat.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := t.indexOfTempLocked(tempID)
	if confirmed.ID != 0 && t.indexOfIDLocked(confirmed.ID) >= 0 {
		if idx >= 0 {
			t.messages = append(t.messages[:idx], t.messages[idx+1:]...)
		}
		return nil
	}
	if idx < 0 {
		if t.promoteEchoLocked(confirmed) {
			return nil
		}
		return ErrUnknownTempID
	}

	pending := t.messages[idx]
	if confirmed.SentAt.IsZero() {
		confirmed.SentAt = pending.SentAt
	}
	// a read receipt may already have flipped the pending copy
	confirmed.IsRead = confirmed.IsRead || pending.IsRead
	confirmed.TempID = ""
	confirmed.Status = chat.StatusConfirmed

	t.messages = append(t.messages[:idx], t.messages[idx+1:]...)
	t.messages = insertSorted(t.messages, confirmed)
	return nil
}

// Fail marks the pending message tempID as failed. It stays in the timeline
// so the presentation layer can offer a retry.
func (t *Timeline) Fail(tempID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := t.indexOfTempLocked(tempID)
	if idx < 0 {
		return ErrUnknownTempID
	}
	t.messages[idx].Status = chat.StatusFailed
	return nil
}

// ApplyIncoming merges a confirmed pushed message into the open
// conversation. It reports whether the timeline changed; messages for other
// partners and duplicates are ignored.
func (t *Timeline) ApplyIncoming(msg chat.Message) bool {
	partnerID := t.identity.PartnerID(msg)

	t.mu.Lock()
	defer t.mu.Unlock()

	if partnerID == 0 || partnerID != t.partnerID {
		return false
	}
	if msg.ID != 0 && t.indexOfIDLocked(msg.ID) >= 0 {
		return false
	}
	if msg.ID != 0 && t.promoteEchoLocked(msg) {
		return true
	}
	if msg.ID == 0 && t.containsEquivalentLocked(msg) {
		return false
	}
	msg.Status = chat.StatusConfirmed
	msg.TempID = ""

	if t.identity.IsOutbound(msg) {
		if idx := t.matchPendingLocked(msg); idx >= 0 {
			msg.IsRead = msg.IsRead || t.messages[idx].IsRead
			t.messages = append(t.messages[:idx], t.messages[idx+1:]...)
		}
	}

	t.messages = insertSorted(t.messages, msg)
	return true
}

// ApplyReadReceipt marks every message the local user sent as read by the
// other side, pending ones included. readerRole only names who read and
// does not change which messages flip. It returns the number of flipped
// flags.
func (t *Timeline) ApplyReadReceipt(readerRole chat.Role) int {
	if readerRole != "" && !readerRole.Valid() {
		return 0
	}
	return t.markSentByRead(t.identity.LocalRole())
}

// MarkIncomingRead flags every partner-sent message as read locally.
func (t *Timeline) MarkIncomingRead() int {
	return t.markSentByRead(t.identity.LocalRole().Other())
}

func (t *Timeline) markSentByRead(sender chat.Role) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	flipped := 0
	for i := range t.messages {
		if t.messages[i].SenderRole == sender && !t.messages[i].IsRead {
			t.messages[i].IsRead = true
			flipped++
		}
	}
	return flipped
}

// UnreadFromPartner counts partner-sent messages not yet read.
func (t *Timeline) UnreadFromPartner() int {
	partnerRole := t.identity.LocalRole().Other()

	t.mu.RLock()
	defer t.mu.RUnlock()

	count := 0
	for _, msg := range t.messages {
		if msg.SenderRole == partnerRole && !msg.IsRead {
			count++
		}
	}
	return count
}

// Messages returns a copy of the open conversation's messages in order.
func (t *Timeline) Messages() []chat.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return cloneMessages(t.messages)
}

// Pending returns the messages still waiting for confirmation.
func (t *Timeline) Pending() []chat.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []chat.Message
	for _, msg := range t.messages {
		if msg.Pending() {
			out = append(out, msg)
		}
	}
	return out
}

// PartnerID returns the open conversation's partner, or 0.
func (t *Timeline) PartnerID() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.partnerID
}

// Loaded reports whether the open conversation's history has been pulled.
func (t *Timeline) Loaded() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.loaded
}

func (t *Timeline) indexOfIDLocked(id int64) int {
	for i := range t.messages {
		if t.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (t *Timeline) indexOfTempLocked(tempID string) int {
	if tempID == "" {
		return -1
	}
	for i := range t.messages {
		if t.messages[i].TempID == tempID && t.messages[i].ID == 0 {
			return i
		}
	}
	return -1
}

// matchPendingLocked finds the oldest unconfirmed local message with the
// same content as a pushed echo of it.
func (t *Timeline) matchPendingLocked(msg chat.Message) int {
	for i := range t.messages {
		candidate := t.messages[i]
		if candidate.ID == 0 && candidate.TempID != "" && candidate.Status != chat.StatusFailed &&
			candidate.SenderRole == msg.SenderRole && candidate.Content == msg.Content {
			return i
		}
	}
	return -1
}

// promoteEchoLocked gives confirmed's server id to an id-less copy of the
// same message that arrived by push, instead of inserting it twice.
func (t *Timeline) promoteEchoLocked(confirmed chat.Message) bool {
	if confirmed.ID == 0 {
		return false
	}
	for i := range t.messages {
		candidate := t.messages[i]
		if candidate.ID != 0 || candidate.TempID != "" ||
			candidate.SenderRole != confirmed.SenderRole || candidate.Content != confirmed.Content ||
			!closeInTime(candidate.SentAt, confirmed.SentAt) {
			continue
		}
		if confirmed.SentAt.IsZero() {
			confirmed.SentAt = candidate.SentAt
		}
		confirmed.IsRead = confirmed.IsRead || candidate.IsRead
		confirmed.TempID = ""
		confirmed.Status = chat.StatusConfirmed
		t.messages = append(t.messages[:i], t.messages[i+1:]...)
		t.messages = insertSorted(t.messages, confirmed)
		return true
	}
	return false
}

func closeInTime(a, b chat.Timestamp) bool {
	if a.IsZero() || b.IsZero() {
		return true
	}
	d := a.Sub(b.Time)
	return d <= echoTolerance && d >= -echoTolerance
}

// containsEquivalentLocked de-duplicates id-less pushes by sender, content
// and timestamp.
func (t *Timeline) containsEquivalentLocked(msg chat.Message) bool {
	for _, existing := range t.messages {
		if existing.TempID == "" && existing.SenderRole == msg.SenderRole &&
			existing.Content == msg.Content && existing.SentAt.Equal(msg.SentAt.Time) {
			return true
		}
	}
	return false
}

// insertSorted places msg after every message with SentAt <= msg.SentAt.
func insertSorted(messages []chat.Message, msg chat.Message) []chat.Message {
	idx := len(messages)
	for idx > 0 && messages[idx-1].SentAt.After(msg.SentAt.Time) {
		idx--
	}
	messages = append(messages, chat.Message{})
	copy(messages[idx+1:], messages[idx:])
	messages[idx] = msg
	return messages
}

func cloneMessages(messages []chat.Message) []chat.Message {
	out := make([]chat.Message, len(messages))
	copy(out, messages)
	return out
}
