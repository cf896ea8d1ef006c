// Package directory keeps the ordered list of conversation summaries.
package directory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/z-tavern/tripchat/internal/model/chat"
	"github.com/zhouzirui/z-tavern/tripchat/pkg/utils"
)

// ErrDirectoryUnavailable wraps any failure to pull the conversation list.
var ErrDirectoryUnavailable = errors.New("directory: conversation list unavailable")

// Fetcher pulls every conversation summary for the local user.
type Fetcher interface {
	FetchConversations(ctx context.Context) ([]chat.ConversationSummary, error)
}

type entry struct {
	summary chat.ConversationSummary
	// seq is the insertion order, used to keep the sort stable.
	seq uint64
}

// Directory is safe for concurrent use.
type Directory struct {
	fetcher Fetcher
	focus   *chat.Focus
	logger  logrus.FieldLogger

	mu      sync.RWMutex
	entries []*entry
	index   map[int64]*entry
	nextSeq uint64
}

// New builds an empty directory. focus is consulted on every upsert to tell
// whether the message belongs to the conversation the user is viewing.
func New(fetcher Fetcher, focus *chat.Focus, logger logrus.FieldLogger) *Directory {
	if focus == nil {
		focus = &chat.Focus{}
	}
	return &Directory{
		fetcher: fetcher,
		focus:   focus,
		logger:  utils.OrDefault(logger).WithField("component", "directory"),
		index:   make(map[int64]*entry),
	}
}

// LoadAll replaces the directory with the server's conversation list. On
// failure the previous contents are kept.
func (d *Directory) LoadAll(ctx context.Context) ([]chat.ConversationSummary, error) {
	if d.fetcher == nil {
		return nil, fmt.Errorf("%w: no fetcher configured", ErrDirectoryUnavailable)
	}
	summaries, err := d.fetcher.FetchConversations(ctx)
	if err != nil {
		d.logger.WithError(err).Warn("conversation list fetch failed")
		return nil, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}

	d.mu.Lock()
	d.entries = d.entries[:0]
	d.index = make(map[int64]*entry, len(summaries))
	for _, summary := range summaries {
		if summary.PartnerID == 0 {
			continue
		}
		if summary.UnreadCount < 0 {
			summary.UnreadCount = 0
		}
		if existing, ok := d.index[summary.PartnerID]; ok {
			existing.summary = summary
			continue
		}
		d.insertLocked(summary)
	}
	d.sortLocked()
	out := d.snapshotLocked()
	d.mu.Unlock()

	d.logger.WithField("conversations", len(out)).Debug("conversation list loaded")
	return out, nil
}

// UpsertFromMessage records msg against the partner it implies from the
// local role's perspective. Unknown partners are synthesized. The unread
// counter grows only for inbound messages outside the active conversation.
func (d *Directory) UpsertFromMessage(msg chat.Message, localRole chat.Role) {
	partnerID := msg.ProviderID
	if localRole == chat.RoleProvider {
		partnerID = msg.TravelerID
	}
	if partnerID == 0 {
		d.logger.WithField("sender_role", msg.SenderRole).Warn("message without partner id ignored")
		return
	}
	inbound := msg.SenderRole != localRole
	if msg.SentAt.IsZero() {
		// an unstamped event is treated as just received
		msg.SentAt = chat.Now()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.index[partnerID]
	if !ok {
		e = d.insertLocked(chat.ConversationSummary{PartnerID: partnerID})
	}

	if !msg.SentAt.Before(e.summary.LastMessageAt.Time) {
		e.summary.LastMessagePreview = msg.Content
		e.summary.LastMessageAt = msg.SentAt
	}
	if inbound && !msg.IsRead && !d.focus.IsActive(partnerID) {
		e.summary.UnreadCount++
	}
	d.sortLocked()
}

// ResetUnread zeroes the unread counter for partnerID.
func (d *Directory) ResetUnread(partnerID int64) {
	d.SetUnread(partnerID, 0)
}

// SetUnread overwrites the unread counter, e.g. with a value recomputed from
// the loaded timeline. Unknown partners are ignored.
func (d *Directory) SetUnread(partnerID int64, count int) {
	if count < 0 {
		count = 0
	}
	d.mu.Lock()
	if e, ok := d.index[partnerID]; ok {
		e.summary.UnreadCount = count
	}
	d.mu.Unlock()
}

// SetDisplayName fills in the partner's display name.
func (d *Directory) SetDisplayName(partnerID int64, name string) {
	d.mu.Lock()
	if e, ok := d.index[partnerID]; ok && name != "" {
		e.summary.PartnerDisplayName = name
	}
	d.mu.Unlock()
}

// List returns the summaries, most recent first.
func (d *Directory) List() []chat.ConversationSummary {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.snapshotLocked()
}

// Get returns the summary for partnerID.
func (d *Directory) Get(partnerID int64) (chat.ConversationSummary, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.index[partnerID]
	if !ok {
		return chat.ConversationSummary{}, false
	}
	return e.summary, true
}

// TotalUnread sums the unread counters across conversations.
func (d *Directory) TotalUnread() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	total := 0
	for _, e := range d.entries {
		total += e.summary.UnreadCount
	}
	return total
}

func (d *Directory) insertLocked(summary chat.ConversationSummary) *entry {
	e := &entry{summary: summary, seq: d.nextSeq}
	d.nextSeq++
	d.entries = append(d.entries, e)
	d.index[summary.PartnerID] = e
	return e
}

// sortLocked orders by LastMessageAt descending; ties keep insertion order.
func (d *Directory) sortLocked() {
	sort.SliceStable(d.entries, func(i, j int) bool {
		a, b := d.entries[i], d.entries[j]
		if !a.summary.LastMessageAt.Equal(b.summary.LastMessageAt.Time) {
			return a.summary.LastMessageAt.After(b.summary.LastMessageAt.Time)
		}
		return a.seq < b.seq
	})
}

func (d *Directory) snapshotLocked() []chat.ConversationSummary {
	out := make([]chat.ConversationSummary, 0, len(d.entries))
	for _, e := range d.entries {
		out = append(out, e.summary)
	}
	return out
}
