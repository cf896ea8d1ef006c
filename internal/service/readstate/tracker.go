// Package readstate decides when messages count as read and keeps the
// directory, the timeline and the partner in agreement about it.
package readstate

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/z-tavern/tripchat/internal/model/chat"
	"github.com/zhouzirui/z-tavern/tripchat/pkg/utils"
)

// ReadMarker records on the server that the local user read partnerID's
// messages.
type ReadMarker interface {
	MarkAsRead(ctx context.Context, partnerID int64) error
}

// UnreadResetter zeroes a conversation's unread badge.
type UnreadResetter interface {
	ResetUnread(partnerID int64)
}

// LoadedConversation is the open timeline.
type LoadedConversation interface {
	PartnerID() int64
	MarkIncomingRead() int
	ApplyReadReceipt(readerRole chat.Role) int
}

// ReceiptSender tells the partner about the read over the push channel.
type ReceiptSender interface {
	SendReadReceipt(partnerID int64, readerRole chat.Role) error
}

// Tracker is safe for concurrent use.
type Tracker struct {
	marker    ReadMarker
	directory UnreadResetter
	timeline  LoadedConversation
	receipts  ReceiptSender
	localRole chat.Role
	logger    logrus.FieldLogger

	mu    sync.Mutex
	stale map[int64]struct{}
}

// New builds a Tracker. receipts may be nil, in which case the partner is
// not notified.
func New(marker ReadMarker, directory UnreadResetter, timeline LoadedConversation, receipts ReceiptSender, localRole chat.Role, logger logrus.FieldLogger) *Tracker {
	return &Tracker{
		marker:    marker,
		directory: directory,
		timeline:  timeline,
		receipts:  receipts,
		localRole: localRole,
		logger:    utils.OrDefault(logger).WithField("component", "readstate"),
		stale:     make(map[int64]struct{}),
	}
}

// MarkRead marks partnerID's messages read on the server and, on success,
// locally. A failure leaves local state unchanged and remembers the
// conversation so that the next activation retries.
func (t *Tracker) MarkRead(ctx context.Context, partnerID int64) error {
	if partnerID == 0 {
		return nil
	}
	log := t.logger.WithField("partner_id", partnerID)

	if err := t.marker.MarkAsRead(ctx, partnerID); err != nil {
		t.mu.Lock()
		t.stale[partnerID] = struct{}{}
		t.mu.Unlock()
		log.WithError(err).Warn("mark as read failed, will retry on next open")
		return fmt.Errorf("readstate: mark %d read: %w", partnerID, err)
	}

	t.mu.Lock()
	delete(t.stale, partnerID)
	t.mu.Unlock()

	if t.timeline != nil && t.timeline.PartnerID() == partnerID {
		t.timeline.MarkIncomingRead()
	}
	if t.directory != nil {
		t.directory.ResetUnread(partnerID)
	}
	if t.receipts != nil {
		if err := t.receipts.SendReadReceipt(partnerID, t.localRole); err != nil {
			log.WithError(err).Debug("read receipt not delivered")
		}
	}
	return nil
}

// ApplyReceipt applies a receipt from the partner to the open timeline. It
// returns the number of messages that flipped to read.
func (t *Tracker) ApplyReceipt(receipt chat.ReadReceiptEvent) int {
	if t.timeline == nil || receipt.PartnerID == 0 || t.timeline.PartnerID() != receipt.PartnerID {
		return 0
	}
	return t.timeline.ApplyReadReceipt(receipt.ReaderRole)
}

// Stale reports whether the last attempt to mark partnerID read failed.
func (t *Tracker) Stale(partnerID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.stale[partnerID]
	return ok
}
