// Package dispatch routes push events and user actions to the directory,
// the timeline and the read-state tracker.
//
// Every event is applied to the directory before the timeline so that the
// conversation list never lags behind the open conversation.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/z-tavern/tripchat/internal/model/chat"
	"github.com/zhouzirui/z-tavern/tripchat/internal/service/directory"
	"github.com/zhouzirui/z-tavern/tripchat/internal/service/identity"
	"github.com/zhouzirui/z-tavern/tripchat/internal/service/readstate"
	"github.com/zhouzirui/z-tavern/tripchat/internal/service/timeline"
	"github.com/zhouzirui/z-tavern/tripchat/internal/transport/rest"
	"github.com/zhouzirui/z-tavern/tripchat/pkg/utils"
)

const markReadTimeout = 10 * time.Second

// ErrUnroutable is returned for messages that cannot be attributed to a
// conversation of the local user.
var ErrUnroutable = errors.New("dispatch: event cannot be routed to a conversation")

// Sender submits an outbound message over the request channel.
type Sender interface {
	SendMessage(ctx context.Context, req rest.SendRequest) (chat.Message, error)
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithExecutor replaces how background work (auto mark-as-read) is run.
// The default starts a goroutine.
func WithExecutor(run func(func())) Option {
	return func(d *Dispatcher) {
		if run != nil {
			d.async = run
		}
	}
}

// WithListener registers fn to be called after every applied event.
func WithListener(fn func(chat.Event)) Option {
	return func(d *Dispatcher) {
		if fn != nil {
			d.listeners = append(d.listeners, fn)
		}
	}
}

// Dispatcher is safe for concurrent use; the components it drives carry
// their own locks.
type Dispatcher struct {
	identity  *identity.Resolver
	focus     *chat.Focus
	directory *directory.Directory
	timeline  *timeline.Timeline
	tracker   *readstate.Tracker
	sender    Sender
	logger    logrus.FieldLogger
	async     func(func())
	listeners []func(chat.Event)
}

// New wires a Dispatcher. focus must be the same instance the directory
// was built with.
func New(
	resolver *identity.Resolver,
	focus *chat.Focus,
	dir *directory.Directory,
	tl *timeline.Timeline,
	tracker *readstate.Tracker,
	sender Sender,
	logger logrus.FieldLogger,
	opts ...Option,
) *Dispatcher {
	d := &Dispatcher{
		identity:  resolver,
		focus:     focus,
		directory: dir,
		timeline:  tl,
		tracker:   tracker,
		sender:    sender,
		logger:    utils.OrDefault(logger).WithField("component", "dispatch"),
		async:     func(f func()) { go f() },
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// HandlePayload decodes and dispatches one raw inbox payload. Bad payloads
// are logged and dropped; it never panics.
func (d *Dispatcher) HandlePayload(payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.WithFields(logrus.Fields{
				"panic": r,
				"stack": string(debug.Stack()),
			}).Error("recovered while dispatching push event")
		}
	}()

	event, err := chat.DecodeEvent(payload)
	if err != nil {
		d.logger.WithError(err).WithField("payload", truncate(payload, 256)).Warn("dropping undecodable push event")
		return
	}
	if err := d.Dispatch(event); err != nil {
		d.logger.WithError(err).WithField("type", event.Type).Warn("dropping push event")
	}
}

// Dispatch applies a decoded event.
func (d *Dispatcher) Dispatch(event chat.Event) error {
	switch event.Type {
	case chat.EventReadReceipt:
		if event.Receipt == nil {
			return fmt.Errorf("%w: receipt without body", chat.ErrMalformedEvent)
		}
		d.applyReceipt(*event.Receipt)
	case chat.EventMessage:
		if event.Message == nil {
			return fmt.Errorf("%w: message without body", chat.ErrMalformedEvent)
		}
		if err := d.applyMessage(*event.Message); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: unknown type %q", chat.ErrMalformedEvent, event.Type)
	}

	for _, fn := range d.listeners {
		fn(event)
	}
	return nil
}

func (d *Dispatcher) applyReceipt(receipt chat.ReadReceiptEvent) {
	if !d.focus.IsActive(receipt.PartnerID) {
		d.logger.WithField("partner_id", receipt.PartnerID).Debug("receipt for inactive conversation ignored")
		return
	}
	flipped := d.tracker.ApplyReceipt(receipt)
	d.logger.WithFields(logrus.Fields{
		"partner_id": receipt.PartnerID,
		"flipped":    flipped,
	}).Debug("read receipt applied")
}

func (d *Dispatcher) applyMessage(msg chat.Message) error {
	partnerID := d.identity.PartnerID(msg)
	if partnerID == 0 {
		return fmt.Errorf("%w: message %d has no partner id", ErrUnroutable, msg.ID)
	}
	if localID := d.localSideID(msg); localID != 0 && localID != d.identity.LocalID() {
		return fmt.Errorf("%w: message %d is addressed to account %d", ErrUnroutable, msg.ID, localID)
	}

	d.directory.UpsertFromMessage(msg, d.identity.LocalRole())

	if !d.focus.IsActive(partnerID) {
		return nil
	}
	d.timeline.ApplyIncoming(msg)
	if d.timeline.PartnerID() == partnerID && d.timeline.Loaded() {
		d.directory.SetUnread(partnerID, d.timeline.UnreadFromPartner())
	}
	if !d.identity.IsOutbound(msg) && !msg.IsRead {
		d.scheduleMarkRead(partnerID)
	}
	return nil
}

func (d *Dispatcher) localSideID(msg chat.Message) int64 {
	if d.identity.LocalRole() == chat.RoleTraveler {
		return msg.TravelerID
	}
	return msg.ProviderID
}

func (d *Dispatcher) scheduleMarkRead(partnerID int64) {
	d.async(func() {
		// the user may have navigated away before this ran
		if !d.focus.IsActive(partnerID) {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), markReadTimeout)
		defer cancel()
		_ = d.tracker.MarkRead(ctx, partnerID)
	})
}

// Open makes partnerID the active conversation, loads its history and
// marks it read. A failed mark-as-read does not fail Open.
func (d *Dispatcher) Open(ctx context.Context, partnerID int64) ([]chat.Message, error) {
	if partnerID == 0 {
		return nil, timeline.ErrNoConversation
	}
	d.focus.Set(partnerID)

	if _, err := d.timeline.LoadHistory(ctx, partnerID); err != nil {
		return nil, err
	}
	if !d.focus.IsActive(partnerID) {
		return nil, timeline.ErrStaleResponse
	}

	d.directory.SetUnread(partnerID, d.timeline.UnreadFromPartner())
	if err := d.tracker.MarkRead(ctx, partnerID); err != nil {
		d.logger.WithError(err).WithField("partner_id", partnerID).Debug("conversation opened without marking read")
	}
	return d.timeline.Messages(), nil
}

// Close leaves no conversation active. The timeline keeps its messages
// until another conversation is opened.
func (d *Dispatcher) Close() {
	d.focus.Clear()
}

// Send delivers content to partnerID. When partnerID is the open
// conversation the message shows up as pending immediately and is
// confirmed or failed once the server answers.
func (d *Dispatcher) Send(ctx context.Context, partnerID int64, content string) (chat.Message, error) {
	if strings.TrimSpace(content) == "" {
		return chat.Message{}, timeline.ErrEmptyContent
	}
	if partnerID == 0 {
		return chat.Message{}, timeline.ErrNoConversation
	}

	active := d.focus.IsActive(partnerID) && d.timeline.PartnerID() == partnerID
	var pending chat.Message
	if active {
		var err error
		pending, err = d.timeline.AppendOptimistic(content)
		if err != nil {
			return chat.Message{}, err
		}
	} else {
		pending = d.identity.Compose(partnerID, content, chat.Now())
	}
	d.directory.UpsertFromMessage(pending, d.identity.LocalRole())

	log := d.logger.WithFields(logrus.Fields{"partner_id": partnerID, "temp_id": pending.TempID})
	confirmed, err := d.sender.SendMessage(ctx, rest.SendRequest{PartnerID: partnerID, Content: content})
	if err != nil {
		if active {
			if failErr := d.timeline.Fail(pending.TempID); failErr != nil {
				log.WithError(failErr).Debug("pending message already gone")
			}
		}
		pending.Status = chat.StatusFailed
		log.WithError(err).Warn("send failed")
		return pending, fmt.Errorf("dispatch: send to %d: %w", partnerID, err)
	}

	if active {
		if err := d.timeline.Confirm(pending.TempID, confirmed); errors.Is(err, timeline.ErrUnknownTempID) {
			// a refetch replaced the pending entry before the answer came back
			d.timeline.ApplyIncoming(confirmed)
		}
	}
	d.directory.UpsertFromMessage(confirmed, d.identity.LocalRole())
	confirmed.Status = chat.StatusConfirmed
	return confirmed, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
