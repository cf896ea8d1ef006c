package chat

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
)

// EventType discriminates push payloads.
type EventType string

const (
	EventMessage     EventType = "MESSAGE"
	EventReadReceipt EventType = "READ_RECEIPT"
)

// ErrMalformedEvent is returned for push payloads that cannot be decoded or
// classified.
var ErrMalformedEvent = errors.New("malformed push event")

// Event is a decoded push payload. Exactly one of Message and Receipt is set.
type Event struct {
	Type    EventType
	Message *Message
	Receipt *ReadReceiptEvent
}

// wireEvent is the union of both payload shapes as delivered on the inbox.
type wireEvent struct {
	Type       string    `json:"type"`
	ID         int64     `json:"id"`
	TravelerID int64     `json:"travelerId"`
	ProviderID int64     `json:"providerId"`
	SenderRole string    `json:"senderRole"`
	Content    string    `json:"content"`
	SentAt     Timestamp `json:"sentAt"`
	IsRead     bool      `json:"isRead"`
	PartnerID  int64     `json:"partnerId"`
	ReaderRole string    `json:"readerRole"`
}

// DecodeEvent classifies and decodes one inbox payload. A payload without a
// type is a MESSAGE, for transports that do not tag ordinary messages.
func DecodeEvent(data []byte) (Event, error) {
	var raw wireEvent
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	switch EventType(strings.ToUpper(strings.TrimSpace(raw.Type))) {
	case "", EventMessage:
		role, err := ParseRole(raw.SenderRole)
		if err != nil {
			return Event{}, fmt.Errorf("%w: sender role: %v", ErrMalformedEvent, err)
		}
		if strings.TrimSpace(raw.Content) == "" {
			return Event{}, fmt.Errorf("%w: empty content", ErrMalformedEvent)
		}
		return Event{
			Type: EventMessage,
			Message: &Message{
				ID:         raw.ID,
				TravelerID: raw.TravelerID,
				ProviderID: raw.ProviderID,
				SenderRole: role,
				Content:    raw.Content,
				SentAt:     raw.SentAt,
				IsRead:     raw.IsRead,
				Status:     StatusConfirmed,
			},
		}, nil
	case EventReadReceipt:
		role, err := ParseRole(raw.ReaderRole)
		if err != nil {
			return Event{}, fmt.Errorf("%w: reader role: %v", ErrMalformedEvent, err)
		}
		return Event{
			Type:    EventReadReceipt,
			Receipt: &ReadReceiptEvent{PartnerID: raw.PartnerID, ReaderRole: role},
		}, nil
	default:
		return Event{}, fmt.Errorf("%w: unknown type %q", ErrMalformedEvent, raw.Type)
	}
}

// EncodeMessageEvent renders a message in the inbox wire shape.
func EncodeMessageEvent(msg Message) ([]byte, error) {
	return sonic.Marshal(wireEvent{
		Type:       string(EventMessage),
		ID:         msg.ID,
		TravelerID: msg.TravelerID,
		ProviderID: msg.ProviderID,
		SenderRole: string(msg.SenderRole),
		Content:    msg.Content,
		SentAt:     msg.SentAt,
		IsRead:     msg.IsRead,
	})
}

// EncodeReadReceipt renders a read receipt in the inbox wire shape.
func EncodeReadReceipt(receipt ReadReceiptEvent) ([]byte, error) {
	return sonic.Marshal(struct {
		Type       string `json:"type"`
		PartnerID  int64  `json:"partnerId"`
		ReaderRole string `json:"readerRole"`
	}{
		Type:       string(EventReadReceipt),
		PartnerID:  receipt.PartnerID,
		ReaderRole: string(receipt.ReaderRole),
	})
}
