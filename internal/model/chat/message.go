package chat

import "time"

// DeliveryStatus tracks a message's local confirmation state. It never
// travels over the wire.
type DeliveryStatus string

const (
	StatusConfirmed DeliveryStatus = "confirmed"
	StatusPending   DeliveryStatus = "pending"
	StatusFailed    DeliveryStatus = "failed"
)

// Message is one turn between a traveler and a provider.
//
// ID is the server-assigned id. Messages created locally before the server
// confirms them carry a TempID instead and have ID == 0.
type Message struct {
	ID         int64          `json:"id,omitempty"`
	TempID     string         `json:"-"`
	TravelerID int64          `json:"travelerId"`
	ProviderID int64          `json:"providerId"`
	SenderRole Role           `json:"senderRole"`
	Content    string         `json:"content"`
	SentAt     Timestamp      `json:"sentAt"`
	IsRead     bool           `json:"isRead"`
	Status     DeliveryStatus `json:"-"`
}

// Pending reports whether the message is still waiting for a server id.
func (m Message) Pending() bool {
	return m.ID == 0 && m.TempID != ""
}

// Confirmed reports whether the message carries a server id.
func (m Message) Confirmed() bool {
	return m.ID != 0
}

// Failed reports whether a local send of this message was rejected.
func (m Message) Failed() bool {
	return m.Status == StatusFailed
}

// SenderID returns the account id of whoever sent the message.
func (m Message) SenderID() int64 {
	if m.SenderRole == RoleProvider {
		return m.ProviderID
	}
	return m.TravelerID
}

// ConversationSummary is one row of the conversation list.
type ConversationSummary struct {
	PartnerID          int64     `json:"partnerId"`
	PartnerDisplayName string    `json:"partnerDisplayName"`
	LastMessagePreview string    `json:"lastMessagePreview"`
	LastMessageAt      Timestamp `json:"lastMessageAt"`
	UnreadCount        int       `json:"unreadCount"`
}

// ReadReceiptEvent tells the local user that PartnerID has read every
// message sent to them.
type ReadReceiptEvent struct {
	PartnerID  int64 `json:"partnerId"`
	ReaderRole Role  `json:"readerRole"`
}

// Now returns the current time as a Timestamp.
func Now() Timestamp {
	return At(time.Now())
}
