package chat

import "sync"

// ConnectionState is the push channel's externally visible state.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "DISCONNECTED"
	StateConnecting   ConnectionState = "CONNECTING"
	StateConnected    ConnectionState = "CONNECTED"
)

// Focus holds the conversation the user is currently looking at. Components
// read it at dispatch time rather than capturing it when they subscribe.
type Focus struct {
	mu        sync.RWMutex
	partnerID int64
}

// Set makes partnerID the active conversation.
func (f *Focus) Set(partnerID int64) {
	f.mu.Lock()
	f.partnerID = partnerID
	f.mu.Unlock()
}

// Clear leaves no conversation active.
func (f *Focus) Clear() {
	f.Set(0)
}

// PartnerID returns the active partner, or 0 when none is active.
func (f *Focus) PartnerID() int64 {
	if f == nil {
		return 0
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.partnerID
}

// IsActive reports whether partnerID is the active conversation.
func (f *Focus) IsActive(partnerID int64) bool {
	return partnerID != 0 && f.PartnerID() == partnerID
}
