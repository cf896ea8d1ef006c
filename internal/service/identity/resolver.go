// Package identity decides which side of the traveler/provider pair the
// local user is on and derives conversation keys from messages.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/zhouzirui/z-tavern/tripchat/internal/model/chat"
)

// ErrUnauthenticated means there is no usable session. Callers must not
// proceed without one.
var ErrUnauthenticated = errors.New("identity: session is not authenticated")

// Account is what the session provider knows about the local user.
type Account struct {
	UserID      int64
	AccountType string
	DisplayName string
	Token       string
}

// SessionProvider supplies the local account. It is consulted once per
// session and the result is treated as immutable afterwards.
type SessionProvider interface {
	Account(ctx context.Context) (Account, error)
}

// StaticProvider serves a fixed account, e.g. one read from configuration.
type StaticProvider Account

// Account implements SessionProvider.
func (p StaticProvider) Account(context.Context) (Account, error) {
	return Account(p), nil
}

// Resolver maps messages onto the local user's perspective.
type Resolver struct {
	local chat.Participant
	name  string
}

// Resolve asks provider for the session account and builds a Resolver.
func Resolve(ctx context.Context, provider SessionProvider) (*Resolver, error) {
	if provider == nil {
		return nil, ErrUnauthenticated
	}
	account, err := provider.Account(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	return New(account)
}

// New builds a Resolver from an already known account.
func New(account Account) (*Resolver, error) {
	if account.UserID <= 0 {
		return nil, ErrUnauthenticated
	}
	role, err := chat.ParseRole(account.AccountType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	return &Resolver{
		local: chat.Participant{Role: role, ID: account.UserID},
		name:  account.DisplayName,
	}, nil
}

// LocalRole returns the role the local user occupies for this session.
func (r *Resolver) LocalRole() chat.Role {
	return r.local.Role
}

// LocalID returns the local user's account id.
func (r *Resolver) LocalID() int64 {
	return r.local.ID
}

// Local returns the local participant.
func (r *Resolver) Local() chat.Participant {
	return r.local
}

// DisplayName returns the local user's display name, if known.
func (r *Resolver) DisplayName() string {
	return r.name
}

// PartnerID returns the id of the participant that is not the local user,
// whichever side sent the message. Zero means the message has no partner.
func (r *Resolver) PartnerID(msg chat.Message) int64 {
	if r.local.Role == chat.RoleTraveler {
		return msg.ProviderID
	}
	return msg.TravelerID
}

// IsOutbound reports whether the local user sent msg.
func (r *Resolver) IsOutbound(msg chat.Message) bool {
	return msg.SenderRole == r.local.Role
}

// Compose builds an outbound message addressed to partnerID.
func (r *Resolver) Compose(partnerID int64, content string, sentAt chat.Timestamp) chat.Message {
	msg := chat.Message{
		SenderRole: r.local.Role,
		Content:    content,
		SentAt:     sentAt,
	}
	if r.local.Role == chat.RoleTraveler {
		msg.TravelerID, msg.ProviderID = r.local.ID, partnerID
	} else {
		msg.TravelerID, msg.ProviderID = partnerID, r.local.ID
	}
	return msg
}
