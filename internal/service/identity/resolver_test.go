package identity_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-tavern/tripchat/internal/model/chat"
	"github.com/zhouzirui/z-tavern/tripchat/internal/service/identity"
)

type failingProvider struct{}

func (failingProvider) Account(context.Context) (identity.Account, error) {
	return identity.Account{}, errors.New("token expired")
}

func TestResolveTraveler(t *testing.T) {
	resolver, err := identity.Resolve(context.Background(), identity.StaticProvider{UserID: 7, AccountType: "traveler"})
	require.NoError(t, err)

	assert.Equal(t, chat.RoleTraveler, resolver.LocalRole())
	assert.Equal(t, int64(7), resolver.LocalID())

	inbound := chat.Message{TravelerID: 7, ProviderID: 42, SenderRole: chat.RoleProvider}
	outbound := chat.Message{TravelerID: 7, ProviderID: 42, SenderRole: chat.RoleTraveler}
	assert.Equal(t, int64(42), resolver.PartnerID(inbound))
	assert.Equal(t, int64(42), resolver.PartnerID(outbound))
	assert.False(t, resolver.IsOutbound(inbound))
	assert.True(t, resolver.IsOutbound(outbound))
}

func TestResolveProvider(t *testing.T) {
	resolver, err := identity.New(identity.Account{UserID: 42, AccountType: "PROVIDER"})
	require.NoError(t, err)

	msg := chat.Message{TravelerID: 7, ProviderID: 42, SenderRole: chat.RoleTraveler}
	assert.Equal(t, int64(7), resolver.PartnerID(msg))

	composed := resolver.Compose(7, "hello", chat.Now())
	assert.Equal(t, int64(7), composed.TravelerID)
	assert.Equal(t, int64(42), composed.ProviderID)
	assert.Equal(t, chat.RoleProvider, composed.SenderRole)
}

func TestResolveUnauthenticated(t *testing.T) {
	cases := map[string]identity.SessionProvider{
		"nil provider":   nil,
		"provider error": failingProvider{},
		"missing id":     identity.StaticProvider{AccountType: "TRAVELER"},
		"unknown type":   identity.StaticProvider{UserID: 1, AccountType: "ADMIN"},
	}
	for name, provider := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := identity.Resolve(context.Background(), provider)
			assert.True(t, errors.Is(err, identity.ErrUnauthenticated), "got %v", err)
		})
	}
}
