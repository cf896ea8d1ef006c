package account

import "github.com/zhouzirui/z-tavern/tripchat/internal/model/chat"

// Account is a traveler or provider known to the backend.
type Account struct {
	ID          int64     `json:"id"`
	Role        chat.Role `json:"accountType"`
	DisplayName string    `json:"displayName"`
	Token       string    `json:"-"`
}

// Participant returns the account as a conversation participant.
func (a Account) Participant() chat.Participant {
	return chat.Participant{Role: a.Role, ID: a.ID}
}

// Seed provides demo accounts for local development. Tokens are fixed so
// that the CLI can be pointed at a fresh server without a login flow.
func Seed() []Account {
	return []Account{
		{ID: 1, Role: chat.RoleTraveler, DisplayName: "Mei Lin", Token: "traveler-1-token"},
		{ID: 2, Role: chat.RoleTraveler, DisplayName: "Jonas Berg", Token: "traveler-2-token"},
		{ID: 42, Role: chat.RoleProvider, DisplayName: "Lakeside Kayak Tours", Token: "provider-42-token"},
		{ID: 43, Role: chat.RoleProvider, DisplayName: "Old Town Walking Guides", Token: "provider-43-token"},
	}
}
