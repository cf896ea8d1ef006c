package account

import "github.com/zhouzirui/z-tavern/tripchat/internal/model/chat"

// Store exposes account lookup for HTTP handlers and authentication.
type Store interface {
	List() []Account
	FindByID(role chat.Role, id int64) (Account, bool)
	FindByToken(token string) (Account, bool)
}

// MemoryStore implements Store with an in-memory slice.
type MemoryStore struct {
	items []Account
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied accounts.
func NewMemoryStore(items []Account) *MemoryStore {
	return &MemoryStore{items: append([]Account(nil), items...)}
}

// List returns every account.
func (s *MemoryStore) List() []Account {
	return append([]Account(nil), s.items...)
}

// FindByID looks up an account by role and identifier. Traveler and
// provider ids live in separate spaces.
func (s *MemoryStore) FindByID(role chat.Role, id int64) (Account, bool) {
	for _, item := range s.items {
		if item.Role == role && item.ID == id {
			return item, true
		}
	}
	return Account{}, false
}

// FindByToken resolves a bearer token.
func (s *MemoryStore) FindByToken(token string) (Account, bool) {
	if token == "" {
		return Account{}, false
	}
	for _, item := range s.items {
		if item.Token == token {
			return item, true
		}
	}
	return Account{}, false
}
