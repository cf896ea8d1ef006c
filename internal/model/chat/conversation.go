package chat

// ConversationKey identifies the single conversation between a traveler and
// a provider.
type ConversationKey struct {
	TravelerID int64
	ProviderID int64
}

// KeyOf returns the conversation a message belongs to.
func KeyOf(msg Message) ConversationKey {
	return ConversationKey{TravelerID: msg.TravelerID, ProviderID: msg.ProviderID}
}

// KeyBetween builds the key for a participant and the partner on the other
// side.
func KeyBetween(self Participant, partnerID int64) ConversationKey {
	if self.Role == RoleTraveler {
		return ConversationKey{TravelerID: self.ID, ProviderID: partnerID}
	}
	return ConversationKey{TravelerID: partnerID, ProviderID: self.ID}
}

// PartnerOf returns the participant opposite self in the conversation.
func (k ConversationKey) PartnerOf(self Participant) Participant {
	if self.Role == RoleTraveler {
		return Participant{Role: RoleProvider, ID: k.ProviderID}
	}
	return Participant{Role: RoleTraveler, ID: k.TravelerID}
}

// Includes reports whether p is one of the two participants.
func (k ConversationKey) Includes(p Participant) bool {
	switch p.Role {
	case RoleTraveler:
		return k.TravelerID == p.ID
	case RoleProvider:
		return k.ProviderID == p.ID
	default:
		return false
	}
}
