package models

import "time"

// Conversation is a direct thread between two users. The pair is stored with
// ParticipantAID < ParticipantBID so the unique index covers both orders.
type Conversation struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	ParticipantAID uint       `gorm:"not null;uniqueIndex:idx_conversation_pair,priority:1;index" json:"participant_a_id"`
	ParticipantBID uint       `gorm:"not null;uniqueIndex:idx_conversation_pair,priority:2;index" json:"participant_b_id"`
	LastMessage    string     `gorm:"size:512;not null;default:''" json:"last_message"`
	LastMessageAt  *time.Time `gorm:"index" json:"last_message_at"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (Conversation) TableName() string {
	return "conversations"
}

// NewConversation returns an unsaved conversation for the unordered pair (a, b).
func NewConversation(a, b uint) *Conversation {
	if a > b {
		a, b = b, a
	}
	return &Conversation{ParticipantAID: a, ParticipantBID: b}
}

func (c *Conversation) HasParticipant(userID uint) bool {
	return userID != 0 && (c.ParticipantAID == userID || c.ParticipantBID == userID)
}

// Peer returns the other participant, or 0 when userID is not part of the conversation.
func (c *Conversation) Peer(userID uint) uint {
	switch userID {
	case c.ParticipantAID:
		return c.ParticipantBID
	case c.ParticipantBID:
		return c.ParticipantAID
	}
	return 0
}

func (c *Conversation) Participants() []uint {
	return []uint{c.ParticipantAID, c.ParticipantBID}
}
