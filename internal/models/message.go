package models

import (
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"
)

type Attachment struct {
	Name      string `gorm:"column:attachment_name;size:255" json:"name"`
	URL       string `gorm:"column:attachment_url;size:1024" json:"url"`
	MediaType string `gorm:"column:attachment_media_type;size:64" json:"media_type"`
}

func (a Attachment) IsZero() bool { return a.URL == "" }

// Message rows are immutable after insert except IsRead.
type Message struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	ConversationID uint           `gorm:"not null;index:idx_message_conversation_created,priority:1" json:"conversation_id"`
	SenderID       uint           `gorm:"not null;index" json:"sender_id"`
	ReceiverID     uint           `gorm:"not null;index:idx_message_receiver_read,priority:1" json:"receiver_id"`
	Content        string         `gorm:"type:text" json:"content"`
	Attachment     Attachment     `gorm:"embedded" json:"attachment"`
	IsRead         bool           `gorm:"not null;default:false;index:idx_message_receiver_read,priority:2" json:"is_read"`
	CreatedAt      time.Time      `gorm:"index:idx_message_conversation_created,priority:2" json:"created_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`

	Conversation Conversation `gorm:"foreignKey:ConversationID" json:"-"`
}

func (Message) TableName() string {
	return "messages"
}

// Preview is the text stored as the conversation's last-message snapshot.
func (m *Message) Preview() string {
	if c := strings.TrimSpace(m.Content); c != "" {
		return c
	}
	if !m.Attachment.IsZero() {
		return m.Attachment.Name
	}
	return ""
}

// SortMessages orders by creation time, ties broken by id.
func SortMessages(list []Message) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
}
