package models

import (
	"time"

	"classroom/internal/domain"
)

// Notification is owned by its recipient. Cleared notifications are hard-deleted.
type Notification struct {
	ID          uint                    `gorm:"primaryKey" json:"id"`
	RecipientID uint                    `gorm:"not null;index:idx_notification_recipient_read,priority:1" json:"recipient_id"`
	SenderID    *uint                   `json:"sender_id,omitempty"`
	Title       string                  `gorm:"size:255;not null" json:"title"`
	Body        string                  `gorm:"type:text" json:"body"`
	Type        domain.NotificationType `gorm:"size:32;not null;index" json:"type"`
	RelatedID   *uint                   `json:"related_id,omitempty"`
	ClassID     *uint                   `gorm:"index" json:"class_id,omitempty"`
	IsRead      bool                    `gorm:"not null;default:false;index:idx_notification_recipient_read,priority:2" json:"is_read"`
	DedupKey    *string                 `gorm:"size:191;uniqueIndex" json:"-"`
	CreatedAt   time.Time               `gorm:"index" json:"created_at"`
}

func (Notification) TableName() string {
	return "notifications"
}

// Target is what a client needs to route after a notification is opened.
type Target struct {
	Type      domain.NotificationType `json:"type"`
	RelatedID *uint                   `json:"related_id,omitempty"`
	ClassID   *uint                   `json:"class_id,omitempty"`
	Role      string                  `json:"role"`
}

func (n *Notification) Target(role string) Target {
	return Target{Type: n.Type, RelatedID: n.RelatedID, ClassID: n.ClassID, Role: role}
}
