package models

import (
	"time"

	"classroom/internal/domain"

	"gorm.io/gorm"
)

// NotificationPreference lives on the user profile. Enabled is the global switch;
// the push fields track the browser permission and the user's own toggle independently.
type NotificationPreference struct {
	Enabled        bool   `gorm:"column:notifications_enabled;not null" json:"enabled"`
	PushPermission string `gorm:"column:push_permission;size:16;not null;default:'default'" json:"push_permission"`
	PushEnabled    bool   `gorm:"column:push_enabled;not null" json:"push_enabled"`
}

func (p NotificationPreference) AllowsInApp() bool { return p.Enabled }

// AllowsPush requires the global switch as well; a granted, enabled push channel
// never overrides a disabled global switch.
func (p NotificationPreference) AllowsPush() bool {
	return p.Enabled && p.PushEnabled && p.PushPermission == domain.PushPermissionGranted
}

type User struct {
	ID          uint                   `gorm:"primaryKey" json:"id"`
	Name        string                 `gorm:"size:128;not null;default:''" json:"name"`
	Email       string                 `gorm:"uniqueIndex;size:255;not null" json:"email"`
	Role        string                 `gorm:"size:20;not null;index" json:"role"` // STUDENT | LECTURER
	Preferences NotificationPreference `gorm:"embedded" json:"notification_preferences"`
	FCMToken    string                 `gorm:"size:512" json:"-"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	DeletedAt   gorm.DeletedAt         `gorm:"index" json:"-"`
}

func (User) TableName() string {
	return "users"
}
