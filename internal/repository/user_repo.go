package repository

import (
	"context"

	"classroom/internal/models"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, u *models.User) error {
	return errors.Wrap(r.db.WithContext(ctx).Create(u).Error, "user: create")
}

func (r *UserRepository) GetByID(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	if err := r.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// RecipientPreference is what the fan-out engine needs to know about one recipient.
type RecipientPreference struct {
	UserID   uint
	FCMToken string
	models.NotificationPreference
}

// PreferencesFor returns preferences keyed by user id. Unknown ids are absent from the map.
func (r *UserRepository) PreferencesFor(ctx context.Context, userIDs []uint) (map[uint]RecipientPreference, error) {
	out := make(map[uint]RecipientPreference, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	var users []models.User
	err := r.db.WithContext(ctx).
		Select("id", "fcm_token", "notifications_enabled", "push_permission", "push_enabled").
		Where("id IN ?", userIDs).
		Find(&users).Error
	if err != nil {
		return nil, errors.Wrap(err, "user: load preferences")
	}
	for _, u := range users {
		out[u.ID] = RecipientPreference{UserID: u.ID, FCMToken: u.FCMToken, NotificationPreference: u.Preferences}
	}
	return out, nil
}

// PreferencePatch carries the fields a user may change; nil fields are left alone.
type PreferencePatch struct {
	Enabled        *bool
	PushPermission *string
	PushEnabled    *bool
}

func (r *UserRepository) UpdatePreferences(ctx context.Context, userID uint, p PreferencePatch) error {
	updates := map[string]interface{}{}
	if p.Enabled != nil {
		updates["notifications_enabled"] = *p.Enabled
	}
	if p.PushPermission != nil {
		updates["push_permission"] = *p.PushPermission
	}
	if p.PushEnabled != nil {
		updates["push_enabled"] = *p.PushEnabled
	}
	if len(updates) == 0 {
		return nil
	}
	res := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Updates(updates)
	if res.Error != nil {
		return errors.Wrap(res.Error, "user: update preferences")
	}
	if res.RowsAffected == 0 {
		return r.mustExist(ctx, userID)
	}
	return nil
}

func (r *UserRepository) SetFCMToken(ctx context.Context, userID uint, token string) error {
	res := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Update("fcm_token", token)
	if res.Error != nil {
		return errors.Wrap(res.Error, "user: set fcm token")
	}
	if res.RowsAffected == 0 {
		return r.mustExist(ctx, userID)
	}
	return nil
}

// MySQL reports zero affected rows when the new values equal the old ones.
func (r *UserRepository) mustExist(ctx context.Context, userID uint) error {
	var n int64
	if err := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Count(&n).Error; err != nil {
		return errors.Wrap(err, "user: lookup")
	}
	if n == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
