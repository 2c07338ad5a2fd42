package repository

import (
	"context"

	"classroom/internal/feed"
	"classroom/internal/models"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type NotificationRepository struct {
	db   *gorm.DB
	feed feed.Publisher
	log  *zap.Logger
}

func NewNotificationRepository(db *gorm.DB, pub feed.Publisher, log *zap.Logger) *NotificationRepository {
	return &NotificationRepository{db: db, feed: pub, log: log}
}

// Create inserts n. Rows carrying a DedupKey that already exists are skipped and
// created is false.
func (r *NotificationRepository) Create(ctx context.Context, n *models.Notification) (created bool, err error) {
	q := r.db.WithContext(ctx)
	if n.DedupKey != nil {
		q = q.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "dedup_key"}}, DoNothing: true})
	}
	res := q.Create(n)
	if res.Error != nil {
		return false, errors.Wrap(res.Error, "notification: create")
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	r.emit(ctx, feed.OpInsert, n.ID, n.RecipientID)
	return true, nil
}

func (r *NotificationRepository) ListByRecipient(ctx context.Context, userID uint, limit, offset int) ([]models.Notification, error) {
	var list []models.Notification
	err := r.db.WithContext(ctx).
		Where("recipient_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(limit).Offset(offset).
		Find(&list).Error
	return list, errors.Wrap(err, "notification: list")
}

// GetForRecipient hides other users' notifications behind ErrRecordNotFound.
func (r *NotificationRepository) GetForRecipient(ctx context.Context, id, userID uint) (*models.Notification, error) {
	var n models.Notification
	if err := r.db.WithContext(ctx).Where("id = ? AND recipient_id = ?", id, userID).First(&n).Error; err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *NotificationRepository) MarkRead(ctx context.Context, id, userID uint) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ? AND recipient_id = ? AND is_read = ?", id, userID, false).
		Update("is_read", true)
	if res.Error != nil {
		return 0, errors.Wrap(res.Error, "notification: mark read")
	}
	if res.RowsAffected > 0 {
		r.emit(ctx, feed.OpUpdate, id, userID)
	}
	return res.RowsAffected, nil
}

func (r *NotificationRepository) MarkAllRead(ctx context.Context, userID uint) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Notification{}).
		Where("recipient_id = ? AND is_read = ?", userID, false).
		Update("is_read", true)
	if res.Error != nil {
		return 0, errors.Wrap(res.Error, "notification: mark all read")
	}
	if res.RowsAffected > 0 {
		r.emit(ctx, feed.OpUpdate, 0, userID)
	}
	return res.RowsAffected, nil
}

// ClearAll hard-deletes every notification of userID.
func (r *NotificationRepository) ClearAll(ctx context.Context, userID uint) (int64, error) {
	res := r.db.WithContext(ctx).Where("recipient_id = ?", userID).Delete(&models.Notification{})
	if res.Error != nil {
		return 0, errors.Wrap(res.Error, "notification: clear")
	}
	if res.RowsAffected > 0 {
		r.emit(ctx, feed.OpDelete, 0, userID)
	}
	return res.RowsAffected, nil
}

func (r *NotificationRepository) CountUnread(ctx context.Context, userID uint) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Notification{}).
		Where("recipient_id = ? AND is_read = ?", userID, false).
		Count(&n).Error
	return n, errors.Wrap(err, "notification: count unread")
}

func (r *NotificationRepository) emit(ctx context.Context, op feed.Op, id, recipientID uint) {
	if err := feed.Emit(ctx, r.feed, feed.TableNotifications, op, id, feed.NotificationsTopic(recipientID)); err != nil {
		r.log.Warn("feed_emit_failed", zap.String("table", string(feed.TableNotifications)), zap.Uint("id", id), zap.Error(err))
	}
}
