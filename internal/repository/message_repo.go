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

type MessageRepository struct {
	db   *gorm.DB
	feed feed.Publisher
	log  *zap.Logger
}

func NewMessageRepository(db *gorm.DB, pub feed.Publisher, log *zap.Logger) *MessageRepository {
	return &MessageRepository{db: db, feed: pub, log: log}
}

func (r *MessageRepository) Create(ctx context.Context, m *models.Message) error {
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(m).Error; err != nil {
		return errors.Wrap(err, "message: create")
	}
	r.emit(ctx, feed.OpInsert, m.ID, feed.ConversationTopic(m.ConversationID), feed.InboxTopic(m.ReceiverID))
	return nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id uint) (*models.Message, error) {
	var m models.Message
	if err := r.db.WithContext(ctx).First(&m, id).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// ListLatest returns up to limit newest messages in display order (oldest first).
func (r *MessageRepository) ListLatest(ctx context.Context, conversationID uint, limit int) ([]models.Message, error) {
	var list []models.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&list).Error
	if err != nil {
		return nil, errors.Wrap(err, "message: list latest")
	}
	models.SortMessages(list)
	return list, nil
}

// ListBefore pages backwards from the message identified by before.
func (r *MessageRepository) ListBefore(ctx context.Context, conversationID uint, before *models.Message, limit int) ([]models.Message, error) {
	var list []models.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Where("created_at < ? OR (created_at = ? AND id < ?)", before.CreatedAt, before.CreatedAt, before.ID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&list).Error
	if err != nil {
		return nil, errors.Wrap(err, "message: list before")
	}
	models.SortMessages(list)
	return list, nil
}

// MarkRead flips unread messages addressed to readerID. Returns rows changed.
func (r *MessageRepository) MarkRead(ctx context.Context, conversationID, readerID uint) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("conversation_id = ? AND receiver_id = ? AND is_read = ?", conversationID, readerID, false).
		Update("is_read", true)
	if res.Error != nil {
		return 0, errors.Wrap(res.Error, "message: mark read")
	}
	if res.RowsAffected > 0 {
		r.emit(ctx, feed.OpUpdate, 0, feed.ConversationTopic(conversationID), feed.InboxTopic(readerID))
	}
	return res.RowsAffected, nil
}

func (r *MessageRepository) Delete(ctx context.Context, m *models.Message) error {
	res := r.db.WithContext(ctx).Delete(&models.Message{}, m.ID)
	if res.Error != nil {
		return errors.Wrap(res.Error, "message: delete")
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	r.emit(ctx, feed.OpDelete, m.ID, feed.ConversationTopic(m.ConversationID), feed.InboxTopic(m.ReceiverID))
	return nil
}

// CountUnread counts unread messages addressed to userID across all conversations.
func (r *MessageRepository) CountUnread(ctx context.Context, userID uint) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("receiver_id = ? AND is_read = ?", userID, false).
		Count(&n).Error
	return n, errors.Wrap(err, "message: count unread")
}

// CountUnreadByConversation returns unread counts for userID keyed by conversation.
func (r *MessageRepository) CountUnreadByConversation(ctx context.Context, userID uint, conversationIDs []uint) (map[uint]int64, error) {
	out := make(map[uint]int64, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return out, nil
	}
	var rows []struct {
		ConversationID uint
		N              int64
	}
	err := r.db.WithContext(ctx).Model(&models.Message{}).
		Select("conversation_id, COUNT(*) AS n").
		Where("receiver_id = ? AND is_read = ? AND conversation_id IN ?", userID, false, conversationIDs).
		Group("conversation_id").
		Scan(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "message: count unread by conversation")
	}
	for _, row := range rows {
		out[row.ConversationID] = row.N
	}
	return out, nil
}

func (r *MessageRepository) emit(ctx context.Context, op feed.Op, id uint, topics ...string) {
	if err := feed.Emit(ctx, r.feed, feed.TableMessages, op, id, topics...); err != nil {
		r.log.Warn("feed_emit_failed", zap.String("table", string(feed.TableMessages)), zap.Uint("id", id), zap.Error(err))
	}
}
