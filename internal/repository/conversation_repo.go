package repository

import (
	"context"
	"time"

	"classroom/internal/feed"
	"classroom/internal/models"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ConversationRepository struct {
	db   *gorm.DB
	feed feed.Publisher
	log  *zap.Logger
}

func NewConversationRepository(db *gorm.DB, pub feed.Publisher, log *zap.Logger) *ConversationRepository {
	return &ConversationRepository{db: db, feed: pub, log: log}
}

// FindByPair matches the pair in either stored order.
func (r *ConversationRepository) FindByPair(ctx context.Context, a, b uint) (*models.Conversation, error) {
	var c models.Conversation
	err := r.db.WithContext(ctx).
		Where("(participant_a_id = ? AND participant_b_id = ?) OR (participant_a_id = ? AND participant_b_id = ?)", a, b, b, a).
		Order("id ASC").
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *ConversationRepository) GetByID(ctx context.Context, id uint) (*models.Conversation, error) {
	var c models.Conversation
	if err := r.db.WithContext(ctx).First(&c, id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateIfAbsent inserts c unless the pair already exists. created is false when a
// concurrent writer won the unique index.
func (r *ConversationRepository) CreateIfAbsent(ctx context.Context, c *models.Conversation) (created bool, err error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(c)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	r.emit(ctx, feed.OpInsert, c)
	return true, nil
}

// UpdateSnapshot overwrites the cached last-message fields. Last write wins.
func (r *ConversationRepository) UpdateSnapshot(ctx context.Context, c *models.Conversation, text string, at time.Time) error {
	err := r.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ?", c.ID).
		Updates(map[string]interface{}{"last_message": text, "last_message_at": at}).Error
	if err != nil {
		return errors.Wrap(err, "conversation: update snapshot")
	}
	c.LastMessage = text
	c.LastMessageAt = &at
	r.emit(ctx, feed.OpUpdate, c)
	return nil
}

// ListByUser orders by most recent activity; conversations without messages sort last.
func (r *ConversationRepository) ListByUser(ctx context.Context, userID uint, limit int) ([]models.Conversation, error) {
	var list []models.Conversation
	err := r.db.WithContext(ctx).
		Where("participant_a_id = ? OR participant_b_id = ?", userID, userID).
		Order("last_message_at IS NULL, last_message_at DESC, id DESC").
		Limit(limit).
		Find(&list).Error
	return list, errors.Wrap(err, "conversation: list")
}

func (r *ConversationRepository) emit(ctx context.Context, op feed.Op, c *models.Conversation) {
	var topics []string
	for _, id := range c.Participants() {
		topics = append(topics, feed.ConversationsTopic(id))
	}
	err := feed.Emit(ctx, r.feed, feed.TableConversations, op, c.ID, topics...)
	if err != nil {
		r.log.Warn("feed_emit_failed", zap.String("table", string(feed.TableConversations)), zap.Uint("id", c.ID), zap.Error(err))
	}
}
