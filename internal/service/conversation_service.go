package service

import (
	"context"
	"errors"
	"time"

	"classroom/internal/domain"
	"classroom/internal/models"
	"classroom/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ConversationService resolves user pairs to their single conversation.
type ConversationService struct {
	repo *repository.ConversationRepository
	msgs *repository.MessageRepository
	log  *zap.Logger
}

func NewConversationService(repo *repository.ConversationRepository, msgs *repository.MessageRepository, log *zap.Logger) *ConversationService {
	return &ConversationService{repo: repo, msgs: msgs, log: log.Named("registry")}
}

// Resolve returns the conversation of the unordered pair (a, b), creating it on
// first contact. When a concurrent caller creates it first, the winner is adopted.
func (s *ConversationService) Resolve(ctx context.Context, a, b uint) (*models.Conversation, error) {
	if a == 0 || b == 0 {
		return nil, ErrInvalidParticipant
	}
	if a == b {
		return nil, ErrSelfConversation
	}
	c, err := s.repo.FindByPair(ctx, a, b)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	c = models.NewConversation(a, b)
	created, createErr := s.repo.CreateIfAbsent(ctx, c)
	if createErr == nil && created {
		return c, nil
	}
	winner, err := s.repo.FindByPair(ctx, a, b)
	if err == nil {
		s.log.Debug("conversation_adopted", zap.Uint("id", winner.ID), zap.Uint("a", a), zap.Uint("b", b))
		return winner, nil
	}
	if createErr != nil {
		return nil, createErr
	}
	return nil, err
}

// Get loads a conversation the viewer participates in.
func (s *ConversationService) Get(ctx context.Context, id, viewerID uint) (*models.Conversation, error) {
	c, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}
	if !c.HasParticipant(viewerID) {
		return nil, ErrNotParticipant
	}
	return c, nil
}

type ConversationSummary struct {
	models.Conversation
	PeerID      uint  `json:"peer_id"`
	UnreadCount int64 `json:"unread_count"`
}

func (s *ConversationService) List(ctx context.Context, userID uint, limit int) ([]ConversationSummary, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	list, err := s.repo.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	ids := make([]uint, 0, len(list))
	for _, c := range list {
		ids = append(ids, c.ID)
	}
	unread, err := s.msgs.CountUnreadByConversation(ctx, userID, ids)
	if err != nil {
		return nil, err
	}
	out := make([]ConversationSummary, 0, len(list))
	for _, c := range list {
		out = append(out, ConversationSummary{Conversation: c, PeerID: c.Peer(userID), UnreadCount: unread[c.ID]})
	}
	return out, nil
}

// touch refreshes the display snapshot. The message history stays authoritative,
// so a failure here is logged and not returned.
func (s *ConversationService) touch(ctx context.Context, c *models.Conversation, m *models.Message) {
	at := m.CreatedAt
	if at.IsZero() {
		at = time.Now()
	}
	if err := s.repo.UpdateSnapshot(ctx, c, truncate(m.Preview(), domain.SnapshotMaxRunes), at); err != nil {
		s.log.Warn("snapshot_update_failed", zap.Uint("conversation_id", c.ID), zap.Error(err))
	}
}
