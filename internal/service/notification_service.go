package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"classroom/internal/domain"
	"classroom/internal/metrics"
	"classroom/internal/models"
	"classroom/internal/repository"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// Pusher delivers out-of-app push notifications. *FCMService implements it.
type Pusher interface {
	SendToUser(ctx context.Context, fcmToken string, notifType, title, body string, data map[string]interface{}) error
}

type NotifyOption func(*notifyOptions)

type notifyOptions struct {
	key string
}

// WithIdempotencyKey makes a repeated Notify with the same key a no-op per recipient.
func WithIdempotencyKey(key string) NotifyOption {
	return func(o *notifyOptions) { o.key = key }
}

// FanoutResult reports what happened to each distinct recipient of one event.
type FanoutResult struct {
	Created          int    `json:"created"`
	Duplicates       int    `json:"duplicates"`
	Skipped          int    `json:"skipped"`
	Failed           int    `json:"failed"`
	FailedRecipients []uint `json:"failed_recipients,omitempty"`
}

type NotificationService struct {
	repo    *repository.NotificationRepository
	users   *repository.UserRepository
	push    Pusher
	workers int
	log     *zap.Logger
}

func NewNotificationService(repo *repository.NotificationRepository, users *repository.UserRepository, push Pusher, workers int, log *zap.Logger) *NotificationService {
	if workers <= 0 {
		workers = 8
	}
	return &NotificationService{repo: repo, users: users, push: push, workers: workers, log: log.Named("fanout")}
}

// Notify writes one notification per distinct recipient whose preferences allow
// it. A failure for one recipient never prevents delivery to the others, and
// nothing is retried.
func (s *NotificationService) Notify(ctx context.Context, ev Event, recipientIDs []uint, opts ...NotifyOption) FanoutResult {
	var o notifyOptions
	for _, opt := range opts {
		opt(&o)
	}
	kind := ev.Type()
	label := string(kind)
	r := ev.render()
	ids := uniqueRecipients(recipientIDs)

	var res FanoutResult
	if len(ids) == 0 {
		return res
	}
	prefs, err := s.users.PreferencesFor(ctx, ids)
	if err != nil {
		s.log.Error("fanout_preferences_failed", zap.String("type", label), zap.Int("recipients", len(ids)), zap.Error(err))
		res.Failed = len(ids)
		res.FailedRecipients = ids
		metrics.NotificationsFailed.WithLabelValues(label).Add(float64(len(ids)))
		return res
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.workers)
	for _, id := range ids {
		p, ok := prefs[id]
		if !ok {
			res.Skipped++
			metrics.NotificationsSkipped.WithLabelValues(label, "unknown_recipient").Inc()
			continue
		}
		if !p.AllowsInApp() {
			res.Skipped++
			metrics.NotificationsSkipped.WithLabelValues(label, "disabled").Inc()
			continue
		}
		g.Go(func() error {
			n := r.notification(kind, p.UserID, o.key)
			created, err := s.repo.Create(ctx, n)

			mu.Lock()
			switch {
			case err != nil:
				res.Failed++
				res.FailedRecipients = append(res.FailedRecipients, p.UserID)
			case !created:
				res.Duplicates++
			default:
				res.Created++
			}
			mu.Unlock()

			switch {
			case err != nil:
				metrics.NotificationsFailed.WithLabelValues(label).Inc()
				s.log.Warn("notification_create_failed", zap.String("type", label), zap.Uint("recipient_id", p.UserID), zap.Error(err))
			case !created:
				metrics.NotificationsSkipped.WithLabelValues(label, "duplicate").Inc()
			default:
				metrics.NotificationsCreated.WithLabelValues(label).Inc()
				if p.AllowsPush() && p.FCMToken != "" {
					s.sendPush(ctx, p.FCMToken, n)
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	s.log.Info("fanout_done",
		zap.String("type", label),
		zap.Int("recipients", len(ids)),
		zap.Int("created", res.Created),
		zap.Int("duplicates", res.Duplicates),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed),
	)
	return res
}

func (s *NotificationService) sendPush(ctx context.Context, token string, n *models.Notification) {
	if s.push == nil {
		return
	}
	data := map[string]interface{}{"notification_id": n.ID}
	if n.RelatedID != nil {
		data["related_id"] = *n.RelatedID
	}
	if n.ClassID != nil {
		data["class_id"] = *n.ClassID
	}
	if err := s.push.SendToUser(ctx, token, string(n.Type), n.Title, n.Body, data); err != nil {
		metrics.PushFailed.Inc()
		s.log.Warn("push_failed", zap.Uint("recipient_id", n.RecipientID), zap.Uint("notification_id", n.ID), zap.Error(err))
	}
}

func (r rendered) notification(kind domain.NotificationType, recipientID uint, key string) *models.Notification {
	n := &models.Notification{
		RecipientID: recipientID,
		Title:       r.title,
		Body:        r.body,
		Type:        kind,
		SenderID:    optionalID(r.senderID),
		RelatedID:   optionalID(r.relatedID),
		ClassID:     optionalID(r.classID),
	}
	if key != "" {
		k := fmt.Sprintf("%s:%d", key, recipientID)
		n.DedupKey = &k
	}
	return n
}

func optionalID(id uint) *uint {
	if id == 0 {
		return nil
	}
	return &id
}

// uniqueRecipients drops zero ids and repeats, keeping first-seen order.
func uniqueRecipients(ids []uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func (s *NotificationService) List(ctx context.Context, userID uint, limit, offset int) ([]models.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListByRecipient(ctx, userID, limit, offset)
}

// MarkAsRead is idempotent; it fails only when the notification is not the user's.
func (s *NotificationService) MarkAsRead(ctx context.Context, id, userID uint) error {
	n, err := s.repo.MarkRead(ctx, id, userID)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if _, err := s.repo.GetForRecipient(ctx, id, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotificationNotFound
		}
		return err
	}
	return nil
}

func (s *NotificationService) MarkAllAsRead(ctx context.Context, userID uint) (int64, error) {
	return s.repo.MarkAllRead(ctx, userID)
}

func (s *NotificationService) ClearAll(ctx context.Context, userID uint) (int64, error) {
	return s.repo.ClearAll(ctx, userID)
}

// Open marks the notification read and returns where the client should navigate.
func (s *NotificationService) Open(ctx context.Context, id, userID uint, role string) (models.Target, error) {
	n, err := s.repo.GetForRecipient(ctx, id, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Target{}, ErrNotificationNotFound
	}
	if err != nil {
		return models.Target{}, err
	}
	if !n.IsRead {
		if _, err := s.repo.MarkRead(ctx, id, userID); err != nil {
			return models.Target{}, err
		}
	}
	return n.Target(role), nil
}

func (s *NotificationService) Preferences(ctx context.Context, userID uint) (models.NotificationPreference, error) {
	u, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.NotificationPreference{}, ErrUserNotFound
	}
	if err != nil {
		return models.NotificationPreference{}, err
	}
	return u.Preferences, nil
}

func (s *NotificationService) UpdatePreferences(ctx context.Context, userID uint, p repository.PreferencePatch) (models.NotificationPreference, error) {
	if p.PushPermission != nil && !domain.ValidPushPermission(*p.PushPermission) {
		return models.NotificationPreference{}, ErrInvalidPushPermission
	}
	if err := s.users.UpdatePreferences(ctx, userID, p); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.NotificationPreference{}, ErrUserNotFound
		}
		return models.NotificationPreference{}, err
	}
	return s.Preferences(ctx, userID)
}

func (s *NotificationService) SetFCMToken(ctx context.Context, userID uint, token string) error {
	err := s.users.SetFCMToken(ctx, userID, token)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrUserNotFound
	}
	return err
}
