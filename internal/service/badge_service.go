package service

import (
	"context"
	"sync"
	"time"

	"classroom/internal/feed"
	"classroom/internal/metrics"
	"classroom/internal/models"
	"classroom/internal/repository"

	"go.uber.org/zap"
)

// Badge is a user's unread state. Notifications and messages are counted
// separately; clients may sum them for a single indicator.
type Badge struct {
	Notifications int64 `json:"notifications"`
	Messages      int64 `json:"messages"`
}

func (b Badge) Total() int64 { return b.Notifications + b.Messages }

type BadgeService struct {
	notifs           *repository.NotificationRepository
	msgs             *repository.MessageRepository
	feed             feed.Subscriber
	resubscribeDelay time.Duration
	log              *zap.Logger
}

func NewBadgeService(notifs *repository.NotificationRepository, msgs *repository.MessageRepository, sub feed.Subscriber, log *zap.Logger) *BadgeService {
	return &BadgeService{notifs: notifs, msgs: msgs, feed: sub, resubscribeDelay: time.Second, log: log.Named("badge")}
}

// UnreadCount is the number of unread notifications of userID.
func (s *BadgeService) UnreadCount(ctx context.Context, userID uint) (int64, error) {
	return s.notifs.CountUnread(ctx, userID)
}

func (s *BadgeService) Badges(ctx context.Context, userID uint) (Badge, error) {
	n, err := s.notifs.CountUnread(ctx, userID)
	if err != nil {
		return Badge{}, err
	}
	m, err := s.msgs.CountUnread(ctx, userID)
	if err != nil {
		return Badge{}, err
	}
	return Badge{Notifications: n, Messages: m}, nil
}

// Watch follows userID's unread state until ctx is cancelled or the watch is closed.
func (s *BadgeService) Watch(ctx context.Context, userID uint) (*BadgeWatch, error) {
	notifSub, err := s.feed.Subscribe(feed.NotificationsTopic(userID))
	if err != nil {
		return nil, err
	}
	inboxSub, err := s.feed.Subscribe(feed.InboxTopic(userID))
	if err != nil {
		notifSub.Close()
		return nil, err
	}
	wctx, cancel := context.WithCancel(ctx)
	w := &BadgeWatch{
		svc:      s,
		userID:   userID,
		ctx:      wctx,
		cancel:   cancel,
		notifSub: notifSub,
		inboxSub: inboxSub,
		updates:  make(chan Badge, 1),
		inserted: make(chan models.Notification, 16),
		log:      s.log.With(zap.Uint("user_id", userID)),
	}
	metrics.LiveStreams.WithLabelValues("badge").Inc()
	w.wg.Add(1)
	go w.run()
	return w, nil
}

type BadgeWatch struct {
	svc    *BadgeService
	userID uint

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	notifSub *feed.Subscription
	inboxSub *feed.Subscription

	updates  chan Badge
	inserted chan models.Notification
	log      *zap.Logger
}

// Updates yields the latest badge whenever it may have changed.
func (w *BadgeWatch) Updates() <-chan Badge { return w.updates }

// Inserted yields notifications created for the user while the watch is open.
// When the reader falls behind, notifications are skipped; Updates stays exact.
func (w *BadgeWatch) Inserted() <-chan models.Notification { return w.inserted }

func (w *BadgeWatch) Done() <-chan struct{} { return w.ctx.Done() }

func (w *BadgeWatch) Close() {
	w.once.Do(func() {
		w.cancel()
		w.wg.Wait()
		w.notifSub.Close()
		w.inboxSub.Close()
		metrics.LiveStreams.WithLabelValues("badge").Dec()
	})
}

func (w *BadgeWatch) run() {
	defer w.wg.Done()
	w.refresh()
	for {
		select {
		case <-w.ctx.Done():
			return
		case ev := <-w.notifSub.Events():
			if ev.Op == feed.OpInsert && ev.RowID != 0 {
				w.forward(ev.RowID)
			}
			w.refresh()
		case <-w.inboxSub.Events():
			w.refresh()
		case <-w.notifSub.Done():
			sub, ok := w.resubscribe(feed.NotificationsTopic(w.userID), w.notifSub)
			if !ok {
				return
			}
			w.notifSub = sub
			w.refresh()
		case <-w.inboxSub.Done():
			sub, ok := w.resubscribe(feed.InboxTopic(w.userID), w.inboxSub)
			if !ok {
				return
			}
			w.inboxSub = sub
			w.refresh()
		}
	}
}

func (w *BadgeWatch) refresh() {
	b, err := w.svc.Badges(w.ctx, w.userID)
	if err != nil {
		if w.ctx.Err() == nil {
			w.log.Warn("badge_refresh_failed", zap.Error(err))
		}
		return
	}
	offerLatest(w.updates, b)
}

func (w *BadgeWatch) forward(id uint) {
	n, err := w.svc.notifs.GetForRecipient(w.ctx, id, w.userID)
	if err != nil {
		return
	}
	select {
	case w.inserted <- *n:
	default:
	}
}

func (w *BadgeWatch) resubscribe(topic string, old *feed.Subscription) (*feed.Subscription, bool) {
	old.Close()
	for {
		sub, err := w.svc.feed.Subscribe(topic)
		if err == nil {
			metrics.Resubscriptions.WithLabelValues("badge").Inc()
			return sub, true
		}
		w.log.Warn("feed_resubscribe_failed", zap.String("topic", topic), zap.Error(err))
		select {
		case <-w.ctx.Done():
			return nil, false
		case <-time.After(w.svc.resubscribeDelay):
		}
	}
}
