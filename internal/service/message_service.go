package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"classroom/config"
	"classroom/internal/broadcast"
	"classroom/internal/feed"
	"classroom/internal/metrics"
	"classroom/internal/models"
	"classroom/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type MessageDeps struct {
	Conversations *ConversationService
	Messages      *repository.MessageRepository
	Users         *repository.UserRepository
	Notifier      *NotificationService // optional
	Feed          feed.Subscriber
	Bus           broadcast.Bus
}

// MessageService owns durable message history and the live streams over it.
type MessageService struct {
	convs    *ConversationService
	msgs     *repository.MessageRepository
	users    *repository.UserRepository
	notifier *NotificationService
	feed     feed.Subscriber
	bus      broadcast.Bus
	throttle *typingThrottle
	log      *zap.Logger

	window           int
	typingWindow     time.Duration
	typingTick       time.Duration
	resubscribeDelay time.Duration
	now              func() time.Time
}

func NewMessageService(deps MessageDeps, cfg config.RealtimeConfig, log *zap.Logger) *MessageService {
	window := cfg.HistoryWindow
	if window <= 0 {
		window = 50
	}
	typingWindow := cfg.TypingWindow
	if typingWindow <= 0 {
		typingWindow = 3 * time.Second
	}
	tick := typingWindow / 6
	if tick < 100*time.Millisecond {
		tick = 100 * time.Millisecond
	}
	return &MessageService{
		convs:            deps.Conversations,
		msgs:             deps.Messages,
		users:            deps.Users,
		notifier:         deps.Notifier,
		feed:             deps.Feed,
		bus:              deps.Bus,
		throttle:         newTypingThrottle(cfg.TypingRate, cfg.TypingBurst),
		log:              log.Named("stream"),
		window:           window,
		typingWindow:     typingWindow,
		typingTick:       tick,
		resubscribeDelay: time.Second,
		now:              time.Now,
	}
}

// WithClock replaces the clock used for typing expiry.
func (s *MessageService) WithClock(now func() time.Time) *MessageService {
	s.now = now
	return s
}

// Send persists a message from sender to receiver in an existing conversation.
// Content is stored as given; whitespace-only content needs an attachment.
// A failed write is returned as is; nothing is retried.
func (s *MessageService) Send(ctx context.Context, conversationID, senderID, receiverID uint, content string, att *models.Attachment) (*models.Message, error) {
	if strings.TrimSpace(content) == "" && (att == nil || att.IsZero()) {
		return nil, ErrEmptyMessage
	}
	c, err := s.convs.Get(ctx, conversationID, senderID)
	if err != nil {
		return nil, err
	}
	if receiverID == 0 || receiverID != c.Peer(senderID) {
		return nil, ErrNotParticipant
	}
	m := &models.Message{
		ConversationID: c.ID,
		SenderID:       senderID,
		ReceiverID:     receiverID,
		Content:        content,
	}
	if att != nil {
		m.Attachment = *att
	}
	if err := s.msgs.Create(ctx, m); err != nil {
		return nil, err
	}
	metrics.MessagesSent.Inc()
	s.convs.touch(ctx, c, m)
	s.notifyReceiver(ctx, m)
	return m, nil
}

// SendDirect resolves the pair's conversation first, creating it on first contact.
func (s *MessageService) SendDirect(ctx context.Context, senderID, receiverID uint, content string, att *models.Attachment) (*models.Message, error) {
	c, err := s.convs.Resolve(ctx, senderID, receiverID)
	if err != nil {
		return nil, err
	}
	return s.Send(ctx, c.ID, senderID, receiverID, content, att)
}

func (s *MessageService) notifyReceiver(ctx context.Context, m *models.Message) {
	if s.notifier == nil {
		return
	}
	ev := MessageReceived{ConversationID: m.ConversationID, SenderID: m.SenderID, Preview: m.Preview()}
	if s.users != nil {
		if u, err := s.users.GetByID(ctx, m.SenderID); err == nil {
			ev.SenderName = u.Name
		}
	}
	s.notifier.Notify(ctx, ev, []uint{m.ReceiverID})
}

// MarkRead flips every unread message addressed to readerID. Calling it again is a no-op.
func (s *MessageService) MarkRead(ctx context.Context, conversationID, readerID uint) (int64, error) {
	if _, err := s.convs.Get(ctx, conversationID, readerID); err != nil {
		return 0, err
	}
	return s.msgs.MarkRead(ctx, conversationID, readerID)
}

// Delete removes a message. Only its sender may do so.
func (s *MessageService) Delete(ctx context.Context, messageID, requesterID uint) error {
	m, err := s.msgs.GetByID(ctx, messageID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrMessageNotFound
	}
	if err != nil {
		return err
	}
	if m.SenderID != requesterID {
		return ErrNotMessageSender
	}
	if err := s.msgs.Delete(ctx, m); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrMessageNotFound
		}
		return err
	}
	return nil
}

// History pages backwards from beforeID; beforeID 0 returns the newest page.
func (s *MessageService) History(ctx context.Context, conversationID, viewerID, beforeID uint, limit int) ([]models.Message, error) {
	if _, err := s.convs.Get(ctx, conversationID, viewerID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = s.window
	}
	if beforeID == 0 {
		return s.msgs.ListLatest(ctx, conversationID, limit)
	}
	before, err := s.msgs.GetByID(ctx, beforeID)
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && before.ConversationID != conversationID) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.msgs.ListBefore(ctx, conversationID, before, limit)
}

// NotifyTyping emits one best-effort typing signal. Throttled signals are dropped silently.
func (s *MessageService) NotifyTyping(ctx context.Context, conversationID, userID uint) error {
	if _, err := s.convs.Get(ctx, conversationID, userID); err != nil {
		return err
	}
	return s.emitTyping(ctx, conversationID, userID)
}

func (s *MessageService) emitTyping(ctx context.Context, conversationID, userID uint) error {
	if !s.throttle.Allow(conversationID, userID) {
		return nil
	}
	payload, err := json.Marshal(TypingSignal{ConversationID: conversationID, UserID: userID, EmittedAt: s.now()})
	if err != nil {
		return err
	}
	return s.bus.Publish(ctx, broadcast.TypingChannel(conversationID), payload)
}

// Open starts a live view of one conversation for viewerID. The caller must
// Close the stream; it also ends when ctx is cancelled.
func (s *MessageService) Open(ctx context.Context, conversationID, viewerID uint) (*Stream, error) {
	c, err := s.convs.Get(ctx, conversationID, viewerID)
	if err != nil {
		return nil, err
	}
	feedSub, err := s.feed.Subscribe(feed.ConversationTopic(c.ID))
	if err != nil {
		return nil, err
	}
	busSub, err := s.bus.Subscribe(broadcast.TypingChannel(c.ID))
	if err != nil {
		feedSub.Close()
		return nil, err
	}
	sctx, cancel := context.WithCancel(ctx)
	st := &Stream{
		svc:      s,
		conv:     c,
		viewerID: viewerID,
		ctx:      sctx,
		cancel:   cancel,
		feedSub:  feedSub,
		busSub:   busSub,
		typing:   NewTypingSet(s.typingWindow, s.now),
		messages: make(chan []models.Message, 1),
		typers:   make(chan []uint, 1),
		log:      s.log.With(zap.Uint("conversation_id", c.ID), zap.Uint("viewer_id", viewerID)),
	}
	metrics.LiveStreams.WithLabelValues("conversation").Inc()
	st.wg.Add(1)
	go st.run()
	return st, nil
}

// Stream is one subscriber's reconciled view of a conversation. Every change
// signal triggers a re-read of the visible window, so the order seen is always
// the store's order regardless of delivery order.
type Stream struct {
	svc      *MessageService
	conv     *models.Conversation
	viewerID uint

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	feedSub *feed.Subscription
	busSub  *broadcast.Subscription
	typing  *TypingSet

	messages chan []models.Message
	typers   chan []uint
	log      *zap.Logger
}

func (st *Stream) Conversation() *models.Conversation { return st.conv }

// Messages yields the latest reconciled window. Intermediate windows may be skipped.
func (st *Stream) Messages() <-chan []models.Message { return st.messages }

// Typing yields the set of other participants currently typing whenever it
// changes, including when a signal lapses.
func (st *Stream) Typing() <-chan []uint { return st.typers }

func (st *Stream) TypingUsers() []uint { return st.typing.Active() }

func (st *Stream) Done() <-chan struct{} { return st.ctx.Done() }

func (st *Stream) Send(ctx context.Context, content string, att *models.Attachment) (*models.Message, error) {
	return st.svc.Send(ctx, st.conv.ID, st.viewerID, st.conv.Peer(st.viewerID), content, att)
}

func (st *Stream) MarkRead(ctx context.Context) (int64, error) {
	return st.svc.msgs.MarkRead(ctx, st.conv.ID, st.viewerID)
}

func (st *Stream) NotifyTyping(ctx context.Context) error {
	return st.svc.emitTyping(ctx, st.conv.ID, st.viewerID)
}

// Close tears the stream down and releases both subscriptions. Idempotent.
func (st *Stream) Close() {
	st.once.Do(func() {
		st.cancel()
		st.wg.Wait()
		st.feedSub.Close()
		st.busSub.Close()
		metrics.LiveStreams.WithLabelValues("conversation").Dec()
	})
}

func (st *Stream) run() {
	defer st.wg.Done()
	st.reconcile()
	// expiry fires when the earliest typist lapses. It is capped at typingTick
	// so an injected clock that jumps ahead is still observed.
	expiry := time.NewTimer(st.svc.typingTick)
	expiry.Stop()
	defer expiry.Stop()
	rearm := func() {
		if d, ok := typingRecheck(st.typing, st.svc.now(), st.svc.typingTick); ok {
			expiry.Reset(d)
			return
		}
		expiry.Stop()
	}
	for {
		select {
		case <-st.ctx.Done():
			return
		case <-st.feedSub.Events():
			st.reconcile()
		case <-st.feedSub.Done():
			if !st.resubscribeFeed() {
				return
			}
			st.reconcile()
		case raw := <-st.busSub.Events():
			st.onTyping(raw)
			rearm()
		case <-st.busSub.Done():
			if !st.resubscribeBus() {
				return
			}
		case <-expiry.C:
			if st.typing.Prune() {
				offerLatest(st.typers, st.typing.Active())
			}
			rearm()
		}
	}
}

func (st *Stream) reconcile() {
	list, err := st.svc.msgs.ListLatest(st.ctx, st.conv.ID, st.svc.window)
	if err != nil {
		if st.ctx.Err() == nil {
			st.log.Warn("reconcile_failed", zap.Error(err))
		}
		return
	}
	offerLatest(st.messages, list)
}

func (st *Stream) onTyping(raw []byte) {
	var sig TypingSignal
	if err := json.Unmarshal(raw, &sig); err != nil {
		return
	}
	if sig.ConversationID != st.conv.ID || sig.UserID == st.viewerID {
		return
	}
	if st.typing.Mark(sig.UserID) {
		offerLatest(st.typers, st.typing.Active())
	}
}

func (st *Stream) resubscribeFeed() bool {
	st.feedSub.Close()
	for {
		sub, err := st.svc.feed.Subscribe(feed.ConversationTopic(st.conv.ID))
		if err == nil {
			st.feedSub = sub
			metrics.Resubscriptions.WithLabelValues("conversation").Inc()
			return true
		}
		st.log.Warn("feed_resubscribe_failed", zap.Error(err))
		if !st.sleep() {
			return false
		}
	}
}

func (st *Stream) resubscribeBus() bool {
	st.busSub.Close()
	for {
		sub, err := st.svc.bus.Subscribe(broadcast.TypingChannel(st.conv.ID))
		if err == nil {
			st.busSub = sub
			metrics.Resubscriptions.WithLabelValues("typing").Inc()
			return true
		}
		st.log.Warn("typing_resubscribe_failed", zap.Error(err))
		if !st.sleep() {
			return false
		}
	}
}

func (st *Stream) sleep() bool {
	select {
	case <-st.ctx.Done():
		return false
	case <-time.After(st.svc.resubscribeDelay):
		return true
	}
}

// offerLatest replaces any unread value in ch with v. ch must have one producer.
func offerLatest[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
