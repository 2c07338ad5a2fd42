// Package feed delivers row change events (insert, update, delete) to live
// subscribers of a topic. Repositories publish after each committed write.
package feed

import (
	"context"
	"fmt"
	"time"

	"classroom/internal/pubsub"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

type Table string

const (
	TableConversations Table = "conversations"
	TableMessages      Table = "messages"
	TableNotifications Table = "notifications"
)

// Event is a change notification, not the row itself. Consumers re-read the
// store to reconcile. RowID is 0 for bulk changes.
type Event struct {
	Topic string    `json:"topic"`
	Table Table     `json:"table"`
	Op    Op        `json:"op"`
	RowID uint      `json:"row_id"`
	At    time.Time `json:"at"`
}

func ConversationTopic(conversationID uint) string {
	return fmt.Sprintf("conversation:%d", conversationID)
}

// InboxTopic carries message rows received by a user.
func InboxTopic(userID uint) string {
	return fmt.Sprintf("inbox:%d", userID)
}

func NotificationsTopic(userID uint) string {
	return fmt.Sprintf("notifications:%d", userID)
}

// ConversationsTopic carries conversation snapshot rows a user participates in.
func ConversationsTopic(userID uint) string {
	return fmt.Sprintf("conversations:%d", userID)
}

type Subscription = pubsub.Subscription[Event]

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

type Subscriber interface {
	Subscribe(topic string) (*Subscription, error)
}

type Feed interface {
	Publisher
	Subscriber
}

// Hub is the in-process feed.
type Hub struct {
	hub *pubsub.Hub[Event]
}

func NewHub(buffer int) *Hub {
	return &Hub{hub: pubsub.NewHub[Event](buffer)}
}

func (h *Hub) Publish(_ context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	h.hub.Publish(ev.Topic, ev)
	return nil
}

func (h *Hub) Subscribe(topic string) (*Subscription, error) {
	return h.hub.Subscribe(topic)
}

// Drop ends all subscriptions on topic, as a lost connection would.
func (h *Hub) Drop(topic string) { h.hub.Drop(topic) }

func (h *Hub) Subscribers() int { return h.hub.Len() }

func (h *Hub) Close() { h.hub.Close() }

// RedisRelay publishes through Redis so every instance's Hub sees every change.
type RedisRelay struct {
	local  *Hub
	bridge *pubsub.Bridge[Event]
}

func NewRedisRelay(rdb *redis.Client, local *Hub, log *zap.Logger) *RedisRelay {
	br := pubsub.NewBridge(rdb, local.hub, "feed:", log.Named("feed"))
	br.DropOnResync = true
	return &RedisRelay{local: local, bridge: br}
}

func (r *RedisRelay) Publish(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	return r.bridge.Publish(ctx, ev.Topic, ev)
}

func (r *RedisRelay) Subscribe(topic string) (*Subscription, error) {
	return r.local.Subscribe(topic)
}

func (r *RedisRelay) Run(ctx context.Context) error { return r.bridge.Run(ctx) }

// Emit publishes ev to every topic. Feed delivery is best-effort; callers log the error.
func Emit(ctx context.Context, p Publisher, table Table, op Op, rowID uint, topics ...string) error {
	if p == nil {
		return nil
	}
	now := time.Now()
	var first error
	for _, t := range topics {
		if err := p.Publish(ctx, Event{Topic: t, Table: table, Op: op, RowID: rowID, At: now}); err != nil && first == nil {
			first = err
		}
	}
	return first
}
