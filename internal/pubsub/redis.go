package pubsub

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Bridge carries a Hub across server instances through Redis pub/sub. Publish
// writes to Redis only; Run pattern-subscribes to the prefix and republishes every
// received value into the local hub, including values this instance published.
type Bridge[T any] struct {
	rdb    *redis.Client
	local  *Hub[T]
	prefix string
	log    *zap.Logger

	// DropOnResync ends local subscriptions whenever the Redis subscription is
	// re-established, since values published during the gap are lost.
	DropOnResync bool
}

func NewBridge[T any](rdb *redis.Client, local *Hub[T], prefix string, log *zap.Logger) *Bridge[T] {
	return &Bridge[T]{rdb: rdb, local: local, prefix: prefix, log: log}
}

func (b *Bridge[T]) Publish(ctx context.Context, topic string, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "pubsub: encode")
	}
	if err := b.rdb.Publish(ctx, b.prefix+topic, data).Err(); err != nil {
		return errors.Wrapf(err, "pubsub: publish %s", topic)
	}
	return nil
}

func (b *Bridge[T]) Subscribe(topic string) (*Subscription[T], error) {
	return b.local.Subscribe(topic)
}

// Run blocks until ctx is cancelled.
func (b *Bridge[T]) Run(ctx context.Context) error {
	ps := b.rdb.PSubscribe(ctx, b.prefix+"*")
	defer ps.Close()

	subscribed := false
	for {
		msg, err := ps.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			b.log.Warn("redis_receive_failed", zap.String("prefix", b.prefix), zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		switch m := msg.(type) {
		case *redis.Subscription:
			if m.Kind != "psubscribe" {
				continue
			}
			if subscribed && b.DropOnResync {
				b.log.Info("redis_resubscribed", zap.String("prefix", b.prefix))
				b.local.DropAll()
			}
			subscribed = true
		case *redis.Message:
			var v T
			if err := json.Unmarshal([]byte(m.Payload), &v); err != nil {
				b.log.Warn("redis_decode_failed", zap.String("channel", m.Channel), zap.Error(err))
				continue
			}
			b.local.Publish(strings.TrimPrefix(m.Channel, b.prefix), v)
		}
	}
}
