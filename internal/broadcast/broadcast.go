// Package broadcast is the non-persistent publish/subscribe channel used for
// transient presence hints. Nothing sent here is stored; delivery is best-effort.
package broadcast

import (
	"context"
	"fmt"

	"classroom/internal/pubsub"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Subscription = pubsub.Subscription[[]byte]

type Bus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(channel string) (*Subscription, error)
}

func TypingChannel(conversationID uint) string {
	return fmt.Sprintf("typing:%d", conversationID)
}

// MemoryBus keeps signals inside this process.
type MemoryBus struct {
	hub *pubsub.Hub[[]byte]
}

func NewMemoryBus(buffer int) *MemoryBus {
	return &MemoryBus{hub: pubsub.NewHub[[]byte](buffer)}
}

func (b *MemoryBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.hub.Publish(channel, payload)
	return nil
}

func (b *MemoryBus) Subscribe(channel string) (*Subscription, error) {
	return b.hub.Subscribe(channel)
}

func (b *MemoryBus) Close() { b.hub.Close() }

// RedisBus shares signals between instances. A Redis reconnect just loses the
// signals sent meanwhile, so local subscriptions are kept.
type RedisBus struct {
	local  *MemoryBus
	bridge *pubsub.Bridge[[]byte]
}

func NewRedisBus(rdb *redis.Client, buffer int, log *zap.Logger) *RedisBus {
	local := NewMemoryBus(buffer)
	return &RedisBus{
		local:  local,
		bridge: pubsub.NewBridge(rdb, local.hub, "ephemeral:", log.Named("broadcast")),
	}
}

func (b *RedisBus) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.bridge.Publish(ctx, channel, payload)
}

func (b *RedisBus) Subscribe(channel string) (*Subscription, error) {
	return b.local.Subscribe(channel)
}

func (b *RedisBus) Run(ctx context.Context) error { return b.bridge.Run(ctx) }

func (b *RedisBus) Close() { b.local.Close() }
