package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMemoryBus(t *testing.T) {
	bus := NewMemoryBus(2)
	sub, err := bus.Subscribe(TypingChannel(3))
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, bus.Publish(context.Background(), TypingChannel(3), []byte(`{"user_id":1}`)))
	require.NoError(t, bus.Publish(context.Background(), TypingChannel(4), []byte(`{"user_id":2}`)))

	assert.JSONEq(t, `{"user_id":1}`, string(<-sub.Events()))
	select {
	case p := <-sub.Events():
		t.Fatalf("unexpected payload %s", p)
	default:
	}
}

func TestRedisBus(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	newBus := func() *RedisBus {
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { rdb.Close() })
		b := NewRedisBus(rdb, 4, zap.NewNop())
		go b.Run(ctx)
		return b
	}
	a, b := newBus(), newBus()

	sub, err := b.Subscribe(TypingChannel(8))
	require.NoError(t, err)
	defer sub.Close()

	deadline := time.After(3 * time.Second)
	for {
		require.NoError(t, a.Publish(ctx, TypingChannel(8), []byte("hi")))
		select {
		case p := <-sub.Events():
			assert.Equal(t, "hi", string(p))
			return
		case <-time.After(50 * time.Millisecond):
		case <-deadline:
			t.Fatal("signal never arrived")
		}
	}
}
