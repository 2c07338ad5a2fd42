package service

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"classroom/config"
	"classroom/internal/broadcast"
	"classroom/internal/database"
	"classroom/internal/domain"
	"classroom/internal/feed"
	"classroom/internal/models"
	"classroom/internal/repository"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type pushCall struct {
	token string
	kind  string
	data  map[string]interface{}
}

type recordingPusher struct {
	mu    sync.Mutex
	calls []pushCall
	err   error
}

func (p *recordingPusher) SendToUser(_ context.Context, token string, kind, _, _ string, data map[string]interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, pushCall{token: token, kind: kind, data: data})
	return p.err
}

func (p *recordingPusher) Calls() []pushCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]pushCall(nil), p.calls...)
}

type testEnv struct {
	db        *gorm.DB
	feed      *feed.Hub
	bus       *broadcast.MemoryBus
	users     *repository.UserRepository
	notifRepo *repository.NotificationRepository
	convs     *ConversationService
	messages  *MessageService
	notifs    *NotificationService
	badges    *BadgeService
	push      *recordingPusher
	clock     *fakeClock
}

func setup(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "service.db"))
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	log := zap.NewNop()
	hub := feed.NewHub(16)
	bus := broadcast.NewMemoryBus(16)
	t.Cleanup(hub.Close)
	t.Cleanup(bus.Close)

	users := repository.NewUserRepository(db)
	convRepo := repository.NewConversationRepository(db, hub, log)
	msgRepo := repository.NewMessageRepository(db, hub, log)
	notifRepo := repository.NewNotificationRepository(db, hub, log)

	rt := config.RealtimeConfig{
		TypingWindow:  3 * time.Second,
		TypingRate:    100,
		TypingBurst:   100,
		HistoryWindow: 50,
		FanoutWorkers: 4,
	}
	push := &recordingPusher{}
	clock := newFakeClock()
	convs := NewConversationService(convRepo, msgRepo, log)
	notifs := NewNotificationService(notifRepo, users, push, rt.FanoutWorkers, log)
	messages := NewMessageService(MessageDeps{
		Conversations: convs,
		Messages:      msgRepo,
		Users:         users,
		Notifier:      notifs,
		Feed:          hub,
		Bus:           bus,
	}, rt, log).WithClock(clock.Now)
	messages.resubscribeDelay = 10 * time.Millisecond

	return &testEnv{
		db:        db,
		feed:      hub,
		bus:       bus,
		users:     users,
		notifRepo: notifRepo,
		convs:     convs,
		messages:  messages,
		notifs:    notifs,
		badges:    NewBadgeService(notifRepo, msgRepo, hub, log),
		push:      push,
		clock:     clock,
	}
}

func (e *testEnv) user(t *testing.T, name string, enabled bool) *models.User {
	t.Helper()
	u := &models.User{
		Name:        name,
		Email:       fmt.Sprintf("%s@example.edu", name),
		Role:        domain.RoleStudent,
		Preferences: models.NotificationPreference{Enabled: enabled, PushPermission: domain.PushPermissionDefault},
	}
	require.NoError(t, e.users.Create(context.Background(), u))
	return u
}

// await reads ch until ok accepts a value or the deadline passes.
func await[T any](t *testing.T, ch <-chan T, ok func(T) bool) T {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case v := <-ch:
			if ok(v) {
				return v
			}
		case <-deadline:
			var zero T
			t.Fatal("condition not reached before deadline")
			return zero
		}
	}
}
