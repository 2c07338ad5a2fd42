package repository

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"classroom/internal/database"
	"classroom/internal/domain"
	"classroom/internal/feed"
	"classroom/internal/models"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "repo.db"))
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func createUser(t *testing.T, db *gorm.DB, name string, enabled bool) *models.User {
	t.Helper()
	u := &models.User{
		Name:        name,
		Email:       fmt.Sprintf("%s@example.edu", name),
		Role:        domain.RoleStudent,
		Preferences: models.NotificationPreference{Enabled: enabled},
	}
	require.NoError(t, NewUserRepository(db).Create(context.Background(), u))
	return u
}

func nextEvent(t *testing.T, sub *feed.Subscription) feed.Event {
	t.Helper()
	select {
	case ev := <-sub.Events():
		return ev
	default:
		t.Fatalf("no event on %s", sub.Topic())
	}
	return feed.Event{}
}

func noEvent(t *testing.T, sub *feed.Subscription) {
	t.Helper()
	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}
