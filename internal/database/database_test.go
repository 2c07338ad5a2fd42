package database

import (
	"path/filepath"
	"testing"

	"classroom/config"
	"classroom/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteMigrate(t *testing.T) {
	db, err := NewDB(&config.DatabaseConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "classroom.db")})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))

	for _, m := range []interface{}{&models.User{}, &models.Conversation{}, &models.Message{}, &models.Notification{}} {
		assert.True(t, db.Migrator().HasTable(m))
	}
	assert.True(t, db.Migrator().HasIndex(&models.Conversation{}, "idx_conversation_pair"))
}

func TestUnknownDriver(t *testing.T) {
	_, err := NewDB(&config.DatabaseConfig{Driver: "oracle"})
	assert.Error(t, err)
}
