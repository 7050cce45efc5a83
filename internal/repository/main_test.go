package repository

import (
	"testing"

	"relay/internal/database"
	"relay/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db,
	}), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)

	return gormDB, mock
}

// seedDirectChat creates two users and a direct chat between them.
func seedDirectChat(t *testing.T, db *gorm.DB) (a, b models.User, chat models.Chat) {
	t.Helper()
	a = models.User{Username: "alice", Email: "alice@example.com", Password: "x"}
	b = models.User{Username: "bob", Email: "bob@example.com", Password: "x"}
	require.NoError(t, db.Create(&a).Error)
	require.NoError(t, db.Create(&b).Error)

	chat = models.Chat{Participants: []models.ChatParticipant{{UserID: a.ID}, {UserID: b.ID}}}
	require.NoError(t, db.Create(&chat).Error)
	return a, b, chat
}
