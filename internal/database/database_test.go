package database

import (
	"testing"

	"relay/internal/config"
	"relay/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnect_SQLiteMigrates(t *testing.T) {
	cfg := &config.Config{Env: "test", DBDriver: "sqlite", DBPath: "file::memory:?cache=shared"}

	db, err := Connect(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	for _, m := range Models() {
		assert.True(t, db.Migrator().HasTable(m), "%T table missing", m)
	}

	sqlDB, err := db.DB()
	require.NoError(t, err)
	assert.Equal(t, 1, sqlDB.Stats().MaxOpenConnections)

	user := models.User{Username: "alice", Email: "alice@example.com", Password: "x"}
	require.NoError(t, db.Create(&user).Error)
	assert.NotZero(t, user.ID)
}

func TestConnect_UnknownDriver(t *testing.T) {
	_, err := Connect(&config.Config{DBDriver: "mysql"})
	assert.Error(t, err)
}

func TestMigrate_ReceiptUniquePerUser(t *testing.T) {
	db, err := Connect(&config.Config{Env: "test", DBDriver: "sqlite", DBPath: ":memory:"})
	require.NoError(t, err)

	receipt := models.MessageReadReceipt{MessageID: 1, UserID: 2}
	require.NoError(t, db.Create(&receipt).Error)
	dup := models.MessageReadReceipt{MessageID: 1, UserID: 2}
	assert.Error(t, db.Create(&dup).Error)
}
