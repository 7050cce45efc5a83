package service

import (
	"context"
	"errors"
	"testing"

	"relay/internal/models"
	"relay/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newChatFixture(t *testing.T) (*ChatService, []models.User, models.Chat) {
	t.Helper()
	db := setupTestDB(t)
	users, chat := seedChat(t, db, "alice", "bob")
	carol := models.User{Username: "carol", Email: "carol@example.com", Password: "x"}
	require.NoError(t, db.Create(&carol).Error)
	users = append(users, carol)
	return NewChatService(repository.NewChatRepository(db), repository.NewUserRepository(db)), users, chat
}

func TestChatService_CreateOrGetDirect(t *testing.T) {
	svc, users, chat := newChatFixture(t)
	alice, bob, carol := users[0], users[1], users[2]
	ctx := context.Background()

	existing, created, err := svc.CreateOrGetDirect(ctx, bob.ID, alice.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, chat.ID, existing.ID)

	fresh, created, err := svc.CreateOrGetDirect(ctx, alice.ID, carol.ID)
	require.NoError(t, err)
	assert.True(t, created)
	assert.ElementsMatch(t, []uint{alice.ID, carol.ID}, fresh.ParticipantIDs())

	_, _, err = svc.CreateOrGetDirect(ctx, alice.ID, alice.ID)
	assert.Equal(t, models.CodeValidation, models.ErrorCode(err))

	_, _, err = svc.CreateOrGetDirect(ctx, alice.ID, 9999)
	assert.Equal(t, models.CodeNotFound, models.ErrorCode(err))
}

func TestChatService_ReadAccess(t *testing.T) {
	svc, users, chat := newChatFixture(t)
	alice, carol := users[0], users[2]
	ctx := context.Background()

	got, err := svc.GetChat(ctx, alice.ID, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, chat.ID, got.ID)

	_, err = svc.GetChat(ctx, carol.ID, chat.ID)
	assert.Equal(t, models.CodeAuthorization, models.ErrorCode(err))

	_, err = svc.ListMessages(ctx, carol.ID, chat.ID, 1, 10)
	assert.Equal(t, models.CodeAuthorization, models.ErrorCode(err))

	page, err := svc.ListMessages(ctx, alice.ID, chat.ID, 0, 0)
	require.NoError(t, err)
	assert.NotNil(t, page.Messages)
	assert.Equal(t, 1, page.Pagination.CurrentPage)
	assert.Zero(t, page.Pagination.TotalPages)
}

func TestChatService_StoreUnavailable(t *testing.T) {
	db := setupTestDB(t)
	users, chat := seedChat(t, db, "alice", "bob")
	stub := &chatRepoStub{
		ChatRepository: repository.NewChatRepository(db),
		findChatFn: func(context.Context, uint) (*models.Chat, error) {
			return nil, errors.New("connection refused")
		},
	}
	svc := NewChatService(stub, repository.NewUserRepository(db))

	_, err := svc.ListMessages(context.Background(), users[0].ID, chat.ID, 1, 10)
	assert.Equal(t, models.CodePersistence, models.ErrorCode(err))
}

func TestChatService_DeleteMessage(t *testing.T) {
	db := setupTestDB(t)
	users, chat := seedChat(t, db, "alice", "bob")
	repo := repository.NewChatRepository(db)
	svc := NewChatService(repo, repository.NewUserRepository(db))
	ctx := context.Background()

	msg := &models.Message{ChatID: chat.ID, SenderID: users[0].ID, Content: "bye"}
	require.NoError(t, repo.CreateMessage(ctx, msg))

	err := svc.DeleteMessage(ctx, users[1].ID, msg.ID)
	assert.Equal(t, models.CodeAuthorization, models.ErrorCode(err))

	require.NoError(t, svc.DeleteMessage(ctx, users[0].ID, msg.ID))
	err = svc.DeleteMessage(ctx, users[0].ID, msg.ID)
	assert.Equal(t, models.CodeNotFound, models.ErrorCode(err))
}

func TestClampPage(t *testing.T) {
	tests := []struct {
		page, limit         int
		wantPage, wantLimit int
	}{
		{0, 0, 1, 50},
		{-3, 10, 1, 10},
		{2, 500, 2, 100},
		{4, 25, 4, 25},
	}
	for _, tt := range tests {
		page, limit := clampPage(tt.page, tt.limit, DefaultMessagePageSize, MaxChatPageSize)
		assert.Equal(t, tt.wantPage, page)
		assert.Equal(t, tt.wantLimit, limit)
	}
}
