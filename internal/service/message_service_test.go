package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"relay/internal/models"
	"relay/internal/notifications"
	"relay/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestMessageService_SubmitDeliversAndNotifies(t *testing.T) {
	db := setupTestDB(t)
	users, chat := seedChat(t, db, "alice", "bob")
	alice, bob := users[0], users[1]

	gw := notifications.NewGateway()
	chats := repository.NewChatRepository(db)
	notifier := NewNotificationService(repository.NewNotificationRepository(db), repository.NewUserRepository(db), gw)
	svc := NewMessageService(chats, notifier, gw)
	ctx := context.Background()

	aliceConn := newTestConn("a", alice)
	bobConn := newTestConn("b", bob)
	gw.Connect(ctx, aliceConn)
	gw.Connect(ctx, bobConn)
	readFrame(t, aliceConn)
	readFrame(t, bobConn)
	gw.JoinChat(aliceConn, chat.ID)
	gw.JoinChat(bobConn, chat.ID)
	gw.SetTyping(ctx, chat.ID, alice.Summary())
	assert.Equal(t, notifications.EventUserTyping, readFrame(t, bobConn).Type)

	msg, err := svc.Submit(ctx, SubmitInput{Sender: alice.Summary(), ChatID: chat.ID, Content: "  hello bob  "})
	require.NoError(t, err)
	assert.NotZero(t, msg.ID)
	assert.Equal(t, "hello bob", msg.Content)
	assert.Equal(t, models.MessageTypeText, msg.MessageType)

	// The sender receives its own message too.
	f := readFrame(t, aliceConn)
	assert.Equal(t, notifications.EventNewMessage, f.Type)
	requireNoFrame(t, aliceConn)

	f = readFrame(t, bobConn)
	require.Equal(t, notifications.EventNewMessage, f.Type)
	var payload struct {
		ChatID  uint `json:"chatId"`
		Message struct {
			ID      uint   `json:"id"`
			Content string `json:"content"`
			Sender  struct {
				Username string `json:"username"`
			} `json:"sender"`
		} `json:"message"`
	}
	require.NoError(t, json.Unmarshal(f.Payload, &payload))
	assert.Equal(t, chat.ID, payload.ChatID)
	assert.Equal(t, msg.ID, payload.Message.ID)
	assert.Equal(t, "alice", payload.Message.Sender.Username)

	assert.Equal(t, notifications.EventUserTypingStop, readFrame(t, bobConn).Type)

	f = readFrame(t, bobConn)
	require.Equal(t, notifications.EventNewNotification, f.Type)
	var np notifications.NotificationPayload
	require.NoError(t, json.Unmarshal(f.Payload, &np))
	assert.Equal(t, models.NotificationMessage, np.Type)
	require.NotNil(t, np.ChatID)
	assert.Equal(t, chat.ID, *np.ChatID)
	require.NotNil(t, np.MessageID)
	assert.Equal(t, msg.ID, *np.MessageID)
	assert.Equal(t, alice.Summary(), np.Sender)
	assert.Equal(t, "alice sent you a message", np.Text)

	stored, err := chats.FindChatByID(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.UnreadFor(alice.ID))
	assert.Equal(t, 1, stored.UnreadFor(bob.ID))
	require.NotNil(t, stored.LastMessageID)
	assert.Equal(t, msg.ID, *stored.LastMessageID)

	var count int64
	require.NoError(t, db.Model(&models.Notification{}).Where("recipient_id = ?", bob.ID).Count(&count).Error)
	assert.Equal(t, int64(1), count)
	require.NoError(t, db.Model(&models.Notification{}).Where("recipient_id = ?", alice.ID).Count(&count).Error)
	assert.Zero(t, count)
}

func TestMessageService_UnreadCountsAcrossSends(t *testing.T) {
	db := setupTestDB(t)
	users, chat := seedChat(t, db, "alice", "bob", "carol")
	gw := newRecordingGateway()
	chats := repository.NewChatRepository(db)
	notifier := NewNotificationService(repository.NewNotificationRepository(db), repository.NewUserRepository(db), gw)
	svc := NewMessageService(chats, notifier, gw)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Submit(ctx, SubmitInput{Sender: users[0].Summary(), ChatID: chat.ID, Content: "ping"})
		require.NoError(t, err)
	}
	_, err := svc.Submit(ctx, SubmitInput{Sender: users[1].Summary(), ChatID: chat.ID, Content: "pong"})
	require.NoError(t, err)

	stored, err := chats.FindChatByID(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.UnreadFor(users[0].ID))
	assert.Equal(t, 3, stored.UnreadFor(users[1].ID))
	assert.Equal(t, 4, stored.UnreadFor(users[2].ID))

	// Recipients are offline, so nothing is pushed but records still exist.
	assert.Empty(t, gw.emits)
	var count int64
	require.NoError(t, db.Model(&models.Notification{}).Count(&count).Error)
	assert.Equal(t, int64(8), count)
}

func TestMessageService_SubmitRejections(t *testing.T) {
	db := setupTestDB(t)
	users, chat := seedChat(t, db, "alice", "bob")
	others, otherChat := seedChat(t, db, "carol", "dave")
	outsider := others[0]

	chats := repository.NewChatRepository(db)
	foreign := &models.Message{ChatID: otherChat.ID, SenderID: outsider.ID, Content: "elsewhere", MessageType: models.MessageTypeText}
	require.NoError(t, chats.CreateMessage(context.Background(), foreign))
	missing := uint(9999)

	tests := []struct {
		name     string
		input    SubmitInput
		wantCode string
		silent   bool
	}{
		{"empty content", SubmitInput{Sender: users[0].Summary(), ChatID: chat.ID, Content: "   "}, models.CodeValidation, false},
		{"too long", SubmitInput{Sender: users[0].Summary(), ChatID: chat.ID, Content: strings.Repeat("x", 1001)}, models.CodeValidation, false},
		{"bad message type", SubmitInput{Sender: users[0].Summary(), ChatID: chat.ID, Content: "hi", MessageType: "gif"}, models.CodeValidation, false},
		{"unknown chat", SubmitInput{Sender: users[0].Summary(), ChatID: 4242, Content: "hi"}, models.CodeAuthorization, true},
		{"not a participant", SubmitInput{Sender: outsider.Summary(), ChatID: chat.ID, Content: "hi"}, models.CodeAuthorization, true},
		{"reply to missing message", SubmitInput{Sender: users[0].Summary(), ChatID: chat.ID, Content: "hi", ReplyToID: &missing}, models.CodeValidation, true},
		{"reply across chats", SubmitInput{Sender: users[0].Summary(), ChatID: chat.ID, Content: "hi", ReplyToID: &foreign.ID}, models.CodeValidation, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := newRecordingGateway(users[1].ID)
			notifier := &mockNotifier{}
			svc := NewMessageService(chats, notifier, gw)

			msg, err := svc.Submit(context.Background(), tt.input)
			require.Error(t, err)
			assert.Nil(t, msg)
			assert.Equal(t, tt.wantCode, models.ErrorCode(err))
			assert.Equal(t, tt.silent, models.IsSilent(err))
			assert.Empty(t, gw.broadcasts)
			notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything)
		})
	}

	var count int64
	require.NoError(t, db.Model(&models.Message{}).Where("chat_id = ?", chat.ID).Count(&count).Error)
	assert.Zero(t, count)
}

func TestMessageService_ReplyToSameChat(t *testing.T) {
	db := setupTestDB(t)
	users, chat := seedChat(t, db, "alice", "bob")
	gw := newRecordingGateway()
	notifier := &mockNotifier{}
	notifier.On("Notify", mock.Anything, mock.Anything).Return(nil, nil)
	svc := NewMessageService(repository.NewChatRepository(db), notifier, gw)
	ctx := context.Background()

	first, err := svc.Submit(ctx, SubmitInput{Sender: users[1].Summary(), ChatID: chat.ID, Content: "question?"})
	require.NoError(t, err)

	reply, err := svc.Submit(ctx, SubmitInput{Sender: users[0].Summary(), ChatID: chat.ID, Content: "answer", ReplyToID: &first.ID})
	require.NoError(t, err)
	require.NotNil(t, reply.ReplyTo)
	assert.Equal(t, first.ID, reply.ReplyTo.ID)
	assert.Equal(t, "question?", reply.ReplyTo.Content)
	notifier.AssertNumberOfCalls(t, "Notify", 2)
}

func TestMessageService_PersistFailureStopsPipeline(t *testing.T) {
	db := setupTestDB(t)
	users, chat := seedChat(t, db, "alice", "bob")
	stub := &chatRepoStub{
		ChatRepository: repository.NewChatRepository(db),
		createMessageFn: func(context.Context, *models.Message) error {
			return errors.New("disk full")
		},
	}
	gw := newRecordingGateway(users[1].ID)
	notifier := &mockNotifier{}
	svc := NewMessageService(stub, notifier, gw)

	_, err := svc.Submit(context.Background(), SubmitInput{Sender: users[0].Summary(), ChatID: chat.ID, Content: "hi"})
	require.Error(t, err)
	assert.Equal(t, models.CodePersistence, models.ErrorCode(err))
	assert.False(t, models.IsSilent(err))
	assert.Zero(t, stub.saveChatCalls)
	assert.Empty(t, gw.broadcasts)
	assert.Empty(t, gw.cleared)
	notifier.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything)
}

func TestMessageService_ChatLoadFailureIsPersistenceError(t *testing.T) {
	stub := &chatRepoStub{
		findChatFn: func(context.Context, uint) (*models.Chat, error) {
			return nil, errors.New("connection refused")
		},
	}
	svc := NewMessageService(stub, &mockNotifier{}, newRecordingGateway())

	_, err := svc.Submit(context.Background(), SubmitInput{Sender: models.UserSummary{ID: 1}, ChatID: 1, Content: "hi"})
	assert.Equal(t, models.CodePersistence, models.ErrorCode(err))
}

func TestMessageService_SaveChatFailureStillDelivers(t *testing.T) {
	db := setupTestDB(t)
	users, chat := seedChat(t, db, "alice", "bob")
	stub := &chatRepoStub{
		ChatRepository: repository.NewChatRepository(db),
		saveChatFn: func(context.Context, *models.Chat) error {
			return models.NewPersistenceError("failed to save chat", errors.New("deadlock"))
		},
	}
	gw := newRecordingGateway()
	notifier := &mockNotifier{}
	notifier.On("Notify", mock.Anything, mock.Anything).Return(nil, nil)
	svc := NewMessageService(stub, notifier, gw)

	msg, err := svc.Submit(context.Background(), SubmitInput{Sender: users[0].Summary(), ChatID: chat.ID, Content: "hi"})
	require.NoError(t, err)
	require.NotNil(t, msg)
	require.Len(t, gw.broadcasts, 1)
	assert.Equal(t, notifications.EventNewMessage, gw.broadcasts[0].Event)
	assert.Zero(t, gw.broadcasts[0].ExcludeUser)
	notifier.AssertNumberOfCalls(t, "Notify", 1)
}

func TestMessageService_FanoutFailureIsSwallowed(t *testing.T) {
	db := setupTestDB(t)
	users, chat := seedChat(t, db, "alice", "bob", "carol")
	gw := newRecordingGateway()
	notifier := &mockNotifier{}
	notifier.On("Notify", mock.Anything, mock.MatchedBy(func(in NotifyInput) bool {
		return in.RecipientID == users[1].ID
	})).Return(nil, errors.New("notifications store down"))
	notifier.On("Notify", mock.Anything, mock.MatchedBy(func(in NotifyInput) bool {
		return in.RecipientID == users[2].ID
	})).Return(&models.Notification{ID: 1}, nil)
	svc := NewMessageService(repository.NewChatRepository(db), notifier, gw)

	msg, err := svc.Submit(context.Background(), SubmitInput{Sender: users[0].Summary(), ChatID: chat.ID, Content: "hi all"})
	require.NoError(t, err)
	assert.NotNil(t, msg)
	assert.Len(t, gw.broadcasts, 1)
	notifier.AssertNumberOfCalls(t, "Notify", 2)
	for _, call := range notifier.Calls {
		in := call.Arguments.Get(1).(NotifyInput)
		assert.Equal(t, users[0].ID, in.SenderID)
		assert.Equal(t, models.NotificationMessage, in.Type)
		assert.NotEqual(t, users[0].ID, in.RecipientID)
	}
}
