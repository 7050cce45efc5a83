package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChat_RecordMessage_SkipsSender(t *testing.T) {
	chat := &Chat{
		ID: 1,
		Participants: []ChatParticipant{
			{ChatID: 1, UserID: 10, UnreadCount: 3},
			{ChatID: 1, UserID: 20, UnreadCount: 0},
		},
	}

	chat.RecordMessage(&Message{ID: 7, ChatID: 1, SenderID: 10})

	assert.Equal(t, 3, chat.UnreadFor(10))
	assert.Equal(t, 1, chat.UnreadFor(20))
	require.NotNil(t, chat.LastMessageID)
	assert.Equal(t, uint(7), *chat.LastMessageID)
	assert.NotNil(t, chat.LastMessageAt)
}

func TestChat_HasParticipant(t *testing.T) {
	chat := &Chat{Participants: []ChatParticipant{{UserID: 1}, {UserID: 2}}}
	assert.True(t, chat.HasParticipant(1))
	assert.False(t, chat.HasParticipant(3))
	assert.ElementsMatch(t, []uint{1, 2}, chat.ParticipantIDs())

	var nilChat *Chat
	assert.False(t, nilChat.HasParticipant(1))
}

func TestNormalizeMessageContent(t *testing.T) {
	got, err := NormalizeMessageContent("  hi  ")
	require.NoError(t, err)
	assert.Equal(t, "hi", got)

	_, err = NormalizeMessageContent("   ")
	assert.Equal(t, CodeValidation, ErrorCode(err))

	_, err = NormalizeMessageContent(strings.Repeat("é", MaxMessageContentLen+1))
	assert.Equal(t, CodeValidation, ErrorCode(err))

	_, err = NormalizeMessageContent(strings.Repeat("é", MaxMessageContentLen))
	assert.NoError(t, err)
}

func TestMessage_ReadState(t *testing.T) {
	msg := &Message{}
	assert.False(t, msg.IsRead())

	msg.ReadBy = append(msg.ReadBy, MessageReadReceipt{UserID: 4})
	assert.True(t, msg.IsRead())
	assert.True(t, msg.ReadByUser(4))
	assert.False(t, msg.ReadByUser(5))
}

func TestNotification_Text(t *testing.T) {
	n := &Notification{Type: NotificationMessage, Sender: &User{Username: "alice"}}
	assert.Equal(t, "alice sent you a message", n.Text())

	n = &Notification{Type: NotificationFollow}
	assert.Equal(t, "Someone started following you", n.Text())

	assert.False(t, NotificationType("poke").Valid())
	assert.True(t, NotificationMention.Valid())
}

func TestAppError_Silent(t *testing.T) {
	assert.True(t, IsSilent(NewAuthorizationError("no")))
	assert.True(t, IsSilent(NewSilentValidationError("bad reply")))
	assert.False(t, IsSilent(NewValidationError("bad content")))
	assert.False(t, IsSilent(nil))

	err := NewPersistenceError("save failed", assert.AnError)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, CodePersistence, ErrorCode(err))
}
