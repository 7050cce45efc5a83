package service

import (
	"context"
	"strconv"
	"time"

	"relay/internal/models"
	"relay/internal/notifications"
	"relay/internal/observability"
	"relay/internal/repository"

	"go.opentelemetry.io/otel/attribute"
)

// Pagination defaults for the notification pull API.
const (
	DefaultNotificationPageSize = 20
	MaxNotificationPageSize     = 100
)

// NotificationService persists notifications and pushes them to online recipients.
type NotificationService struct {
	notifications repository.NotificationRepository
	users         repository.UserRepository
	gateway       Broadcaster
	now           func() time.Time
}

// NotifyInput describes one notification. Sender is loaded from the user store when nil.
type NotifyInput struct {
	RecipientID uint
	SenderID    uint
	Sender      *models.UserSummary
	Type        models.NotificationType
	PostID      *uint
	CommentID   *uint
	ChatID      *uint
	MessageID   *uint
}

// ListInput selects a page of the caller's notifications.
type ListInput struct {
	RecipientID uint
	Page        int
	Limit       int
	UnreadOnly  bool
}

// Pagination mirrors the paging block returned by the list endpoint.
type Pagination struct {
	CurrentPage        int   `json:"currentPage"`
	TotalPages         int   `json:"totalPages"`
	TotalNotifications int64 `json:"totalNotifications"`
	HasNext            bool  `json:"hasNext"`
	HasPrev            bool  `json:"hasPrev"`
}

// NotificationPage is one page of notifications.
type NotificationPage struct {
	Notifications []models.Notification `json:"notifications"`
	Pagination    Pagination            `json:"pagination"`
}

// NewNotificationService returns a new NotificationService.
func NewNotificationService(
	notificationRepo repository.NotificationRepository,
	userRepo repository.UserRepository,
	gateway Broadcaster,
) *NotificationService {
	return &NotificationService{
		notifications: notificationRepo,
		users:         userRepo,
		gateway:       gateway,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Notify stores a notification and pushes it to the recipient's live connection when
// there is one. Self-notifications are ignored and return nil.
func (s *NotificationService) Notify(ctx context.Context, in NotifyInput) (*models.Notification, error) {
	if in.SenderID == 0 && in.Sender != nil {
		in.SenderID = in.Sender.ID
	}
	if in.RecipientID == 0 {
		return nil, models.NewValidationError("Recipient is required")
	}
	if in.RecipientID == in.SenderID {
		return nil, nil
	}
	if !in.Type.Valid() {
		return nil, models.NewValidationError("Invalid notification type")
	}

	span, ctx := observability.NewSpan(ctx, "NotificationService.Notify",
		attribute.String("notification.type", string(in.Type)),
		attribute.Int64("recipient.id", int64(in.RecipientID)))
	defer span.End()

	sender, err := s.senderSummary(ctx, in)
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	n := &models.Notification{
		RecipientID: in.RecipientID,
		SenderID:    in.SenderID,
		Type:        in.Type,
		PostID:      in.PostID,
		CommentID:   in.CommentID,
		ChatID:      in.ChatID,
		MessageID:   in.MessageID,
	}
	if err := s.notifications.Create(ctx, n); err != nil {
		span.SetError(err)
		return nil, asPersistence("failed to create notification", err)
	}
	n.Sender = &models.User{ID: sender.ID, Username: sender.Username, Avatar: sender.Avatar}

	pushed := s.gateway.EmitToUser(ctx, in.RecipientID, notifications.EventNewNotification, notifications.NotificationPayload{
		NotificationID: n.ID,
		Type:           n.Type,
		ChatID:         n.ChatID,
		MessageID:      n.MessageID,
		PostID:         n.PostID,
		CommentID:      n.CommentID,
		Text:           n.Text(),
		Sender:         sender,
	})
	observability.NotificationsCreated.WithLabelValues(string(n.Type), strconv.FormatBool(pushed)).Inc()
	span.AddAttributes(attribute.Bool("notification.pushed", pushed))

	return n, nil
}

func (s *NotificationService) senderSummary(ctx context.Context, in NotifyInput) (models.UserSummary, error) {
	if in.Sender != nil && in.Sender.Username != "" {
		return *in.Sender, nil
	}
	if s.users == nil {
		return models.UserSummary{ID: in.SenderID}, nil
	}
	user, err := s.users.FindUserByID(ctx, in.SenderID)
	if err != nil {
		if models.ErrorCode(err) == models.CodeNotFound {
			return models.UserSummary{}, models.NewValidationError("Unknown sender")
		}
		return models.UserSummary{}, asPersistence("failed to load sender", err)
	}
	return user.Summary(), nil
}

// List returns a page of the recipient's notifications, newest first.
func (s *NotificationService) List(ctx context.Context, in ListInput) (*NotificationPage, error) {
	page, limit := clampPage(in.Page, in.Limit, DefaultNotificationPageSize, MaxNotificationPageSize)

	items, total, err := s.notifications.List(ctx, repository.NotificationFilter{
		RecipientID: in.RecipientID,
		UnreadOnly:  in.UnreadOnly,
		Limit:       limit,
		Offset:      (page - 1) * limit,
	})
	if err != nil {
		return nil, asPersistence("failed to list notifications", err)
	}
	if items == nil {
		items = []models.Notification{}
	}

	pages := totalPages(total, limit)
	return &NotificationPage{
		Notifications: items,
		Pagination: Pagination{
			CurrentPage:        page,
			TotalPages:         pages,
			TotalNotifications: total,
			HasNext:            page < pages,
			HasPrev:            page > 1,
		},
	}, nil
}

// UnreadCount returns how many unread notifications the recipient has.
func (s *NotificationService) UnreadCount(ctx context.Context, recipientID uint) (int64, error) {
	count, err := s.notifications.CountUnread(ctx, recipientID)
	if err != nil {
		return 0, asPersistence("failed to count notifications", err)
	}
	return count, nil
}

// MarkRead marks one of the recipient's notifications read.
func (s *NotificationService) MarkRead(ctx context.Context, recipientID, id uint) (*models.Notification, error) {
	return s.notifications.MarkRead(ctx, id, recipientID, s.now())
}

// MarkAllRead marks every unread notification of the recipient read.
func (s *NotificationService) MarkAllRead(ctx context.Context, recipientID uint) (int64, error) {
	return s.notifications.MarkAllRead(ctx, recipientID, s.now())
}

// Delete removes one of the recipient's notifications.
func (s *NotificationService) Delete(ctx context.Context, recipientID, id uint) error {
	return s.notifications.Delete(ctx, id, recipientID)
}
