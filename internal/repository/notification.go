package repository

import (
	"context"
	"errors"
	"time"

	"relay/internal/models"
	"relay/internal/observability"

	"gorm.io/gorm"
)

// NotificationFilter selects a page of a recipient's notifications.
type NotificationFilter struct {
	RecipientID uint
	UnreadOnly  bool
	Limit       int
	Offset      int
}

// NotificationRepository persists notification records.
type NotificationRepository interface {
	Create(ctx context.Context, n *models.Notification) error
	List(ctx context.Context, filter NotificationFilter) ([]models.Notification, int64, error)
	CountUnread(ctx context.Context, recipientID uint) (int64, error)
	MarkRead(ctx context.Context, id, recipientID uint, at time.Time) (*models.Notification, error)
	MarkAllRead(ctx context.Context, recipientID uint, at time.Time) (int64, error)
	Delete(ctx context.Context, id, recipientID uint) error
}

type notificationRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewNotificationRepository returns the gorm-backed NotificationRepository.
func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db, log: observability.NewRepoLogger("notifications")}
}

func (r *notificationRepository) Create(ctx context.Context, n *models.Notification) error {
	ctx, span := observability.TraceRepositoryMethod(ctx, "CreateNotification", "notifications")
	defer span.End()
	defer observability.TrackQuery("create", "notifications")()

	if err := r.db.WithContext(ctx).Omit("Sender").Create(n).Error; err != nil {
		span.RecordError(err)
		r.log.LogError(ctx, err, "create")
		return models.NewPersistenceError("failed to create notification", err)
	}
	r.log.LogCreate(ctx, map[string]interface{}{"notification_id": n.ID, "recipient_id": n.RecipientID})
	return nil
}

func (r *notificationRepository) List(ctx context.Context, filter NotificationFilter) ([]models.Notification, int64, error) {
	defer observability.TrackQuery("list", "notifications")()

	scope := func() *gorm.DB {
		q := r.db.WithContext(ctx).Model(&models.Notification{}).Where("recipient_id = ?", filter.RecipientID)
		if filter.UnreadOnly {
			q = q.Where("is_read = ?", false)
		}
		return q
	}

	var total int64
	if err := scope().Count(&total).Error; err != nil {
		r.log.LogError(ctx, err, "count")
		return nil, 0, models.NewPersistenceError("failed to count notifications", err)
	}

	var out []models.Notification
	err := scope().Preload("Sender").
		Order("created_at DESC, id DESC").
		Limit(filter.Limit).
		Offset(filter.Offset).
		Find(&out).Error
	if err != nil {
		r.log.LogError(ctx, err, "list")
		return nil, 0, models.NewPersistenceError("failed to list notifications", err)
	}
	return out, total, nil
}

func (r *notificationRepository) CountUnread(ctx context.Context, recipientID uint) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Notification{}).
		Where("recipient_id = ? AND is_read = ?", recipientID, false).
		Count(&n).Error
	if err != nil {
		r.log.LogError(ctx, err, "count")
		return 0, models.NewPersistenceError("failed to count notifications", err)
	}
	return n, nil
}

func (r *notificationRepository) find(ctx context.Context, id, recipientID uint) (*models.Notification, error) {
	var n models.Notification
	err := r.db.WithContext(ctx).Where("id = ? AND recipient_id = ?", id, recipientID).First(&n).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Notification", id)
		}
		r.log.LogError(ctx, err, "find")
		return nil, models.NewPersistenceError("failed to load notification", err)
	}
	return &n, nil
}

func (r *notificationRepository) MarkRead(ctx context.Context, id, recipientID uint, at time.Time) (*models.Notification, error) {
	n, err := r.find(ctx, id, recipientID)
	if err != nil {
		return nil, err
	}
	if n.IsRead {
		return n, nil
	}
	n.IsRead = true
	n.ReadAt = &at
	err = r.db.WithContext(ctx).Model(n).Updates(map[string]interface{}{"is_read": true, "read_at": at}).Error
	if err != nil {
		r.log.LogError(ctx, err, "update")
		return nil, models.NewPersistenceError("failed to mark notification read", err)
	}
	return n, nil
}

func (r *notificationRepository) MarkAllRead(ctx context.Context, recipientID uint, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Notification{}).
		Where("recipient_id = ? AND is_read = ?", recipientID, false).
		Updates(map[string]interface{}{"is_read": true, "read_at": at})
	if res.Error != nil {
		r.log.LogError(ctx, res.Error, "update")
		return 0, models.NewPersistenceError("failed to mark notifications read", res.Error)
	}
	r.log.LogUpdate(ctx, map[string]interface{}{"recipient_id": recipientID, "rows": res.RowsAffected})
	return res.RowsAffected, nil
}

func (r *notificationRepository) Delete(ctx context.Context, id, recipientID uint) error {
	res := r.db.WithContext(ctx).Where("id = ? AND recipient_id = ?", id, recipientID).Delete(&models.Notification{})
	if res.Error != nil {
		r.log.LogError(ctx, res.Error, "delete")
		return models.NewPersistenceError("failed to delete notification", res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Notification", id)
	}
	r.log.LogDelete(ctx, map[string]interface{}{"notification_id": id})
	return nil
}
