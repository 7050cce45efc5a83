// Package service holds the realtime business logic: message ingest, read receipts and
// notification fan-out.
package service

import (
	"context"

	"relay/internal/models"
)

// Broadcaster is the part of the realtime gateway the services deliver through.
type Broadcaster interface {
	BroadcastToChat(ctx context.Context, chatID uint, event string, payload any, excludeUser uint) error
	EmitToUser(ctx context.Context, userID uint, event string, payload any) bool
	ClearTyping(ctx context.Context, chatID, userID uint) bool
}

// Notifier creates notifications on behalf of other services.
type Notifier interface {
	Notify(ctx context.Context, in NotifyInput) (*models.Notification, error)
}

// asPersistence keeps AppErrors from the repository and wraps anything else.
func asPersistence(message string, err error) error {
	if models.ErrorCode(err) != "" {
		return err
	}
	return models.NewPersistenceError(message, err)
}
