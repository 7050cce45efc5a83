// Package repository implements the persistence collaborators used by the realtime core.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"relay/internal/cache"
	"relay/internal/models"
	"relay/internal/observability"

	"gorm.io/gorm"
)

// UserTTL bounds how long cached display attributes may be stale.
const UserTTL = 5 * time.Minute

// UserKey is the cache key holding a user's display attributes.
func UserKey(id uint) string {
	return fmt.Sprintf("user:%d", id)
}

// UserRepository looks up users; the realtime core only reads them.
type UserRepository interface {
	FindUserByID(ctx context.Context, id uint) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
}

type userRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewUserRepository returns a gorm-backed UserRepository fronted by the Redis cache when available.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db, log: observability.NewRepoLogger("users")}
}

func (r *userRepository) FindUserByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User

	err := cache.Aside(ctx, UserKey(id), &user, UserTTL, func() error {
		defer observability.TrackQuery("find", "users")()
		if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.NewNotFoundError("User", id)
			}
			r.log.LogError(ctx, err, "find")
			return models.NewPersistenceError("failed to load user", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		r.log.LogError(ctx, err, "create")
		return models.NewPersistenceError("failed to create user", err)
	}
	_ = cache.Invalidate(ctx, UserKey(user.ID))
	r.log.LogCreate(ctx, map[string]interface{}{"user_id": user.ID})
	return nil
}
