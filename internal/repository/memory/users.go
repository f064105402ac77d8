// Package memory keeps users in process memory. It is the default storage
// when no database is configured and the one used by most tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nkiryanov/authsession/internal/apperrors"
	"github.com/nkiryanov/authsession/internal/models"
)

type UserRepo struct {
	mu      sync.RWMutex
	lastID  int64
	byID    map[int64]*models.User
	byEmail map[string]int64
}

func NewUserRepo() *UserRepo {
	return &UserRepo{
		byID:    make(map[int64]*models.User),
		byEmail: make(map[string]int64),
	}
}

func (r *UserRepo) CreateUser(_ context.Context, email string, hashedPassword string) (models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byEmail[email]; ok {
		return models.User{}, fmt.Errorf("repo error: %w", apperrors.ErrUserAlreadyExists)
	}

	r.lastID++
	user := &models.User{
		ID:             r.lastID,
		CreatedAt:      time.Now(),
		Email:          email,
		HashedPassword: hashedPassword,
	}
	r.byID[user.ID] = user
	r.byEmail[email] = user.ID

	return *user, nil
}

func (r *UserRepo) GetUserByID(_ context.Context, userID int64) (models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.byID[userID]
	if !ok {
		return models.User{}, fmt.Errorf("repo error: %w", apperrors.ErrUserNotFound)
	}

	return *user, nil
}

func (r *UserRepo) GetUserByEmail(_ context.Context, email string) (models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[email]
	if !ok {
		return models.User{}, fmt.Errorf("repo error: %w", apperrors.ErrUserNotFound)
	}

	return *r.byID[id], nil
}

func (r *UserRepo) SetRefreshToken(_ context.Context, userID int64, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.byID[userID]
	if !ok {
		return fmt.Errorf("repo error: %w", apperrors.ErrUserNotFound)
	}

	user.RefreshToken = token
	return nil
}

func (r *UserRepo) SwapRefreshToken(_ context.Context, userID int64, current string, next string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.byID[userID]
	if !ok {
		return fmt.Errorf("repo error: %w", apperrors.ErrUserNotFound)
	}

	if current == "" || user.RefreshToken != current {
		return fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenMismatch)
	}

	user.RefreshToken = next
	return nil
}
