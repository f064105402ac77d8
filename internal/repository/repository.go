package repository

import (
	"context"

	"github.com/nkiryanov/authsession/internal/models"
)

// User (credential) repository interface
type UserRepo interface {
	// Create user with empty refresh token
	// If user with the email exists already has to return apperrors.ErrUserAlreadyExists
	CreateUser(ctx context.Context, email string, hashedPassword string) (models.User, error)

	// Get user by it's id or email (exact, case-sensitive match)
	// If user not found must return apperrors.ErrUserNotFound
	GetUserByID(ctx context.Context, userID int64) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)

	// Overwrite user refresh token unconditionally
	// If user not found must return apperrors.ErrUserNotFound
	SetRefreshToken(ctx context.Context, userID int64, token string) error

	// Replace refresh token only if the stored one equals current. Must be atomic
	// If stored token differs (or current is empty) must return apperrors.ErrRefreshTokenMismatch
	// If user not found must return apperrors.ErrUserNotFound
	SwapRefreshToken(ctx context.Context, userID int64, current string, next string) error
}
