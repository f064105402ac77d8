package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/authsession/internal/apperrors"
	"github.com/nkiryanov/authsession/internal/models"
)

type UserRepo struct {
	DB DBTX
}

const createUser = `-- name: CreateUser
INSERT INTO users (email, password_hash)
VALUES ($1, $2)
RETURNING id, created_at, email, password_hash, COALESCE(refresh_token, '')
`

func (r *UserRepo) CreateUser(ctx context.Context, email string, hashedPassword string) (models.User, error) {
	rows, _ := r.DB.Query(ctx, createUser, email, hashedPassword)
	user, err := pgx.CollectOneRow(rows, rowToUser)

	var pgErr *pgconn.PgError
	switch {
	case err == nil:
		return user, nil
	case errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation:
		return user, fmt.Errorf("repo error: %w", apperrors.ErrUserAlreadyExists)
	default:
		return user, fmt.Errorf("db error: %w", err)
	}
}

const getUserByID = `-- name: GetUserByID
SELECT id, created_at, email, password_hash, COALESCE(refresh_token, '')
FROM users
WHERE id = $1
`

func (r *UserRepo) GetUserByID(ctx context.Context, userID int64) (models.User, error) {
	rows, _ := r.DB.Query(ctx, getUserByID, userID)
	return collectUser(rows)
}

const getUserByEmail = `-- name: GetUserByEmail
SELECT id, created_at, email, password_hash, COALESCE(refresh_token, '')
FROM users
WHERE email = $1
`

func (r *UserRepo) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	rows, _ := r.DB.Query(ctx, getUserByEmail, email)
	return collectUser(rows)
}

const setRefreshToken = `-- name: SetRefreshToken
UPDATE users
SET refresh_token = NULLIF($2, '')
WHERE id = $1
`

func (r *UserRepo) SetRefreshToken(ctx context.Context, userID int64, token string) error {
	tag, err := r.DB.Exec(ctx, setRefreshToken, userID, token)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("repo error: %w", apperrors.ErrUserNotFound)
	}

	return nil
}

// Returns the id of the user (if any) and whether the swap happened
// Row lock taken by UPDATE serializes concurrent swaps of the same user
const swapRefreshToken = `-- name: SwapRefreshToken
WITH swapped AS (
	UPDATE users
	SET refresh_token = NULLIF($3, '')
	WHERE id = $1 AND refresh_token = $2
	RETURNING id
)
SELECT u.id, EXISTS (SELECT 1 FROM swapped)
FROM users u
WHERE u.id = $1
`

func (r *UserRepo) SwapRefreshToken(ctx context.Context, userID int64, current string, next string) error {
	if current == "" {
		return fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenMismatch)
	}

	var id int64
	var swapped bool
	err := r.DB.QueryRow(ctx, swapRefreshToken, userID, current, next).Scan(&id, &swapped)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("repo error: %w", apperrors.ErrUserNotFound)
	case err != nil:
		return fmt.Errorf("db error: %w", err)
	case !swapped:
		return fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenMismatch)
	default:
		return nil
	}
}

func collectUser(rows pgx.Rows) (models.User, error) {
	user, err := pgx.CollectOneRow(rows, rowToUser)

	switch {
	case err == nil:
		return user, nil
	case errors.Is(err, pgx.ErrNoRows):
		return user, fmt.Errorf("repo error: %w", apperrors.ErrUserNotFound)
	default:
		return user, fmt.Errorf("db error: %w", err)
	}
}

func rowToUser(row pgx.CollectableRow) (models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.CreatedAt, &u.Email, &u.HashedPassword, &u.RefreshToken)
	return u, err
}
