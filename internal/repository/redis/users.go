// Package redis keeps users in Redis hashes. Refresh token updates run as
// Lua scripts, so the compare-and-swap is atomic on the server.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/nkiryanov/authsession/internal/apperrors"
	"github.com/nkiryanov/authsession/internal/models"
)

const DefaultPrefix = "authsession"

// Script replies
const (
	replyNotFound int64 = 0
	replyOK       int64 = 1
	replyMismatch int64 = 2
)

// KEYS[1] email index, KEYS[2] user hash
var createUserLua = goredis.NewScript(`
if redis.call("SETNX", KEYS[1], ARGV[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[2], "email", ARGV[2], "password_hash", ARGV[3], "created_at", ARGV[4], "refresh_token", "")
return 1
`)

var setRefreshLua = goredis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], "refresh_token", ARGV[1])
return 1
`)

var swapRefreshLua = goredis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
local current = redis.call("HGET", KEYS[1], "refresh_token")
if ARGV[1] == "" or current ~= ARGV[1] then
  return 2
end
redis.call("HSET", KEYS[1], "refresh_token", ARGV[2])
return 1
`)

type UserRepo struct {
	rdb    goredis.UniversalClient
	prefix string
}

func NewUserRepo(rdb goredis.UniversalClient, prefix string) *UserRepo {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &UserRepo{rdb: rdb, prefix: prefix}
}

func (r *UserRepo) seqKey() string { return r.prefix + ":users:seq" }
func (r *UserRepo) userKey(id int64) string { return r.prefix + ":user:" + strconv.FormatInt(id, 10) }
func (r *UserRepo) emailKey(email string) string { return r.prefix + ":email:" + email }

// Ids come from INCR, so a rejected duplicate leaves a gap. Ids are never reused
func (r *UserRepo) CreateUser(ctx context.Context, email string, hashedPassword string) (models.User, error) {
	id, err := r.rdb.Incr(ctx, r.seqKey()).Result()
	if err != nil {
		return models.User{}, fmt.Errorf("repo error: %w", err)
	}

	createdAt := time.Now().UTC().Truncate(time.Microsecond)
	created, err := createUserLua.Run(ctx, r.rdb,
		[]string{r.emailKey(email), r.userKey(id)},
		id, email, hashedPassword, createdAt.UnixNano(),
	).Int64()
	if err != nil {
		return models.User{}, fmt.Errorf("repo error: %w", err)
	}
	if created == 0 {
		return models.User{}, fmt.Errorf("repo error: %w", apperrors.ErrUserAlreadyExists)
	}

	return models.User{
		ID:             id,
		CreatedAt:      createdAt,
		Email:          email,
		HashedPassword: hashedPassword,
	}, nil
}

func (r *UserRepo) GetUserByID(ctx context.Context, userID int64) (models.User, error) {
	fields, err := r.rdb.HGetAll(ctx, r.userKey(userID)).Result()
	if err != nil {
		return models.User{}, fmt.Errorf("repo error: %w", err)
	}
	if len(fields) == 0 {
		return models.User{}, fmt.Errorf("repo error: %w", apperrors.ErrUserNotFound)
	}

	return hashToUser(userID, fields)
}

func (r *UserRepo) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	id, err := r.rdb.Get(ctx, r.emailKey(email)).Int64()
	switch {
	case errors.Is(err, goredis.Nil):
		return models.User{}, fmt.Errorf("repo error: %w", apperrors.ErrUserNotFound)
	case err != nil:
		return models.User{}, fmt.Errorf("repo error: %w", err)
	}

	return r.GetUserByID(ctx, id)
}

func (r *UserRepo) SetRefreshToken(ctx context.Context, userID int64, token string) error {
	reply, err := setRefreshLua.Run(ctx, r.rdb, []string{r.userKey(userID)}, token).Int64()
	if err != nil {
		return fmt.Errorf("repo error: %w", err)
	}
	if reply == replyNotFound {
		return fmt.Errorf("repo error: %w", apperrors.ErrUserNotFound)
	}

	return nil
}

func (r *UserRepo) SwapRefreshToken(ctx context.Context, userID int64, current string, next string) error {
	reply, err := swapRefreshLua.Run(ctx, r.rdb, []string{r.userKey(userID)}, current, next).Int64()
	if err != nil {
		return fmt.Errorf("repo error: %w", err)
	}

	switch reply {
	case replyOK:
		return nil
	case replyNotFound:
		return fmt.Errorf("repo error: %w", apperrors.ErrUserNotFound)
	case replyMismatch:
		return fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenMismatch)
	default:
		return fmt.Errorf("repo error: unexpected script reply %d", reply)
	}
}

func hashToUser(id int64, fields map[string]string) (models.User, error) {
	nanos, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return models.User{}, fmt.Errorf("repo error: corrupt user %d: %w", id, err)
	}

	return models.User{
		ID:             id,
		CreatedAt:      time.Unix(0, nanos).UTC(),
		Email:          fields["email"],
		HashedPassword: fields["password_hash"],
		RefreshToken:   fields["refresh_token"],
	}, nil
}
